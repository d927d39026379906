package radiosim

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// OperationLog writes JSON lines describing every radio operation of one
// device. These files are write-only and never read back by the simulator.
type OperationLog struct {
	path    string
	enabled bool
	mu      sync.Mutex
}

// OperationEntry is one logged radio operation
type OperationEntry struct {
	Timestamp string `json:"timestamp"`
	Direction string `json:"direction"` // "tx" or "rx"
	Radio     int    `json:"radio"`
	Peer      string `json:"peer"`
	Operation string `json:"operation"` // "connect", "read", "write", "respond", ...
	Service   int    `json:"service,omitempty"`
	Result    string `json:"result,omitempty"`
	DataLen   int    `json:"data_len,omitempty"`
	DataHex   string `json:"data_hex,omitempty"`
}

// NewOperationLog creates a log at dir/radio_operations.jsonl. An empty dir
// disables logging.
func NewOperationLog(dir string) *OperationLog {
	if dir == "" {
		return &OperationLog{enabled: false}
	}
	os.MkdirAll(dir, 0755)

	return &OperationLog{
		path:    filepath.Join(dir, "radio_operations.jsonl"),
		enabled: true,
	}
}

// Path returns the log file location, or "" when disabled
func (l *OperationLog) Path() string {
	return l.path
}

// Log appends an entry, stamping it with the current time
func (l *OperationLog) Log(entry OperationEntry, data []byte) {
	if !l.enabled {
		return
	}

	entry.Timestamp = time.Now().Format(time.RFC3339Nano)
	if len(data) > 0 {
		entry.DataLen = len(data)
		entry.DataHex = hex.EncodeToString(data)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return // Silently fail - debug logging is best-effort
	}
	defer f.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		return
	}

	f.Write(line)
	f.Write([]byte("\n"))
}
