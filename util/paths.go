package util

import (
	"os"
	"path/filepath"
)

// GetDataDir returns the data directory path
func GetDataDir() string {
	if envDir := os.Getenv("BLUEMESH_DIR"); envDir != "" {
		return envDir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".bluemesh-data")
	}
	return filepath.Join(home, ".bluemesh-data")
}

// GetTraceDir returns the directory where simulation trace databases are stored
func GetTraceDir() string {
	return filepath.Join(GetDataDir(), "traces")
}

// ShortID truncates identifiers for log prefixes
func ShortID(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}
