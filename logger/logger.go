package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	TRACE LogLevel = iota // Radio-level operations, PDU sizes
	DEBUG                 // Engine state transitions, queue activity
	INFO                  // High-level events (discoveries, deliveries)
	WARN                  // Recoverable failures (timeouts, rejected writes)
	ERROR                 // Errors
)

// traceLevel sits one step below zap's debug level
const traceLevel = zapcore.DebugLevel - 1

var (
	mu           sync.RWMutex
	currentLevel LogLevel = INFO
	threshold             = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	base                  = newLogger(os.Stdout)
)

// newLogger builds a zap logger that prints only the message, so lines keep
// the "[prefix LEVEL] msg" shape
func newLogger(w io.Writer) *zap.Logger {
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey: "msg",
		LineEnding: zapcore.DefaultLineEnding,
	})
	return zap.New(zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), threshold))
}

// SetLevel sets the global log level
func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
	threshold.SetLevel(level.zapLevel())
}

// GetLevel returns the current log level
func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// SetOutput redirects log lines, e.g. to a file or io.Discard in tests
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	l := newLogger(w)
	mu.Lock()
	defer mu.Unlock()
	base = l
}

// Sync flushes buffered log output
func Sync() error {
	mu.RLock()
	l := base
	mu.RUnlock()
	return l.Sync()
}

// ParseLevel converts a string to a LogLevel
func ParseLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "TRACE":
		return TRACE
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// String returns the padded level name used in log lines
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO "
	case WARN:
		return "WARN "
	case ERROR:
		return "ERROR"
	default:
		return "?????"
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case TRACE:
		return traceLevel
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func log(level LogLevel, prefix, format string, args ...interface{}) {
	mu.RLock()
	l := base
	mu.RUnlock()

	ce := l.Check(level.zapLevel(), "")
	if ce == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if prefix != "" {
		ce.Message = fmt.Sprintf("[%s %s] %s", prefix, level, msg)
	} else {
		ce.Message = fmt.Sprintf("[%s] %s", level, msg)
	}
	ce.Write()
}

// Trace logs a trace message (radio operations, PDU sizes)
func Trace(prefix, format string, args ...interface{}) {
	log(TRACE, prefix, format, args...)
}

// Debug logs a debug message (engine state transitions)
func Debug(prefix, format string, args ...interface{}) {
	log(DEBUG, prefix, format, args...)
}

// Info logs an info message (high-level events)
func Info(prefix, format string, args ...interface{}) {
	log(INFO, prefix, format, args...)
}

// Warn logs a warning message
func Warn(prefix, format string, args ...interface{}) {
	log(WARN, prefix, format, args...)
}

// Error logs an error message
func Error(prefix, format string, args ...interface{}) {
	log(ERROR, prefix, format, args...)
}
