// Package executor runs claimed tasks: it dispatches plan steps to
// registered action handlers and drives the worker and agent loops.
package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	pkgLoggerMu sync.RWMutex
	pkgLogger   *DebugLogger
)

// SetPackageLogger installs the debug logger shared by every worker in
// this process. Pass nil to silence debug output again.
func SetPackageLogger(l *DebugLogger) {
	pkgLoggerMu.Lock()
	pkgLogger = l
	pkgLoggerMu.Unlock()
}

// debugLog is the package-internal trace hook. It is a no-op until a
// logger has been installed, so hot paths pay only an RLock when debug
// logging is off.
func debugLog(format string, args ...any) {
	pkgLoggerMu.RLock()
	l := pkgLogger
	pkgLoggerMu.RUnlock()
	l.Log(format, args...)
}

// DebugLogger appends timestamped trace lines to a file. Every write is
// synced so the tail survives a worker crash, which is exactly when the
// trace matters. The zero value discards everything.
type DebugLogger struct {
	mu   sync.Mutex
	file *os.File
}

// NewDebugLogger opens (or creates) the trace file at logPath,
// creating parent directories as needed. An empty path yields a
// discard logger.
func NewDebugLogger(logPath string) (*DebugLogger, error) {
	if logPath == "" {
		return &DebugLogger{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	l := &DebugLogger{file: f}
	l.Log("--- trace opened %s ---", time.Now().Format(time.RFC3339))
	return l, nil
}

// NopLogger returns a logger that discards everything.
func NopLogger() *DebugLogger {
	return &DebugLogger{}
}

// Log appends one formatted, timestamped line. Safe on a nil or
// discard logger.
func (l *DebugLogger) Log(format string, args ...any) {
	if l == nil || l.file == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.file, "[%s] %s\n", time.Now().Format("15:04:05.000"), fmt.Sprintf(format, args...))
	l.file.Sync()
}

// Close closes the underlying file. Safe on a nil or discard logger.
func (l *DebugLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
