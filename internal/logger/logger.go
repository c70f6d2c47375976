// Package logger holds the process-wide slog logger the CLI configures at
// startup. Core pipeline packages and the sqlfile adapter never log; only
// cmd/ pulls the logger from here.
package logger

import (
	"log/slog"
	"os"
	"sync"
)

var (
	mu           sync.RWMutex
	globalLogger *slog.Logger
	debugEnabled bool
)

// SetGlobal installs the logger the rest of the process should use.
func SetGlobal(logger *slog.Logger, debug bool) {
	mu.Lock()
	defer mu.Unlock()
	globalLogger = logger
	debugEnabled = debug
}

// Get returns the configured logger, or a stderr text logger when nothing
// has been configured yet (e.g. in tests that bypass the CLI).
func Get() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()

	if globalLogger != nil {
		return globalLogger
	}

	level := slog.LevelInfo
	if debugEnabled {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
