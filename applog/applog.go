// Package applog provides general-purpose application logging.
//
// Logs are written to app.log through a zap logger; backend round trips go
// to backend.log next to it. Until Init is called every call is a no-op,
// so packages can log freely from tests.
// Covers: app start/stop, config changes, backend traffic, chat and export events.
package applog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu         sync.RWMutex
	logger     = zap.NewNop()
	trace      = zap.NewNop()
	closeTrace = func() {}
	path       string
)

// Init opens dir/app.log and dir/backend.log. An empty dir means
// ~/.sqlpilot/logs. debug lowers the level to include Debug entries.
func Init(dir string, debug bool) error {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home: %w", err)
		}
		dir = filepath.Join(homeDir, ".sqlpilot", "logs")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	logPath := filepath.Join(dir, "app.log")

	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.OutputPaths = []string{logPath}
	cfg.ErrorOutputPaths = []string{logPath}
	cfg.Sampling = nil
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	l, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	// The trace file carries preformatted blocks, so the encoder writes
	// the message only.
	ws, closeWS, err := zap.Open(filepath.Join(dir, "backend.log"))
	if err != nil {
		l.Sync() //nolint:errcheck
		return fmt.Errorf("open trace log: %w", err)
	}
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{MessageKey: "msg"})
	tl := zap.New(zapcore.NewCore(enc, ws, zapcore.DebugLevel))

	mu.Lock()
	oldLogger, oldTrace, oldClose := logger, trace, closeTrace
	logger, trace, closeTrace = l, tl, closeWS
	path = logPath
	mu.Unlock()
	oldLogger.Sync() //nolint:errcheck
	oldTrace.Sync()  //nolint:errcheck
	oldClose()
	return nil
}

// L returns the underlying logger for structured fields.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Trace returns the backend traffic logger. Entries carry the message only.
func Trace() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return trace
}

// Path returns the log file, or "" before Init.
func Path() string {
	mu.RLock()
	defer mu.RUnlock()
	return path
}

// Info logs a general info message.
func Info(format string, args ...interface{}) {
	L().Info(fmt.Sprintf(format, args...))
}

// Debug logs a message only shown with --debug.
func Debug(format string, args ...interface{}) {
	L().Debug(fmt.Sprintf(format, args...))
}

// Error logs an error message.
func Error(format string, args ...interface{}) {
	L().Error(fmt.Sprintf(format, args...))
}

// Event logs a structured event with a category.
func Event(category string, format string, args ...interface{}) {
	L().Info(fmt.Sprintf(format, args...), zap.String("category", category))
}

// Close flushes and closes both log files. Logging is a no-op again
// until the next Init.
func Close() {
	mu.Lock()
	l, tl, closeWS := logger, trace, closeTrace
	logger, trace, closeTrace = zap.NewNop(), zap.NewNop(), func() {}
	path = ""
	mu.Unlock()
	l.Sync()  //nolint:errcheck
	tl.Sync() //nolint:errcheck
	closeWS()
}
