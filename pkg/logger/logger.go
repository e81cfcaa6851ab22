package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu    sync.RWMutex
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	sugar *zap.SugaredLogger
)

func init() {
	l, err := build("console")
	if err != nil {
		l = zap.NewNop()
	}
	sugar = l.Sugar()
}

// build returns a stderr logger sharing the package level. format is
// "console" (human readable) or "json".
func build(format string) (*zap.Logger, error) {
	var cfg zap.Config
	if format == "json" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.DisableStacktrace = true
	}
	cfg.Level = level
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build(zap.AddCallerSkip(1))
}

// Setup rebuilds the sink with the given encoding ("console" or "json").
func Setup(format string) error {
	l, err := build(format)
	if err != nil {
		return err
	}
	Use(l)
	return nil
}

// Use swaps the underlying zap logger. Tests use it with an observer core.
func Use(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	sugar = l.Sugar()
}

// Sync flushes buffered entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = sugar.Sync()
}

// SetDebug enables or disables debug logging
func SetDebug(enabled bool) {
	if enabled {
		level.SetLevel(zapcore.DebugLevel)
		return
	}
	level.SetLevel(zapcore.InfoLevel)
}

// DebugEnabled reports whether debug entries are currently emitted.
func DebugEnabled() bool {
	return level.Enabled(zapcore.DebugLevel)
}

// Level exposes the shared level so a logger passed to Use can follow SetDebug.
func Level() zap.AtomicLevel {
	return level
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// Info logs an informational message
func Info(format string, args ...interface{}) {
	current().Infof(format, args...)
}

// Warn logs a recoverable problem worth surfacing
func Warn(format string, args ...interface{}) {
	current().Warnf(format, args...)
}

// Error logs an error message
func Error(format string, args ...interface{}) {
	current().Errorf(format, args...)
}

// Debug logs a debug message if debug logging is enabled
func Debug(format string, args ...interface{}) {
	current().Debugf(format, args...)
}

// Infof is an alias for Info for consistency
func Infof(format string, args ...interface{}) {
	current().Infof(format, args...)
}

// Errorf is an alias for Error for consistency
func Errorf(format string, args ...interface{}) {
	current().Errorf(format, args...)
}

// Debugf is an alias for Debug for consistency
func Debugf(format string, args ...interface{}) {
	current().Debugf(format, args...)
}

// Fatal logs an error message and exits with status 1
func Fatal(format string, args ...interface{}) {
	l := current()
	l.Errorf(format, args...)
	_ = l.Sync()
	os.Exit(1)
}

// Fatalf is an alias for Fatal for consistency
func Fatalf(format string, args ...interface{}) {
	Fatal(format, args...)
}
