// Package logger provides a shared logging facility for the engine,
// backed by zap. Call Initialize once at process start; the package
// falls back to a sane default when a caller logs first.
package logger

import (
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.Mutex
	log *zap.SugaredLogger
)

// Initialize sets up the process-wide logger. Debug-level output is
// enabled when the viper "debug" key is set (bound to the --debug flag
// by the CLI layer).
func Initialize() {
	mu.Lock()
	defer mu.Unlock()
	log = build(viper.GetBool("debug"))
}

func build(debug bool) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Construction only fails on invalid config; fall back to a
		// no-frills logger rather than refusing to run.
		l = zap.NewNop()
	}
	return l.Sugar()
}

func get() *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	if log == nil {
		log = build(false)
	}
	return log
}

// Sync flushes any buffered log entries.
func Sync() {
	_ = get().Sync()
}

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...any) {
	get().Debugf(format, args...)
}

// Infof logs a formatted message at info level.
func Infof(format string, args ...any) {
	get().Infof(format, args...)
}

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...any) {
	get().Warnf(format, args...)
}

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...any) {
	get().Errorf(format, args...)
}
