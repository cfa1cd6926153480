// Package logging provides categorized structured logging for agentfs.
// Each subsystem logs under its own category so that a noisy backend can be
// filtered without losing tracker or router output. All output goes through
// a shared zap core; Initialize selects the level and sink once at startup.
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies the subsystem emitting a log entry.
type Category string

const (
	CategoryBackend Category = "backend" // backend implementations (local, remote)
	CategoryRouter  Category = "router"  // composite routing decisions
	CategoryTracker Category = "tracker" // integrity tracker state changes
	CategorySession Category = "session" // session lifecycle
	CategoryConfig  Category = "config"  // configuration loading
	CategoryWatch   Category = "watch"   // advisory file watcher
)

var (
	mu      sync.RWMutex
	root    *zap.Logger
	sugared = make(map[Category]*zap.SugaredLogger)
)

// Initialize builds the process-wide logger. Verbose enables debug level.
// Safe to call more than once; the last call wins.
func Initialize(verbose bool) error {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	logger, err := cfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	Replace(logger)
	return nil
}

// Replace swaps the underlying logger. Used by tests and by callers that
// build their own zap configuration.
func Replace(logger *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	root = logger
	sugared = make(map[Category]*zap.SugaredLogger)
}

// Sync flushes buffered log entries. Call before process exit.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if root != nil {
		_ = root.Sync()
	}
}

func get(category Category) *zap.SugaredLogger {
	mu.RLock()
	if s, ok := sugared[category]; ok {
		mu.RUnlock()
		return s
	}
	r := root
	mu.RUnlock()

	if r == nil {
		return zap.NewNop().Sugar()
	}

	mu.Lock()
	defer mu.Unlock()
	if s, ok := sugared[category]; ok {
		return s
	}
	s := r.Sugar().With("category", string(category))
	sugared[category] = s
	return s
}

// Category helpers. Info-level variants carry the bare category name, the
// same convention the rest of the codebase calls them by.

func Backend(format string, args ...interface{}) { get(CategoryBackend).Infof(format, args...) }

func BackendDebug(format string, args ...interface{}) { get(CategoryBackend).Debugf(format, args...) }

func BackendWarn(format string, args ...interface{}) { get(CategoryBackend).Warnf(format, args...) }

func BackendError(format string, args ...interface{}) { get(CategoryBackend).Errorf(format, args...) }

func Router(format string, args ...interface{}) { get(CategoryRouter).Infof(format, args...) }

func RouterDebug(format string, args ...interface{}) { get(CategoryRouter).Debugf(format, args...) }

func RouterWarn(format string, args ...interface{}) { get(CategoryRouter).Warnf(format, args...) }

func Tracker(format string, args ...interface{}) { get(CategoryTracker).Infof(format, args...) }

func TrackerDebug(format string, args ...interface{}) { get(CategoryTracker).Debugf(format, args...) }

func TrackerWarn(format string, args ...interface{}) { get(CategoryTracker).Warnf(format, args...) }

func TrackerError(format string, args ...interface{}) { get(CategoryTracker).Errorf(format, args...) }

func Session(format string, args ...interface{}) { get(CategorySession).Infof(format, args...) }

func SessionDebug(format string, args ...interface{}) { get(CategorySession).Debugf(format, args...) }

func Config(format string, args ...interface{}) { get(CategoryConfig).Infof(format, args...) }

func ConfigDebug(format string, args ...interface{}) { get(CategoryConfig).Debugf(format, args...) }

func ConfigWarn(format string, args ...interface{}) { get(CategoryConfig).Warnf(format, args...) }

func Watch(format string, args ...interface{}) { get(CategoryWatch).Infof(format, args...) }

func WatchDebug(format string, args ...interface{}) { get(CategoryWatch).Debugf(format, args...) }

func WatchWarn(format string, args ...interface{}) { get(CategoryWatch).Warnf(format, args...) }
