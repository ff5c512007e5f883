// Package logging provides categorized, file-backed logging on zap.
// Logs are written under a logs directory with one file per category.
// When debug mode is off every logger is a no-op.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem
type Category string

const (
	CategoryBoot        Category = "boot"        // Startup and configuration
	CategoryPerformance Category = "performance" // Slow operations

	// Engine
	CategoryCatalog Category = "catalog" // Signature and contract loading
	CategoryLayout  Category = "layout"  // DataLayout setup
	CategoryRoles   Category = "roles"   // Source/sink/init/setby classification
	CategoryContext Category = "context" // RunningContext resolution
	CategoryDriver  Category = "driver"  // Driver assembly
	CategoryGrammar Category = "grammar" // Dependency graph and grammar

	// Around the engine
	CategorySynth Category = "synth" // Driver-building loop and pool
	CategoryKB    Category = "kb"    // Mangle knowledge base
	CategoryStore Category = "store" // Corpus database
	CategoryWatch Category = "watch" // Input file watcher
)

// AllCategories lists every category in a stable order.
var AllCategories = []Category{
	CategoryBoot, CategoryPerformance, CategoryCatalog, CategoryLayout, CategoryRoles,
	CategoryContext, CategoryDriver, CategoryGrammar, CategorySynth, CategoryKB,
	CategoryStore, CategoryWatch,
}

// Settings mirrors config.LoggingConfig to avoid an import cycle.
type Settings struct {
	DebugMode  bool
	Level      string
	JSONFormat bool
	Categories map[string]bool
}

// Logger wraps a sugared zap logger for one category.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	settings  Settings
	configMu  sync.RWMutex
	level     = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Initialize sets up the logs directory and applies settings.
// Call once at startup.
func Initialize(dir string, s Settings) error {
	if dir == "" {
		return fmt.Errorf("logs directory required")
	}

	CloseAll()

	configMu.Lock()
	settings = s
	logsDir = dir
	configMu.Unlock()

	lvl, err := zapcore.ParseLevel(orDefault(s.Level, "info"))
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	level.SetLevel(lvl)

	if !s.DebugMode {
		return nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== driversynth logging initialized ===")
	boot.Info("Logs directory: %s", dir)
	boot.Info("Log level: %s", lvl)
	if len(s.Categories) > 0 {
		enabled := 0
		for _, on := range s.Categories {
			if on {
				enabled++
			}
		}
		boot.Info("Enabled categories: %d/%d", enabled, len(s.Categories))
	} else {
		boot.Info("All categories enabled (no category filter)")
	}
	return nil
}

// IsDebugMode returns whether file logging is enabled
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return settings.DebugMode
}

// IsCategoryEnabled returns whether a category writes anything.
// Categories missing from the filter are enabled.
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if !settings.DebugMode {
		return false
	}
	if settings.Categories == nil {
		return true
	}
	enabled, ok := settings.Categories[string(category)]
	if !ok {
		return true
	}
	return enabled
}

// Get returns (or creates) the logger for a category.
// Disabled categories get a no-op logger.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category, sugar: zap.NewNop().Sugar()}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}

	configMu.RLock()
	dir, jsonFormat := logsDir, settings.JSONFormat
	configMu.RUnlock()

	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(dir, fmt.Sprintf("%s_%s.log", date, category))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category, sugar: zap.NewNop().Sugar()}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if jsonFormat {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(file), level)

	l := &Logger{
		category: category,
		file:     file,
		sugar:    zap.New(core).Named(string(category)).Sugar(),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// StructuredLog writes one entry with key-value fields.
func (l *Logger) StructuredLog(lvl string, msg string, fields map[string]interface{}) {
	kv := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	switch lvl {
	case "debug":
		l.sugar.Debugw(msg, kv...)
	case "warn":
		l.sugar.Warnw(msg, kv...)
	case "error":
		l.sugar.Errorw(msg, kv...)
	default:
		l.sugar.Infow(msg, kv...)
	}
}

// WithContext returns a logger carrying the given fields on every entry.
func (l *Logger) WithContext(ctx map[string]interface{}) *Logger {
	kv := make([]interface{}, 0, len(ctx)*2)
	for k, v := range ctx {
		kv = append(kv, k, v)
	}
	return &Logger{category: l.category, sugar: l.sugar.With(kv...)}
}

// CloseAll flushes and closes all open log files (call at shutdown)
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		_ = l.sugar.Sync()
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// =============================================================================
// CONVENIENCE FUNCTIONS - no-ops when the category is disabled
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

// BootWarn logs a warning to the boot category
func BootWarn(format string, args ...interface{}) { Get(CategoryBoot).Warn(format, args...) }

// Catalog logs to the catalog category
func Catalog(format string, args ...interface{}) { Get(CategoryCatalog).Info(format, args...) }

// CatalogWarn logs a warning to the catalog category
func CatalogWarn(format string, args ...interface{}) { Get(CategoryCatalog).Warn(format, args...) }

// LayoutDebug logs debug to the layout category
func LayoutDebug(format string, args ...interface{}) { Get(CategoryLayout).Debug(format, args...) }

// Roles logs to the roles category
func Roles(format string, args ...interface{}) { Get(CategoryRoles).Info(format, args...) }

// RolesDebug logs debug to the roles category
func RolesDebug(format string, args ...interface{}) { Get(CategoryRoles).Debug(format, args...) }

// ContextDebug logs debug to the context category
func ContextDebug(format string, args ...interface{}) { Get(CategoryContext).Debug(format, args...) }

// DriverDebug logs debug to the driver category
func DriverDebug(format string, args ...interface{}) { Get(CategoryDriver).Debug(format, args...) }

// Grammar logs to the grammar category
func Grammar(format string, args ...interface{}) { Get(CategoryGrammar).Info(format, args...) }

// Synth logs to the synth category
func Synth(format string, args ...interface{}) { Get(CategorySynth).Info(format, args...) }

// SynthDebug logs debug to the synth category
func SynthDebug(format string, args ...interface{}) { Get(CategorySynth).Debug(format, args...) }

// SynthWarn logs a warning to the synth category
func SynthWarn(format string, args ...interface{}) { Get(CategorySynth).Warn(format, args...) }

// KB logs to the kb category
func KB(format string, args ...interface{}) { Get(CategoryKB).Info(format, args...) }

// KBDebug logs debug to the kb category
func KBDebug(format string, args ...interface{}) { Get(CategoryKB).Debug(format, args...) }

// Store logs to the store category
func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }

// StoreDebug logs debug to the store category
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }

// Watch logs to the watch category
func Watch(format string, args ...interface{}) { Get(CategoryWatch).Info(format, args...) }

// WatchWarn logs a warning to the watch category
func WatchWarn(format string, args ...interface{}) { Get(CategoryWatch).Warn(format, args...) }

// =============================================================================
// TIMING
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithInfo ends the timer and logs at info level
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Info("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a performance warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(CategoryPerformance).Warn("%s/%s took %v (threshold: %v)", t.category, t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
