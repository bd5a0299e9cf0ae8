// Package logging provides config-driven categorized logging for deepresearch.
// Logs are written to <dir>/<date>_deepresearch.log through zap, one field per category.
// Logging is controlled by logging.debug_mode - when false, every logger is a no-op.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"deepresearch/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot       Category = "boot"       // Boot/initialization
	CategoryFlow       Category = "flow"       // Stage graph execution
	CategoryDiscovery  Category = "discovery"  // Query expansion, classification
	CategoryDispatch   Category = "dispatch"   // Fan-out and branch isolation
	CategorySpecialist Category = "specialist" // Per-category extraction
	CategorySynthesis  Category = "synthesis"  // Final answer generation
	CategoryRetrieval  Category = "retrieval"  // Search backends, HTTP fetch
	CategoryAPI        Category = "api"        // LLM API calls
	CategoryStore      Category = "store"      // Persistent cache
	CategoryBrowser    Category = "browser"    // Headless rendering
)

// Logger is a category-scoped logger. A Logger with a nil sugar is a no-op.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu      sync.RWMutex
	root    *zap.Logger
	logFile *os.File
	logCfg  config.LoggingConfig
	loggers = make(map[Category]*Logger)
)

// Initialize configures logging. Only debug_mode creates the log directory.
func Initialize(cfg config.LoggingConfig) error {
	CloseAll()

	mu.Lock()
	logCfg = cfg
	if !cfg.DebugMode {
		mu.Unlock()
		return nil // Silent no-op in production mode
	}

	dir := cfg.Dir
	if dir == "" {
		dir = filepath.Join(".deepresearch", "logs")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		mu.Unlock()
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	date := time.Now().Format("2006-01-02")
	path := filepath.Join(dir, fmt.Sprintf("%s_deepresearch.log", date))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		mu.Unlock()
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	logFile = file
	root = zap.New(zapcore.NewCore(newEncoder(cfg.Format), zapcore.AddSync(file), parseLevel(cfg.Level)))
	mu.Unlock()

	Boot("=== deepresearch logging initialized ===")
	Boot("Log file: %s", path)
	Boot("Log level: %s", parseLevel(cfg.Level))
	if len(cfg.Categories) > 0 {
		enabled := 0
		for cat, on := range cfg.Categories {
			if on {
				enabled++
			}
			BootDebug("Category '%s': %v", cat, on)
		}
		Boot("Enabled categories: %d/%d", enabled, len(cfg.Categories))
	} else {
		Boot("All categories enabled (no category filter)")
	}
	return nil
}

// InitializeWithCore routes all categories into the given core.
// Used by tests and by callers that already own a zap pipeline.
func InitializeWithCore(core zapcore.Core, cfg config.LoggingConfig) {
	CloseAll()

	mu.Lock()
	defer mu.Unlock()
	logCfg = cfg
	logCfg.DebugMode = true
	root = zap.New(core)
}

func newEncoder(format string) zapcore.Encoder {
	if format == "console" || format == "text" {
		return zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(encCfg)
}

func parseLevel(level string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// IsDebugMode returns whether debug logging is enabled
func IsDebugMode() bool {
	mu.RLock()
	defer mu.RUnlock()
	return logCfg.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	return logCfg.IsCategoryEnabled(string(category))
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled or category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	if root == nil {
		return &Logger{category: category}
	}
	l := &Logger{
		category: category,
		sugar:    root.With(zap.String("category", string(category))).Sugar(),
	}
	loggers[category] = l
	return l
}

// CloseAll flushes and releases the log file.
func CloseAll() {
	mu.Lock()
	defer mu.Unlock()
	if root != nil {
		_ = root.Sync()
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	root = nil
	loggers = make(map[Category]*Logger)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

// With returns a child logger carrying structured fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	if l.sugar == nil {
		return l
	}
	return &Logger{category: l.category, sugar: l.sugar.Desugar().With(fields...).Sugar()}
}

// Zap exposes the underlying structured logger. Never nil.
func (l *Logger) Zap() *zap.Logger {
	if l.sugar == nil {
		return zap.NewNop()
	}
	return l.sugar.Desugar()
}

// WithRunID creates a run-scoped logger for correlating one pipeline execution.
func WithRunID(category Category, runID string) *Logger {
	return Get(category).With(zap.String("run_id", runID))
}

// =============================================================================
// CONVENIENCE FUNCTIONS
// =============================================================================

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }
func BootWarn(format string, args ...interface{})  { Get(CategoryBoot).Warn(format, args...) }

func Flow(format string, args ...interface{})      { Get(CategoryFlow).Info(format, args...) }
func FlowDebug(format string, args ...interface{}) { Get(CategoryFlow).Debug(format, args...) }
func FlowWarn(format string, args ...interface{})  { Get(CategoryFlow).Warn(format, args...) }
func FlowError(format string, args ...interface{}) { Get(CategoryFlow).Error(format, args...) }

func Discovery(format string, args ...interface{})      { Get(CategoryDiscovery).Info(format, args...) }
func DiscoveryDebug(format string, args ...interface{}) { Get(CategoryDiscovery).Debug(format, args...) }
func DiscoveryWarn(format string, args ...interface{})  { Get(CategoryDiscovery).Warn(format, args...) }

func Dispatch(format string, args ...interface{})      { Get(CategoryDispatch).Info(format, args...) }
func DispatchDebug(format string, args ...interface{}) { Get(CategoryDispatch).Debug(format, args...) }
func DispatchWarn(format string, args ...interface{})  { Get(CategoryDispatch).Warn(format, args...) }
func DispatchError(format string, args ...interface{}) { Get(CategoryDispatch).Error(format, args...) }

func Specialist(format string, args ...interface{})      { Get(CategorySpecialist).Info(format, args...) }
func SpecialistDebug(format string, args ...interface{}) { Get(CategorySpecialist).Debug(format, args...) }
func SpecialistWarn(format string, args ...interface{})  { Get(CategorySpecialist).Warn(format, args...) }

func Synthesis(format string, args ...interface{})      { Get(CategorySynthesis).Info(format, args...) }
func SynthesisDebug(format string, args ...interface{}) { Get(CategorySynthesis).Debug(format, args...) }
func SynthesisError(format string, args ...interface{}) { Get(CategorySynthesis).Error(format, args...) }

func Retrieval(format string, args ...interface{})      { Get(CategoryRetrieval).Info(format, args...) }
func RetrievalDebug(format string, args ...interface{}) { Get(CategoryRetrieval).Debug(format, args...) }
func RetrievalWarn(format string, args ...interface{})  { Get(CategoryRetrieval).Warn(format, args...) }

func API(format string, args ...interface{})      { Get(CategoryAPI).Info(format, args...) }
func APIDebug(format string, args ...interface{}) { Get(CategoryAPI).Debug(format, args...) }
func APIWarn(format string, args ...interface{})  { Get(CategoryAPI).Warn(format, args...) }

func Store(format string, args ...interface{})      { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }
func StoreWarn(format string, args ...interface{})  { Get(CategoryStore).Warn(format, args...) }

func Browser(format string, args ...interface{})      { Get(CategoryBrowser).Info(format, args...) }
func BrowserDebug(format string, args ...interface{}) { Get(CategoryBrowser).Debug(format, args...) }
func BrowserWarn(format string, args ...interface{})  { Get(CategoryBrowser).Warn(format, args...) }

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
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

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
