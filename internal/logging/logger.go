// Package logging provides config-driven categorized file-based logging for sipdmod.
// Logs are written to <workspace>/.sipdmod/logs/ with separate files per category.
// Logging is controlled by debug_mode in the logging config - when false, no logs are written.
package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names one log file.
type Category string

const (
	CategoryBoot       Category = "boot"       // Boot/initialization
	CategoryLifecycle  Category = "lifecycle"  // Module registration, mount/unmount decisions
	CategoryAnchor     Category = "anchor"     // Anchor watching and transition settling
	CategoryNavigation Category = "navigation" // Route change detection
	CategoryRetrieval  Category = "retrieval"  // Remote fetches and credential lookups
	CategoryAggregate  Category = "aggregate"  // Grouping and totals
	CategoryReport     Category = "report"     // Table rendering and workbook export
	CategoryBrowser    Category = "browser"    // Browser automation, CDP events
	CategoryStore      Category = "store"      // Snapshot cache operations
)

// Config mirrors config.LoggingConfig to avoid circular imports.
type Config struct {
	DebugMode  bool
	Categories map[string]bool
	Level      string
	JSONFormat bool
}

// Logger wraps a zap logger bound to one category file.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	workspace string
	config    Config
	configMu  sync.RWMutex
	logLevel  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Initialize sets up the logging directory for the workspace.
// Should be called once at startup.
func Initialize(ws string, cfg Config) error {
	if ws == "" {
		return errors.New("logging: empty workspace")
	}

	configMu.Lock()
	workspace = ws
	logsDir = filepath.Join(workspace, ".sipdmod", "logs")
	config = cfg
	configMu.Unlock()

	logLevel.SetLevel(parseLevel(cfg.Level))

	if !cfg.DebugMode {
		return nil
	}

	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== sipdmod logging initialized ===")
	boot.Info("Workspace: %s", workspace)
	boot.Info("Logs directory: %s", logsDir)
	boot.Info("Log level: %s", logLevel.Level())
	if len(cfg.Categories) == 0 {
		boot.Info("All categories enabled (no category filter)")
	}
	return nil
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// IsDebugMode reports whether logs are written at all.
func IsDebugMode() bool {
	return current().DebugMode
}

// IsCategoryEnabled reports whether category writes to its file. Categories
// missing from the filter are on.
func IsCategoryEnabled(category Category) bool {
	return current().enabled(category)
}

func (c Config) enabled(category Category) bool {
	if !c.DebugMode {
		return false
	}
	on, listed := c.Categories[string(category)]
	return !listed || on
}

func current() Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return config
}

// Get returns the logger for category, opening its file on first use.
// Disabled categories get a logger that drops everything.
func Get(category Category) *Logger {
	configMu.RLock()
	cfg, dir := config, logsDir
	configMu.RUnlock()
	if dir == "" || !cfg.enabled(category) {
		return &Logger{category: category}
	}

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l := loggers[category]; l != nil {
		return l
	}

	name := fmt.Sprintf("%s_%s.log", time.Now().Format("2006-01-02"), category)
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %s disabled: %v\n", path, err)
		return &Logger{category: category}
	}

	core := zapcore.NewCore(newEncoder(cfg.JSONFormat), zapcore.AddSync(f), logLevel)
	l := &Logger{
		category: category,
		file:     f,
		sugar:    zap.New(core).Named(string(category)).Sugar(),
	}
	loggers[category] = l
	return l
}

func newEncoder(jsonFormat bool) zapcore.Encoder {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if jsonFormat {
		return zapcore.NewJSONEncoder(encCfg)
	}
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(encCfg)
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

// With returns a logger carrying structured key-value context.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	if l.sugar == nil {
		return l
	}
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// CloseAll syncs and closes every category file.
func CloseAll() {
	loggersMu.Lock()
	open := loggers
	loggers = make(map[Category]*Logger)
	loggersMu.Unlock()

	for _, l := range open {
		_ = l.sugar.Sync()
		_ = l.file.Close()
	}
}

// Shorthands per category.

func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

func BootDebug(format string, args ...interface{}) {
	Get(CategoryBoot).Debug(format, args...)
}

func BootWarn(format string, args ...interface{}) {
	Get(CategoryBoot).Warn(format, args...)
}

func Lifecycle(format string, args ...interface{}) {
	Get(CategoryLifecycle).Info(format, args...)
}

func LifecycleDebug(format string, args ...interface{}) {
	Get(CategoryLifecycle).Debug(format, args...)
}

func LifecycleWarn(format string, args ...interface{}) {
	Get(CategoryLifecycle).Warn(format, args...)
}

func LifecycleError(format string, args ...interface{}) {
	Get(CategoryLifecycle).Error(format, args...)
}

func Anchor(format string, args ...interface{}) {
	Get(CategoryAnchor).Info(format, args...)
}

func AnchorDebug(format string, args ...interface{}) {
	Get(CategoryAnchor).Debug(format, args...)
}

func AnchorWarn(format string, args ...interface{}) {
	Get(CategoryAnchor).Warn(format, args...)
}

func Navigation(format string, args ...interface{}) {
	Get(CategoryNavigation).Info(format, args...)
}

func NavigationDebug(format string, args ...interface{}) {
	Get(CategoryNavigation).Debug(format, args...)
}

func NavigationWarn(format string, args ...interface{}) {
	Get(CategoryNavigation).Warn(format, args...)
}

func Retrieval(format string, args ...interface{}) {
	Get(CategoryRetrieval).Info(format, args...)
}

func RetrievalDebug(format string, args ...interface{}) {
	Get(CategoryRetrieval).Debug(format, args...)
}

func RetrievalWarn(format string, args ...interface{}) {
	Get(CategoryRetrieval).Warn(format, args...)
}

func RetrievalError(format string, args ...interface{}) {
	Get(CategoryRetrieval).Error(format, args...)
}

func Aggregate(format string, args ...interface{}) {
	Get(CategoryAggregate).Debug(format, args...)
}

func Report(format string, args ...interface{}) {
	Get(CategoryReport).Info(format, args...)
}

func ReportError(format string, args ...interface{}) {
	Get(CategoryReport).Error(format, args...)
}

func Browser(format string, args ...interface{}) {
	Get(CategoryBrowser).Info(format, args...)
}

func BrowserDebug(format string, args ...interface{}) {
	Get(CategoryBrowser).Debug(format, args...)
}

func BrowserWarn(format string, args ...interface{}) {
	Get(CategoryBrowser).Warn(format, args...)
}

func BrowserError(format string, args ...interface{}) {
	Get(CategoryBrowser).Error(format, args...)
}

func Store(format string, args ...interface{}) {
	Get(CategoryStore).Info(format, args...)
}

func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debug(format, args...)
}

func StoreWarn(format string, args ...interface{}) {
	Get(CategoryStore).Warn(format, args...)
}
