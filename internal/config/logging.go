package config

import "sipdmod/internal/logging"

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`      // debug, info, warn, error
	JSONFormat bool            `yaml:"json"`       // structured JSON lines instead of console text
	DebugMode  bool            `yaml:"debug_mode"` // Master toggle - false = no logging (production)
	Categories map[string]bool `yaml:"categories"` // Per-category toggles
}

// IsCategoryEnabled returns whether logging is enabled for a category.
// Returns false if debug_mode is false (production mode).
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if !c.DebugMode {
		return false
	}
	if c.Categories == nil {
		return true
	}
	enabled, exists := c.Categories[category]
	if !exists {
		return true
	}
	return enabled
}

// ToLogging converts to the logging package's config.
func (c LoggingConfig) ToLogging() logging.Config {
	return logging.Config{
		DebugMode:  c.DebugMode,
		Categories: c.Categories,
		Level:      c.Level,
		JSONFormat: c.JSONFormat,
	}
}
