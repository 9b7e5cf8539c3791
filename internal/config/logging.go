package config

import "atmoscope/internal/logging"

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level,omitempty"`           // debug, info, warn, error
	Format    string `yaml:"format" json:"format,omitempty"`         // json, console
	File      string `yaml:"file" json:"file,omitempty"`             // empty = stderr
	DebugMode bool   `yaml:"debug_mode" json:"debug_mode,omitempty"` // Master toggle - false = no logging

	// Per-category toggles
	Categories map[string]bool `yaml:"categories,omitempty" json:"categories,omitempty"`
}

// IsCategoryEnabled returns whether logging is enabled for a category.
// Returns false if debug_mode is false.
// Returns true if debug_mode is true and category is enabled (or not specified).
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

// Options converts the section into logging package options.
func (c *LoggingConfig) Options() logging.Options {
	return logging.Options{
		DebugMode:  c.DebugMode,
		Level:      c.Level,
		Format:     c.Format,
		File:       c.File,
		Categories: c.Categories,
	}
}
