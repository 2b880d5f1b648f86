package config

import (
	"fmt"
	"slices"
)

// LogBackends lists the decision log stores known to the plugin registry.
var LogBackends = []string{"jsonl", "sqlite"}

// LoggingConfig configures the dispatch decision log. Rotation fields only
// apply to the jsonl backend.
type LoggingConfig struct {
	Backend    string `json:"backend"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "jsonl"
	}
	if c.Path == "" {
		if c.Backend == "sqlite" {
			c.Path = "decisions.db"
		} else {
			c.Path = "decisions.jsonl"
		}
	}
}

func (c LoggingConfig) Validate() error {
	if !slices.Contains(LogBackends, c.Backend) {
		return fmt.Errorf("logging.backend: unknown backend %q", c.Backend)
	}
	if c.Path == "" {
		return fmt.Errorf("logging.path is required")
	}
	if c.MaxSizeMB < 0 || c.MaxBackups < 0 || c.MaxAgeDays < 0 {
		return fmt.Errorf("logging rotation limits must not be negative")
	}
	return nil
}
