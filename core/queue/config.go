package queue

import (
	"fmt"
	"time"
)

// Config defines worker pool and retry settings.
type Config struct {
	Workers     int           `json:"workers" koanf:"workers"`
	MaxAttempts int           `json:"max_attempts" koanf:"max_attempts"`
	BaseBackoff time.Duration `json:"base_backoff" koanf:"base_backoff"`
	MaxBackoff  time.Duration `json:"max_backoff" koanf:"max_backoff"`
	// RedispatchDelay postpones assign-collector retries for missions that
	// found no available collector.
	RedispatchDelay time.Duration `json:"redispatch_delay" koanf:"redispatch_delay"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 2 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Minute
	}
	if c.RedispatchDelay <= 0 {
		c.RedispatchDelay = time.Minute
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.MaxBackoff > 0 && c.BaseBackoff > c.MaxBackoff {
		return fmt.Errorf("queue.base_backoff must not exceed queue.max_backoff")
	}
	return nil
}
