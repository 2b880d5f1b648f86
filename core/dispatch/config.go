package dispatch

import (
	"fmt"
	"time"
)

// Config defines dispatch-related settings.
type Config struct {
	// FallbackLimit bounds the listing used when the radius query is empty.
	FallbackLimit int `json:"fallback_limit" koanf:"fallback_limit"`
	// Timeout is the budget for candidate lookup (radius query + fallback).
	Timeout time.Duration `json:"timeout" koanf:"timeout"`
	// Alternatives is the number of runner-up candidates returned.
	Alternatives int     `json:"alternatives" koanf:"alternatives"`
	Weights      Weights `json:"weights" koanf:"weights"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.FallbackLimit <= 0 {
		c.FallbackLimit = 100
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}
	if c.Alternatives <= 0 {
		c.Alternatives = 2
	}
	if c.Weights == (Weights{}) {
		c.Weights = DefaultWeights()
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.FallbackLimit < 0 {
		return fmt.Errorf("dispatch.fallback_limit must be positive")
	}
	if c.Weights.Distance < 0 || c.Weights.Experience < 0 || c.Weights.Availability < 0 {
		return fmt.Errorf("dispatch.weights must not be negative")
	}
	return nil
}
