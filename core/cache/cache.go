// Package cache defines a key/value cache with per-entry expiry and the
// helpers built on it: rate limiting, one-time codes and JSON values.
// Reads may always miss; callers treat the cache as an optimisation.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Key prefixes used across the service.
const (
	PrefixOTP       = "otp:"
	PrefixRateLimit = "rl:"
	PrefixLocation  = "loc:"
	PrefixHeatmap   = "heatmap:"
)

// Cache stores opaque values with a TTL. A zero TTL means no expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Incr atomically increments the integer at key and returns the new
	// value. The TTL is applied only when the key is created.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Sweep evicts expired entries and reports how many were removed.
	// Backends with native expiry return 0.
	Sweep(ctx context.Context) (int, error)
	Close() error
}

// GetJSON decodes the value at key into out.
func GetJSON(ctx context.Context, c Cache, key string, out any) error {
	b, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes v and stores it at key.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	return c.Set(ctx, key, b, ttl)
}
