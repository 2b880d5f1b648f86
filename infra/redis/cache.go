// Package redis implements cache.Cache on Redis. Expiry is native, so Sweep
// has nothing to do.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kilianp07/wastedispatch/core/cache"
)

// Config configures the Redis connection.
type Config struct {
	Addr     string `json:"addr" koanf:"addr"`
	Password string `json:"password" koanf:"password"`
	DB       int    `json:"db" koanf:"db"`
	// Prefix namespaces every key written by this process.
	Prefix string `json:"prefix" koanf:"prefix"`
}

func (c *Config) SetDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.Prefix == "" {
		c.Prefix = "wd:"
	}
}

func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("redis.addr is required")
	}
	if c.DB < 0 {
		return errors.New("redis.db must be >= 0")
	}
	return nil
}

// Cache is a cache.Cache backed by a Redis client.
type Cache struct {
	client *redis.Client
	prefix string
}

// New dials Redis and checks the connection with PING.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	cfg.SetDefaults()
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return &Cache{client: client, prefix: cfg.Prefix}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, prefix string) *Cache {
	return &Cache{client: client, prefix: prefix}
}

func (c *Cache) key(k string) string { return c.prefix + k }

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cache.ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return b, nil
}

// Set writes value with SET EX. A zero TTL stores the key without expiry.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Incr runs INCR and EXPIRE NX in one pipeline so the TTL is only set when
// the counter is created.
func (c *Cache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	k := c.key(key)
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	if ttl > 0 {
		pipe.ExpireNX(ctx, k, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis pipeline: %w", err)
	}
	return incr.Val(), nil
}

func (c *Cache) Sweep(context.Context) (int, error) { return 0, nil }

func (c *Cache) Close() error { return c.client.Close() }
