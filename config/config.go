package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/wastedispatch/core/dispatch"
	"github.com/kilianp07/wastedispatch/core/mission"
	"github.com/kilianp07/wastedispatch/core/queue"
	"github.com/kilianp07/wastedispatch/core/realtime"
	"github.com/kilianp07/wastedispatch/infra/jwtauth"
	"github.com/kilianp07/wastedispatch/infra/metrics"
	"github.com/kilianp07/wastedispatch/infra/mongo"
	"github.com/kilianp07/wastedispatch/infra/mqtt"
	"github.com/kilianp07/wastedispatch/infra/notify"
	"github.com/kilianp07/wastedispatch/infra/redis"
	"github.com/kilianp07/wastedispatch/infra/websocket"
	"github.com/kilianp07/wastedispatch/jobs"
)

// EnvPrefix marks environment overrides: WD_MONGO__URI sets mongo.uri.
const EnvPrefix = "WD_"

type Config struct {
	HTTP       HTTPConfig            `json:"http"`
	Store      StoreConfig           `json:"store"`
	Mongo      mongo.Config          `json:"mongo"`
	Cache      CacheConfig           `json:"cache"`
	Redis      redis.Config          `json:"redis"`
	Dispatch   dispatch.Config       `json:"dispatch"`
	Mission    mission.ServiceConfig `json:"mission"`
	Queue      queue.Config          `json:"queue"`
	Realtime   realtime.Config       `json:"realtime"`
	WebSocket  websocket.Config      `json:"websocket"`
	Auth       AuthConfig            `json:"auth"`
	Notify     notify.Config         `json:"notify"`
	MQTT       mqtt.Config           `json:"mqtt"`
	Metrics    metrics.Config        `json:"metrics"`
	Logging    LoggingConfig         `json:"logging"`
	DeadLetter DeadLetterConfig      `json:"deadletter"`
	Schedule   jobs.ScheduleConfig   `json:"schedule"`
	Sentry     SentryConfig          `json:"sentry"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string        `json:"addr"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

func (c *HTTPConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 15 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// StoreConfig selects where missions and collectors live.
type StoreConfig struct {
	// Backend is "memory" or "mongo".
	Backend string `json:"backend"`
}

func (c *StoreConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
}

func (c StoreConfig) Validate() error {
	if c.Backend != "memory" && c.Backend != "mongo" {
		return fmt.Errorf("store.backend: unknown backend %q", c.Backend)
	}
	return nil
}

// RateLimit is a fixed-window budget.
type RateLimit struct {
	Limit  int           `json:"limit"`
	Window time.Duration `json:"window"`
}

// OTPConfig tunes one-time codes.
type OTPConfig struct {
	TTL         time.Duration `json:"ttl"`
	Digits      int           `json:"digits"`
	MaxAttempts int           `json:"max_attempts"`
}

// CacheConfig selects the cache backend and the budgets built on it.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend       string        `json:"backend"`
	CreateLimit   RateLimit     `json:"create_limit"`
	LocationLimit RateLimit     `json:"location_limit"`
	OTP           OTPConfig     `json:"otp"`
	HeatmapTTL    time.Duration `json:"heatmap_ttl"`
}

func (c *CacheConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.CreateLimit.Limit <= 0 {
		c.CreateLimit.Limit = 10
	}
	if c.CreateLimit.Window <= 0 {
		c.CreateLimit.Window = time.Minute
	}
	if c.LocationLimit.Limit <= 0 {
		c.LocationLimit.Limit = 2
	}
	if c.LocationLimit.Window <= 0 {
		c.LocationLimit.Window = time.Second
	}
	if c.OTP.TTL <= 0 {
		c.OTP.TTL = 5 * time.Minute
	}
	if c.OTP.Digits <= 0 {
		c.OTP.Digits = 6
	}
	if c.OTP.MaxAttempts <= 0 {
		c.OTP.MaxAttempts = 5
	}
	if c.HeatmapTTL <= 0 {
		c.HeatmapTTL = 10 * time.Minute
	}
}

func (c CacheConfig) Validate() error {
	if c.Backend != "memory" && c.Backend != "redis" {
		return fmt.Errorf("cache.backend: unknown backend %q", c.Backend)
	}
	if c.OTP.Digits > 9 {
		return errors.New("cache.otp.digits must be at most 9")
	}
	return nil
}

// AuthConfig holds the token settings shared by the API and websocket.
type AuthConfig struct {
	JWT jwtauth.Config `json:"jwt"`
}

// DeadLetterConfig locates the SQLite dead-letter database. Empty keeps
// failed jobs in memory only.
type DeadLetterConfig struct {
	Path string `json:"path"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills every section.
func (c *Config) SetDefaults() {
	c.HTTP.SetDefaults()
	c.Store.SetDefaults()
	c.Cache.SetDefaults()
	c.Dispatch.SetDefaults()
	c.Mission.SetDefaults()
	c.Queue.SetDefaults()
	c.Realtime.SetDefaults()
	c.WebSocket.SetDefaults()
	c.Auth.JWT.SetDefaults()
	c.MQTT.SetDefaults()
	c.Logging.SetDefaults()
	c.Sentry.SetDefaults()
	c.Schedule.SetDefaults()
	if c.Store.Backend == "mongo" {
		c.Mongo.SetDefaults()
	}
	if c.Cache.Backend == "redis" {
		c.Redis.SetDefaults()
	}
}

// Validate checks every section and reports all problems at once.
func (c Config) Validate() error {
	errs := []error{
		c.Store.Validate(),
		c.Cache.Validate(),
		c.Dispatch.Validate(),
		c.Queue.Validate(),
		c.Auth.JWT.Validate(),
		c.Metrics.Validate(),
		c.Logging.Validate(),
		c.Schedule.Validate(),
	}
	if c.Store.Backend == "mongo" {
		errs = append(errs, c.Mongo.Validate())
	}
	if c.Cache.Backend == "redis" {
		errs = append(errs, c.Redis.Validate())
	}
	if c.MQTT.Enabled {
		errs = append(errs, c.MQTT.Validate())
	}
	return errors.Join(errs...)
}
