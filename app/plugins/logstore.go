// Package plugins registers the pluggable backends selected by name in the
// configuration.
package plugins

import (
	"sync"

	"github.com/kilianp07/wastedispatch/config"
	"github.com/kilianp07/wastedispatch/core/dispatch/logging"
	"github.com/kilianp07/wastedispatch/core/factory"
)

var (
	logStoresOnce sync.Once
	logStores     *factory.Registry[logging.LogStore]
)

// LogStores returns the decision log backends: "jsonl" (rotating via
// lumberjack when a size cap is set) and "sqlite".
func LogStores() *factory.Registry[logging.LogStore] {
	logStoresOnce.Do(func() {
		logStores = factory.NewRegistry[logging.LogStore]()
		_ = logStores.Register("jsonl", func(conf map[string]any) (logging.LogStore, error) {
			var lc config.LoggingConfig
			if err := factory.Decode(conf, &lc); err != nil {
				return nil, err
			}
			if lc.MaxSizeMB > 0 {
				return logging.NewRotatingJSONLStore(lc.Path, lc.MaxSizeMB, lc.MaxBackups, lc.MaxAgeDays)
			}
			return logging.NewJSONLStore(lc.Path)
		})
		_ = logStores.Register("sqlite", func(conf map[string]any) (logging.LogStore, error) {
			var lc config.LoggingConfig
			if err := factory.Decode(conf, &lc); err != nil {
				return nil, err
			}
			return logging.NewSQLiteStore(lc.Path)
		})
	})
	return logStores
}

// NewLogStore builds the decision log described by cfg.
func NewLogStore(cfg config.LoggingConfig) (logging.LogStore, error) {
	return LogStores().Create(factory.ModuleConfig{
		Type: cfg.Backend,
		Conf: map[string]any{
			"path":         cfg.Path,
			"max_size_mb":  cfg.MaxSizeMB,
			"max_backups":  cfg.MaxBackups,
			"max_age_days": cfg.MaxAgeDays,
		},
	})
}
