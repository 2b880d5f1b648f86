package metrics

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kilianp07/wastedispatch/core/factory"
	coremetrics "github.com/kilianp07/wastedispatch/core/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// Config selects the metrics sinks.
type Config struct {
	// Sinks are called inline by the engine, the queue and the hub.
	Sinks []factory.ModuleConfig `json:"sinks" koanf:"sinks"`
	// EventSinks are fed from the event bus by StartEventCollector.
	EventSinks []factory.ModuleConfig `json:"event_sinks" koanf:"event_sinks"`
	// PrometheusAddr is the listen address of the /metrics endpoint. Empty
	// disables the endpoint.
	PrometheusAddr string `json:"prometheus_addr" koanf:"prometheus_addr"`
}

// Validate checks that every configured sink type is registered.
func (c Config) Validate() error {
	var errs []error
	for _, mods := range [][]factory.ModuleConfig{c.Sinks, c.EventSinks} {
		for _, m := range mods {
			if !registered(m.Type) {
				errs = append(errs, fmt.Errorf("metrics: %w: %q", factory.ErrUnknownType, m.Type))
			}
		}
	}
	return errors.Join(errs...)
}

var (
	registryOnce sync.Once
	registry     *factory.Registry[coremetrics.MetricsSink]
)

// Registry returns the sink registry with the built-in types registered.
func Registry() *factory.Registry[coremetrics.MetricsSink] {
	registryOnce.Do(func() {
		registry = factory.NewRegistry[coremetrics.MetricsSink]()
		_ = registry.Register("nop", func(map[string]any) (coremetrics.MetricsSink, error) {
			return coremetrics.NopSink{}, nil
		})
		_ = registry.Register("prometheus", func(map[string]any) (coremetrics.MetricsSink, error) {
			return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
		})
		_ = registry.Register("influx", func(conf map[string]any) (coremetrics.MetricsSink, error) {
			var c struct {
				URL    string `json:"url"`
				Token  string `json:"token"`
				Org    string `json:"org"`
				Bucket string `json:"bucket"`
			}
			if err := factory.Decode(conf, &c); err != nil {
				return nil, err
			}
			if c.URL == "" || c.Bucket == "" {
				return nil, errors.New("influx: url and bucket are required")
			}
			return NewInfluxSinkWithFallback(c.URL, c.Token, c.Org, c.Bucket), nil
		})
	})
	return registry
}

func registered(name string) bool {
	for _, n := range Registry().Names() {
		if n == name {
			return true
		}
	}
	return false
}

// Build instantiates the configured modules. No modules yields a NopSink,
// one module is returned as is and several are wrapped in a MultiSink.
func Build(mods []factory.ModuleConfig) (coremetrics.MetricsSink, error) {
	sinks := make([]coremetrics.MetricsSink, 0, len(mods))
	for _, m := range mods {
		s, err := Registry().Create(m)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	switch len(sinks) {
	case 0:
		return coremetrics.NopSink{}, nil
	case 1:
		return sinks[0], nil
	default:
		return NewMultiSink(sinks...), nil
	}
}
