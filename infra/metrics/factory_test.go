package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/wastedispatch/core/factory"
	coremetrics "github.com/kilianp07/wastedispatch/core/metrics"
)

func TestRegistryNames(t *testing.T) {
	assert.Equal(t, []string{"influx", "nop", "prometheus"}, Registry().Names())
}

func TestBuild(t *testing.T) {
	s, err := Build(nil)
	require.NoError(t, err)
	assert.IsType(t, coremetrics.NopSink{}, s)

	s, err = Build([]factory.ModuleConfig{{Type: "nop"}})
	require.NoError(t, err)
	assert.IsType(t, coremetrics.NopSink{}, s)

	s, err = Build([]factory.ModuleConfig{{Type: "nop"}, {Type: "prometheus"}})
	require.NoError(t, err)
	multi, ok := s.(*MultiSink)
	require.True(t, ok)
	assert.Len(t, multi.Sinks, 2)

	_, err = Build([]factory.ModuleConfig{{Type: "statsd"}})
	assert.ErrorIs(t, err, factory.ErrUnknownType)

	_, err = Build([]factory.ModuleConfig{{Type: "influx", Conf: map[string]any{"url": "http://localhost:8086"}}})
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{Sinks: []factory.ModuleConfig{{Type: "prometheus"}}}.Validate())
	err := Config{EventSinks: []factory.ModuleConfig{{Type: "graphite"}}}.Validate()
	assert.ErrorIs(t, err, factory.ErrUnknownType)
}
