package metrics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/shopsched/core/factory"
	metrics "github.com/kilianp07/shopsched/core/metrics"
	_ "github.com/kilianp07/shopsched/infra/metrics"
)

func TestBuiltinSinkTypes(t *testing.T) {
	assert.Subset(t, metrics.SinkTypes(), []string{"influx", "nop", "prometheus"})
}

func TestNewMetricsSink(t *testing.T) {
	s, err := metrics.NewMetricsSink(nil)
	require.NoError(t, err)
	assert.IsType(t, metrics.NopSink{}, s)

	s, err = metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "nop"}})
	require.NoError(t, err)
	assert.IsType(t, metrics.NopSink{}, s)

	s, err = metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "nop"}, {Type: "nop"}})
	require.NoError(t, err)
	m, ok := s.(*metrics.MultiSink)
	require.True(t, ok, "got %T", s)
	assert.Len(t, m.Sinks, 2)
	m.Close()
}

func TestNewMetricsSinkUnknownType(t *testing.T) {
	_, err := metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "statsd"}})
	assert.ErrorContains(t, err, "metrics sink statsd")

	_, err = metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "nop"}, {Type: "statsd"}})
	assert.ErrorContains(t, err, "metrics sink 1 (statsd)")
}

func TestConfigValidate(t *testing.T) {
	var c metrics.Config
	c.SetDefaults()
	require.NoError(t, c.Validate())
	assert.Equal(t, "prometheus", c.Sinks[0].Type)

	c.Sinks = append(c.Sinks, factory.ModuleConfig{})
	assert.ErrorContains(t, c.Validate(), "metrics sink 1")
}
