package metrics

import (
	"fmt"

	"github.com/kilianp07/shopsched/core/factory"
)

var registry = factory.NewRegistry[MetricsSink]()

// RegisterMetricsSink makes a sink type available to NewMetricsSink.
// Adapters register themselves from init.
func RegisterMetricsSink(name string, f factory.Factory[MetricsSink]) error {
	return registry.Register(name, f)
}

// SinkTypes lists the registered sink types.
func SinkTypes() []string { return registry.Names() }

// NewMetricsSink builds the sinks described by cfgs. No config yields a
// NopSink and several configs are fanned out through a MultiSink. Sinks
// already built are closed when a later one fails.
func NewMetricsSink(cfgs []factory.ModuleConfig) (MetricsSink, error) {
	switch len(cfgs) {
	case 0:
		return NopSink{}, nil
	case 1:
		s, err := registry.Create(cfgs[0])
		if err != nil {
			return nil, fmt.Errorf("metrics sink %s: %w", cfgs[0].Type, err)
		}
		return s, nil
	}
	built := make([]MetricsSink, 0, len(cfgs))
	for i, c := range cfgs {
		s, err := registry.Create(c)
		if err != nil {
			closeAll(built)
			return nil, fmt.Errorf("metrics sink %d (%s): %w", i, c.Type, err)
		}
		built = append(built, s)
	}
	return NewMultiSink(built...), nil
}

func closeAll(ss []MetricsSink) {
	for _, s := range ss {
		if c, ok := s.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
