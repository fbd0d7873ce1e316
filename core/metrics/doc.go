// Package metrics defines the sinks that observe the scheduling engine.
//
// MetricsSink is the only mandatory method set. Sinks opt into richer data
// by implementing the recorder interfaces (utilization, conflicts, plan
// metrics, commit retries); callers check for them with a type assertion.
// NewMetricsSink builds sinks from configuration through the factory
// registry and wraps several of them in a MultiSink.
package metrics
