// Package metrics defines the sink interfaces used to record dispatch,
// mission and queue activity. Sinks implement MetricsSink and opt into the
// other recorders; callers type-assert before recording. Concrete sinks
// (Prometheus, InfluxDB, fan-out) live in infra/metrics.
package metrics
