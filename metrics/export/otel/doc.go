// Package otel provides OpenTelemetry metric exporter bindings for goSession counters
// and the save latency histogram.
//
// [NewOTelExporter] registers an Int64ObservableCounter per session counter and an
// Int64ObservableGauge per histogram bucket. A single callback reads
// [goSession.Engine.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider; callers supply the Meter.
//   - Mutate engine state.
package otel
