// Package prometheus renders goSession metrics in Prometheus text exposition format.
//
// [NewPrometheusExporter] accepts a [goSession.Engine] and exposes an [http.Handler].
// Counter names are prefixed gosession_*_total; the single histogram is
// gosession_save_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry; callers mount the Handler.
//   - Mutate engine state.
package prometheus
