// Package goSession provides HTTP-agnostic user sessions persisted in Redis, with
// lifecycle events for creation, expiry and deletion.
//
// The package is designed for concurrent server workloads: Engine methods are safe to
// call from multiple goroutines after initialization through [Builder.Build]. Individual
// sessions are not; each request owns the session it loaded.
//
// # Architecture boundaries
//
// goSession is the public surface. It exposes [Engine], [Builder], [Config], event sinks
// and metrics. The storage layout, dirty tracking, expiry listener and sweeper live in
// the session package; event buffering lives under internal/.
//
// # What this package must NOT do
//
//   - Issue backing-store commands outside Engine methods (Build is allocation-only;
//     Start subscribes and schedules).
//   - Lock sessions across requests. Concurrent saves of one id are last-write-wins per
//     field.
//   - Import any sub-package that re-imports goSession (no import cycles).
package goSession
