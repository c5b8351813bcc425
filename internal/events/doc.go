// Package events implements asynchronous delivery of session lifecycle events.
//
// # Components
//
//   - [Sink] is the interface for event consumers (channel, JSON writer, no-op).
//   - [Dispatcher] is a buffered relay with drop-if-full or block-if-full semantics.
//   - [Event] is the record handed to sinks: type, session id, timestamps.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which events
// to emit; the session listener does that.
//
// # What this package must NOT do
//
//   - Read or write the backing store.
//   - Import goSession or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package events
