// Package session provides the Redis-backed distributed HTTP session store: the
// [Session] entity with dirty tracking, delta computation, the [Client] contract over
// the backing store, the [Store] orchestrating create/find/save/delete, the
// [ExpiryListener] that turns keyspace notifications into session events, and the
// [Sweeper] that nudges soon-to-expire keys.
//
// # Record layout
//
// All keys live under a configurable namespace:
//
//	{ns}sessions:{id}            hash of Creation-Time, Last-Accessed, Max-Inactive-Interval, attr:{name}
//	{ns}expiry:{id}              scalar whose TTL is the real expiry signal
//	{ns}active-sessions          sorted set id -> expiry time (epoch millis)
//	{ns}event:session-created    pub/sub channel carrying raw session ids
//
// # Concurrency
//
// [Store] methods are safe for concurrent use. A single [Session] value is not: it is
// owned by one request at a time, and concurrent saves of the same id race at the
// backing store with last-write-wins semantics per field.
//
// # What this package must NOT do
//
//   - Import goSession or any sibling package (no upward imports).
//   - Interpret HTTP requests, cookies, or tokens.
//   - Provide cross-command atomicity for a save; each command is atomic on its own.
package session
