// Package internal contains helpers that are private to goSession.
//
// # Sub-packages
//
//   - events - async session event dispatch (Dispatcher + Sink implementations)
//
// # What this package must NOT do
//
//   - Be imported by any package outside the goSession module. Event types reach
//     callers only through the aliases in the root package.
//   - Depend on the root goSession package.
package internal
