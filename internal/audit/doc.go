// Package audit implements async event dispatching for token lifecycle events.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, func, fan-out, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full semantics.
//   - [Event]: structured audit record with timestamp, type, subject, family, jti, client and cause.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which events
// to emit; that belongs to the Engine.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import goToken or any sibling internal package.
//   - Carry raw tokens or token hashes in events.
package audit
