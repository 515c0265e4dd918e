// Package store defines the durable record model behind refresh-token rotation
// and access-token revocation, the Store contract every backend satisfies, and an
// in-process backend.
//
// Backends:
//   - MemoryStore (this package): single-process, used by tests and demos.
//   - redisstore: Redis with Lua compare-and-swap scripts.
//   - sqlstore: PostgreSQL through sqlx, schema managed by goose.
package store
