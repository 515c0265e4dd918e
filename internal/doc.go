// Package internal contains helpers that are private to goToken: refresh token
// hashing and family identifier generation.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - config: CLI configuration loading
//   - flows: pure-function flow orchestrators for every Engine operation
//   - logging: zap logger construction
//   - rate: Redis-backed fixed-window throttles for issuance and rotation
//
// # What this package must NOT do
//
//   - Export types that appear in the public goToken API.
//   - Be imported by any package outside the goToken module.
package internal
