// Package goToken manages the lifecycle of access and refresh tokens: issuance,
// one-shot refresh rotation with family-based theft detection, revocation, and
// authorization of protected calls.
//
// Engine methods are safe to call from multiple goroutines after initialization
// through [Builder.Build].
//
// # Refresh protocol
//
// Every login opens a token family. Each [Engine.Rotate] consumes the presented
// refresh token (ACTIVE to USED) and issues a successor in the same family, as one
// atomic compare-and-swap against the record store. Presenting a token that is
// already USED or REVOKED revokes the whole family and fails with
// [ErrTokenReuseDetected]; a family_revoked audit event is published.
//
// # Architecture boundaries
//
// goToken is the public surface. It exposes [Engine], [Builder], [Config] and value
// types. Flow orchestration, throttling and audit dispatch live under internal/.
// Token encoding lives in jwt/ and record persistence in store/.
//
// # What this package must NOT do
//
//   - Log raw tokens, token hashes or the signing secret.
//   - Mutate token state from Authorize.
//   - Import any sub-package that re-imports goToken (no import cycles).
package goToken
