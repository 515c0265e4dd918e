// Package redisstore provides a Redis-backed store.Store for refresh-token records
// and access-token blacklist entries.
//
// # Key layout
//
//	<prefix>:rt:<id>        hash   record fields (hash, family, sub, iat, exp, status, addr, ua)
//	<prefix>:rth:<hash>     string record id for a token hash
//	<prefix>:rtf:<family>   set    record ids of a family
//	<prefix>:bl:<jti>       string blacklist reason, expiring with the access token
//
// # Atomicity
//
// Insertion, rotation (mark USED + insert next), single-record transitions and
// family revocation each run as one Lua script, so Redis executes them without
// interleaving. Scripts address keys derived from the prefix, which requires a
// standalone or Sentinel deployment rather than Redis Cluster.
//
// # What this package must NOT do
//
//   - Import goToken or jwt (no upward imports).
//   - Store raw refresh tokens.
package redisstore
