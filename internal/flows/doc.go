// Package flows contains pure-function orchestrators for every Engine operation.
//
// Each flow function (RunIssue, RunRotate, RunLogout, RunAuthorize) accepts a typed
// dependency struct and returns a classified result without side-effects beyond
// those dependencies. The Engine maps each classification to exactly one public
// error and one audit/metric outcome.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the record store, JWT manager and rate
// limiter. They do NOT own any of these resources; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goToken (to avoid import cycles).
//   - Perform I/O directly; all I/O is mediated through dependency interfaces.
//   - Swallow store errors: every store failure surfaces as a result.
package flows
