// Package rate provides Redis-backed fixed-window throttles for token issuance
// and rotation.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - gtr: rotation per family
//   - gti: issuance per subject
//
// # What this package must NOT do
//
//   - Decide what happens to a throttled family (the Engine does).
//   - Be imported outside the goToken module.
package rate
