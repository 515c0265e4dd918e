// Package middleware adapts goToken.Engine authorization to net/http.
//
// # Guards
//
//   - [Guard]: requires a valid bearer access token and the listed roles.
//   - [RequireRole]: role check on a principal already admitted by Guard.
//
// Guard reads the Authorization header, calls Engine.Authorize, and stores the
// principal in the request context.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Make authorization decisions beyond pass/reject from Engine.Authorize.
package middleware
