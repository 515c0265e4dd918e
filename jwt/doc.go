// Package jwt issues and verifies the signed access and refresh tokens used by goToken.
//
// Tokens are compact HMAC-signed JWTs. The token kind is carried in the signed
// "type" claim so an access token is never accepted where a refresh token is
// required, and the reverse. Verification errors are mapped to distinct
// sentinels (ErrMalformed, ErrInvalidSignature, ErrExpired, ErrUnsupportedFormat)
// so callers can branch on expiry versus tampering.
package jwt
