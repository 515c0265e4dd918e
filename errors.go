package goToken

import (
	"errors"
	"net/http"
)

var (
	// ErrInvalidToken is returned when a presented token fails codec checks, has the
	// wrong kind, or has no matching refresh record.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenReuseDetected is returned when a consumed or revoked refresh token is
	// presented again. The token's family has been revoked; the caller must force a
	// full re-login.
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")
	// ErrRefreshTokenExpired is returned for an ACTIVE refresh token past its expiry.
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	// ErrUnauthenticated is returned by the guard, and by rotation when the
	// principal is unknown or disabled.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden is returned by the guard when a required role is missing.
	ErrForbidden = errors.New("forbidden")
	// ErrStoreUnavailable is returned on record store failure or timeout. No state
	// transition may be assumed; callers retry with backoff.
	ErrStoreUnavailable = errors.New("token store unavailable")
	// ErrResolverUnavailable is returned when the identity resolver fails for a
	// reason other than an unknown subject.
	ErrResolverUnavailable = errors.New("identity resolver unavailable")
	// ErrConfiguration is returned by Build for unusable configuration, including a
	// signing secret shorter than the algorithm's minimum key length.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrPrincipalNotFound is returned by an IdentityResolver for unknown subjects.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrPrincipalDisabled is returned when a resolved principal is not enabled.
	ErrPrincipalDisabled = errors.New("principal disabled")
	// ErrRateLimited is returned when issuance or rotation throttles are exceeded.
	ErrRateLimited = errors.New("rate limited")
	// ErrEngineNotReady is returned by methods called on a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// StatusCode maps an Engine error to the HTTP status an adapter should answer with.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrTokenReuseDetected),
		errors.Is(err, ErrRefreshTokenExpired),
		errors.Is(err, ErrUnauthenticated),
		errors.Is(err, ErrPrincipalNotFound),
		errors.Is(err, ErrPrincipalDisabled):
		return http.StatusUnauthorized
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrResolverUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
