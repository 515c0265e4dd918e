package jwt

import "errors"

var (
	// ErrMalformed is returned when a token is not a well-formed compact JWT or
	// lacks a claim every goToken token must carry.
	ErrMalformed = errors.New("token malformed")
	// ErrInvalidSignature is returned when the MAC does not match the payload.
	ErrInvalidSignature = errors.New("token signature invalid")
	// ErrExpired is returned when the token is authentic but its exp has passed.
	ErrExpired = errors.New("token expired")
	// ErrUnsupportedFormat is returned for tokens signed with an algorithm or key
	// id this manager does not accept (including alg=none).
	ErrUnsupportedFormat = errors.New("token format unsupported")
	// ErrInvalidClaims is returned when issuer, audience or issued-at checks fail.
	ErrInvalidClaims = errors.New("token claims invalid")
	// ErrWrongKind is returned when a token of one kind is presented where the
	// other kind is required.
	ErrWrongKind = errors.New("token kind mismatch")
	// ErrConfiguration is returned for unusable signing configuration, including
	// secrets shorter than the algorithm's minimum key length.
	ErrConfiguration = errors.New("jwt configuration invalid")
)
