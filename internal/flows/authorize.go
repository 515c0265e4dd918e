package flows

import (
	"context"

	"github.com/MrEthical07/goToken/jwt"
)

// AuthorizeFailureKind classifies guard denials.
type AuthorizeFailureKind int

const (
	AuthorizeFailureNone AuthorizeFailureKind = iota
	AuthorizeFailureToken
	AuthorizeFailureBlacklisted
	AuthorizeFailurePrincipal
	AuthorizeFailureMissingRole
	AuthorizeFailureStore
	AuthorizeFailureResolver
)

// AuthorizeResult is the guard decision for one call.
type AuthorizeResult struct {
	Failure     AuthorizeFailureKind
	Err         error
	Claims      jwt.Claims
	Roles       []string
	MissingRole string
}

// AuthorizeDeps captures guard dependencies. The guard only reads.
type AuthorizeDeps struct {
	VerifyAccess        func(token string) (jwt.Claims, error)
	IsBlacklisted       func(ctx context.Context, jti string) (bool, error)
	ResolvePrincipal    func(ctx context.Context, subject string) (roles []string, enabled bool, err error)
	IsPrincipalNotFound func(error) bool
}

// RunAuthorize checks authentication and then every required role.
//
// Order: access token signature/expiry/kind, blacklist, principal resolution,
// roles. The first failing check decides the result.
func RunAuthorize(ctx context.Context, token string, required []string, deps AuthorizeDeps) AuthorizeResult {
	claims, err := deps.VerifyAccess(token)
	if err != nil {
		return AuthorizeResult{Failure: AuthorizeFailureToken, Err: err}
	}

	blacklisted, err := deps.IsBlacklisted(ctx, claims.JTI)
	if err != nil {
		return AuthorizeResult{Failure: AuthorizeFailureStore, Err: err, Claims: claims}
	}
	if blacklisted {
		return AuthorizeResult{Failure: AuthorizeFailureBlacklisted, Claims: claims}
	}

	roles, enabled, err := deps.ResolvePrincipal(ctx, claims.Subject)
	if err != nil {
		kind := AuthorizeFailureResolver
		if deps.IsPrincipalNotFound(err) {
			kind = AuthorizeFailurePrincipal
		}
		return AuthorizeResult{Failure: kind, Err: err, Claims: claims}
	}
	if !enabled {
		return AuthorizeResult{Failure: AuthorizeFailurePrincipal, Claims: claims}
	}

	if missing, ok := missingRole(roles, required); !ok {
		return AuthorizeResult{Failure: AuthorizeFailureMissingRole, Claims: claims, Roles: roles, MissingRole: missing}
	}
	return AuthorizeResult{Claims: claims, Roles: roles}
}

func missingRole(have, required []string) (string, bool) {
	if len(required) == 0 {
		return "", true
	}
	set := make(map[string]struct{}, len(have))
	for _, r := range have {
		set[r] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return r, false
		}
	}
	return "", true
}
