package goToken

import (
	"context"
	"time"

	"github.com/MrEthical07/goToken/jwt"
	"github.com/MrEthical07/goToken/store"
)

// Principal is the identity a subject resolves to.
type Principal struct {
	Subject string
	Roles   []string
	Enabled bool
}

// HasRole reports whether role is in the principal's role set.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IdentityResolver resolves a token subject to a principal. Implementations return
// an error wrapping ErrPrincipalNotFound for unknown subjects; any other error is
// treated as the resolver being unavailable.
type IdentityResolver interface {
	ResolvePrincipal(ctx context.Context, subject string) (Principal, error)
}

// IdentityResolverFunc adapts a function to IdentityResolver.
type IdentityResolverFunc func(ctx context.Context, subject string) (Principal, error)

func (f IdentityResolverFunc) ResolvePrincipal(ctx context.Context, subject string) (Principal, error) {
	return f(ctx, subject)
}

// StaticResolver is an in-memory IdentityResolver keyed by subject.
type StaticResolver map[string]Principal

// ResolvePrincipal implements IdentityResolver.
func (s StaticResolver) ResolvePrincipal(_ context.Context, subject string) (Principal, error) {
	p, ok := s[subject]
	if !ok {
		return Principal{}, ErrPrincipalNotFound
	}
	p.Subject = subject
	return p, nil
}

// TokenPair is the result of Login and Rotate.
type TokenPair struct {
	AccessToken      string
	AccessJTI        string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	FamilyID         string
	Subject          string
}

func newTokenPair(subject, familyID string, access, refresh jwt.Issued) *TokenPair {
	return &TokenPair{
		AccessToken:      access.Token,
		AccessJTI:        access.JTI,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     refresh.Token,
		RefreshExpiresAt: refresh.ExpiresAt,
		FamilyID:         familyID,
		Subject:          subject,
	}
}

// AuthResult is returned by Authorize for an admitted call.
type AuthResult struct {
	Principal Principal
	JTI       string
	ExpiresAt time.Time
}

// ClientContext is re-exported so callers do not import the store package.
type ClientContext = store.ClientContext

// Reason records why an access token was blacklisted or a family revoked.
type Reason = store.Reason

const (
	ReasonLogout             = store.ReasonLogout
	ReasonSecurityRevocation = store.ReasonSecurityRevocation
	ReasonAdminAction        = store.ReasonAdminAction
)
