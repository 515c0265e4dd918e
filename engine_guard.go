package goToken

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goToken/internal/flows"
	"go.uber.org/zap"
)

// Authorize admits a call carrying accessToken when the token is authentic,
// unexpired, of kind access and not blacklisted, its subject resolves to an
// enabled principal, and that principal holds every role in required.
//
// Authentication failures return ErrUnauthenticated and missing roles return
// ErrForbidden. Authorize never changes token state.
func (e *Engine) Authorize(ctx context.Context, accessToken string, required ...string) (*AuthResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	res := e.flows.Authorize(ctx, accessToken, required)
	if res.Failure == flows.AuthorizeFailureNone {
		e.metricInc(MetricGuardAllowed)
		return &AuthResult{
			Principal: Principal{Subject: res.Claims.Subject, Roles: res.Roles, Enabled: true},
			JTI:       res.Claims.JTI,
			ExpiresAt: res.Claims.ExpiresAt,
		}, nil
	}

	var err error
	switch res.Failure {
	case flows.AuthorizeFailureToken:
		err = fmt.Errorf("%w: %w", ErrUnauthenticated, res.Err)
	case flows.AuthorizeFailureBlacklisted:
		e.metricInc(MetricBlacklistHit)
		err = fmt.Errorf("%w: access token revoked", ErrUnauthenticated)
	case flows.AuthorizeFailurePrincipal:
		if res.Err == nil {
			res.Err = ErrPrincipalDisabled
		}
		err = fmt.Errorf("%w: %w", ErrUnauthenticated, res.Err)
	case flows.AuthorizeFailureMissingRole:
		err = fmt.Errorf("%w: role %q required", ErrForbidden, res.MissingRole)
	case flows.AuthorizeFailureStore:
		return nil, e.storeUnavailable("blacklist lookup", res.Err)
	case flows.AuthorizeFailureResolver:
		e.logger.Error("identity resolver failed during authorization", zap.Error(res.Err))
		return nil, fmt.Errorf("%w: %w", ErrResolverUnavailable, res.Err)
	}

	e.metricInc(MetricGuardDenied)
	e.emitAudit(ctx, auditRecord{
		eventType: AuditGuardDenied,
		subject:   res.Claims.Subject,
		jti:       res.Claims.JTI,
		err:       err,
	})
	return nil, err
}

// Operation is a protected unit of work run on behalf of an authorized principal.
type Operation func(ctx context.Context, p Principal) error

// Protect wraps fn so that it only runs after Authorize admits the access token
// for roles. The principal is also stored in the context passed to fn.
func Protect(e *Engine, roles []string, fn Operation) func(ctx context.Context, accessToken string) error {
	required := append([]string(nil), roles...)
	return func(ctx context.Context, accessToken string) error {
		res, err := e.Authorize(ctx, accessToken, required...)
		if err != nil {
			return err
		}
		return fn(WithPrincipal(ctx, res.Principal), res.Principal)
	}
}

// resolve looks a subject up through the identity resolver, coalescing concurrent
// lookups of the same subject when configured.
func (e *Engine) resolve(ctx context.Context, subject string) (Principal, error) {
	if !e.config.Guard.CoalescePrincipalLookups {
		return e.resolver.ResolvePrincipal(ctx, subject)
	}

	// The shared lookup outlives any single caller; each caller waits on its own ctx.
	ch := e.lookups.DoChan(subject, func() (interface{}, error) {
		lookupCtx := context.WithoutCancel(ctx)
		if timeout := e.config.Store.OperationTimeout; timeout > 0 {
			var cancel context.CancelFunc
			lookupCtx, cancel = context.WithTimeout(lookupCtx, timeout)
			defer cancel()
		}
		return e.resolver.ResolvePrincipal(lookupCtx, subject)
	})

	select {
	case <-ctx.Done():
		return Principal{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return Principal{}, r.Err
		}
		p := r.Val.(Principal)
		p.Roles = append([]string(nil), p.Roles...)
		return p, nil
	}
}

// checkPrincipal returns the roles of an enabled principal. Unknown and disabled
// principals are rejections; anything else is a resolver outage.
func (e *Engine) checkPrincipal(ctx context.Context, subject string) ([]string, error) {
	p, err := e.resolve(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrResolverUnavailable, err)
	}
	if !p.Enabled {
		return nil, ErrPrincipalDisabled
	}
	return p.Roles, nil
}

func isPrincipalRejected(err error) bool {
	return errors.Is(err, ErrPrincipalNotFound) || errors.Is(err, ErrPrincipalDisabled)
}
