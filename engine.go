package goToken

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goToken/internal"
	internalaudit "github.com/MrEthical07/goToken/internal/audit"
	"github.com/MrEthical07/goToken/internal/flows"
	"github.com/MrEthical07/goToken/internal/rate"
	"github.com/MrEthical07/goToken/jwt"
	"github.com/MrEthical07/goToken/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Engine issues, rotates, revokes and authorizes tokens.
//
// Engine instances are built once by Builder and are safe for concurrent use.
type Engine struct {
	config   Config
	jwt      *jwt.Manager
	store    store.Store
	resolver IdentityResolver
	limiter  *rate.Limiter
	audit    *internalaudit.Dispatcher
	metrics  *Metrics
	logger   *zap.Logger
	now      func() time.Time
	lookups  singleflight.Group
	flows    flows.Service
}

func (e *Engine) buildFlows() flows.Service {
	var throttle flows.Throttle
	if e.limiter != nil {
		throttle = e.limiter
	}
	return flows.New(flows.Deps{
		Issue: flows.IssueDeps{
			NewFamilyID:         internal.NewFamilyID,
			HashToken:           internal.HashRefreshToken,
			IssueAccess:         e.jwt.IssueAccess,
			IssueRefresh:        e.jwt.IssueRefresh,
			CheckPrincipal:      e.checkPrincipal,
			IsPrincipalRejected: isPrincipalRejected,
			Throttle:            throttle,
			Store:               e.store,
		},
		Rotate: flows.RotateDeps{
			Now:                 e.now,
			VerifyRefresh:       e.jwt.VerifyAllowExpired,
			HashToken:           internal.HashRefreshToken,
			IssueAccess:         e.jwt.IssueAccess,
			IssueRefresh:        e.jwt.IssueRefresh,
			CheckPrincipal:      e.checkPrincipal,
			IsPrincipalRejected: isPrincipalRejected,
			Throttle:            throttle,
			Store:               e.store,
		},
		Logout: flows.LogoutDeps{
			Now:           e.now,
			VerifyRefresh: e.jwt.VerifyAllowExpired,
			HashToken:     internal.HashRefreshToken,
			Store:         e.store,
		},
		Authorize: flows.AuthorizeDeps{
			VerifyAccess: func(token string) (jwt.Claims, error) {
				return e.jwt.VerifyKind(token, jwt.KindAccess)
			},
			IsBlacklisted: e.store.IsBlacklisted,
			ResolvePrincipal: func(ctx context.Context, subject string) ([]string, bool, error) {
				p, err := e.resolve(ctx, subject)
				return p.Roles, p.Enabled, err
			},
			IsPrincipalNotFound: func(err error) bool { return errors.Is(err, ErrPrincipalNotFound) },
		},
	})
}

func (e *Engine) ready() bool {
	return e != nil && e.flows.Initialized()
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	_ = e.logger.Sync()
}

// AuditDropped returns the number of audit events dropped because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Login opens a new token family for subject and returns its first pair.
//
// Credentials are checked by the caller before Login is invoked. Unknown or
// disabled principals fail with ErrUnauthenticated.
func (e *Engine) Login(ctx context.Context, subject string) (*TokenPair, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	res := e.flows.Issue(ctx, flows.IssueRequest{Subject: subject, Client: clientFromContext(ctx)})
	if res.Failure != flows.IssueFailureNone {
		err := e.mapIssueFailure(res)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditRecord{eventType: AuditLoginIssued, subject: subject, err: err})
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditRecord{
		eventType: AuditLoginIssued,
		success:   true,
		subject:   subject,
		familyID:  res.Record.FamilyID,
		jti:       res.Access.JTI,
	})
	e.logger.Debug("token family opened", zap.String("subject", subject), zap.String("family_id", res.Record.FamilyID))

	return newTokenPair(subject, res.Record.FamilyID, res.Access, res.Refresh), nil
}

func (e *Engine) mapIssueFailure(res flows.IssueResult) error {
	switch res.Failure {
	case flows.IssueFailurePrincipal:
		return fmt.Errorf("%w: %w", ErrUnauthenticated, res.Err)
	case flows.IssueFailureResolver:
		return res.Err
	case flows.IssueFailureRateLimited:
		return e.mapThrottleError(res.Err)
	case flows.IssueFailureStore:
		return e.storeUnavailable("insert refresh record", res.Err)
	default:
		return fmt.Errorf("goToken: issue tokens: %w", res.Err)
	}
}

// Rotate exchanges a refresh token for a new access and refresh pair.
//
// It fails with ErrInvalidToken, ErrTokenReuseDetected (the family has been
// revoked), ErrRefreshTokenExpired, ErrUnauthenticated (principal gone, family
// revoked), ErrRateLimited or ErrStoreUnavailable.
func (e *Engine) Rotate(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricRotateLatency, time.Since(start)) }()
	}

	res := e.flows.Rotate(ctx, flows.RotateRequest{RefreshToken: refreshToken, Client: clientFromContext(ctx)})
	rec := auditRecord{subject: res.Subject, familyID: res.FamilyID}

	switch res.Outcome {
	case flows.RotateRotated:
		e.metricInc(MetricRotateSuccess)
		rec.eventType, rec.success, rec.jti = AuditRefreshRotated, true, res.Access.JTI
		e.emitAudit(ctx, rec)
		e.logger.Debug("refresh token rotated", zap.String("family_id", res.FamilyID))
		return newTokenPair(res.Subject, res.FamilyID, res.Access, res.Refresh), nil

	case flows.RotateRejectedTheft:
		e.metricInc(MetricReuseDetected)
		e.logger.Warn("refresh token reuse detected, family revoked",
			zap.String("family_id", res.FamilyID),
			zap.String("subject", res.Subject),
			zap.Int("revoked", res.Revoked))
		rec.eventType, rec.cause, rec.err = AuditRefreshReuseDetected, res.Cause, ErrTokenReuseDetected
		e.emitAudit(ctx, rec)
		e.emitFamilyRevoked(ctx, res.FamilyID, res.Subject, res.Cause, res.Revoked)
		return nil, ErrTokenReuseDetected

	case flows.RotateRejectedExpired:
		e.metricInc(MetricRotateExpired)
		rec.eventType, rec.err = AuditRefreshRejectedExpired, ErrRefreshTokenExpired
		e.emitAudit(ctx, rec)
		return nil, ErrRefreshTokenExpired

	case flows.RotateRejectedInvalid:
		e.metricInc(MetricRotateInvalid)
		err := fmt.Errorf("%w: %w", ErrInvalidToken, res.Err)
		rec.eventType, rec.err = AuditRefreshRejectedInvalid, err
		e.emitAudit(ctx, rec)
		return nil, err

	case flows.RotateRejectedPrincipal:
		e.metricInc(MetricRotateFailure)
		err := fmt.Errorf("%w: %w", ErrUnauthenticated, res.Err)
		rec.eventType, rec.cause, rec.err = AuditRefreshRejectedInvalid, res.Cause, err
		e.emitAudit(ctx, rec)
		e.emitFamilyRevoked(ctx, res.FamilyID, res.Subject, res.Cause, res.Revoked)
		return nil, err

	case flows.RotateRateLimited:
		err := e.mapThrottleError(res.Err)
		rec.eventType, rec.err = AuditRefreshRejectedInvalid, err
		e.emitAudit(ctx, rec)
		return nil, err

	case flows.RotateStoreUnavailable:
		e.metricInc(MetricRotateFailure)
		return nil, e.storeUnavailable("rotate refresh record", res.Err)

	case flows.RotateResolverUnavailable:
		e.metricInc(MetricRotateFailure)
		e.logger.Error("identity resolver failed during rotation", zap.Error(res.Err))
		return nil, res.Err

	default:
		e.metricInc(MetricRotateFailure)
		return nil, fmt.Errorf("goToken: rotate: %w", res.Err)
	}
}

// Logout revokes the refresh token's family and blacklists accessToken for the
// rest of its lifetime. Either token may be empty.
func (e *Engine) Logout(ctx context.Context, refreshToken, accessToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	req := flows.LogoutRequest{RefreshToken: refreshToken}
	if accessToken != "" {
		claims, err := e.jwt.VerifyAllowExpired(accessToken)
		if err != nil && (!errors.Is(err, jwt.ErrExpired) || claims.JTI == "") {
			return fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
		if claims.Kind != jwt.KindAccess {
			return fmt.Errorf("%w: %w", ErrInvalidToken, jwt.ErrWrongKind)
		}
		req.AccessJTI, req.AccessExpiresAt = claims.JTI, claims.ExpiresAt
	}
	return e.logout(ctx, req)
}

// LogoutJTI is Logout for callers that only hold the access token's jti. The
// blacklist entry lasts one full access TTL, which covers the token's remaining
// lifetime.
func (e *Engine) LogoutJTI(ctx context.Context, refreshToken, accessJTI string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	req := flows.LogoutRequest{RefreshToken: refreshToken}
	if accessJTI != "" {
		req.AccessJTI, req.AccessExpiresAt = accessJTI, e.now().Add(e.jwt.AccessTTL())
	}
	return e.logout(ctx, req)
}

func (e *Engine) logout(ctx context.Context, req flows.LogoutRequest) error {
	res := e.flows.Logout(ctx, req)
	rec := auditRecord{eventType: AuditLogout, subject: res.Subject, familyID: res.FamilyID, jti: req.AccessJTI, cause: res.Cause}

	switch res.Failure {
	case flows.LogoutFailureInvalid:
		err := fmt.Errorf("%w: %w", ErrInvalidToken, res.Err)
		rec.err = err
		e.emitAudit(ctx, rec)
		return err
	case flows.LogoutFailureStore:
		return e.storeUnavailable("logout", res.Err)
	}

	e.metricInc(MetricLogout)
	rec.success = true
	e.emitAudit(ctx, rec)

	if res.FamilyID != "" && (res.Revoked > 0 || res.Cause == flows.CauseReuseDetected) {
		if res.Cause == flows.CauseReuseDetected {
			e.metricInc(MetricReuseDetected)
			e.logger.Warn("consumed refresh token presented at logout, family revoked",
				zap.String("family_id", res.FamilyID),
				zap.String("subject", res.Subject))
		}
		e.emitFamilyRevoked(ctx, res.FamilyID, res.Subject, res.Cause, res.Revoked)
	}
	return nil
}

// RevokeFamily revokes every record of a family. reason must be
// ReasonSecurityRevocation or ReasonAdminAction.
func (e *Engine) RevokeFamily(ctx context.Context, familyID string, reason Reason) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	cause, err := revocationCause(reason)
	if err != nil {
		return 0, err
	}
	if familyID == "" {
		return 0, fmt.Errorf("%w: empty family id", ErrInvalidToken)
	}

	n, err := e.store.RevokeFamily(ctx, familyID)
	if err != nil {
		return 0, e.storeUnavailable("revoke family", err)
	}
	e.emitFamilyRevoked(ctx, familyID, "", cause, n)
	return n, nil
}

// RevokeAccessToken blacklists an access token before its natural expiry.
// Expired tokens need no entry and return nil.
func (e *Engine) RevokeAccessToken(ctx context.Context, accessToken string, reason Reason) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	cause, err := revocationCause(reason)
	if err != nil {
		return err
	}

	claims, err := e.jwt.VerifyKind(accessToken, jwt.KindAccess)
	if errors.Is(err, jwt.ErrExpired) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	err = e.store.InsertBlacklistEntry(ctx, store.BlacklistEntry{
		JTI:           claims.JTI,
		ExpiresAt:     claims.ExpiresAt,
		BlacklistedAt: e.now(),
		Reason:        reason,
	})
	if err != nil {
		return e.storeUnavailable("blacklist access token", err)
	}

	e.metricInc(MetricAccessRevoked)
	e.emitAudit(ctx, auditRecord{eventType: AuditAccessRevoked, success: true, subject: claims.Subject, jti: claims.JTI, cause: cause})
	return nil
}

func revocationCause(reason Reason) (string, error) {
	switch reason {
	case ReasonSecurityRevocation:
		return flows.CauseSecurityRevocation, nil
	case ReasonAdminAction:
		return flows.CauseAdminAction, nil
	default:
		return "", fmt.Errorf("%w: unsupported revocation reason %q", ErrConfiguration, reason)
	}
}

// Verify checks a token's signature and expiry. Errors wrap ErrInvalidToken and
// the codec error (jwt.ErrExpired, jwt.ErrInvalidSignature, jwt.ErrMalformed or
// jwt.ErrUnsupportedFormat), so callers can tell expiry from tampering.
func (e *Engine) Verify(token string) (jwt.Claims, error) {
	if !e.ready() {
		return jwt.Claims{}, ErrEngineNotReady
	}
	claims, err := e.jwt.Verify(token)
	if err != nil {
		return jwt.Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

func (e *Engine) mapThrottleError(err error) error {
	if errors.Is(err, rate.ErrRateLimited) {
		e.metricInc(MetricRateLimitHit)
		return ErrRateLimited
	}
	return e.storeUnavailable("rate limiter", err)
}

func (e *Engine) storeUnavailable(op string, err error) error {
	e.metricInc(MetricStoreUnavailable)
	e.logger.Error("token store unavailable", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
