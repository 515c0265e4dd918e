package goToken

import (
	"context"
	"errors"
	"strconv"
)

// AuditErrorCode is the stable error label written to AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrInvalidToken        AuditErrorCode = "invalid_token"
	auditErrReuseDetected       AuditErrorCode = "reuse_detected"
	auditErrRefreshExpired      AuditErrorCode = "refresh_expired"
	auditErrUnauthenticated     AuditErrorCode = "unauthenticated"
	auditErrForbidden           AuditErrorCode = "forbidden"
	auditErrRateLimited         AuditErrorCode = "rate_limited"
	auditErrPrincipalNotFound   AuditErrorCode = "principal_not_found"
	auditErrPrincipalDisabled   AuditErrorCode = "principal_disabled"
	auditErrStoreUnavailable    AuditErrorCode = "store_unavailable"
	auditErrResolverUnavailable AuditErrorCode = "resolver_unavailable"
	auditErrInternal            AuditErrorCode = "internal_error"
)

// auditRecord is what the engine knows about an event at the emit site.
type auditRecord struct {
	eventType string
	success   bool
	subject   string
	familyID  string
	jti       string
	cause     string
	err       error
	metadata  func() map[string]string
}

func (e *Engine) emitAudit(ctx context.Context, r auditRecord) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if r.metadata != nil {
		metadata = r.metadata()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: r.eventType,
		Subject:   r.subject,
		FamilyID:  r.familyID,
		JTI:       r.jti,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   r.success,
		Cause:     r.cause,
		Metadata:  metadata,
	}
	if code := auditErrorCode(r.err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

// emitFamilyRevoked publishes the family revocation notification.
func (e *Engine) emitFamilyRevoked(ctx context.Context, familyID, subject, cause string, revoked int) {
	e.metricInc(MetricFamilyRevoked)
	e.emitAudit(ctx, auditRecord{
		eventType: AuditFamilyRevoked,
		success:   true,
		subject:   subject,
		familyID:  familyID,
		cause:     cause,
		metadata: func() map[string]string {
			return map[string]string{"records": strconv.Itoa(revoked)}
		},
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrTokenReuseDetected):
		return auditErrReuseDetected
	case errors.Is(err, ErrRefreshTokenExpired):
		return auditErrRefreshExpired
	case errors.Is(err, ErrInvalidToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrForbidden):
		return auditErrForbidden
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrPrincipalNotFound):
		return auditErrPrincipalNotFound
	case errors.Is(err, ErrPrincipalDisabled):
		return auditErrPrincipalDisabled
	case errors.Is(err, ErrUnauthenticated):
		return auditErrUnauthenticated
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrStoreUnavailable
	case errors.Is(err, ErrResolverUnavailable):
		return auditErrResolverUnavailable
	default:
		return auditErrInternal
	}
}
