package goToken

import (
	"io"
	"time"

	internalaudit "github.com/MrEthical07/goToken/internal/audit"
)

// AuditEvent is one entry of the audit trail.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = internalaudit.Sink

// AuditSinkFunc adapts a function to AuditSink.
type AuditSinkFunc = internalaudit.SinkFunc

// NoOpSink drops audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink writes audit events into a buffered channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// MultiSink fans an event out to several sinks.
type MultiSink = internalaudit.MultiSink

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// Audit event types.
const (
	AuditLoginIssued            = "login_issued"
	AuditRefreshRotated         = "refresh_rotated"
	AuditRefreshRejectedInvalid = "refresh_rejected_invalid"
	AuditRefreshRejectedExpired = "refresh_rejected_expired"
	AuditRefreshReuseDetected   = "refresh_reuse_detected"
	AuditFamilyRevoked          = "family_revoked"
	AuditLogout                 = "logout"
	AuditAccessRevoked          = "access_revoked"
	AuditGuardDenied            = "guard_denied"
)

// FamilyRevokedEvent is the intrusion notification published whenever a family is
// revoked.
type FamilyRevokedEvent struct {
	FamilyID  string
	Subject   string
	RevokedAt time.Time
	Cause     string
}

// AsFamilyRevoked extracts a FamilyRevokedEvent from a family_revoked audit event.
func AsFamilyRevoked(e AuditEvent) (FamilyRevokedEvent, bool) {
	if e.EventType != AuditFamilyRevoked {
		return FamilyRevokedEvent{}, false
	}
	return FamilyRevokedEvent{
		FamilyID:  e.FamilyID,
		Subject:   e.Subject,
		RevokedAt: e.Timestamp,
		Cause:     e.Cause,
	}, true
}
