package goToken

import (
	"bytes"
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func auditConfig(mutate func(*Config)) func(*Config) {
	return func(cfg *Config) {
		cfg.Audit.Enabled = true
		cfg.Audit.BufferSize = 64
		cfg.Audit.DropIfFull = false
		if mutate != nil {
			mutate(cfg)
		}
	}
}

func withSink(sink AuditSink) func(*Builder) {
	return func(b *Builder) { b.WithAuditSink(sink) }
}

func nextEvent(t *testing.T, sink *ChannelSink, eventType string) AuditEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sink.Events():
			if ev.EventType == eventType {
				return ev
			}
		case <-timeout:
			t.Fatalf("expected %s audit event", eventType)
		}
	}
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	sink := &countingSink{}
	env := newTestEnv(t, nil, withSink(sink))

	_, _ = env.engine.Login(context.Background(), "alice")
	env.engine.Close()

	if sink.count.Load() != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", sink.count.Load())
	}
}

func TestAuditReuseEmitsFamilyRevoked(t *testing.T) {
	sink := NewChannelSink(64)
	env := newTestEnv(t, auditConfig(nil), withSink(sink))
	r0 := env.login(t, "alice")

	ctx := WithClientIP(context.Background(), "198.51.100.7")
	if _, err := env.engine.Rotate(ctx, r0.RefreshToken); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	_, _ = env.engine.Rotate(ctx, r0.RefreshToken)

	reuse := nextEvent(t, sink, AuditRefreshReuseDetected)
	if reuse.Success || reuse.Error != string(auditErrReuseDetected) || reuse.IP != "198.51.100.7" {
		t.Fatalf("unexpected reuse event %+v", reuse)
	}

	ev := nextEvent(t, sink, AuditFamilyRevoked)
	revoked, ok := AsFamilyRevoked(ev)
	if !ok {
		t.Fatal("expected family_revoked to convert")
	}
	if revoked.FamilyID != r0.FamilyID || revoked.Subject != "alice" || revoked.Cause != "reuse_detected" {
		t.Fatalf("unexpected family revoked event %+v", revoked)
	}
	if !revoked.RevokedAt.Equal(env.clock.Now()) {
		t.Fatalf("expected revokedAt from engine clock, got %v", revoked.RevokedAt)
	}
}

func TestAuditLogoutCause(t *testing.T) {
	sink := NewChannelSink(64)
	env := newTestEnv(t, auditConfig(nil), withSink(sink))
	pair := env.login(t, "alice")

	if err := env.engine.Logout(context.Background(), pair.RefreshToken, pair.AccessToken); err != nil {
		t.Fatalf("logout: %v", err)
	}

	ev := nextEvent(t, sink, AuditLogout)
	if !ev.Success || ev.Cause != "logout" || ev.JTI != pair.AccessJTI {
		t.Fatalf("unexpected logout event %+v", ev)
	}
	revoked, _ := AsFamilyRevoked(nextEvent(t, sink, AuditFamilyRevoked))
	if revoked.Cause != "logout" {
		t.Fatalf("expected logout cause, got %q", revoked.Cause)
	}
}

func TestAuditNeverContainsTokens(t *testing.T) {
	var buf bytes.Buffer
	env := newTestEnv(t, auditConfig(nil), withSink(NewJSONWriterSink(&buf)))
	pair := env.login(t, "alice")

	next, err := env.engine.Rotate(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	_, _ = env.engine.Rotate(context.Background(), pair.RefreshToken)
	_, _ = env.engine.Authorize(context.Background(), next.AccessToken, "missing-role")
	env.engine.Close()

	out := buf.String()
	if out == "" {
		t.Fatal("expected audit output")
	}
	for _, secret := range []string{pair.RefreshToken, pair.AccessToken, next.RefreshToken, next.AccessToken, string(testSecret)} {
		if strings.Contains(out, secret) {
			t.Fatal("audit output leaked a token or the signing secret")
		}
	}
	if !strings.Contains(out, `"event_type":"guard_denied"`) {
		t.Fatalf("expected guard_denied in output: %s", out)
	}
}

func TestAuditDroppedCounter(t *testing.T) {
	gate := make(chan struct{})
	sink := AuditSinkFunc(func(context.Context, AuditEvent) { <-gate })
	env := newTestEnv(t, auditConfig(func(cfg *Config) {
		cfg.Audit.BufferSize = 1
		cfg.Audit.DropIfFull = true
	}), withSink(sink))

	for i := 0; i < 5; i++ {
		_, _ = env.engine.Login(context.Background(), "alice")
	}
	if env.engine.AuditDropped() == 0 {
		t.Fatal("expected dropped events with a blocked sink and DropIfFull")
	}
	close(gate)
}
