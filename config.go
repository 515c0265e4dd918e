package goToken

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the process-wide engine configuration. It is cloned at Build and never
// mutated afterwards.
type Config struct {
	JWT     JWTConfig
	Store   StoreConfig
	Guard   GuardConfig
	Audit   AuditConfig
	Metrics MetricsConfig
	Limits  LimitsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls token signing and verification.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "hs256" (default), "hs384", "hs512"
	Secret        []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	// VerifyKeys are previous secrets still accepted during a rollover, keyed by kid.
	VerifyKeys map[string][]byte
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig bounds record store calls.
type StoreConfig struct {
	// OperationTimeout is applied to each store call when the caller's context has
	// no earlier deadline. Zero disables it.
	OperationTimeout time.Duration
}

/*
====================================
GUARD CONFIG
====================================
*/

// GuardConfig tunes the authorization guard.
type GuardConfig struct {
	BlacklistCache           bool
	BlacklistCacheCleanup    time.Duration
	CoalescePrincipalLookups bool
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
LIMITS CONFIG
====================================
*/

// LimitsConfig configures the Redis throttles. They only apply when the builder
// is given a Redis client.
type LimitsConfig struct {
	EnableRotationThrottle bool
	MaxRotations           int
	RotationWindow         time.Duration
	EnableIssueThrottle    bool
	MaxIssues              int
	IssueWindow            time.Duration
}

// DefaultConfig returns production defaults. The signing secret is left empty and
// must be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "hs256",
		},
		Store: StoreConfig{
			OperationTimeout: 2 * time.Second,
		},
		Guard: GuardConfig{
			BlacklistCache:           true,
			BlacklistCacheCleanup:    time.Minute,
			CoalescePrincipalLookups: true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Limits: LimitsConfig{
			EnableRotationThrottle: true,
			MaxRotations:           30,
			RotationWindow:         time.Minute,
			EnableIssueThrottle:    true,
			MaxIssues:              20,
			IssueWindow:            time.Minute,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.Secret = cloneBytes(cfg.JWT.Secret)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks the configuration. Every returned error wraps ErrConfiguration.
// Key length checks happen when the JWT manager is built.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return nil
}

func (c *Config) validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	switch strings.ToLower(c.JWT.SigningMethod) {
	case "hs256", "hs384", "hs512":
	default:
		return fmt.Errorf("unsupported JWT signing method %q", c.JWT.SigningMethod)
	}
	if len(c.JWT.Secret) == 0 {
		return errors.New("JWT Secret is required")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be within [0, 2m]")
	}

	// Store
	if c.Store.OperationTimeout < 0 {
		return errors.New("Store OperationTimeout must be >= 0")
	}

	// Guard
	if c.Guard.BlacklistCache && c.Guard.BlacklistCacheCleanup <= 0 {
		return errors.New("Guard BlacklistCacheCleanup must be > 0 when BlacklistCache is enabled")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Limits
	if c.Limits.EnableRotationThrottle && (c.Limits.MaxRotations <= 0 || c.Limits.RotationWindow <= 0) {
		return errors.New("rotation throttle requires MaxRotations > 0 and RotationWindow > 0")
	}
	if c.Limits.EnableIssueThrottle && (c.Limits.MaxIssues <= 0 || c.Limits.IssueWindow <= 0) {
		return errors.New("issue throttle requires MaxIssues > 0 and IssueWindow > 0")
	}

	return nil
}
