package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	EnableRotationThrottle bool
	MaxRotations           int
	RotationWindow         time.Duration
	EnableIssueThrottle    bool
	MaxIssues              int
	IssueWindow            time.Duration
}

// Limiter enforces per-family rotation limits and per-subject issuance limits
// using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckRotate counts a rotation attempt for the family and returns ErrRateLimited
// once the window budget is exceeded. A legitimate client rotates at most once per
// access token lifetime, so a burst signals automation against a single family.
func (l *Limiter) CheckRotate(ctx context.Context, familyID string) error {
	if l == nil || !l.config.EnableRotationThrottle {
		return nil
	}
	return l.check(ctx, rotateKey(familyID), l.config.MaxRotations, l.config.RotationWindow)
}

// CheckIssue counts a login issuance for the subject.
func (l *Limiter) CheckIssue(ctx context.Context, subject string) error {
	if l == nil || !l.config.EnableIssueThrottle {
		return nil
	}
	return l.check(ctx, issueKey(subject), l.config.MaxIssues, l.config.IssueWindow)
}

// Attempts returns the current rotation counter for a family.
func (l *Limiter) Attempts(ctx context.Context, familyID string) (int, error) {
	count, err := l.redis.Get(ctx, rotateKey(familyID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return count, nil
}

func (l *Limiter) check(ctx context.Context, key string, max int, window time.Duration) error {
	count, err := l.incrementWithTTL(ctx, key, window)
	if err != nil {
		return err
	}
	if count > int64(max) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

func rotateKey(familyID string) string { return "gtr:" + familyID }

func issueKey(subject string) string { return "gti:" + subject }
