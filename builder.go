package goToken

import (
	"errors"
	"fmt"
	"strings"
	"time"

	internalaudit "github.com/MrEthical07/goToken/internal/audit"
	"github.com/MrEthical07/goToken/internal/rate"
	"github.com/MrEthical07/goToken/jwt"
	"github.com/MrEthical07/goToken/store"
	"github.com/MrEthical07/goToken/store/redisstore"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an Engine. It is single-use: Build may succeed only once.
type Builder struct {
	config Config
	store  store.Store
	redis  redis.UniversalClient

	resolver  IdentityResolver
	auditSink AuditSink
	logger    *zap.Logger
	clock     func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the configuration. The value is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the refresh record and blacklist store.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithRedis enables the Redis throttles. When no store is set, the Redis record
// store is used as well.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithIdentityResolver sets the principal lookup used by Login, Rotate and
// Authorize.
func (b *Builder) WithIdentityResolver(r IdentityResolver) *Builder {
	b.resolver = r
	return b
}

// WithAuditSink sets the audit destination. It only takes effect when
// Config.Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the engine logger. The default discards everything.
func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithClock injects the time source used for token issuance, expiry checks and
// audit timestamps.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready Engine.
//
// Configuration problems, including a signing secret too short for the chosen
// algorithm, return an error wrapping ErrConfiguration. The process must not
// serve traffic in that case.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.resolver == nil {
		return nil, fmt.Errorf("%w: identity resolver required", ErrConfiguration)
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// -------- RECORD STORE --------
	backend := b.store
	if backend == nil && b.redis != nil {
		backend = redisstore.New(b.redis, redisstore.Options{Now: clock})
	}
	if backend == nil {
		return nil, fmt.Errorf("%w: record store required", ErrConfiguration)
	}
	if cfg.Guard.BlacklistCache {
		backend = store.NewCachedStore(backend, cfg.Guard.BlacklistCacheCleanup, clock)
	}

	// -------- JWT --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(strings.ToLower(cfg.JWT.SigningMethod)),
		Secret:        cloneBytes(cfg.JWT.Secret),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
		Now:           clock,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	engine := &Engine{
		config:   cloneConfig(cfg),
		jwt:      jm,
		store:    boundedStore{Store: backend, timeout: cfg.Store.OperationTimeout},
		resolver: b.resolver,
		logger:   logger,
		now:      clock,
		metrics:  NewMetrics(cfg.Metrics),
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
	}
	if b.redis != nil {
		engine.limiter = rate.New(b.redis, rate.Config{
			EnableRotationThrottle: cfg.Limits.EnableRotationThrottle,
			MaxRotations:           cfg.Limits.MaxRotations,
			RotationWindow:         cfg.Limits.RotationWindow,
			EnableIssueThrottle:    cfg.Limits.EnableIssueThrottle,
			MaxIssues:              cfg.Limits.MaxIssues,
			IssueWindow:            cfg.Limits.IssueWindow,
		})
	}
	engine.flows = engine.buildFlows()

	b.built = true

	return engine, nil
}
