// Package config loads the gotoken CLI configuration from .env, the environment
// (prefix GOTOKEN_) and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	goToken "github.com/MrEthical07/goToken"
)

const envPrefix = "GOTOKEN"

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	HTTPAddr string `validate:"required"`

	Log    LogConfig
	JWT    JWTConfig
	Store  StoreConfig
	Audit  AuditConfig
	Limits LimitsConfig
}

type LogConfig struct {
	Level  string `validate:"omitempty,oneof=debug info warn error"`
	Format string `validate:"oneof=json console"`
}

type JWTConfig struct {
	Secret        string        `validate:"required,min=32"`
	SigningMethod string        `validate:"oneof=hs256 hs384 hs512"`
	AccessTTL     time.Duration `validate:"gt=0"`
	RefreshTTL    time.Duration `validate:"gtefield=AccessTTL"`
	Issuer        string
	Audience      string
}

type StoreConfig struct {
	Backend          string `validate:"oneof=memory redis postgres"`
	RedisAddr        string `validate:"required_if=Backend redis"`
	RedisPassword    string
	RedisDB          int           `validate:"gte=0"`
	PostgresDSN      string        `validate:"required_if=Backend postgres"`
	OperationTimeout time.Duration `validate:"gte=0"`
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int `validate:"gte=0"`
}

// LimitsConfig only applies when a Redis address is configured.
type LimitsConfig struct {
	MaxRotations   int           `validate:"gte=0"`
	RotationWindow time.Duration `validate:"gte=0"`
	MaxIssues      int           `validate:"gte=0"`
	IssueWindow    time.Duration `validate:"gte=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.signing_method", "hs256")
	v.SetDefault("jwt.access_ttl", "15m")
	v.SetDefault("jwt.refresh_ttl", "168h")
	v.SetDefault("jwt.issuer", "")
	v.SetDefault("jwt.audience", "")
	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.redis_addr", "")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("store.operation_timeout", "2s")
	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.buffer_size", 1024)
	v.SetDefault("limits.max_rotations", 30)
	v.SetDefault("limits.rotation_window", "1m")
	v.SetDefault("limits.max_issues", 20)
	v.SetDefault("limits.issue_window", "1m")
}

// Load reads .env when present, then the optional YAML file at path, then the
// environment. Environment values win.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{
		HTTPAddr: v.GetString("http.addr"),
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log.level")),
			Format: strings.ToLower(v.GetString("log.format")),
		},
		JWT: JWTConfig{
			Secret:        v.GetString("jwt.secret"),
			SigningMethod: strings.ToLower(v.GetString("jwt.signing_method")),
			AccessTTL:     v.GetDuration("jwt.access_ttl"),
			RefreshTTL:    v.GetDuration("jwt.refresh_ttl"),
			Issuer:        v.GetString("jwt.issuer"),
			Audience:      v.GetString("jwt.audience"),
		},
		Store: StoreConfig{
			Backend:          strings.ToLower(v.GetString("store.backend")),
			RedisAddr:        v.GetString("store.redis_addr"),
			RedisPassword:    v.GetString("store.redis_password"),
			RedisDB:          v.GetInt("store.redis_db"),
			PostgresDSN:      v.GetString("store.postgres_dsn"),
			OperationTimeout: v.GetDuration("store.operation_timeout"),
		},
		Audit: AuditConfig{
			Enabled:    v.GetBool("audit.enabled"),
			BufferSize: v.GetInt("audit.buffer_size"),
		},
		Limits: LimitsConfig{
			MaxRotations:   v.GetInt("limits.max_rotations"),
			RotationWindow: v.GetDuration("limits.rotation_window"),
			MaxIssues:      v.GetInt("limits.max_issues"),
			IssueWindow:    v.GetDuration("limits.issue_window"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate runs the struct tag rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// EngineConfig maps the CLI settings onto an engine configuration.
func (c *Config) EngineConfig() goToken.Config {
	cfg := goToken.DefaultConfig()
	cfg.JWT.Secret = []byte(c.JWT.Secret)
	cfg.JWT.SigningMethod = c.JWT.SigningMethod
	cfg.JWT.AccessTTL = c.JWT.AccessTTL
	cfg.JWT.RefreshTTL = c.JWT.RefreshTTL
	cfg.JWT.Issuer = c.JWT.Issuer
	cfg.JWT.Audience = c.JWT.Audience
	cfg.Store.OperationTimeout = c.Store.OperationTimeout
	cfg.Audit.Enabled = c.Audit.Enabled
	if c.Audit.BufferSize > 0 {
		cfg.Audit.BufferSize = c.Audit.BufferSize
	}

	cfg.Limits.EnableRotationThrottle = c.Limits.MaxRotations > 0 && c.Limits.RotationWindow > 0
	cfg.Limits.MaxRotations = c.Limits.MaxRotations
	cfg.Limits.RotationWindow = c.Limits.RotationWindow
	cfg.Limits.EnableIssueThrottle = c.Limits.MaxIssues > 0 && c.Limits.IssueWindow > 0
	cfg.Limits.MaxIssues = c.Limits.MaxIssues
	cfg.Limits.IssueWindow = c.Limits.IssueWindow
	return cfg
}
