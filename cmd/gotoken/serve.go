package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	goToken "github.com/MrEthical07/goToken"
	"github.com/MrEthical07/goToken/internal/config"
	"github.com/MrEthical07/goToken/internal/logging"
	"github.com/MrEthical07/goToken/store"
	"github.com/MrEthical07/goToken/store/sqlstore"
)

func newServeCmd(configPath *string) *cobra.Command {
	var demoLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo token API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger, demoLogin)
		},
	}
	cmd.Flags().BoolVar(&demoLogin, "insecure-demo-login", false,
		"expose POST /login, which issues tokens for any known subject without checking credentials")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger, demoLogin bool) error {
	engine, closeBackend, err := buildEngine(ctx, cfg, logger, demoPrincipals())
	if err != nil {
		return err
	}
	defer closeBackend()
	defer engine.Close()

	if demoLogin {
		logger.Warn("POST /login issues tokens without a credential check; never expose this server")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newRouter(engine, logger, demoLogin),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.Store.Backend))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

// buildEngine wires the configured record store into an engine. The returned
// func releases backend connections.
func buildEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger, resolver goToken.IdentityResolver) (*goToken.Engine, func(), error) {
	b := goToken.New().
		WithConfig(cfg.EngineConfig()).
		WithIdentityResolver(resolver).
		WithLogger(logger).
		WithAuditSink(goToken.AuditSinkFunc(func(_ context.Context, e goToken.AuditEvent) {
			logger.Info("audit",
				zap.String("event", e.EventType),
				zap.String("subject", e.Subject),
				zap.String("family_id", e.FamilyID),
				zap.Bool("success", e.Success),
				zap.String("cause", e.Cause),
			)
		}))

	closeBackend := func() {}
	switch cfg.Store.Backend {
	case config.BackendRedis:
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Store.RedisAddr},
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		b = b.WithRedis(client)
		closeBackend = func() { _ = client.Close() }
	case config.BackendPostgres:
		s, err := sqlstore.Open(ctx, cfg.Store.PostgresDSN, nil)
		if err != nil {
			return nil, nil, err
		}
		b = b.WithStore(s)
		closeBackend = func() { _ = s.DB().Close() }
	default:
		b = b.WithStore(store.NewMemoryStore(nil))
	}

	engine, err := b.Build()
	if err != nil {
		closeBackend()
		return nil, nil, err
	}
	return engine, closeBackend, nil
}

// demoPrincipals is the fixed user table of the demo API.
func demoPrincipals() goToken.StaticResolver {
	return goToken.StaticResolver{
		"alice":   {Roles: []string{"user", "admin"}, Enabled: true},
		"bob":     {Roles: []string{"user"}, Enabled: true},
		"mallory": {Roles: []string{"user"}, Enabled: false},
	}
}
