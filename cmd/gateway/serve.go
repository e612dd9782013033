package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mrmushfiq/ridegate/internal/gateway/auth"
	"github.com/mrmushfiq/ridegate/internal/gateway/cache"
	"github.com/mrmushfiq/ridegate/internal/gateway/executor"
	"github.com/mrmushfiq/ridegate/internal/gateway/handlers"
	"github.com/mrmushfiq/ridegate/internal/gateway/presenter"
	"github.com/mrmushfiq/ridegate/internal/gateway/providers"
	"github.com/mrmushfiq/ridegate/internal/gateway/ratelimit"
	"github.com/mrmushfiq/ridegate/internal/gateway/registry"
	"github.com/mrmushfiq/ridegate/internal/gateway/usage"
	"github.com/mrmushfiq/ridegate/internal/shared/config"
	"github.com/mrmushfiq/ridegate/internal/shared/database"
	"github.com/mrmushfiq/ridegate/internal/shared/metrics"
	"github.com/mrmushfiq/ridegate/internal/shared/redis"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, log.Logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	logger.Info().Str("port", cfg.Server.Port).Str("env", cfg.Env).Str("version", version).Msg("starting ridegate")

	// Initialize Redis
	redisClient, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()
	logger.Info().Msg("connected to redis")

	// Credential store and request log
	var (
		store   auth.CredentialStore
		execOpt []executor.Option
	)
	if cfg.DatabaseURL != "" {
		db, err := database.New(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		store = db
		execOpt = append(execOpt, executor.WithRequestLog(db))
		logger.Info().Msg("connected to postgres")
	} else {
		store = auth.NewMemoryStore()
		logger.Warn().Msg("no database configured, using in-memory credential store")
	}

	// Providers
	reg := registry.New(logger)
	for _, p := range cfg.Providers {
		if err := reg.Register(providers.FromConfig(p)); err != nil {
			return fmt.Errorf("provider %s: %w", p.ID, err)
		}
	}
	reg.OnChange(func(c providers.ServiceConfig) {
		logger.Info().Str("provider", c.ID).Bool("enabled", c.Enabled).Msg("provider configuration applied")
	})
	logger.Info().Int("providers", len(reg.List())).Msg("initialized providers")

	// Rate limiting
	inbound, err := ratelimit.New(cfg.RateLimit, redisClient)
	if err != nil {
		return err
	}
	outbound, err := ratelimit.NewOutbound(cfg.RateLimit, redisClient)
	if err != nil {
		return err
	}
	for _, l := range []ratelimit.Limiter{inbound, outbound} {
		if c, ok := l.(ratelimit.Closer); ok {
			defer c.Close()
		}
	}

	// Response cache
	var cacheStore cache.Store
	if cfg.Cache.Enabled {
		switch cfg.Cache.Backend {
		case config.CacheBackendMemory:
			mem := cache.NewMemoryStore()
			defer mem.Close()
			cacheStore = mem
		default:
			cacheStore = cache.NewRedisStore(redisClient)
		}
		logger.Info().Str("backend", cfg.Cache.Backend).Msg("initialized cache")
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	tracker := usage.New(redisClient, cfg.Usage.Retention)
	execOpt = append(execOpt, executor.WithUsage(tracker), executor.WithMetrics(m))
	exec := executor.New(reg, outbound, logger, execOpt...)

	authenticator := auth.NewAuthenticator(store, logger)
	presenter.ExposeInternalErrors(!cfg.IsProduction())

	health := map[string]handlers.Pinger{"credential_store": authenticator}
	if cacheStore != nil {
		health["cache_store"] = cacheStore
	}

	h := handlers.New(handlers.Deps{
		Registry:       reg,
		Executor:       exec,
		Auth:           authenticator,
		Tokens:         auth.NewTokenService(cfg.Auth),
		Limiter:        inbound,
		Budgets:        ratelimit.BudgetsFromConfig(cfg.RateLimit),
		Cache:          cacheStore,
		CacheTTL:       cfg.Cache,
		Usage:          tracker,
		Metrics:        m,
		Gatherer:       prometheus.DefaultGatherer,
		HealthChecks:   health,
		APIKeyHeader:   cfg.Auth.APIKeyHeader,
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      h.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, l := range []ratelimit.Limiter{inbound, outbound} {
		if runner, ok := l.(ratelimit.Runner); ok {
			g.Go(func() error {
				runner.Run(gctx)
				return nil
			})
		}
	}

	watcher := config.NewWatcher(config.ConfigFilePath(), func(ps []config.ProviderConfig) {
		cfgs := make([]providers.ServiceConfig, 0, len(ps))
		for _, p := range ps {
			cfgs = append(cfgs, providers.FromConfig(p))
		}
		reg.Sync(cfgs)
	}, logger)
	g.Go(func() error {
		if err := watcher.Run(gctx); err != nil {
			// Hot reload is optional; the gateway keeps serving without it.
			logger.Warn().Err(err).Msg("config watcher unavailable")
		}
		return nil
	})

	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown error")
		}
		exec.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
