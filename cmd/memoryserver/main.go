// Command memoryserver is the main entry point for the context-memory server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/memorybank/contextgraph/internal/authgate"
	"github.com/memorybank/contextgraph/internal/config"
	"github.com/memorybank/contextgraph/internal/health"
	"github.com/memorybank/contextgraph/internal/obs"
	"github.com/memorybank/contextgraph/internal/ratelimit"
	"github.com/memorybank/contextgraph/internal/resilience"
	"github.com/memorybank/contextgraph/internal/service"
	"github.com/memorybank/contextgraph/internal/transport"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "memoryserver: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "memoryserver: %v\n", err)
		}
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("memoryserver starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"backend", cfg.Backend.Kind,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := obs.InitProvider(ctx, obs.ProviderConfig{
		ServiceName:  "memoryserver",
		OTLPEndpoint: cfg.Server.OTLPEndpoint,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(shutdownCtx); err != nil {
			slog.Error("telemetry shutdown error", "err", err)
		}
	}()

	deps, err := wire(ctx, cfg)
	if err != nil {
		slog.Error("failed to wire application", "err", err)
		return 1
	}
	defer deps.Close()

	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		logLevel.Set(slogLevel(new.Server.LogLevel))
		deps.transport.SetRateLimit(new.RateLimit.UserLimit, new.RateLimit.WindowSeconds)
		slog.Info("applied reloaded configuration",
			"log_level", new.Server.LogLevel,
			"rate_limit_user", new.RateLimit.UserLimit,
		)
	})
	if err != nil {
		// The config that already loaded successfully above keeps running;
		// hot-reload is a convenience, not a hard dependency.
		slog.Warn("config hot-reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	mux := http.NewServeMux()
	deps.health.Register(mux)
	mux.Handle("/", deps.transport.Router(cfg.Transport.AllowedOrigins))

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: mux,
	}

	var metricsSrv *http.Server
	if cfg.Server.MetricsAddr != "" {
		metricsSrv = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: promhttp.Handler()}
		go func() {
			slog.Info("metrics server ready", "addr", cfg.Server.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "err", err)
			}
		}()
	}

	serveErrCh := make(chan error, 1)
	go func() {
		slog.Info("server ready", "addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	case err := <-serveErrCh:
		if err != nil {
			slog.Error("server error", "err", err)
			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics shutdown error", "err", err)
		}
	}

	slog.Info("goodbye")
	return 0
}

// application bundles every collaborator wired by [wire], closed together on
// shutdown in the reverse of the order they were built.
type application struct {
	transport *transport.Transport
	health    *health.Handler
	closers   []func() error
}

func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Error("error closing collaborator", "err", err)
		}
	}
}

// wire constructs the store factory, auth gate, rate limiter, event store,
// and session transport for the configured backend.
func wire(ctx context.Context, cfg *config.Config) (*application, error) {
	app := &application{}

	var (
		stores    service.StoreFactory
		authStore authgate.Store
		events    transport.EventStore
	)

	switch cfg.Backend.Kind {
	case config.BackendRelational:
		pool, err := newPgxPool(ctx, cfg.Backend.PostgresDSN, cfg.Backend.MaxPoolConns)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		app.closers = append(app.closers, func() error { pool.Close(); return nil })

		relStores := service.NewRelationalStoreFactoryWithPool(pool)
		stores = relStores
		authStore = authgate.NewPgStore(pool)
		events = transport.NewPgEventStore(pool)

	case config.BackendFile:
		fileStores := service.NewFileStoreFactory(cfg.Backend.DataDir)
		stores = fileStores
		authStore = authgate.NewMockStore()
		slog.Warn("file backend has no persistent credential store — using an empty in-memory auth store suitable for local development only")
		events = transport.NewMemoryEventStore(4096)

	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Backend.Kind)
	}
	app.closers = append(app.closers, stores.Close)

	if cfg.Auth.CircuitBreakerMaxFailures > 0 {
		breakerCfg := resilience.CircuitBreakerConfig{
			Name:         "authgate",
			MaxFailures:  cfg.Auth.CircuitBreakerMaxFailures,
			ResetTimeout: time.Duration(cfg.Auth.CircuitBreakerResetSeconds) * time.Second,
		}
		if cfg.Backend.Kind == config.BackendRelational {
			// The relational store is the one worth degrading gracefully: wrap
			// it in a fallback chain that serves the last validated record for
			// a credential when Postgres is unreachable, instead of failing
			// every request outright.
			authStore = authgate.NewFallbackStore(authStore, "authgate-primary", resilience.FallbackConfig{
				CircuitBreaker: breakerCfg,
			}, cfg.Auth.CacheSize, time.Duration(cfg.Auth.LastKnownGoodTTLSeconds)*time.Second)
		} else {
			authStore = authgate.NewCircuitBreakerStore(authStore, breakerCfg)
		}
	}

	auth := authgate.New(authStore, cfg.Auth.CacheSize, time.Duration(cfg.Auth.CacheTTLSeconds)*time.Second)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RateLimit.RedisAddr})
		app.closers = append(app.closers, redisClient.Close)
		limiter = ratelimit.New(redisClient)
	}

	t := transport.New(transport.Config{
		IdleTTL:                time.Duration(cfg.Transport.IdleTTLSeconds) * time.Second,
		RateLimitMax:           cfg.RateLimit.UserLimit,
		RateLimitWindowSeconds: cfg.RateLimit.WindowSeconds,
	}, auth, limiter, events, nil)

	svc := service.New(stores, t)
	t.SetHandler(svc.Handle)

	app.transport = t
	app.health = health.New(healthCheckers(stores)...)

	return app, nil
}

func healthCheckers(stores service.StoreFactory) []health.Checker {
	return []health.Checker{
		{
			Name: "store_factory",
			Check: func(ctx context.Context) error {
				_, err := stores.ForTenant(ctx, "system", "healthcheck")
				return err
			},
		},
	}
}

// newPgxPool connects to dsn, bounding the pool size when maxConns is
// positive, and verifies connectivity with a single ping.
func newPgxPool(ctx context.Context, dsn string, maxConns int) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// slogLevel maps a config log level to its slog equivalent. It backs a
// [slog.LevelVar] so a reloaded config (see [config.Watcher]) can change the
// running log level without restarting the logger.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogLevelDebug:
		return slog.LevelDebug
	case config.LogLevelWarn:
		return slog.LevelWarn
	case config.LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
