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
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/af-corp/prompt-gateway/internal/audit"
	"github.com/af-corp/prompt-gateway/internal/config"
	"github.com/af-corp/prompt-gateway/internal/dispatch"
	"github.com/af-corp/prompt-gateway/internal/filter"
	"github.com/af-corp/prompt-gateway/internal/filter/injection"
	"github.com/af-corp/prompt-gateway/internal/filter/policy"
	"github.com/af-corp/prompt-gateway/internal/filter/schema"
	"github.com/af-corp/prompt-gateway/internal/filter/secrets"
	"github.com/af-corp/prompt-gateway/internal/gateway"
	"github.com/af-corp/prompt-gateway/internal/inference"
	"github.com/af-corp/prompt-gateway/internal/ratelimit"
	"github.com/af-corp/prompt-gateway/internal/store"
	"github.com/af-corp/prompt-gateway/internal/telemetry"
)

var version = "dev"

const serviceName = "prompt-gateway"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// Load configuration
	loader := config.NewLoader(*configDir, bootLogger)
	if err := loader.Load(); err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := loader.Config()

	logger := newLogger(cfg.Telemetry)
	slog.SetDefault(logger)

	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(rootCtx, cfg.Telemetry, serviceName, version)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	// PostgreSQL pool; connectivity is owned by the store manager.
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		logger.Error("invalid database configuration", "error", err)
		os.Exit(1)
	}
	if cfg.Database.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.Database.MaxOpenConns)
	}
	poolCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	dbPool, err := pgxpool.NewWithConfig(rootCtx, poolCfg)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	manager := store.NewManager(dbPool.Ping, store.RetryPolicy{
		MaxRetries: cfg.Database.MaxRetries,
		RetryDelay: cfg.Database.RetryDelay,
	}, logger)
	manager.OnAttempt(metrics.RecordStoreAttempt)
	manager.OnTransition(func(s store.State) { metrics.SetStoreState(int(s)) })
	go manager.Watch(rootCtx, cfg.Database.HealthCheckInterval, cfg.Database.RecoveryInterval)

	manager.Start(rootCtx)

	pgStore := audit.NewPostgresStore(dbPool)
	pgStore.OnConnectionLost(manager.MarkDisconnected)

	// Redis publisher for audit topics
	var publisher audit.Publisher = audit.NopPublisher{}
	var rdb redis.UniversalClient
	if addrs := nonEmpty(cfg.Redis.Addresses); len(addrs) > 0 {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(rootCtx).Err(); err != nil {
			logger.Warn("redis not reachable (audit publishing will be retried per record)", "error", err)
		} else {
			logger.Info("redis connected")
		}
		publisher = audit.NewRedisPublisher(rdb)
	}

	recorder := audit.NewRecorder(pgStore, publisher, audit.Config{
		Enabled:      cfg.Audit.Enabled,
		AsyncBuffer:  cfg.Audit.AsyncBuffer,
		WriteTimeout: cfg.Audit.WriteTimeout,
		SuccessTopic: cfg.Audit.SuccessTopic,
		FailureTopic: cfg.Audit.FailureTopic,
	}, logger)
	recorder.OnFailure(metrics.RecordAuditFailure)

	// Security and schema gate
	policyEval := policy.NewEvaluator(func() config.PolicyFilterConfig { return loader.Config().Filter.Policy })
	if cfg.Filter.Policy.Enabled {
		if err := policyEval.Load(); err != nil {
			logger.Error("failed to load policies", "error", err)
			os.Exit(1)
		}
	}
	loader.OnReload(func() {
		if !loader.Config().Filter.Policy.Enabled {
			return
		}
		if err := policyEval.Load(); err != nil {
			logger.Error("policy reload failed, keeping previous policies", "error", err)
		}
	})

	chain := filter.NewChain(
		injection.NewScanner(func() config.InjectionFilterConfig { return loader.Config().Filter.Injection }),
		secrets.NewScanner(func() config.SecretsFilterConfig { return loader.Config().Filter.Secrets }),
		policyEval,
	)
	gate := filter.NewGate(schema.New(func() int { return loader.Config().Filter.MaxPromptLength }), chain, logger)
	gate.OnReject(func(name string) { metrics.RecordFilterAction(name, string(filter.ActionBlock)) })

	adapter, err := inference.NewFromConfig(cfg.Inference, nil)
	if err != nil {
		logger.Error("failed to build inference adapter", "error", err)
		os.Exit(1)
	}

	dispatcher := dispatch.New(recorder, logger)
	dispatcher.OnDispatch(func(c dispatch.Classified) {
		metrics.RecordError(c.StatusCode, string(c.Category))
	})

	handler := gateway.NewHandler(gate, adapter, recorder, dispatcher.Dispatch, loader.Config, metrics, logger)
	router := gateway.NewRouter(gateway.RouterDeps{
		Handler:     handler,
		Dispatcher:  dispatcher,
		Store:       manager,
		Limiter:     ratelimit.NewLimiter(),
		RateLimit:   func() config.RateLimitConfig { return loader.Config().RateLimit },
		OnRateLimit: metrics.RecordRateLimitHit,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	opsSrv := &http.Server{
		Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Telemetry.MetricsPort),
		Handler: telemetry.OpsHandler(reg, func() map[string]any {
			return map[string]any{
				"version":   version,
				"store":     manager.Snapshot(),
				"inference": adapter.Name(),
			}
		}),
		ReadTimeout: 5 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 2)
	go func() {
		logger.Info("gateway starting", "addr", addr, "version", version, "inference", adapter.Name())
		errCh <- srv.ListenAndServe()
	}()
	go func() {
		logger.Info("ops server starting", "addr", opsSrv.Addr)
		errCh <- opsSrv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			exitCode = 1
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), loader.Config().Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		exitCode = 1
	}
	_ = opsSrv.Shutdown(ctx)

	recorder.Close()
	stop()
	manager.Close()
	manager.Disconnect()
	if rdb != nil {
		_ = rdb.Close()
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Warn("tracing shutdown failed", "error", err)
	}

	logger.Info("gateway stopped")
	if exitCode != 0 {
		// deferred closes do not run past os.Exit
		os.Exit(exitCode)
	}
}

func newLogger(cfg config.TelemetryConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func nonEmpty(addrs []string) []string {
	var out []string
	for _, a := range addrs {
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}
