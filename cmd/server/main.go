package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/gamedex/gamedex-server/internal/api"
	"github.com/gamedex/gamedex-server/internal/auth"
	"github.com/gamedex/gamedex-server/internal/config"
	"github.com/gamedex/gamedex-server/internal/expansion"
	"github.com/gamedex/gamedex-server/internal/library"
	"github.com/gamedex/gamedex-server/internal/provider"
	"github.com/gamedex/gamedex-server/internal/ratelimit"
	"github.com/gamedex/gamedex-server/internal/recommend"
	"github.com/gamedex/gamedex-server/internal/telemetry"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	loader := config.NewLoader(*configDir, logger)
	if err := loader.Load(); err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	cfg := loader.Config()

	logger = buildLogger(cfg.Telemetry)
	slog.SetDefault(logger)

	// Connect to PostgreSQL
	dbPool, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(context.Background()); err != nil {
		logger.Warn("database not reachable (auth and library lookups will fail)", "error", err)
	} else {
		logger.Info("database connected")
	}

	// Connect to Redis
	var rdb *redis.Client
	if len(cfg.Redis.Addresses) > 0 && cfg.Redis.Addresses[0] != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addresses[0],
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis not reachable (key cache, expansion tier and limits degrade)", "error", err)
			rdb = nil
		} else {
			logger.Info("redis connected")
		}
	}

	metrics := telemetry.NewMetrics()
	spend := ratelimit.NewSpendTracker(rdb)

	// Build the provider pair; config reloads swap its contents in place.
	orch := buildOrchestrator(loader, cfg, metrics, spend, logger)
	loader.OnReload(func() {
		next := buildOrchestrator(loader, loader.Config(), metrics, spend, logger)
		*orch = *next
		logger.Info("provider pair rebuilt from config")
	})

	resolver := expansion.NewResolver(
		expansion.NewStore(rdb, cfg.Recommend.ExpansionStaleness, logger),
		orch, nil, metrics, logger,
	)
	svc := recommend.NewService(orch, resolver, cfg.Recommend, metrics, logger)

	handler := api.NewHandler(svc, library.NewStore(dbPool), metrics)
	keyStore := auth.NewCachedKeyStore(dbPool, rdb)
	limiter := ratelimit.NewLimiter(rdb)
	router := api.NewRouter(handler, keyStore, limiter, spend, cfg.RateLimit, metrics, version)

	// Metrics endpoint on its own port
	if cfg.Telemetry.MetricsPort > 0 {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			addr := fmt.Sprintf(":%d", cfg.Telemetry.MetricsPort)
			logger.Info("metrics listening", "addr", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// buildOrchestrator assembles both repositories from the current provider
// config and wires usage accounting into them.
func buildOrchestrator(loader *config.Loader, cfg *config.Config, metrics *telemetry.Metrics, spend *ratelimit.SpendTracker, logger *slog.Logger) *recommend.Orchestrator {
	pcfg := loader.Providers()

	primary := buildRepository(pcfg, pcfg.Primary, metrics, spend, logger)
	secondary := buildRepository(pcfg, pcfg.Secondary, metrics, spend, logger)

	breakers := provider.NewBreakerSet(
		cfg.Recommend.CircuitBreaker.FailureThreshold,
		cfg.Recommend.CircuitBreaker.RecoveryProbeInterval,
	)

	return recommend.NewOrchestrator(primary, secondary, breakers,
		cfg.Recommend.PrimaryRetries, cfg.Recommend.PrimaryRetryDelay, metrics, logger)
}

func buildRepository(pcfg *config.ProvidersConfig, pc config.ProviderConfig, metrics *telemetry.Metrics, spend *ratelimit.SpendTracker, logger *slog.Logger) *recommend.Repository {
	repo := recommend.NewRepository(provider.BuildClient(pc), pc.Models)

	repo.OnRetry = func(model string, kind provider.Kind) {
		metrics.RecordModelRetry(pc.Name, model, string(kind))
	}

	repo.Observe = func(ctx context.Context, resp *provider.GenerateResponse) {
		cents := pcfg.CostCents(resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		metrics.RecordUsage(pc.Name, resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, cents)

		device, ok := auth.DeviceFromContext(ctx)
		if !ok || cents <= 0 {
			return
		}
		if err := spend.RecordSpend(ctx, device.DeviceID, int64(math.Ceil(cents))); err != nil {
			logger.Warn("failed to record spend", "error", err, "device_id", device.DeviceID)
		}
	}

	return repo
}

func buildLogger(tc config.TelemetryConfig) *slog.Logger {
	level := slog.LevelInfo
	switch tc.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if tc.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
