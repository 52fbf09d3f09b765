package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/af-corp/refinery/internal/backend"
	"github.com/af-corp/refinery/internal/config"
	"github.com/af-corp/refinery/internal/cost"
	"github.com/af-corp/refinery/internal/gateway"
	"github.com/af-corp/refinery/internal/orchestrator"
	"github.com/af-corp/refinery/internal/registry"
	"github.com/af-corp/refinery/internal/selection"
	"github.com/af-corp/refinery/internal/telemetry"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	loader := config.NewLoader(*configDir, slog.Default())
	if err := loader.Load(); err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := loader.Config()

	logger := newLogger(cfg.Telemetry)
	slog.SetDefault(logger)

	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	// Redis backs daily spend persistence; the service runs without it.
	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis not reachable, daily spend persistence disabled", "error", err)
			rdb = nil
		} else {
			logger.Info("redis connected", "addr", cfg.Redis.Address)
		}
	}

	orchCfg, err := orchestratorConfig(cfg.Orchestrator)
	if err != nil {
		logger.Error("invalid orchestrator configuration", "error", err)
		os.Exit(1)
	}

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)
	orch, err := orchestrator.New(orchCfg, orchestrator.Options{
		Logger:        logger,
		Telemetry:     metrics,
		Spend:         cost.NewSpendTracker(rdb),
		CacheCapacity: cfg.Orchestrator.CacheCapacity,
	})
	if err != nil {
		logger.Error("failed to build orchestrator", "error", err)
		os.Exit(1)
	}
	defer orch.Close()
	orch.Start(cfg.Orchestrator.CachePruneInterval)

	registerBackends(orch, loader.Backends(), logger)
	loader.OnReload(func() {
		registerBackends(orch, loader.Backends(), logger)
		logger.Info("backend registry reloaded")
	})

	handler := gateway.NewHandler(orch, logger)

	// Prometheus metrics on their own listener.
	if port := cfg.Telemetry.MetricsPort; port > 0 {
		go func() {
			mux := chi.NewRouter()
			mux.Handle("/metrics", promhttp.Handler())
			addr := fmt.Sprintf(":%d", port)
			logger.Info("metrics listener starting", "addr", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("metrics listener failed", "error", err)
			}
		}()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("refinery starting", "addr", addr, "version", version)
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
	logger.Info("refinery stopped")
}

func newLogger(cfg config.TelemetryConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.LogFormat) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// orchestratorConfig maps the file representation onto the runtime config.
// Tri-state flags default to enabled when absent from the file.
func orchestratorConfig(fc config.OrchestratorConfig) (orchestrator.Config, error) {
	cfg := orchestrator.DefaultConfig()
	if fc.Strategy != "" {
		strategy, err := selection.ParseStrategy(fc.Strategy)
		if err != nil {
			return cfg, err
		}
		cfg.Strategy = strategy
	}
	if fc.FallbackEnabled != nil {
		cfg.FallbackEnabled = *fc.FallbackEnabled
	}
	if fc.MaxFallbackAttempts > 0 {
		cfg.MaxFallbackAttempts = fc.MaxFallbackAttempts
	}
	if fc.CacheEnabled != nil {
		cfg.CacheEnabled = *fc.CacheEnabled
	}
	if fc.CacheTTL > 0 {
		cfg.CacheTTL = fc.CacheTTL
	}
	if fc.RateLimitingEnabled != nil {
		cfg.RateLimitingEnabled = *fc.RateLimitingEnabled
	}
	if fc.CostTrackingEnabled != nil {
		cfg.CostTrackingEnabled = *fc.CostTrackingEnabled
	}
	if fc.MetricsEnabled != nil {
		cfg.MetricsEnabled = *fc.MetricsEnabled
	}
	if fc.RequestTimeout > 0 {
		cfg.RequestTimeout = fc.RequestTimeout
	}
	cfg.DailyBudgetUSD = fc.DailyBudgetUSD
	cfg.PreferredBackends = fc.PreferredBackends
	return cfg, nil
}

// registerBackends builds adapters from the backends file. On reload, file
// entries overwrite existing registrations; backends added at runtime over
// the API are left alone.
func registerBackends(orch *orchestrator.Orchestrator, bc *config.BackendsConfig, logger *slog.Logger) {
	if bc == nil {
		return
	}
	for id, b := range bc.Backends {
		adapter, err := backend.New(id, b, nil)
		if err != nil {
			logger.Error("skipping backend", "backend", id, "error", err)
			continue
		}
		enabled := true
		if b.Enabled != nil {
			enabled = *b.Enabled
		}
		orch.RegisterBackend(adapter, registry.Metadata{
			ID:                   id,
			CostPerInputUnit:     b.CostPerInputUnit,
			CostPerOutputUnit:    b.CostPerOutputUnit,
			MaxRequestsPerMinute: b.MaxRequestsPerMinute,
			MaxUnitsPerRequest:   b.MaxUnitsPerRequest,
			Features:             b.Features,
			Priority:             b.Priority,
			Weight:               b.Weight,
			Enabled:              enabled,
		})
	}
}
