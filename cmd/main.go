// Package main is the entry point for the filter gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/modguard/filter-gateway/internal/auth"
	"github.com/modguard/filter-gateway/internal/cache"
	"github.com/modguard/filter-gateway/internal/config"
	"github.com/modguard/filter-gateway/internal/gateway"
	"github.com/modguard/filter-gateway/internal/monitoring"
	"github.com/modguard/filter-gateway/internal/pipeline"
	"github.com/modguard/filter-gateway/internal/provider"
	"github.com/modguard/filter-gateway/internal/ratelimit"
	"github.com/modguard/filter-gateway/internal/stats"
	"github.com/modguard/filter-gateway/internal/storage"
	"github.com/modguard/filter-gateway/internal/store"
)

// shutdownGrace bounds how long in-flight requests get to finish.
const shutdownGrace = 15 * time.Second

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// Local .env overrides nothing that is already exported.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	monitoring.Global(monitoring.LoggerConfig{
		Level:  cfg.Monitoring.LogLevel,
		Format: cfg.Monitoring.LogFormat,
		Output: cfg.Monitoring.LogOutput,
	})

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("gateway exited")
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)

	counters := store.NewRedisStore(cfg.Redis)
	defer counters.Close()
	if !store.WaitReady(ctx, counters, 10*time.Second) {
		log.Warn().Str("addr", cfg.Redis.Addr).Msg("counter store not reachable at startup")
	}

	dbCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	db, err := storage.New(dbCtx, cfg.Database.DSN)
	cancel()
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("schema: %w", err)
	}

	newCache := func(name string, cc config.CacheConfig) *cache.Cache {
		return cache.New(cache.Options{
			Name:       name,
			MaxEntries: cc.MaxEntries,
			MaxBytes:   cc.MaxBytes,
			DefaultTTL: cc.TTL,
			Policy:     cache.ParsePolicy(cc.Policy),
			Observer:   metrics,
		})
	}
	respCache := newCache("response", cfg.Caches.Response)
	defer respCache.Destroy()
	aiCache := newCache("ai_result", cfg.Caches.AIResult)
	defer aiCache.Destroy()
	credCache := newCache("credential", cfg.Caches.Credential)
	defer credCache.Destroy()

	providers := provider.NewRegistry(cfg.Providers, metrics)
	tracker := stats.NewTracker(counters, metrics)
	aggregator := stats.NewAggregator(counters, db, cfg.Stats)
	query := stats.NewQuery(counters, db)
	pipe := pipeline.New(providers, aiCache, tracker, cfg.Caches)
	pipe.Warm()

	gw := gateway.New(gateway.Deps{
		Config:     cfg,
		Pipeline:   pipe,
		Auth:       auth.NewService(db, counters, credCache),
		Limiter:    ratelimit.New(counters, cfg.RateLimit),
		Tracker:    tracker,
		Aggregator: aggregator,
		Query:      query,
		Providers:  providers,
		RespCache:  respCache,
		Counters:   counters,
		DB:         db,
		Metrics:    metrics,
	})

	aggregator.Schedule(ctx)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      gw.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("filter gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
