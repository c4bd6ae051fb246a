package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/healthsync/internal/api"
	"example.com/healthsync/internal/auth"
	"example.com/healthsync/internal/config"
	"example.com/healthsync/internal/connectivity"
	"example.com/healthsync/internal/credstore"
	"example.com/healthsync/internal/middleware"
	persistence "example.com/healthsync/internal/persistence/postgres"
	"example.com/healthsync/internal/providers"
	"example.com/healthsync/internal/queue"
	syncsvc "example.com/healthsync/internal/sync"
	httptransport "example.com/healthsync/internal/transport/http"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	if err := persistence.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("failed to apply schema: %v", err)
	}

	repo := persistence.NewRepository(pool)
	creds := credstore.NewPGStore(pool)
	registry := providers.Build(cfg, creds, repo)

	coordinator := syncsvc.NewCoordinator(registry, repo, cfg.Priorities(),
		syncsvc.WithTimeout(cfg.SyncTimeout),
		syncsvc.WithRetryPolicy(syncsvc.RetryPolicy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    time.Minute,
		}),
	)

	uploader := queue.NewKafkaUploader(cfg.KafkaBrokers, cfg.UploadTopic)
	defer uploader.Close()
	recordQueue := queue.New(repo, uploader)

	watcher := connectivity.NewWatcher(&connectivity.HTTPProber{URL: cfg.ProbeURL}, cfg.ProbeInterval)
	go watcher.Run(ctx)

	events, unsubscribe := watcher.Subscribe()
	defer unsubscribe()
	go recordQueue.Watch(ctx, events)

	handler := api.NewHandler(registry, coordinator, repo, recordQueue, repo, cfg.SyncLookbackDays)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	authMiddleware := auth.NewMiddleware(
		auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer},
		func(r *http.Request) bool {
			return r.URL.Path == "/healthz" || r.URL.Path == "/metrics"
		},
	)
	limiter := middleware.NewRateLimiter(middleware.PerSecond(cfg.RateLimitPerSecond), cfg.RateLimitBurst)

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:     cfg.HTTPAddress,
		ReadTimeout: 5 * time.Second,
		// Manual sync triggers block on upstream provider APIs.
		WriteTimeout: cfg.SyncTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}, limiter.Wrap(authMiddleware.Wrap(logger(mux))))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("healthsync api listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
