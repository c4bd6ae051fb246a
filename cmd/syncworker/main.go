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

	"example.com/healthsync/internal/config"
	"example.com/healthsync/internal/connectivity"
	"example.com/healthsync/internal/credstore"
	persistence "example.com/healthsync/internal/persistence/postgres"
	"example.com/healthsync/internal/providers"
	"example.com/healthsync/internal/queue"
	syncsvc "example.com/healthsync/internal/sync"
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

	worker := syncsvc.NewWorker(coordinator, creds, cfg.SyncInterval, cfg.SyncLookbackDays)
	go worker.Start(ctx)

	uploader := queue.NewKafkaUploader(cfg.KafkaBrokers, cfg.UploadTopic)
	defer uploader.Close()
	recordQueue := queue.New(repo, uploader)

	watcher := connectivity.NewWatcher(&connectivity.HTTPProber{URL: cfg.ProbeURL}, cfg.ProbeInterval)
	go watcher.Run(ctx)

	events, unsubscribe := watcher.Subscribe()
	defer unsubscribe()
	go recordQueue.Watch(ctx, events)

	// Metrics-only HTTP listener so the worker is scrapeable.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	server := &http.Server{Addr: cfg.HTTPAddress, Handler: mux}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("healthsync worker listening on %s", cfg.HTTPAddress)
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

	worker.Wait()
}
