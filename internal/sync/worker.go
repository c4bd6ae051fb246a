package sync

import (
	"context"
	"errors"
	"log"
	"time"

	"example.com/healthsync/internal/domain"
)

// UserSource lists the users the periodic worker must sync (the credential
// store's ActiveUsers).
type UserSource interface {
	ActiveUsers(ctx context.Context) ([]string, error)
}

// Worker runs full sync cycles for every active user on a fixed interval.
type Worker struct {
	coordinator      *Coordinator
	users            UserSource
	interval         time.Duration
	lookbackDays     int
	logger           *log.Logger
	shutdownComplete chan struct{}
}

// NewWorker constructs a Worker.
func NewWorker(coordinator *Coordinator, users UserSource, interval time.Duration, lookbackDays int) *Worker {
	if lookbackDays <= 0 {
		lookbackDays = 7
	}
	return &Worker{
		coordinator:      coordinator,
		users:            users,
		interval:         interval,
		lookbackDays:     lookbackDays,
		logger:           log.New(log.Writer(), "[syncworker] ", log.LstdFlags),
		shutdownComplete: make(chan struct{}),
	}
}

// Start launches the polling loop. It should be called in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer func() {
		ticker.Stop()
		close(w.shutdownComplete)
	}()

	for {
		if err := w.runCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Printf("sync cycle error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until the worker stops.
func (w *Worker) Wait() {
	<-w.shutdownComplete
}

func (w *Worker) runCycle(ctx context.Context) error {
	users, err := w.users.ActiveUsers(ctx)
	if err != nil {
		return err
	}

	rng := domain.LastNDays(w.lookbackDays, time.Now())
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		results, err := w.coordinator.SyncAll(ctx, userID, rng)
		if err != nil {
			w.logger.Printf("sync user %s: %v", userID, err)
			continue
		}
		for _, res := range results {
			if !res.Success {
				w.logger.Printf("sync user %s provider %s: %s", userID, res.Provider, res.Error)
			}
		}
	}
	return nil
}
