// Package queue buffers locally created records while the upstream is
// unreachable and flushes them oldest-first once connectivity returns.
package queue

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/healthsync/internal/connectivity"
	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/observability"
)

const (
	flushBatchSize       = 100
	defaultFlushInterval = 30 * time.Second
)

// Store is the durable queue backend (the postgres repository).
type Store interface {
	InsertLocalRecord(ctx context.Context, rec domain.LocalRecord) error
	UnsyncedRecords(ctx context.Context, limit int) ([]domain.LocalRecord, error)
	DeleteRecord(ctx context.Context, id string) error
	PendingCount(ctx context.Context) (int, error)
}

// Uploader delivers one record upstream. A nil return confirms delivery and
// permits pruning.
type Uploader interface {
	Upload(ctx context.Context, rec domain.LocalRecord) error
}

// FlushStats summarizes one flush pass.
type FlushStats struct {
	Uploaded int
	Failed   int
}

// Queue owns the offline record buffer. Records are enqueued durably first
// and uploaded opportunistically; a record leaves the queue only after the
// uploader confirms it.
type Queue struct {
	store         Store
	uploader      Uploader
	logger        *log.Logger
	now           func() time.Time
	flushInterval time.Duration

	mu       sync.Mutex
	flushing bool
	rerun    bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger overrides the default logger.
func WithLogger(l *log.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithFlushInterval overrides how often Watch flushes while online.
func WithFlushInterval(d time.Duration) Option {
	return func(q *Queue) { q.flushInterval = d }
}

// New constructs a Queue.
func New(store Store, uploader Uploader, opts ...Option) *Queue {
	q := &Queue{
		store:         store,
		uploader:      uploader,
		logger:        log.New(log.Writer(), "[queue] ", log.LstdFlags),
		now:           time.Now,
		flushInterval: defaultFlushInterval,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue persists a record for later upload. Records are assigned an ID
// here so the caller never has to.
func (q *Queue) Enqueue(ctx context.Context, userID, kind string, payload []byte) (domain.LocalRecord, error) {
	rec := domain.LocalRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: q.now().UTC(),
	}
	if err := q.store.InsertLocalRecord(ctx, rec); err != nil {
		return domain.LocalRecord{}, err
	}
	q.updateDepth(ctx)
	return rec, nil
}

// Pending reports the current queue depth.
func (q *Queue) Pending(ctx context.Context) (int, error) {
	return q.store.PendingCount(ctx)
}

// Flush uploads pending records oldest-first. One record's failure never
// blocks the rest: failed records stay queued for the next pass. Concurrent
// calls collapse into the running pass, which reruns once afterwards so
// records enqueued mid-flush are not stranded until the next trigger.
func (q *Queue) Flush(ctx context.Context) (FlushStats, error) {
	q.mu.Lock()
	if q.flushing {
		q.rerun = true
		q.mu.Unlock()
		return FlushStats{}, nil
	}
	q.flushing = true
	q.mu.Unlock()

	var total FlushStats
	for {
		stats, err := q.flushOnce(ctx)
		total.Uploaded += stats.Uploaded
		total.Failed += stats.Failed

		q.mu.Lock()
		again := q.rerun && err == nil
		q.rerun = false
		if !again {
			q.flushing = false
			q.mu.Unlock()
			q.updateDepth(ctx)
			return total, err
		}
		q.mu.Unlock()
	}
}

func (q *Queue) flushOnce(ctx context.Context) (FlushStats, error) {
	var stats FlushStats
	for {
		records, err := q.store.UnsyncedRecords(ctx, flushBatchSize)
		if err != nil {
			return stats, err
		}
		if len(records) == 0 {
			return stats, nil
		}

		var batch FlushStats
		for _, rec := range records {
			if err := ctx.Err(); err != nil {
				stats.Uploaded += batch.Uploaded
				stats.Failed += batch.Failed
				return stats, err
			}
			if err := q.uploader.Upload(ctx, rec); err != nil {
				q.logger.Printf("upload record %s: %v", rec.ID, err)
				batch.Failed++
				continue
			}
			if err := q.store.DeleteRecord(ctx, rec.ID); err != nil {
				stats.Uploaded += batch.Uploaded
				stats.Failed += batch.Failed
				return stats, err
			}
			batch.Uploaded++
		}
		stats.Uploaded += batch.Uploaded
		stats.Failed += batch.Failed
		observability.RecordQueueFlush("uploaded", batch.Uploaded)
		observability.RecordQueueFlush("failed", batch.Failed)

		// Every record in the batch failed; stop rather than spin on the
		// same records.
		if batch.Uploaded == 0 {
			return stats, nil
		}
		if len(records) < flushBatchSize {
			return stats, nil
		}
	}
}

// Watch drains the queue whenever connectivity transitions back online and,
// while online, on a periodic interval so records enqueued during steady
// operation are not stranded until the next reconnect. An initial flush picks
// up records left over from a previous run. It blocks until the context is
// cancelled.
func (q *Queue) Watch(ctx context.Context, events <-chan connectivity.Event) {
	ticker := time.NewTicker(q.flushInterval)
	defer ticker.Stop()

	// The connectivity watcher starts online, so does Watch.
	online := true
	q.watchFlush(ctx, "startup")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			observability.SetOnline(ev.Online)
			wasOnline := online
			online = ev.Online
			if ev.Online && !wasOnline {
				q.watchFlush(ctx, "reconnect")
			}
		case <-ticker.C:
			if online {
				q.watchFlush(ctx, "interval")
			}
		}
	}
}

func (q *Queue) watchFlush(ctx context.Context, reason string) {
	stats, err := q.Flush(ctx)
	if err != nil {
		q.logger.Printf("flush on %s: %v", reason, err)
		return
	}
	if stats.Uploaded > 0 || stats.Failed > 0 {
		q.logger.Printf("flushed offline queue (%s): uploaded=%d failed=%d", reason, stats.Uploaded, stats.Failed)
	}
}

func (q *Queue) updateDepth(ctx context.Context) {
	if n, err := q.store.PendingCount(ctx); err == nil {
		observability.SetQueueDepth(n)
	}
}
