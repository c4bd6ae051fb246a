// Package sync orchestrates per-user sync cycles: refresh credentials,
// fetch from every connected provider concurrently, merge by priority, and
// persist the merged days.
package sync

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/observability"
	"example.com/healthsync/internal/provider"
)

// MetricsStore persists merged daily records (the postgres repository).
type MetricsStore interface {
	UpsertDailyMetrics(ctx context.Context, m domain.DailyMetrics) error
}

// RetryPolicy bounds retries of transient fetch failures. Delays grow
// exponentially from BaseDelay, capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy retries transient failures twice after the first
// attempt.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
	MaxDelay:    time.Minute,
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt-1)) * p.BaseDelay
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Coordinator runs sync cycles. Cycles for the same user are serialized so
// two triggers cannot interleave their merges; different users proceed
// independently.
type Coordinator struct {
	registry   *provider.Registry
	store      MetricsStore
	priorities map[string]int
	retry      RetryPolicy
	timeout    time.Duration
	logger     *log.Logger
	now        func() time.Time

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRetryPolicy overrides the transient-failure retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Coordinator) { c.retry = p }
}

// WithTimeout bounds each provider's refresh-and-fetch.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// WithLogger overrides the default logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator builds a Coordinator. priorities maps provider ID to merge
// priority; lower numbers win field conflicts. Providers missing from the
// map sort last.
func NewCoordinator(registry *provider.Registry, store MetricsStore, priorities map[string]int, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry:   registry,
		store:      store,
		priorities: priorities,
		retry:      DefaultRetryPolicy,
		timeout:    2 * time.Minute,
		logger:     log.New(log.Writer(), "[sync] ", log.LstdFlags),
		now:        time.Now,
		users:      make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SyncAll runs one full cycle for the user across every connected provider.
// Provider failures are isolated: each failure lands in its SyncResult and
// the remaining providers still contribute to the merge. The returned error
// is non-nil only when the merge result cannot be persisted.
func (c *Coordinator) SyncAll(ctx context.Context, userID string, rng domain.DateRange) ([]domain.SyncResult, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}

	lock := c.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	adapters := c.connectedAdapters(ctx, userID)
	if len(adapters) == 0 {
		return nil, nil
	}

	type outcome struct {
		result domain.SyncResult
		report *domain.ProviderReport
	}

	outcomes := make([]outcome, len(adapters))
	var wg sync.WaitGroup
	for i, ad := range adapters {
		wg.Add(1)
		go func(i int, ad provider.Adapter) {
			defer wg.Done()
			result, report := c.syncProvider(ctx, ad, userID, rng)
			outcomes[i] = outcome{result: result, report: report}
		}(i, ad)
	}
	wg.Wait()

	results := make([]domain.SyncResult, 0, len(outcomes))
	var reports []domain.ProviderReport
	for _, o := range outcomes {
		results = append(results, o.result)
		if o.report != nil {
			reports = append(reports, *o.report)
		}
	}

	merged := domain.Merge(userID, reports, c.now().UTC())
	for _, day := range merged {
		if err := c.store.UpsertDailyMetrics(ctx, day); err != nil {
			return results, err
		}
	}
	observability.RecordMergedDays(len(merged))
	return results, nil
}

// SyncProvider runs one cycle for a single provider, for the manual
// per-provider trigger.
func (c *Coordinator) SyncProvider(ctx context.Context, providerID, userID string, rng domain.DateRange) (domain.SyncResult, error) {
	if err := rng.Validate(); err != nil {
		return domain.SyncResult{}, err
	}
	ad, ok := c.registry.Get(providerID)
	if !ok {
		return domain.SyncResult{}, domain.ErrUnknownProvider
	}

	lock := c.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	result, report := c.syncProvider(ctx, ad, userID, rng)
	if report != nil {
		merged := domain.Merge(userID, []domain.ProviderReport{*report}, c.now().UTC())
		for _, day := range merged {
			if err := c.store.UpsertDailyMetrics(ctx, day); err != nil {
				return result, err
			}
		}
		observability.RecordMergedDays(len(merged))
	}
	return result, nil
}

// syncProvider refreshes, fetches with bounded retries, and builds the
// provider's merge report. It never returns an error: failures are encoded
// in the SyncResult.
func (c *Coordinator) syncProvider(ctx context.Context, ad provider.Adapter, userID string, rng domain.DateRange) (domain.SyncResult, *domain.ProviderReport) {
	started := c.now()
	result := domain.SyncResult{Provider: ad.ID(), Range: rng}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	fail := func(err error) (domain.SyncResult, *domain.ProviderReport) {
		result.Error = err.Error()
		var expired *domain.AuthExpiredError
		var exchange *domain.AuthExchangeError
		if errors.As(err, &expired) || errors.As(err, &exchange) {
			result.NeedsReauth = true
		}
		observability.RecordProviderSync(ad.ID(), "failure", c.now().Sub(started))
		c.logger.Printf("sync %s for user %s failed: %v", ad.ID(), userID, err)
		return result, nil
	}

	if err := ad.RefreshIfNeeded(ctx, userID); err != nil {
		return fail(err)
	}

	samples, err := c.fetchWithRetry(ctx, ad, userID, rng)
	if err != nil {
		return fail(err)
	}

	result.Success = true
	result.Records = len(samples)
	observability.RecordProviderSync(ad.ID(), "success", c.now().Sub(started))

	return result, &domain.ProviderReport{
		Provider: ad.ID(),
		Priority: c.priority(ad.ID()),
		SyncedAt: c.now().UTC(),
		Samples:  samples,
	}
}

// fetchWithRetry retries transient and rate-limit failures with capped
// exponential backoff. Auth failures are never retried.
func (c *Coordinator) fetchWithRetry(ctx context.Context, ad provider.Adapter, userID string, rng domain.DateRange) ([]domain.ProviderSample, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		samples, err := ad.FetchMetrics(ctx, userID, rng)
		if err == nil {
			return samples, nil
		}
		lastErr = err

		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &domain.TransientNetworkError{Provider: ad.ID(), Err: err}
		}

		delay, retryable := retryDelay(err, c.retry, attempt)
		if !retryable || attempt == c.retry.MaxAttempts {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, &domain.TransientNetworkError{Provider: ad.ID(), Err: ctx.Err()}
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

func retryDelay(err error, p RetryPolicy, attempt int) (time.Duration, bool) {
	var rate *domain.RateLimitError
	if errors.As(err, &rate) {
		delay := rate.RetryAfter
		if delay <= 0 || delay > p.MaxDelay {
			delay = p.MaxDelay
		}
		return delay, true
	}
	var transient *domain.TransientNetworkError
	if errors.As(err, &transient) {
		return p.delay(attempt), true
	}
	return 0, false
}

// connectedAdapters lists adapters holding a usable credential for the user,
// in registry order.
func (c *Coordinator) connectedAdapters(ctx context.Context, userID string) []provider.Adapter {
	var out []provider.Adapter
	for _, ad := range c.registry.All() {
		if ad.IsAuthorized(ctx, userID) {
			out = append(out, ad)
		}
	}
	return out
}

func (c *Coordinator) priority(providerID string) int {
	if p, ok := c.priorities[providerID]; ok {
		return p
	}
	// Unlisted providers lose every conflict.
	max := 0
	for _, p := range c.priorities {
		if p > max {
			max = p
		}
	}
	return max + 1
}

func (c *Coordinator) userLock(userID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	if lock, ok := c.users[userID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	c.users[userID] = lock
	return lock
}
