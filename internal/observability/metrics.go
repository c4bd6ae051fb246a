// Package observability exports the service's Prometheus metrics. Each
// subsystem records through the helpers here rather than holding collector
// references.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	syncCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "sync",
		Name:      "provider_syncs_total",
		Help:      "Provider fetch outcomes per sync cycle, labeled by provider and outcome.",
	}, []string{"provider", "outcome"})

	syncDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "healthsync",
		Subsystem: "sync",
		Name:      "provider_sync_duration_seconds",
		Help:      "Time spent refreshing, fetching, and normalizing per provider.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"provider"})

	mergedDaysCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "sync",
		Name:      "merged_days_total",
		Help:      "Number of merged daily records written.",
	})

	refreshCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "auth",
		Name:      "token_refreshes_total",
		Help:      "Credential refresh outcomes, labeled by provider and outcome.",
	}, []string{"provider", "outcome"})

	queueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "healthsync",
		Subsystem: "queue",
		Name:      "pending_records",
		Help:      "Records waiting in the offline queue.",
	})

	queueFlushCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "queue",
		Name:      "flushed_records_total",
		Help:      "Queue flush outcomes per record, labeled by outcome.",
	}, []string{"outcome"})

	onlineGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "healthsync",
		Subsystem: "connectivity",
		Name:      "online",
		Help:      "1 when the upstream network is reachable, 0 when offline.",
	})
)

func init() {
	prometheus.MustRegister(syncCounter, syncDuration, mergedDaysCounter,
		refreshCounter, queueDepthGauge, queueFlushCounter, onlineGauge)
}

// RecordProviderSync counts one provider fetch outcome and its duration.
func RecordProviderSync(provider, outcome string, elapsed time.Duration) {
	syncCounter.WithLabelValues(provider, outcome).Inc()
	syncDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// RecordMergedDays counts merged daily records written to storage.
func RecordMergedDays(n int) {
	if n > 0 {
		mergedDaysCounter.Add(float64(n))
	}
}

// RecordTokenRefresh counts one refresh outcome.
func RecordTokenRefresh(provider, outcome string) {
	refreshCounter.WithLabelValues(provider, outcome).Inc()
}

// SetQueueDepth updates the offline queue depth gauge.
func SetQueueDepth(n int) {
	queueDepthGauge.Set(float64(n))
}

// RecordQueueFlush counts per-record flush outcomes.
func RecordQueueFlush(outcome string, n int) {
	if n > 0 {
		queueFlushCounter.WithLabelValues(outcome).Add(float64(n))
	}
}

// SetOnline updates the connectivity gauge.
func SetOnline(online bool) {
	if online {
		onlineGauge.Set(1)
	} else {
		onlineGauge.Set(0)
	}
}
