// Package connectivity tracks whether the upstream network is reachable and
// notifies subscribers on transitions. The offline queue flushes on the
// offline-to-online edge.
package connectivity

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"
)

// Prober answers a single reachability check.
type Prober interface {
	Probe(ctx context.Context) bool
}

// HTTPProber checks reachability with a HEAD request. Any response,
// including an error status, counts as reachable: only transport failures
// mean offline.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

func (p *HTTPProber) Probe(ctx context.Context) bool {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// Event is a connectivity transition.
type Event struct {
	Online bool
	At     time.Time
}

// Watcher polls a Prober and fans transition events out to subscribers.
// Subscriber channels have a buffer of one; a subscriber that has not
// drained the previous event gets the newest state only, older transitions
// are dropped.
type Watcher struct {
	prober   Prober
	interval time.Duration
	logger   *log.Logger

	mu     sync.Mutex
	online bool
	subs   map[chan Event]struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger overrides the default logger.
func WithLogger(l *log.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// NewWatcher builds a Watcher. The watcher starts in the online state so a
// process booting with working connectivity does not emit a spurious
// offline-to-online transition.
func NewWatcher(prober Prober, interval time.Duration, opts ...Option) *Watcher {
	w := &Watcher{
		prober:   prober,
		interval: interval,
		logger:   log.New(log.Writer(), "[connectivity] ", log.LstdFlags),
		online:   true,
		subs:     make(map[chan Event]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Online reports the last observed state.
func (w *Watcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online
}

// Subscribe registers for transition events. The returned cancel func must
// be called to release the subscription.
func (w *Watcher) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 1)
	w.mu.Lock()
	w.subs[ch] = struct{}{}
	w.mu.Unlock()

	cancel := func() {
		w.mu.Lock()
		delete(w.subs, ch)
		w.mu.Unlock()
	}
	return ch, cancel
}

// Run polls until the context is cancelled. It probes immediately on start
// so the first interval does not pass with a stale assumed state.
func (w *Watcher) Run(ctx context.Context) {
	w.check(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

func (w *Watcher) check(ctx context.Context) {
	online := w.prober.Probe(ctx)

	w.mu.Lock()
	changed := online != w.online
	w.online = online
	var targets []chan Event
	if changed {
		for ch := range w.subs {
			targets = append(targets, ch)
		}
	}
	w.mu.Unlock()

	if !changed {
		return
	}
	if online {
		w.logger.Printf("connectivity restored")
	} else {
		w.logger.Printf("connectivity lost")
	}

	ev := Event{Online: online, At: time.Now().UTC()}
	for _, ch := range targets {
		select {
		case ch <- ev:
		default:
			// Subscriber still holds the previous event; replace it so the
			// channel always carries the newest state.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}
