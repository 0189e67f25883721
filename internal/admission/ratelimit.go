package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mediagrab/mediagrab/internal/logctx"
)

// RateLimitedError represents a request denied by the per-client rate gate.
// RetryAfter says how long until the oldest counted request leaves the
// window.
type RateLimitedError struct {
	Key        string        // Client identifier that hit the limit
	Limit      int           // Accepted requests allowed per window
	Window     time.Duration // Rolling window length
	RetryAfter time.Duration // Time until a slot frees up
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit of %d requests per %s exceeded", e.Limit, e.Window)
}

// RateLimiter admits at most limit accepted requests per client key within a
// rolling window. Denied requests do not consume a slot. Stamps are pruned
// lazily on access; fully idle clients are reclaimed by Sweep so the table
// does not grow with every address that ever connected.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	clients map[string][]time.Time
}

// NewRateLimiter creates a rate limiter allowing limit requests per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		clients: make(map[string][]time.Time),
	}
}

// Allow records and admits a request for key unless the limit is already
// reached within the rolling window. Denials carry *RateLimitedError with a
// retry hint computed from the oldest stamp still counted.
func (l *RateLimiter) Allow(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	stamps := l.clients[key]

	kept := stamps[:0]

	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.limit {
		l.clients[key] = kept

		retryAfter := l.window // nothing ages out when no request was counted
		if len(kept) > 0 {
			retryAfter = kept[0].Add(l.window).Sub(now)
		}

		return &RateLimitedError{
			Key:        key,
			Limit:      l.limit,
			Window:     l.window,
			RetryAfter: retryAfter,
		}
	}

	l.clients[key] = append(kept, now)

	return nil
}

// Sweep drops clients with no stamps left inside the rolling window.
func (l *RateLimiter) Sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)

	for key, stamps := range l.clients {
		idle := true

		for _, ts := range stamps {
			if ts.After(cutoff) {
				idle = false

				break
			}
		}

		if idle {
			delete(l.clients, key)
		}
	}
}

// Run sweeps idle clients once per window until ctx is done. It blocks; run
// it in its own goroutine.
func (l *RateLimiter) Run(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("rate limiter sweep started", "interval", l.window.String())

	ticker := time.NewTicker(l.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("rate limiter sweep shutting down")

			return
		case <-ticker.C:
			l.Sweep(time.Now())
		}
	}
}
