// Package guard provides abuse controls: sliding-window rate limiting and
// failed-login account lockout.
package guard

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter is a sliding-window rate limiter. Each key owns an ordered list of
// request timestamps bounded to the window; entries older than the window are
// pruned on access and by Sweep.
type Limiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	max     int
	window  time.Duration
	now     func() time.Time
}

// NewLimiter creates a Limiter allowing max requests per key per window.
func NewLimiter(max int, window time.Duration) *Limiter {
	return NewLimiterWithClock(max, window, func() time.Time { return time.Now().UTC() })
}

// NewLimiterWithClock creates a Limiter with a custom clock (for testing).
func NewLimiterWithClock(max int, window time.Duration, now func() time.Time) *Limiter {
	if max <= 0 {
		panic("guard: limiter max must be positive")
	}
	if window <= 0 {
		panic("guard: limiter window must be positive")
	}
	if now == nil {
		panic("guard: nil clock")
	}
	return &Limiter{
		windows: make(map[string][]time.Time),
		max:     max,
		window:  window,
		now:     now,
	}
}

// Allow records a request for key if capacity remains and reports the
// decision. When the key is at capacity, RetryAfter is the time until the
// oldest in-window request leaves the window.
func (l *Limiter) Allow(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	stamps := l.windows[key]
	pruned := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}

	if len(pruned) >= l.max {
		l.windows[key] = pruned
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: pruned[0].Sub(cutoff),
		}
	}

	pruned = append(pruned, now)
	l.windows[key] = pruned
	return Decision{
		Allowed:   true,
		Remaining: l.max - len(pruned),
	}
}

// Sweep discards keys with no timestamps left in the window and returns the
// number of keys removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	removed := 0
	for key, stamps := range l.windows {
		live := false
		for _, ts := range stamps {
			if ts.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep at a fixed interval until ctx is cancelled.
func (l *Limiter) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Sweep()
			}
		}
	}()
}
