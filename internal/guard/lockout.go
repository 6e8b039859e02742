package guard

import (
	"sync"
	"time"
)

type lockoutRecord struct {
	failures  int
	lockUntil time.Time
}

// Lockout tracks consecutive failed logins per username and locks an account
// for a fixed duration once a threshold is reached. The lock applies
// regardless of source address, which blunts distributed brute force.
type Lockout struct {
	mu        sync.Mutex
	records   map[string]*lockoutRecord
	threshold int
	duration  time.Duration
	now       func() time.Time
}

// NewLockout creates a Lockout that locks after threshold consecutive
// failures for the given duration.
func NewLockout(threshold int, duration time.Duration) *Lockout {
	return NewLockoutWithClock(threshold, duration, func() time.Time { return time.Now().UTC() })
}

// NewLockoutWithClock creates a Lockout with a custom clock (for testing).
func NewLockoutWithClock(threshold int, duration time.Duration, now func() time.Time) *Lockout {
	if threshold <= 0 {
		panic("guard: lockout threshold must be positive")
	}
	if duration <= 0 {
		panic("guard: lockout duration must be positive")
	}
	if now == nil {
		panic("guard: nil clock")
	}
	return &Lockout{
		records:   make(map[string]*lockoutRecord),
		threshold: threshold,
		duration:  duration,
		now:       now,
	}
}

// RecordFailure counts a failed login and reports whether the account is now
// locked.
func (lo *Lockout) RecordFailure(username string) bool {
	lo.mu.Lock()
	defer lo.mu.Unlock()

	rec, ok := lo.records[username]
	if !ok {
		rec = &lockoutRecord{}
		lo.records[username] = rec
	}

	now := lo.now()
	if !rec.lockUntil.IsZero() && now.After(rec.lockUntil) {
		// Previous lock expired; start a fresh count.
		rec.failures = 0
		rec.lockUntil = time.Time{}
	}

	rec.failures++
	if rec.failures >= lo.threshold {
		rec.lockUntil = now.Add(lo.duration)
		return true
	}
	return false
}

// RecordSuccess clears the failure count for a username.
func (lo *Lockout) RecordSuccess(username string) {
	lo.mu.Lock()
	defer lo.mu.Unlock()
	delete(lo.records, username)
}

// IsLocked reports whether an account is locked and, if so, for how much
// longer. An expired lock is cleared lazily here.
func (lo *Lockout) IsLocked(username string) (bool, time.Duration) {
	lo.mu.Lock()
	defer lo.mu.Unlock()

	rec, ok := lo.records[username]
	if !ok || rec.lockUntil.IsZero() {
		return false, 0
	}

	now := lo.now()
	if now.After(rec.lockUntil) {
		delete(lo.records, username)
		return false, 0
	}
	return true, rec.lockUntil.Sub(now)
}

// Sweep drops records whose lock has expired and whose failure count is
// stale, returning the number removed.
func (lo *Lockout) Sweep() int {
	lo.mu.Lock()
	defer lo.mu.Unlock()

	now := lo.now()
	removed := 0
	for name, rec := range lo.records {
		if !rec.lockUntil.IsZero() && now.After(rec.lockUntil) {
			delete(lo.records, name)
			removed++
		}
	}
	return removed
}
