package guard

import (
	"testing"
	"time"
)

func TestLimiterWindowing(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	l := NewLimiterWithClock(5, time.Minute, func() time.Time { return now })

	for i := 0; i < 5; i++ {
		d := l.Allow("login:10.0.0.1")
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if d.Remaining != 4-i {
			t.Errorf("request %d: remaining = %d, want %d", i+1, d.Remaining, 4-i)
		}
	}

	d := l.Allow("login:10.0.0.1")
	if d.Allowed {
		t.Fatal("6th request should be denied")
	}
	if d.RetryAfter <= 0 {
		t.Errorf("expected positive RetryAfter, got %v", d.RetryAfter)
	}

	// After the window fully elapses the key is fresh again.
	now = now.Add(61 * time.Second)
	if d := l.Allow("login:10.0.0.1"); !d.Allowed {
		t.Error("request after window should be allowed")
	}
}

func TestLimiterRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	l := NewLimiterWithClock(1, time.Minute, func() time.Time { return now })

	l.Allow("k")
	now = now.Add(20 * time.Second)

	d := l.Allow("k")
	if d.Allowed {
		t.Fatal("expected denial")
	}
	// Oldest stamp exits the window 40s from now.
	if d.RetryAfter != 40*time.Second {
		t.Errorf("RetryAfter = %v, want 40s", d.RetryAfter)
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	l := NewLimiterWithClock(1, time.Minute, func() time.Time { return now })

	if d := l.Allow("api:10.0.0.1"); !d.Allowed {
		t.Fatal("first key should be allowed")
	}
	if d := l.Allow("api:10.0.0.2"); !d.Allowed {
		t.Error("second key must not share the first key's counter")
	}
	if d := l.Allow("api:10.0.0.1"); d.Allowed {
		t.Error("first key should now be at capacity")
	}
}

func TestLimiterSweep(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	l := NewLimiterWithClock(5, time.Minute, func() time.Time { return now })

	l.Allow("a")
	l.Allow("b")
	now = now.Add(30 * time.Second)
	l.Allow("c")

	now = now.Add(45 * time.Second)
	if removed := l.Sweep(); removed != 2 {
		t.Errorf("expected 2 keys swept, got %d", removed)
	}
}

func TestLockout(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	lo := NewLockoutWithClock(3, 15*time.Minute, func() time.Time { return now })

	if lo.RecordFailure("alice") {
		t.Error("1st failure should not lock")
	}
	if lo.RecordFailure("alice") {
		t.Error("2nd failure should not lock")
	}
	if !lo.RecordFailure("alice") {
		t.Error("3rd failure should lock")
	}

	locked, remaining := lo.IsLocked("alice")
	if !locked {
		t.Fatal("expected alice to be locked")
	}
	if remaining != 15*time.Minute {
		t.Errorf("remaining = %v, want 15m", remaining)
	}

	// Other accounts are unaffected.
	if locked, _ := lo.IsLocked("bob"); locked {
		t.Error("bob should not be locked")
	}

	// Lock expires lazily.
	now = now.Add(16 * time.Minute)
	if locked, _ := lo.IsLocked("alice"); locked {
		t.Error("lock should have expired")
	}
}

func TestLockoutSuccessResets(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	lo := NewLockoutWithClock(3, 15*time.Minute, func() time.Time { return now })

	lo.RecordFailure("alice")
	lo.RecordFailure("alice")
	lo.RecordSuccess("alice")

	// The count starts over after a successful login.
	if lo.RecordFailure("alice") {
		t.Error("failure after success should not lock")
	}
}

func TestLockoutSweep(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	lo := NewLockoutWithClock(1, 10*time.Minute, func() time.Time { return now })

	lo.RecordFailure("alice")
	lo.RecordFailure("bob")

	now = now.Add(11 * time.Minute)
	if removed := lo.Sweep(); removed != 2 {
		t.Errorf("expected 2 records swept, got %d", removed)
	}
}
