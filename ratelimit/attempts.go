package ratelimit

import (
	"context"
	"time"
)

const (
	// DefaultMaxAttempts is the failure count at which an origin is locked.
	DefaultMaxAttempts = 5
	// DefaultLockout is how long after its last failure an origin stays
	// locked, and how long a failure record is remembered.
	DefaultLockout = 15 * time.Minute
)

// LoginTracker counts failed logins per origin. Per origin it moves
// Clean → Accumulating → Locked, and back to Clean when the lockout
// elapses or a login succeeds.
type LoginTracker struct {
	store       AttemptStore
	maxAttempts int
	lockout     time.Duration
	now         func() time.Time
}

// TrackerOption configures a LoginTracker.
type TrackerOption func(*LoginTracker)

// WithMaxAttempts sets the failure count that triggers lockout.
func WithMaxAttempts(n int) TrackerOption {
	return func(t *LoginTracker) {
		if n > 0 {
			t.maxAttempts = n
		}
	}
}

// WithLockout sets the lockout duration.
func WithLockout(d time.Duration) TrackerOption {
	return func(t *LoginTracker) {
		if d > 0 {
			t.lockout = d
		}
	}
}

// WithTrackerClock replaces time.Now, for tests.
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *LoginTracker) { t.now = now }
}

// NewLoginTracker creates a tracker. A nil store means a fresh in-memory store.
func NewLoginTracker(store AttemptStore, opts ...TrackerOption) *LoginTracker {
	if store == nil {
		store = NewMemoryAttemptStore()
	}
	t := &LoginTracker{
		store:       store,
		maxAttempts: DefaultMaxAttempts,
		lockout:     DefaultLockout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// MaxAttempts returns the configured lockout threshold.
func (t *LoginTracker) MaxAttempts() int { return t.maxAttempts }

// Lockout returns the configured lockout duration.
func (t *LoginTracker) Lockout() time.Duration { return t.lockout }

// IsLocked reports whether origin is locked out and, if so, how long
// until it may try again. A stale record is discarded.
func (t *LoginTracker) IsLocked(ctx context.Context, origin string) (bool, time.Duration, error) {
	rec, ok, err := t.store.Load(ctx, origin)
	if err != nil || !ok {
		return false, 0, err
	}
	elapsed := t.now().Sub(rec.LastAttemptAt)
	if elapsed >= t.lockout {
		return false, 0, t.store.DeleteStale(ctx, origin, t.now(), t.lockout)
	}
	if rec.Failures >= t.maxAttempts {
		return true, t.lockout - elapsed, nil
	}
	return false, 0, nil
}

// RecordFailure counts a failed attempt from origin.
func (t *LoginTracker) RecordFailure(ctx context.Context, origin string) (AttemptRecord, error) {
	return t.store.RecordFailure(ctx, origin, t.now(), t.lockout)
}

// Failures returns the live failure count for origin (0 if clean or stale).
func (t *LoginTracker) Failures(ctx context.Context, origin string) (int, error) {
	rec, ok, err := t.store.Load(ctx, origin)
	if err != nil || !ok {
		return 0, err
	}
	if t.now().Sub(rec.LastAttemptAt) >= t.lockout {
		return 0, nil
	}
	return rec.Failures, nil
}

// Clear forgets origin's failures. Called once per successful login.
func (t *LoginTracker) Clear(ctx context.Context, origin string) error {
	return t.store.Delete(ctx, origin)
}

// Sweep drops stale records from stores that do not expire them on their own.
func (t *LoginTracker) Sweep() int {
	if s, ok := t.store.(sweeper); ok {
		return s.Sweep(t.now(), t.lockout)
	}
	return 0
}
