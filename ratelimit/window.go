package ratelimit

import (
	"context"
	"time"
)

const (
	// DefaultLimit is the number of requests allowed per window.
	DefaultLimit = 100
	// DefaultWindow is the fixed window length.
	DefaultWindow = 15 * time.Minute
)

// Status describes an origin's position in its current window.
type Status struct {
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter is a fixed-window request counter keyed by origin. The whole
// window resets once it is older than its length, so a client can land up
// to twice the limit across a boundary. A sliding-window implementation
// can replace it behind the same Allow/Status methods.
type Limiter struct {
	store  WindowStore
	limit  int
	window time.Duration
	now    func() time.Time
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithLimit sets the number of requests allowed per window.
func WithLimit(n int) LimiterOption {
	return func(l *Limiter) {
		if n > 0 {
			l.limit = n
		}
	}
}

// WithWindow sets the window length.
func WithWindow(d time.Duration) LimiterOption {
	return func(l *Limiter) {
		if d > 0 {
			l.window = d
		}
	}
}

// WithLimiterClock replaces time.Now, for tests.
func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates a Limiter. A nil store means a fresh in-memory store.
func NewLimiter(store WindowStore, opts ...LimiterOption) *Limiter {
	if store == nil {
		store = NewMemoryWindowStore()
	}
	l := &Limiter{
		store:  store,
		limit:  DefaultLimit,
		window: DefaultWindow,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow counts one request from origin and reports whether it is within
// the limit.
func (l *Limiter) Allow(ctx context.Context, origin string) (Status, bool, error) {
	w, err := l.store.Hit(ctx, origin, l.now(), l.window)
	if err != nil {
		return l.fresh(), true, err
	}
	st := l.statusOf(w)
	return st, w.Count <= l.limit, nil
}

// Status reports origin's window without counting a request.
func (l *Limiter) Status(ctx context.Context, origin string) (Status, error) {
	w, ok, err := l.store.Peek(ctx, origin)
	if err != nil {
		return l.fresh(), err
	}
	if !ok || l.now().Sub(w.Start) > l.window {
		return l.fresh(), nil
	}
	return l.statusOf(w), nil
}

// Sweep drops expired windows from stores that do not expire them on their own.
func (l *Limiter) Sweep() int {
	if s, ok := l.store.(sweeper); ok {
		return s.Sweep(l.now(), l.window)
	}
	return 0
}

func (l *Limiter) statusOf(w Window) Status {
	remaining := l.limit - w.Count
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		Count:     w.Count,
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   w.Start.Add(l.window),
	}
}

func (l *Limiter) fresh() Status {
	return Status{
		Limit:     l.limit,
		Remaining: l.limit,
		ResetAt:   l.now().Add(l.window),
	}
}
