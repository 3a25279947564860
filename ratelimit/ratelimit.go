// Package ratelimit holds the per-origin throttles: a login attempt tracker
// that locks an origin out after repeated failures, and a fixed-window
// request limiter for API routes.
//
// State lives behind small store interfaces. The in-memory stores are
// correct only for a single serving process; replicated deployments must
// use a shared store (see storage/redis) or each replica enforces its own,
// weaker, limit.
package ratelimit

import (
	"context"
	"time"
)

// AttemptRecord is the failure history of one origin.
type AttemptRecord struct {
	Failures      int       `json:"failures"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
}

// AttemptStore persists AttemptRecords.
type AttemptStore interface {
	// Load returns the record for key, or false if none is stored.
	Load(ctx context.Context, key string) (AttemptRecord, bool, error)
	// RecordFailure increments the failure count for key and sets
	// LastAttemptAt to now. A record last touched ttl or more before now
	// restarts from zero. Stores may drop a record ttl after its last
	// failure.
	RecordFailure(ctx context.Context, key string, now time.Time, ttl time.Duration) (AttemptRecord, error)
	// Delete removes the record for key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// DeleteStale removes the record for key only if its last failure is
	// ttl or more before now, checked atomically with the removal.
	DeleteStale(ctx context.Context, key string, now time.Time, ttl time.Duration) error
}

// Window is one fixed counting window for an origin.
type Window struct {
	Count int       `json:"count"`
	Start time.Time `json:"start"`
}

// WindowStore persists Windows.
type WindowStore interface {
	// Hit counts one request for key. If there is no window, or now is
	// more than length past its start, a new window starting at now with
	// Count 1 replaces it. Otherwise Count is incremented.
	Hit(ctx context.Context, key string, now time.Time, length time.Duration) (Window, error)
	// Peek returns the current window for key without counting.
	Peek(ctx context.Context, key string) (Window, bool, error)
}

// sweeper is implemented by stores that need explicit garbage collection.
type sweeper interface {
	Sweep(now time.Time, ttl time.Duration) int
}
