// Package memory provides a thread-safe in-memory implementation of storage.Revocations.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jmcleod/gatehouse/storage"
)

// Revocations is a thread-safe in-memory token denylist.
// Suitable for testing, demos, and single-process use cases.
type Revocations struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

var (
	_ storage.Revocations = (*Revocations)(nil)
	_ storage.Sweeper     = (*Revocations)(nil)
)

// NewRevocations creates a new empty in-memory denylist.
func NewRevocations() *Revocations {
	return &Revocations{entries: make(map[string]time.Time)}
}

func (r *Revocations) Revoke(_ context.Context, id string, until time.Time) error {
	if id == "" {
		return storage.ErrEmptyID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[id]; !ok || until.After(cur) {
		r.entries[id] = until
	}
	return nil
}

func (r *Revocations) IsRevoked(_ context.Context, id string, now time.Time) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	until, ok := r.entries[id]
	return ok && now.Before(until), nil
}

// Sweep drops entries that have expired at now.
func (r *Revocations) Sweep(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, until := range r.entries {
		if !now.Before(until) {
			delete(r.entries, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, expired or not.
func (r *Revocations) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
