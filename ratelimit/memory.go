package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryAttemptStore is a process-local AttemptStore.
type MemoryAttemptStore struct {
	mu       sync.Mutex
	attempts map[string]*AttemptRecord
}

var _ AttemptStore = (*MemoryAttemptStore)(nil)

func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{attempts: make(map[string]*AttemptRecord)}
}

func (s *MemoryAttemptStore) Load(_ context.Context, key string) (AttemptRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.attempts[key]
	if !ok {
		return AttemptRecord{}, false, nil
	}
	return *rec, true, nil
}

func (s *MemoryAttemptStore) RecordFailure(_ context.Context, key string, now time.Time, ttl time.Duration) (AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.attempts[key]
	if !ok || now.Sub(rec.LastAttemptAt) >= ttl {
		rec = &AttemptRecord{}
		s.attempts[key] = rec
	}
	rec.Failures++
	rec.LastAttemptAt = now
	return *rec, nil
}

func (s *MemoryAttemptStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, key)
	return nil
}

func (s *MemoryAttemptStore) DeleteStale(_ context.Context, key string, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.attempts[key]; ok && now.Sub(rec.LastAttemptAt) >= ttl {
		delete(s.attempts, key)
	}
	return nil
}

// Sweep removes records whose last failure is ttl or more before now.
func (s *MemoryAttemptStore) Sweep(now time.Time, ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, rec := range s.attempts {
		if now.Sub(rec.LastAttemptAt) >= ttl {
			delete(s.attempts, key)
			n++
		}
	}
	return n
}

// MemoryWindowStore is a process-local WindowStore.
type MemoryWindowStore struct {
	mu      sync.Mutex
	windows map[string]*Window
}

var _ WindowStore = (*MemoryWindowStore)(nil)

func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{windows: make(map[string]*Window)}
}

func (s *MemoryWindowStore) Hit(_ context.Context, key string, now time.Time, length time.Duration) (Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[key]
	if !ok || now.Sub(w.Start) > length {
		w = &Window{Start: now}
		s.windows[key] = w
	}
	w.Count++
	return *w, nil
}

func (s *MemoryWindowStore) Peek(_ context.Context, key string) (Window, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[key]
	if !ok {
		return Window{}, false, nil
	}
	return *w, true, nil
}

// Sweep removes windows that started more than length before now.
func (s *MemoryWindowStore) Sweep(now time.Time, length time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, w := range s.windows {
		if now.Sub(w.Start) > length {
			delete(s.windows, key)
			n++
		}
	}
	return n
}
