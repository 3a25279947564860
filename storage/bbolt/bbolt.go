// Package bbolt provides a BBolt-backed token denylist.
package bbolt

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/jmcleod/gatehouse/storage"
	"go.etcd.io/bbolt"
)

var bucketName = []byte("revocations")

// Store implements storage.Revocations backed by a BBolt database. Entries
// survive restarts, so a logout stays effective across a redeploy.
type Store struct {
	db *bbolt.DB
}

var (
	_ storage.Revocations = (*Store)(nil)
	_ storage.Sweeper     = (*Store)(nil)
)

// NewRevocations returns a denylist backed by the given BBolt database.
func NewRevocations(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating revocations bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// NewRevocationsFromFile opens a BBolt database at the given path and returns a new denylist.
func NewRevocationsFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s, err := NewRevocations(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeExpiry(t time.Time) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(t.UnixNano()))
	return buf
}

func decodeExpiry(b []byte) (time.Time, bool) {
	if len(b) != 8 {
		return time.Time{}, false
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(b))), true
}

func (s *Store) Revoke(_ context.Context, id string, until time.Time) error {
	if id == "" {
		return storage.ErrEmptyID
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if cur, ok := decodeExpiry(b.Get([]byte(id))); ok && !until.After(cur) {
			return nil
		}
		return b.Put([]byte(id), encodeExpiry(until))
	})
}

func (s *Store) IsRevoked(_ context.Context, id string, now time.Time) (bool, error) {
	if id == "" {
		return false, nil
	}
	var revoked bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		until, ok := decodeExpiry(tx.Bucket(bucketName).Get([]byte(id)))
		revoked = ok && now.Before(until)
		return nil
	})
	return revoked, err
}

// Sweep deletes entries that have expired at now, along with any entry
// whose value cannot be decoded.
func (s *Store) Sweep(_ context.Context, now time.Time) (int, error) {
	var n int
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			if until, ok := decodeExpiry(v); !ok || !now.Before(until) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		n = len(stale)
		return nil
	})
	return n, err
}
