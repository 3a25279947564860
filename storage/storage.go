// Package storage defines the persistence contracts shared by the session
// layer and its backends.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyID is returned when a revocation is attempted without a token id.
var ErrEmptyID = errors.New("empty token id")

// Revocations is a denylist of session token ids. An entry only needs to
// outlive the token it revokes, so every entry carries an expiry.
type Revocations interface {
	// Revoke denies id until the given time.
	Revoke(ctx context.Context, id string, until time.Time) error
	// IsRevoked reports whether id is denied at now.
	IsRevoked(ctx context.Context, id string, now time.Time) (bool, error)
}

// Sweeper is implemented by Revocations that keep expired entries until
// told to drop them.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}
