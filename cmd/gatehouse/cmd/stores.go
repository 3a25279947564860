package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/gatehouse/internal/config"
	"github.com/jmcleod/gatehouse/ratelimit"
	"github.com/jmcleod/gatehouse/storage"
	bboltstorage "github.com/jmcleod/gatehouse/storage/bbolt"
	redisstorage "github.com/jmcleod/gatehouse/storage/redis"
)

// revocationsFile is the on-disk denylist used when no Redis is configured.
const revocationsFile = "revocations.db"

// stores is the state backing the throttles and the session denylist.
type stores struct {
	attempts    ratelimit.AttemptStore
	windows     ratelimit.WindowStore
	revocations storage.Revocations
	kind        string
	closers     []func() error
}

// openStores selects shared Redis state when REDIS_URL is set; otherwise
// throttle state is process-local and revocations go to a BBolt file in
// the data directory so that logouts survive a restart.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.RedisURL != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		rdb, err := redisstorage.NewClient(pingCtx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return &stores{
			attempts:    redisstorage.NewAttemptStore(rdb),
			windows:     redisstorage.NewWindowStore(rdb),
			revocations: redisstorage.NewRevocations(rdb),
			kind:        "redis",
			closers:     []func() error{rdb.Close},
		}, nil
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	revocations, err := bboltstorage.NewRevocationsFromFile(
		filepath.Join(cfg.DataDir, revocationsFile),
		&bbolt.Options{Timeout: time.Second},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open revocation storage: %w", err)
	}
	return &stores{
		attempts:    ratelimit.NewMemoryAttemptStore(),
		windows:     ratelimit.NewMemoryWindowStore(),
		revocations: revocations,
		kind:        "memory+bbolt",
		closers:     []func() error{revocations.Close},
	}, nil
}

func (s *stores) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
