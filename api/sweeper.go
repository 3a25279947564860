package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmcleod/gatehouse/storage"
)

// DefaultSweepInterval is how often RunSweeper collects stale state.
const DefaultSweepInterval = time.Minute

// RunSweeper periodically drops stale attempt records, expired rate
// windows, and expired revocations from stores that keep them in memory
// or on disk. It returns when ctx is done.
func (a *API) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweep(ctx)
		}
	}
}

func (a *API) sweep(ctx context.Context) {
	attempts := a.tracker.Sweep()
	windows := a.limiter.Sweep()
	var revocations int
	if s, ok := a.revocations.(storage.Sweeper); ok {
		n, err := s.Sweep(ctx, a.now())
		if err != nil {
			a.audit.logger.Warn("sweep revocations failed", slog.String("error", err.Error()))
		}
		revocations = n
	}
	if attempts+windows+revocations > 0 {
		a.audit.logger.Debug("swept stale state",
			slog.Int("attempts", attempts),
			slog.Int("windows", windows),
			slog.Int("revocations", revocations),
		)
	}
}
