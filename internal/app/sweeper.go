package app

import (
	"context"
	"time"

	"github.com/wallet-relay/wallet-relay/internal/logger"
)

// Sweeper periodically expires past-deadline pending relay requests so
// that pollers and list views converge even when nobody reads a stale
// transaction.
type Sweeper struct {
	relay    *RelayService
	interval time.Duration
}

// NewSweeper creates a Sweeper running at the given interval.
func NewSweeper(relay *RelayService, interval time.Duration) *Sweeper {
	return &Sweeper{relay: relay, interval: interval}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.Info(ctx, "expiry sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "expiry sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.relay.ExpireStale(ctx); err != nil {
				logger.Error(ctx, "expiry sweep failed", "error", err)
			}
		}
	}
}
