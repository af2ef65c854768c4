package idempotency

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically removes expired records.
type Sweeper struct {
	store     Store
	interval  time.Duration
	batchSize int
	clock     func() time.Time
	logger    *zap.Logger
}

// NewSweeper builds a sweeper. A nil logger discards output.
func NewSweeper(store Store, interval time.Duration, batchSize int, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		store:     store,
		interval:  interval,
		batchSize: batchSize,
		clock:     time.Now,
		logger:    logger.Named("idempotency.sweeper"),
	}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s == nil || s.store == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep drains expired records batch by batch and returns how many were removed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	total := 0
	for {
		removed, err := s.store.CleanupExpired(ctx, s.clock(), s.batchSize)
		if err != nil {
			s.logger.Warn("cleanup failed", zap.Error(err), zap.Int("removed", total))
			return total
		}
		total += removed
		if removed == 0 || s.batchSize <= 0 || removed < s.batchSize || ctx.Err() != nil {
			break
		}
	}
	if total > 0 {
		s.logger.Info("expired keys removed", zap.Int("removed", total))
	}
	return total
}
