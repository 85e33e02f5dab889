package storage

import (
	"context"
	"time"

	"github.com/cuemby/citypulse/pkg/log"
	"github.com/rs/zerolog"
)

// DefaultSweepInterval is how often Retention prunes when no interval is set
const DefaultSweepInterval = 10 * time.Minute

// Retention periodically deletes sensor readings older than MaxAge. Events
// and alerts are kept.
type Retention struct {
	store    Store
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// NewRetention creates a sweeper for store. maxAge <= 0 disables pruning.
func NewRetention(store Store, maxAge, interval time.Duration) *Retention {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Retention{
		store:    store,
		maxAge:   maxAge,
		interval: interval,
		now:      time.Now,
		logger:   log.WithComponent("retention"),
	}
}

// Sweep prunes once and returns the number of readings removed
func (r *Retention) Sweep() (int, error) {
	if r.maxAge <= 0 {
		return 0, nil
	}
	cutoff := r.now().Add(-r.maxAge)
	n, err := r.store.PruneReadings(cutoff)
	if err != nil {
		r.logger.Error().Err(err).Time("cutoff", cutoff).Msg("Failed to prune readings")
		return 0, err
	}
	if n > 0 {
		r.logger.Debug().Int("removed", n).Time("cutoff", cutoff).Msg("Pruned readings")
	}
	return n, nil
}

// Run sweeps on every interval until ctx ends
func (r *Retention) Run(ctx context.Context) error {
	if r.maxAge <= 0 {
		return nil
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, _ = r.Sweep()
		}
	}
}
