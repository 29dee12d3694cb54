package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bcnelson/splunk-eam/internal/observability"
)

// Janitor periodically evicts expired tokens and leases from stores that do
// not expire records on their own.
type Janitor struct {
	store    Storage
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewJanitor creates a Janitor sweeping every interval.
func NewJanitor(store Storage, interval time.Duration, logger *zap.Logger) *Janitor {
	return &Janitor{store: store, interval: interval, now: time.Now, logger: logger}
}

// Run sweeps until ctx is done. It always returns nil so it can run in an
// errgroup next to the server.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs a single purge pass.
func (j *Janitor) Sweep(ctx context.Context) int {
	n, err := j.store.PurgeExpired(ctx, j.now())
	observability.StoreSweeps.Inc()
	if err != nil {
		j.logger.Warn("expired record sweep failed", zap.Error(err))
		return n
	}
	observability.StoreSweptRecords.Add(float64(n))
	if n > 0 {
		j.logger.Debug("expired records swept", zap.Int("count", n))
	}
	return n
}
