package simulator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aspire/market-engine/internal/metrics"
	"github.com/aspire/market-engine/internal/store"
)

// Retention deletes price history older than a fixed horizon.
type Retention struct {
	store    store.Store
	log      *zap.Logger
	interval time.Duration
	horizon  time.Duration
	now      func() time.Time
}

// NewRetention creates a pruner that runs every interval and keeps horizon
// worth of history.
func NewRetention(st store.Store, log *zap.Logger, interval, horizon time.Duration) *Retention {
	return &Retention{
		store:    st,
		log:      log,
		interval: interval,
		horizon:  horizon,
		now:      time.Now,
	}
}

// Run prunes on every interval until ctx is cancelled.
func (r *Retention) Run(ctx context.Context) {
	r.log.Info("price history cleanup started",
		zap.Duration("interval", r.interval),
		zap.Duration("horizon", r.horizon),
	)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Prune(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("price history cleanup failed", zap.Error(err))
			}
		}
	}
}

// Prune deletes every point recorded before now minus the horizon.
func (r *Retention) Prune(ctx context.Context) (int64, error) {
	cutoff := r.now().UTC().Add(-r.horizon)
	n, err := r.store.PrunePriceHistory(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	metrics.HistoryPruned.Add(float64(n))
	r.log.Info("cleaned up old price history",
		zap.Int64("deleted", n),
		zap.Time("cutoff", cutoff),
	)
	return n, nil
}
