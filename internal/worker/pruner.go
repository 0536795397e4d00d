package worker

import (
	"context"
	"time"

	"order-reconciler/internal/util"

	"go.uber.org/zap"
)

// DefaultPruneInterval is the pause between two retention passes
const DefaultPruneInterval = time.Hour

// Prunable drops expired dedup keys
type Prunable interface {
	Prune(ctx context.Context) (int, error)
}

// StatePruner keeps the durable dedup state inside its retention window
type StatePruner struct {
	state    Prunable
	interval time.Duration
	logger   *zap.Logger
}

func NewStatePruner(state Prunable, interval time.Duration) *StatePruner {
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	return &StatePruner{state: state, interval: interval, logger: util.GetLogger()}
}

// Start prunes immediately and then once per interval until ctx is cancelled
func (p *StatePruner) Start(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		n, err := p.state.Prune(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			p.logger.Error("Dedup retention pass failed", zap.Error(err))
		case n > 0:
			util.DedupPrunedTotal.Add(float64(n))
			p.logger.Info("Pruned expired dedup keys", zap.Int("count", n))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
