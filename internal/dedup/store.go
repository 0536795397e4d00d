package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"order-reconciler/internal/models"
	"order-reconciler/internal/util"

	"go.uber.org/zap"
)

// Store tracks which events already produced a cascade and how far each feed was processed
type Store interface {
	Seen(ctx context.Context, key models.DedupKey) (bool, error)
	MarkSeen(ctx context.Context, key models.DedupKey) error
	GetWatermark(ctx context.Context, feed string) (string, error)
	AdvanceWatermark(ctx context.Context, feed, ts string) error
}

// Backend is durable storage behind the in-memory set. Implementations must never
// move a watermark backwards.
type Backend interface {
	Store
	Close() error
}

// Pruner is a backend that can drop dedup keys of events dated before a day (YYYY-MM-DD)
type Pruner interface {
	PruneSeen(ctx context.Context, before string) (int, error)
}

// Tiered keeps a bounded in-memory set in front of an optional durable backend.
// Backend read failures are logged and treated as "not seen".
type Tiered struct {
	set     *BoundedSet
	backend Backend
	logger  *zap.Logger

	retention time.Duration
	now       func() time.Time

	mu         sync.Mutex
	watermarks map[string]string
}

// NewTiered creates a store; backend may be nil for memory-only operation
func NewTiered(capacity int, backend Backend) *Tiered {
	return &Tiered{
		set:        NewBoundedSet(capacity),
		backend:    backend,
		logger:     util.GetLogger(),
		now:        time.Now,
		watermarks: make(map[string]string),
	}
}

// SetRetention bounds a prunable backend. Events dated more than d ago count as
// processed and Prune removes their keys; zero keeps everything.
func (t *Tiered) SetRetention(d time.Duration) {
	t.retention = d
}

// horizon is the first day still tracked, "" when nothing expires
func (t *Tiered) horizon() string {
	if t.retention <= 0 {
		return ""
	}
	if _, ok := t.backend.(Pruner); !ok {
		return ""
	}
	return t.now().Add(-t.retention).UTC().Format("2006-01-02")
}

// Prune drops expired keys from the backend
func (t *Tiered) Prune(ctx context.Context) (int, error) {
	h := t.horizon()
	if h == "" {
		return 0, nil
	}
	n, err := t.backend.(Pruner).PruneSeen(ctx, h)
	if err != nil {
		return 0, fmt.Errorf("failed to prune dedup keys before %s: %w", h, err)
	}
	return n, nil
}

func (t *Tiered) Seen(ctx context.Context, key models.DedupKey) (bool, error) {
	k := key.String()
	if t.set.Contains(k) {
		return true, nil
	}
	if h := t.horizon(); h != "" && key.Date < h {
		return true, nil
	}
	if t.backend == nil {
		return false, nil
	}

	seen, err := t.backend.Seen(ctx, key)
	if err != nil {
		t.logger.Warn("Dedup backend unavailable, treating event as unseen",
			zap.String("key", k),
			zap.Error(err))
		return false, nil
	}
	if seen {
		t.set.Add(k)
	}
	return seen, nil
}

func (t *Tiered) MarkSeen(ctx context.Context, key models.DedupKey) error {
	t.set.Add(key.String())
	if t.backend == nil {
		return nil
	}
	if err := t.backend.MarkSeen(ctx, key); err != nil {
		return fmt.Errorf("failed to persist dedup key %s: %w", key, err)
	}
	return nil
}

func (t *Tiered) GetWatermark(ctx context.Context, feed string) (string, error) {
	t.mu.Lock()
	cached := t.watermarks[feed]
	t.mu.Unlock()

	if t.backend == nil {
		return cached, nil
	}

	wm, err := t.backend.GetWatermark(ctx, feed)
	if err != nil {
		t.logger.Warn("Watermark backend unavailable, using cached value",
			zap.String("feed", feed),
			zap.String("watermark", cached),
			zap.Error(err))
		return cached, nil
	}
	if wm < cached {
		return cached, nil
	}

	t.mu.Lock()
	if wm > t.watermarks[feed] {
		t.watermarks[feed] = wm
	}
	t.mu.Unlock()
	return wm, nil
}

// AdvanceWatermark moves the feed watermark forward; older or equal values are ignored
func (t *Tiered) AdvanceWatermark(ctx context.Context, feed, ts string) error {
	t.mu.Lock()
	if ts <= t.watermarks[feed] {
		t.mu.Unlock()
		return nil
	}
	t.watermarks[feed] = ts
	t.mu.Unlock()

	if t.backend == nil {
		return nil
	}
	if err := t.backend.AdvanceWatermark(ctx, feed, ts); err != nil {
		return fmt.Errorf("failed to persist watermark %s=%s: %w", feed, ts, err)
	}
	return nil
}

// Backend returns the durable backend, nil for memory-only operation
func (t *Tiered) Backend() Backend {
	return t.backend
}

// Close releases the backend
func (t *Tiered) Close() error {
	if t.backend == nil {
		return nil
	}
	return t.backend.Close()
}
