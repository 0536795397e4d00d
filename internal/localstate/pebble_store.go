package localstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"order-reconciler/internal/models"

	"github.com/cockroachdb/pebble"
)

const (
	seenPrefix      = "seen/"
	watermarkPrefix = "watermark/"
)

type seenRecord struct {
	Phone       string    `json:"phone"`
	Date        string    `json:"date"`
	Time        string    `json:"time"`
	ProcessedAt time.Time `json:"processed_at"`
}

// PebbleStore keeps dedup keys and watermarks in a local Pebble database.
type PebbleStore struct {
	db *pebble.DB

	// serializes watermark read-compare-write
	mu sync.Mutex
}

func NewPebbleStore(dir string) (*PebbleStore, error) {
	opts := &pebble.Options{
		MemTableSize:          16 << 20,
		L0CompactionThreshold: 4,
		L0StopWritesThreshold: 8,
	}
	d, err := pebble.Open(filepath.Clean(dir), opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleStore{db: d}, nil
}

func (p *PebbleStore) Close() error { return p.db.Close() }

func (p *PebbleStore) Seen(_ context.Context, key models.DedupKey) (bool, error) {
	_, closer, err := p.db.Get([]byte(seenPrefix + key.String()))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_ = closer.Close()
	return true, nil
}

func (p *PebbleStore) MarkSeen(_ context.Context, key models.DedupKey) error {
	val, err := json.Marshal(seenRecord{
		Phone:       key.Phone,
		Date:        key.Date,
		Time:        key.Time,
		ProcessedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return p.db.Set([]byte(seenPrefix+key.String()), val, pebble.Sync)
}

func (p *PebbleStore) GetWatermark(_ context.Context, feed string) (string, error) {
	return p.watermark(feed)
}

func (p *PebbleStore) watermark(feed string) (string, error) {
	v, closer, err := p.db.Get([]byte(watermarkPrefix + feed))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer closer.Close()
	return string(v), nil
}

// AdvanceWatermark is a no-op when ts is not newer than the stored value
func (p *PebbleStore) AdvanceWatermark(_ context.Context, feed, ts string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, err := p.watermark(feed)
	if err != nil {
		return err
	}
	if ts <= cur {
		return nil
	}
	return p.db.Set([]byte(watermarkPrefix+feed), []byte(ts), pebble.Sync)
}

// SeenCount counts stored dedup keys
func (p *PebbleStore) SeenCount() (int, error) {
	it, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(seenPrefix),
		UpperBound: []byte("seen0"),
	})
	if err != nil {
		return 0, err
	}
	defer it.Close()

	n := 0
	for it.First(); it.Valid(); it.Next() {
		n++
	}
	return n, it.Error()
}

// PruneSeen deletes the dedup keys of events dated before the given day
func (p *PebbleStore) PruneSeen(_ context.Context, before string) (int, error) {
	it, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(seenPrefix),
		UpperBound: []byte("seen0"),
	})
	if err != nil {
		return 0, err
	}

	b := p.db.NewBatch()
	defer b.Close()

	n := 0
	for it.First(); it.Valid(); it.Next() {
		var rec seenRecord
		if err := json.Unmarshal(it.Value(), &rec); err != nil || rec.Date >= before {
			continue
		}
		if err := b.Delete(append([]byte(nil), it.Key()...), nil); err != nil {
			_ = it.Close()
			return 0, err
		}
		n++
	}
	if err := it.Error(); err != nil {
		_ = it.Close()
		return 0, err
	}
	if err := it.Close(); err != nil {
		return 0, err
	}

	if n == 0 {
		return 0, nil
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, err
	}
	return n, nil
}
