package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"order-reconciler/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockBackend is a Backend with overridable behaviour
type MockBackend struct {
	mu         sync.Mutex
	seen       map[string]bool
	watermarks map[string]string

	SeenFunc      func(ctx context.Context, key models.DedupKey) (bool, error)
	MarkSeenFunc  func(ctx context.Context, key models.DedupKey) error
	WatermarkFunc func(ctx context.Context, feed string) (string, error)
}

func NewMockBackend() *MockBackend {
	return &MockBackend{seen: map[string]bool{}, watermarks: map[string]string{}}
}

func (m *MockBackend) Seen(ctx context.Context, key models.DedupKey) (bool, error) {
	if m.SeenFunc != nil {
		return m.SeenFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[key.String()], nil
}

func (m *MockBackend) MarkSeen(ctx context.Context, key models.DedupKey) error {
	if m.MarkSeenFunc != nil {
		return m.MarkSeenFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[key.String()] = true
	return nil
}

func (m *MockBackend) GetWatermark(ctx context.Context, feed string) (string, error) {
	if m.WatermarkFunc != nil {
		return m.WatermarkFunc(ctx, feed)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watermarks[feed], nil
}

func (m *MockBackend) AdvanceWatermark(_ context.Context, feed, ts string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts > m.watermarks[feed] {
		m.watermarks[feed] = ts
	}
	return nil
}

func (m *MockBackend) PruneSeen(_ context.Context, before string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.seen {
		if parts := strings.Split(k, "|"); len(parts) == 3 && parts[1] < before {
			delete(m.seen, k)
			n++
		}
	}
	return n, nil
}

func (m *MockBackend) Close() error { return nil }

var key = models.DedupKey{Phone: "5599999999", Date: "2025-10-27", Time: "16:32:32"}

func TestBoundedSet_EvictsOldest(t *testing.T) {
	s := NewBoundedSet(3)
	for i := 1; i <= 4; i++ {
		assert.True(t, s.Add(fmt.Sprintf("k%d", i)))
	}

	assert.Equal(t, 3, s.Len())
	assert.False(t, s.Contains("k1"))
	assert.True(t, s.Contains("k2"))
	assert.True(t, s.Contains("k4"))
	assert.False(t, s.Add("k4"), "re-adding an existing key is not new")
}

func TestBoundedSet_ConcurrentAdds(t *testing.T) {
	s := NewBoundedSet(100)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		g := g
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				s.Add(fmt.Sprintf("%d-%d", g, i))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, s.Len())
}

func TestTiered_MemoryOnly(t *testing.T) {
	ctx := context.Background()
	st := NewTiered(10, nil)

	seen, err := st.Seen(ctx, key)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, st.MarkSeen(ctx, key))
	seen, err = st.Seen(ctx, key)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestTiered_BackendSeenIsCached(t *testing.T) {
	ctx := context.Background()
	backend := NewMockBackend()
	require.NoError(t, backend.MarkSeen(ctx, key))

	st := NewTiered(10, backend)
	seen, err := st.Seen(ctx, key)
	require.NoError(t, err)
	assert.True(t, seen)

	backend.SeenFunc = func(context.Context, models.DedupKey) (bool, error) {
		return false, errors.New("should not be called")
	}
	seen, err = st.Seen(ctx, key)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestTiered_BackendFailureTreatedAsUnseen(t *testing.T) {
	backend := NewMockBackend()
	backend.SeenFunc = func(context.Context, models.DedupKey) (bool, error) {
		return false, errors.New("connection refused")
	}

	st := NewTiered(10, backend)
	seen, err := st.Seen(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestTiered_MarkSeenBackendFailureStillRemembersKey(t *testing.T) {
	ctx := context.Background()
	backend := NewMockBackend()
	backend.MarkSeenFunc = func(context.Context, models.DedupKey) error {
		return errors.New("read-only replica")
	}

	st := NewTiered(10, backend)
	assert.Error(t, st.MarkSeen(ctx, key))

	seen, err := st.Seen(ctx, key)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestTiered_WatermarkNeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	backend := NewMockBackend()
	st := NewTiered(10, backend)

	require.NoError(t, st.AdvanceWatermark(ctx, "pedidos", "2025-10-27T16:32:32"))
	require.NoError(t, st.AdvanceWatermark(ctx, "pedidos", "2025-10-26T10:00:00"))

	wm, err := st.GetWatermark(ctx, "pedidos")
	require.NoError(t, err)
	assert.Equal(t, "2025-10-27T16:32:32", wm)
	assert.Equal(t, "2025-10-27T16:32:32", backend.watermarks["pedidos"])
}

func TestTiered_WatermarkFallsBackToCache(t *testing.T) {
	ctx := context.Background()
	backend := NewMockBackend()
	st := NewTiered(10, backend)
	require.NoError(t, st.AdvanceWatermark(ctx, "pedidos", "2025-10-27T16:32:32"))

	backend.WatermarkFunc = func(context.Context, string) (string, error) {
		return "", errors.New("timeout")
	}
	wm, err := st.GetWatermark(ctx, "pedidos")
	require.NoError(t, err)
	assert.Equal(t, "2025-10-27T16:32:32", wm)
}

func TestTiered_WatermarkLoadedFromBackend(t *testing.T) {
	ctx := context.Background()
	backend := NewMockBackend()
	backend.watermarks["pedidos"] = "2025-10-20T08:00:00"

	st := NewTiered(10, backend)
	wm, err := st.GetWatermark(ctx, "pedidos")
	require.NoError(t, err)
	assert.Equal(t, "2025-10-20T08:00:00", wm)

	require.NoError(t, st.AdvanceWatermark(ctx, "pedidos", "2025-10-19T08:00:00"))
	assert.Equal(t, "2025-10-20T08:00:00", backend.watermarks["pedidos"])
}

func TestTiered_RetentionPrunesAndTreatsExpiredAsSeen(t *testing.T) {
	backend := NewMockBackend()
	ctx := context.Background()
	old := models.DedupKey{Phone: "5599999999", Date: "2025-07-01", Time: "12:00:00"}
	recent := models.DedupKey{Phone: "5599999999", Date: "2025-10-20", Time: "12:00:00"}
	require.NoError(t, backend.MarkSeen(ctx, old))
	require.NoError(t, backend.MarkSeen(ctx, recent))

	tiered := NewTiered(10, backend)
	tiered.now = func() time.Time { return time.Date(2025, 10, 27, 16, 0, 0, 0, time.UTC) }

	n, err := tiered.Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "retention is off by default")

	tiered.SetRetention(30 * 24 * time.Hour)
	n, err = tiered.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	seen, err := backend.Seen(ctx, old)
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = tiered.Seen(ctx, old)
	require.NoError(t, err)
	assert.True(t, seen, "events before the horizon are never replayed")

	seen, err = tiered.Seen(ctx, models.DedupKey{Phone: "5511111111", Date: "2025-10-26", Time: "08:00:00"})
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestTiered_RetentionIgnoredWithoutPrunableBackend(t *testing.T) {
	tiered := NewTiered(10, nil)
	tiered.SetRetention(time.Hour)

	seen, err := tiered.Seen(context.Background(), models.DedupKey{Phone: "1", Date: "2000-01-01", Time: "00:00:00"})
	require.NoError(t, err)
	assert.False(t, seen)
}
