package store

import (
	"context"
	"os"
	"testing"

	"order-reconciler/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("DATABASE_TEST_URL")
	if url == "" {
		t.Skip("Integration test - requires database (set DATABASE_TEST_URL)")
	}

	store, err := NewStore(url)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.Migrate(ctx))
	_, err = store.GetDB().ExecContext(ctx, "TRUNCATE processed_events, sync_watermarks")
	require.NoError(t, err)
	return store
}

func TestMarkSeen(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := models.DedupKey{Phone: "5599999999", Date: "2025-10-27", Time: "16:32:32"}

	seen, err := store.Seen(ctx, key)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.MarkSeen(ctx, key))
	require.NoError(t, store.MarkSeen(ctx, key), "marking twice is idempotent")

	seen, err = store.Seen(ctx, key)
	require.NoError(t, err)
	assert.True(t, seen)

	events, err := store.RecentProcessed(ctx, "5599999999", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, key.String(), events[0].DedupKey)
}

func TestWatermark(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	wm, err := store.GetWatermark(ctx, "pedidos")
	require.NoError(t, err)
	assert.Empty(t, wm)

	require.NoError(t, store.AdvanceWatermark(ctx, "pedidos", "2025-10-27T16:32:32"))
	require.NoError(t, store.AdvanceWatermark(ctx, "pedidos", "2025-10-20T08:00:00"))

	wm, err = store.GetWatermark(ctx, "pedidos")
	require.NoError(t, err)
	assert.Equal(t, "2025-10-27T16:32:32", wm)
}

func TestPruneSeen(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := models.DedupKey{Phone: "5599999999", Date: "2025-07-01", Time: "12:00:00"}
	recent := models.DedupKey{Phone: "5599999999", Date: "2025-10-27", Time: "16:32:32"}
	require.NoError(t, store.MarkSeen(ctx, old))
	require.NoError(t, store.MarkSeen(ctx, recent))

	n, err := store.PruneSeen(ctx, "2025-09-27")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	seen, err := store.Seen(ctx, old)
	require.NoError(t, err)
	assert.False(t, seen)
	seen, err = store.Seen(ctx, recent)
	require.NoError(t, err)
	assert.True(t, seen)
}
