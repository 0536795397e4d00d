package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"order-reconciler/internal/models"
)

// ProcessedEvent is one row of processed_events
type ProcessedEvent struct {
	DedupKey    string    `db:"dedup_key" json:"dedup_key"`
	Phone       string    `db:"phone" json:"phone"`
	Date        string    `db:"event_date" json:"date"`
	Time        string    `db:"event_time" json:"time"`
	ProcessedAt time.Time `db:"processed_at" json:"processed_at"`
}

// Seen checks if an event has been processed
func (s *Store) Seen(ctx context.Context, key models.DedupKey) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE dedup_key = $1)", key.String())
	return exists, err
}

// MarkSeen marks an event as processed
func (s *Store) MarkSeen(ctx context.Context, key models.DedupKey) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_events (dedup_key, phone, event_date, event_time)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (dedup_key) DO NOTHING`,
		key.String(), key.Phone, key.Date, key.Time)
	return err
}

// PruneSeen deletes processed events dated before the given day
func (s *Store) PruneSeen(ctx context.Context, before string) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM processed_events WHERE event_date < $1", before)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// GetWatermark returns the watermark of feed, empty when never set
func (s *Store) GetWatermark(ctx context.Context, feed string) (string, error) {
	var wm string
	err := s.db.GetContext(ctx, &wm, "SELECT watermark FROM sync_watermarks WHERE feed = $1", feed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return wm, err
}

// AdvanceWatermark stores ts unless the stored watermark is already newer
func (s *Store) AdvanceWatermark(ctx context.Context, feed, ts string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_watermarks (feed, watermark) VALUES ($1, $2)
		 ON CONFLICT (feed) DO UPDATE
		 SET watermark = GREATEST(sync_watermarks.watermark, EXCLUDED.watermark), updated_at = NOW()`,
		feed, ts)
	return err
}

// RecentProcessed lists the most recently processed events of a phone
func (s *Store) RecentProcessed(ctx context.Context, phone string, limit int) ([]ProcessedEvent, error) {
	var events []ProcessedEvent
	err := s.db.SelectContext(ctx, &events,
		"SELECT * FROM processed_events WHERE phone = $1 ORDER BY processed_at DESC LIMIT $2", phone, limit)
	return events, err
}
