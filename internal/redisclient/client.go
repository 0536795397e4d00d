package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"order-reconciler/internal/models"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/mark_seen.lua
var markSeenScript string

//go:embed scripts/advance_watermark.lua
var advanceWatermarkScript string

const (
	seenKey      = "dedup:seen"
	watermarkKey = "sync:watermarks"
)

type Client struct {
	rdb             *redis.Client
	capacity        int
	markSeenScript  *redis.Script
	watermarkScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded.
// capacity bounds the processed-key set; 0 keeps every key.
func NewClient(addr, password string, db, capacity int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:             rdb,
		capacity:        capacity,
		markSeenScript:  redis.NewScript(markSeenScript),
		watermarkScript: redis.NewScript(advanceWatermarkScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Seen reports whether the key is in the processed set
func (c *Client) Seen(ctx context.Context, key models.DedupKey) (bool, error) {
	err := c.rdb.ZScore(ctx, seenKey, key.String()).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis seen check failed: %w", err)
	}
	return true, nil
}

// MarkSeen adds the key and trims the set to capacity, oldest first
func (c *Client) MarkSeen(ctx context.Context, key models.DedupKey) error {
	score := time.Now().UnixMilli()
	_, err := c.markSeenScript.Run(ctx, c.rdb, []string{seenKey}, key.String(), score, c.capacity).Result()
	if err != nil {
		return fmt.Errorf("mark seen script failed: %w", err)
	}
	return nil
}

// GetWatermark returns the last processed composite timestamp of feed
func (c *Client) GetWatermark(ctx context.Context, feed string) (string, error) {
	wm, err := c.rdb.HGet(ctx, watermarkKey, feed).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis watermark read failed: %w", err)
	}
	return wm, nil
}

// AdvanceWatermark atomically sets the watermark when ts is newer
func (c *Client) AdvanceWatermark(ctx context.Context, feed, ts string) error {
	_, err := c.watermarkScript.Run(ctx, c.rdb, []string{watermarkKey}, feed, ts).Result()
	if err != nil {
		return fmt.Errorf("advance watermark script failed: %w", err)
	}
	return nil
}

// GetPrice reads a cached unit price
func (c *Client) GetPrice(ctx context.Context, productID int64) (float64, bool, error) {
	raw, err := c.rdb.Get(ctx, priceKey(productID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid cached price %q: %w", raw, err)
	}
	return price, true, nil
}

// SetPrice caches a unit price with TTL
func (c *Client) SetPrice(ctx context.Context, productID int64, price float64, ttl time.Duration) error {
	return c.rdb.Set(ctx, priceKey(productID), strconv.FormatFloat(price, 'f', -1, 64), ttl).Err()
}

func priceKey(productID int64) string {
	return fmt.Sprintf("price:%d", productID)
}
