package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockPriceCache struct {
	prices  map[int64]float64
	GetFunc func(ctx context.Context, productID int64) (float64, bool, error)
	ttl     time.Duration
}

func (m *MockPriceCache) GetPrice(ctx context.Context, productID int64) (float64, bool, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, productID)
	}
	p, ok := m.prices[productID]
	return p, ok, nil
}

func (m *MockPriceCache) SetPrice(_ context.Context, productID int64, price float64, ttl time.Duration) error {
	m.prices[productID] = price
	m.ttl = ttl
	return nil
}

type countingLookup struct {
	price float64
	err   error
	calls int
}

func (c *countingLookup) ProductPrice(context.Context, int64) (float64, error) {
	c.calls++
	return c.price, c.err
}

func TestUnitPrice_CacheHit(t *testing.T) {
	lookup := &countingLookup{price: 1}
	cache := &MockPriceCache{prices: map[int64]float64{10101: 32.5}}
	c := NewCatalog(lookup, cache, time.Minute)

	price, err := c.UnitPrice(context.Background(), 10101)
	require.NoError(t, err)
	assert.Equal(t, 32.5, price)
	assert.Zero(t, lookup.calls)
}

func TestUnitPrice_MissFillsCache(t *testing.T) {
	lookup := &countingLookup{price: 18}
	cache := &MockPriceCache{prices: map[int64]float64{}}
	c := NewCatalog(lookup, cache, time.Minute)

	price, err := c.UnitPrice(context.Background(), 10102)
	require.NoError(t, err)
	assert.Equal(t, 18.0, price)
	assert.Equal(t, 18.0, cache.prices[10102])
	assert.Equal(t, time.Minute, cache.ttl)

	_, err = c.UnitPrice(context.Background(), 10102)
	require.NoError(t, err)
	assert.Equal(t, 1, lookup.calls)
}

func TestUnitPrice_CacheErrorFallsThrough(t *testing.T) {
	lookup := &countingLookup{price: 7}
	cache := &MockPriceCache{prices: map[int64]float64{}, GetFunc: func(context.Context, int64) (float64, bool, error) {
		return 0, false, errors.New("redis: connection pool timeout")
	}}
	c := NewCatalog(lookup, cache, 0)

	price, err := c.UnitPrice(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 7.0, price)
}

func TestUnitPrice_LookupError(t *testing.T) {
	lookup := &countingLookup{err: errors.New("catalog down")}
	c := NewCatalog(lookup, nil, 0)

	_, err := c.UnitPrice(context.Background(), 1)
	assert.Error(t, err)
}
