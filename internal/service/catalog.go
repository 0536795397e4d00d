package service

import (
	"context"
	"fmt"
	"time"

	"order-reconciler/internal/util"

	"go.uber.org/zap"
)

// PriceLookup reads a unit price from the product catalog
type PriceLookup interface {
	ProductPrice(ctx context.Context, productID int64) (float64, error)
}

// PriceCache is an optional fast path in front of the catalog
type PriceCache interface {
	GetPrice(ctx context.Context, productID int64) (float64, bool, error)
	SetPrice(ctx context.Context, productID int64, price float64, ttl time.Duration) error
}

// Catalog resolves unit prices, cache first
type Catalog struct {
	lookup PriceLookup
	cache  PriceCache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCatalog creates a catalog; cache may be nil
func NewCatalog(lookup PriceLookup, cache PriceCache, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Catalog{
		lookup: lookup,
		cache:  cache,
		ttl:    ttl,
		logger: util.GetLogger(),
	}
}

// UnitPrice returns the price of a product. Cache errors fall through to the catalog.
func (c *Catalog) UnitPrice(ctx context.Context, productID int64) (float64, error) {
	ctx, span := util.StartSpan(ctx, "Catalog.UnitPrice")
	defer span.End()

	if c.cache != nil {
		price, ok, err := c.cache.GetPrice(ctx, productID)
		if err != nil {
			c.logger.Warn("Price cache read failed, falling back to catalog",
				zap.Int64("product_id", productID),
				zap.Error(err))
		} else if ok {
			return price, nil
		}
	}

	price, err := c.lookup.ProductPrice(ctx, productID)
	if err != nil {
		return 0, fmt.Errorf("failed to look up price of product %d: %w", productID, err)
	}

	if c.cache != nil {
		if err := c.cache.SetPrice(ctx, productID, price, c.ttl); err != nil {
			c.logger.Warn("Failed to cache price",
				zap.Int64("product_id", productID),
				zap.Error(err))
		}
	}
	return price, nil
}
