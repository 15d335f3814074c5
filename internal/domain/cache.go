package domain

import (
	"context"
	"io"
	"time"
)

// PriceCache provides fast access to the latest prices.
type PriceCache interface {
	SetPrice(ctx context.Context, assetID string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, assetID string) (float64, time.Time, error)
	GetPrices(ctx context.Context, assetIDs []string) (map[string]float64, error)
}

// OrderbookCache stores live orderbook state. UpdateLevel applies one
// incremental level change without replacing the whole book; a size of 0
// removes the level.
type OrderbookCache interface {
	SetSnapshot(ctx context.Context, assetID string, snap OrderbookSnapshot) error
	GetSnapshot(ctx context.Context, assetID string) (OrderbookSnapshot, error)
	UpdateLevel(ctx context.Context, assetID, side string, price, size float64) error
	GetBBO(ctx context.Context, assetID string) (bestBid, bestAsk float64, err error)
}

// GroupCache caches discovered market groups between refresh cycles.
type GroupCache interface {
	SetGroups(ctx context.Context, groups []MarketGroup) error
	GetGroups(ctx context.Context) ([]MarketGroup, error)
	GetGroup(ctx context.Context, id string) (MarketGroup, error)
}

// RateLimiter provides distributed rate limiting. Wait blocks until a token
// for the key is available or the context is cancelled.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking. The on-chain executor uses it to
// serialize transactions per signing wallet (one in-flight tx per key).
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver moves terminal execution records to cold storage.
type Archiver interface {
	ArchiveResults(ctx context.Context, before time.Time) (int64, error)
}
