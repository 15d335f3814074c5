package redis

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/polyclaw/engine/internal/domain"
)

//go:embed scripts/book_level_update.lua
var bookLevelUpdateLua string

// OrderbookCache implements domain.OrderbookCache using one sorted set and
// one size hash per book side, plus a BBO hash. This layout lets the feed
// apply incremental price_change frames without rewriting the whole book.
//
// Key schema:
//
//	book:{assetID}:bids      - sorted set of bid prices (score = price)
//	book:{assetID}:asks      - sorted set of ask prices (score = price)
//	book:{assetID}:bids:size - hash mapping price -> size
//	book:{assetID}:asks:size - hash mapping price -> size
//	book:{assetID}:bbo       - hash with fields "bid" and "ask"
//	book:{assetID}:ts        - snapshot timestamp, Unix nanos
type OrderbookCache struct {
	rdb         *redis.Client
	levelUpdate *redis.Script
}

// NewOrderbookCache creates an OrderbookCache backed by the given Client.
func NewOrderbookCache(c *Client) *OrderbookCache {
	return &OrderbookCache{
		rdb:         c.Underlying(),
		levelUpdate: redis.NewScript(bookLevelUpdateLua),
	}
}

func bookSideKey(assetID, side string) string { return "book:" + assetID + ":" + side }
func bookSizeKey(assetID, side string) string { return "book:" + assetID + ":" + side + ":size" }
func bookBBOKey(assetID string) string        { return "book:" + assetID + ":bbo" }
func bookTSKey(assetID string) string         { return "book:" + assetID + ":ts" }

// SetSnapshot atomically replaces the cached book for an asset.
func (oc *OrderbookCache) SetSnapshot(ctx context.Context, assetID string, snap domain.OrderbookSnapshot) error {
	pipe := oc.rdb.TxPipeline()

	pipe.Del(ctx,
		bookSideKey(assetID, "bids"), bookSideKey(assetID, "asks"),
		bookSizeKey(assetID, "bids"), bookSizeKey(assetID, "asks"),
		bookBBOKey(assetID), bookTSKey(assetID),
	)

	writeSide := func(side string, levels []domain.PriceLevel) {
		for _, lvl := range levels {
			price := strconv.FormatFloat(lvl.Price, 'f', -1, 64)
			size := strconv.FormatFloat(lvl.Size, 'f', -1, 64)
			pipe.ZAdd(ctx, bookSideKey(assetID, side), redis.Z{Score: lvl.Price, Member: price})
			pipe.HSet(ctx, bookSizeKey(assetID, side), price, size)
		}
	}
	writeSide("bids", snap.Bids)
	writeSide("asks", snap.Asks)

	if snap.BestBid > 0 {
		pipe.HSet(ctx, bookBBOKey(assetID), "bid", strconv.FormatFloat(snap.BestBid, 'f', -1, 64))
	}
	if snap.BestAsk > 0 {
		pipe.HSet(ctx, bookBBOKey(assetID), "ask", strconv.FormatFloat(snap.BestAsk, 'f', -1, 64))
	}

	ts := snap.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	pipe.Set(ctx, bookTSKey(assetID), strconv.FormatInt(ts.UnixNano(), 10), 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book snapshot %s: %w", assetID, err)
	}
	return nil
}

// GetSnapshot reconstructs the cached book for an asset. It returns
// domain.ErrNotFound when no snapshot exists.
func (oc *OrderbookCache) GetSnapshot(ctx context.Context, assetID string) (domain.OrderbookSnapshot, error) {
	pipe := oc.rdb.Pipeline()
	bidsCmd := pipe.ZRevRangeWithScores(ctx, bookSideKey(assetID, "bids"), 0, -1)
	asksCmd := pipe.ZRangeWithScores(ctx, bookSideKey(assetID, "asks"), 0, -1)
	bidSizeCmd := pipe.HGetAll(ctx, bookSizeKey(assetID, "bids"))
	askSizeCmd := pipe.HGetAll(ctx, bookSizeKey(assetID, "asks"))
	bboCmd := pipe.HGetAll(ctx, bookBBOKey(assetID))
	tsCmd := pipe.Get(ctx, bookTSKey(assetID))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("redis: get book snapshot %s: %w", assetID, err)
	}

	tsStr, err := tsCmd.Result()
	if err != nil {
		return domain.OrderbookSnapshot{}, domain.ErrNotFound
	}

	snap := domain.OrderbookSnapshot{AssetID: assetID}
	if tsNano, err := strconv.ParseInt(tsStr, 10, 64); err == nil {
		snap.Timestamp = time.Unix(0, tsNano)
	}

	buildSide := func(zs []redis.Z, sizes map[string]string) []domain.PriceLevel {
		levels := make([]domain.PriceLevel, 0, len(zs))
		for _, z := range zs {
			price, ok := z.Member.(string)
			if !ok {
				continue
			}
			size := 0.0
			if s, exists := sizes[price]; exists {
				size, _ = strconv.ParseFloat(s, 64)
			}
			levels = append(levels, domain.PriceLevel{Price: z.Score, Size: size})
		}
		return levels
	}

	bidsZ, _ := bidsCmd.Result()
	bidSizes, _ := bidSizeCmd.Result()
	snap.Bids = buildSide(bidsZ, bidSizes)

	asksZ, _ := asksCmd.Result()
	askSizes, _ := askSizeCmd.Result()
	snap.Asks = buildSide(asksZ, askSizes)

	bboVals, _ := bboCmd.Result()
	if bid, ok := bboVals["bid"]; ok {
		snap.BestBid, _ = strconv.ParseFloat(bid, 64)
	}
	if ask, ok := bboVals["ask"]; ok {
		snap.BestAsk, _ = strconv.ParseFloat(ask, 64)
	}
	if snap.BestBid > 0 && snap.BestAsk > 0 {
		snap.MidPrice = (snap.BestBid + snap.BestAsk) / 2
	}

	return snap, nil
}

// UpdateLevel applies one incremental level update via an atomic Lua script
// that also recomputes the side's best price. A size of 0 removes the level.
func (oc *OrderbookCache) UpdateLevel(ctx context.Context, assetID, side string, price, size float64) error {
	var sideName string
	switch side {
	case "bids", "BUY":
		sideName = "bids"
	case "asks", "SELL":
		sideName = "asks"
	default:
		return fmt.Errorf("redis: update level: unknown side %q", side)
	}

	keys := []string{
		bookSideKey(assetID, sideName),
		bookSizeKey(assetID, sideName),
		bookBBOKey(assetID),
	}
	args := []interface{}{
		strconv.FormatFloat(price, 'f', -1, 64),
		strconv.FormatFloat(size, 'f', -1, 64),
		sideName,
	}

	if err := oc.levelUpdate.Run(ctx, oc.rdb, keys, args...).Err(); err != nil {
		return fmt.Errorf("redis: update level %s %s: %w", assetID, sideName, err)
	}

	// Level updates keep the book live.
	return oc.rdb.Set(ctx, bookTSKey(assetID), strconv.FormatInt(time.Now().UnixNano(), 10), 0).Err()
}

// GetBBO retrieves the current best bid and ask. It returns
// domain.ErrNotFound when no BBO data exists.
func (oc *OrderbookCache) GetBBO(ctx context.Context, assetID string) (bestBid, bestAsk float64, err error) {
	vals, err := oc.rdb.HGetAll(ctx, bookBBOKey(assetID)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: get bbo %s: %w", assetID, err)
	}
	if len(vals) == 0 {
		return 0, 0, domain.ErrNotFound
	}

	if bid, ok := vals["bid"]; ok {
		bestBid, _ = strconv.ParseFloat(bid, 64)
	}
	if ask, ok := vals["ask"]; ok {
		bestAsk, _ = strconv.ParseFloat(ask, 64)
	}
	return bestBid, bestAsk, nil
}

// Compile-time interface check.
var _ domain.OrderbookCache = (*OrderbookCache)(nil)
