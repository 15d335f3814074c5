// Package feed streams live market data from the CLOB WebSocket into the
// shared caches that the scanner and validator read from.
package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/polyclaw/engine/internal/domain"
	"github.com/polyclaw/engine/internal/platform/polymarket"
)

// handlerTimeout bounds each cache write triggered by a frame.
const handlerTimeout = 5 * time.Second

// Feed subscribes to book and price_change frames for a set of assets and
// mirrors them into the orderbook and price caches. Reconnects and
// subscription restore are handled by the WebSocket client.
type Feed struct {
	ws     *polymarket.WSClient
	books  domain.OrderbookCache
	prices domain.PriceCache
	logger *slog.Logger
}

// NewFeed creates a Feed over the given WebSocket URL.
func NewFeed(wsURL string, books domain.OrderbookCache, prices domain.PriceCache, logger *slog.Logger) *Feed {
	return &Feed{
		ws:     polymarket.NewWSClient(wsURL),
		books:  books,
		prices: prices,
		logger: logger.With(slog.String("component", "feed")),
	}
}

// Run connects and streams until ctx is cancelled. Call SetAssets to
// establish or replace the subscription.
func (f *Feed) Run(ctx context.Context) error {
	f.ws.OnBook(f.handleBook)
	f.ws.OnPriceChange(f.handlePriceChange)

	if err := f.ws.Connect(ctx); err != nil {
		return err
	}
	f.logger.Info("feed connected")

	<-ctx.Done()
	f.ws.Close()
	f.logger.Info("feed stopped")
	return ctx.Err()
}

// handleBook mirrors a full book frame into the orderbook cache and, when the
// book is two-sided, the mid price into the price cache.
func (f *Feed) handleBook(snap domain.OrderbookSnapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := f.books.SetSnapshot(ctx, snap.AssetID, snap); err != nil {
		f.logger.Warn("book snapshot write failed",
			slog.String("asset_id", snap.AssetID),
			slog.String("error", err.Error()),
		)
		return
	}
	if snap.MidPrice > 0 {
		if err := f.prices.SetPrice(ctx, snap.AssetID, snap.MidPrice, snap.Timestamp); err != nil {
			f.logger.Warn("price write failed",
				slog.String("asset_id", snap.AssetID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// handlePriceChange applies an incremental level delta to the cached book.
func (f *Feed) handlePriceChange(change domain.PriceChange) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := f.books.UpdateLevel(ctx, change.AssetID, change.Side, change.Price, change.Size); err != nil {
		f.logger.Warn("level update failed",
			slog.String("asset_id", change.AssetID),
			slog.String("error", err.Error()),
		)
	}
}

// SetAssets replaces the current subscription with the given asset IDs. Safe
// to call while Run is streaming; the new subscription also survives
// reconnects.
func (f *Feed) SetAssets(ctx context.Context, assetIDs []string) error {
	if len(assetIDs) == 0 {
		return nil
	}
	if err := f.ws.Subscribe(ctx, assetIDs); err != nil {
		return err
	}
	f.logger.Info("feed subscription updated", slog.Int("assets", len(assetIDs)))
	return nil
}
