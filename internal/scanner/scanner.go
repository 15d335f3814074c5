// Package scanner computes theoretical arbitrage spreads for known market
// group patterns and produces ranked, immutable plans. Scanning is read-only:
// it never places orders or touches the chain.
package scanner

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polyclaw/engine/internal/domain"
)

// BookSource supplies current orderbook tops for scan pricing. Implemented by
// the Redis orderbook cache (warm path) and the CLOB client (cold path).
type BookSource interface {
	GetSnapshot(ctx context.Context, assetID string) (domain.OrderbookSnapshot, error)
}

// Config holds the scanner tuning knobs.
type Config struct {
	// MinProfitRatio is the minimum theoretical profit per dollar of capital
	// for a plan to be emitted.
	MinProfitRatio float64

	// FeeBuffer is subtracted from the gross spread per set to cover fees and
	// slippage before the threshold test.
	FeeBuffer float64

	// MaxSnapshotAge invalidates book snapshots older than this.
	MaxSnapshotAge time.Duration

	// DefaultCapital is the capital attached to emitted plans; the caller may
	// validate with a different amount later.
	DefaultCapital float64

	// Parallelism bounds concurrent group scans.
	Parallelism int
}

// Scanner evaluates market groups against live snapshots.
type Scanner struct {
	books  BookSource
	cfg    Config
	logger *slog.Logger
}

// New creates a Scanner. Zero config fields fall back to defaults:
// threshold 0.01, buffer 0.005, snapshot age 10s, capital $100, parallelism 8.
func New(books BookSource, cfg Config, logger *slog.Logger) *Scanner {
	if cfg.MinProfitRatio <= 0 {
		cfg.MinProfitRatio = 0.01
	}
	if cfg.FeeBuffer < 0 {
		cfg.FeeBuffer = 0
	} else if cfg.FeeBuffer == 0 {
		cfg.FeeBuffer = 0.005
	}
	if cfg.MaxSnapshotAge <= 0 {
		cfg.MaxSnapshotAge = 10 * time.Second
	}
	if cfg.DefaultCapital <= 0 {
		cfg.DefaultCapital = 100
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 8
	}
	return &Scanner{
		books:  books,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "scanner")),
	}
}

// Scan evaluates every group and returns plans ranked by expected profit,
// highest first. Groups are independent, so they are scanned concurrently
// against the shared read-only snapshot source.
func (s *Scanner) Scan(ctx context.Context, groups []domain.MarketGroup) ([]domain.ArbitragePlan, error) {
	var (
		mu    sync.Mutex
		plans []domain.ArbitragePlan
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)

	for _, group := range groups {
		g.Go(func() error {
			plan, err := s.scanGroup(ctx, group)
			if err != nil {
				// Unpriced or stale groups are skipped, not fatal.
				s.logger.Debug("group skipped",
					slog.String("group_id", group.ID),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if plan == nil {
				return nil
			}
			mu.Lock()
			plans = append(plans, *plan)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(plans, func(i, j int) bool {
		return plans[i].TheoreticalProfit > plans[j].TheoreticalProfit
	})
	return plans, nil
}

// scanGroup dispatches on the group kind. It returns (nil, nil) when the
// group is priced consistently, i.e. no exploitable deviation.
func (s *Scanner) scanGroup(ctx context.Context, group domain.MarketGroup) (*domain.ArbitragePlan, error) {
	switch group.Kind {
	case domain.GroupKindSplit:
		return s.scanSplit(ctx, group)
	case domain.GroupKindNegRisk:
		return s.scanNegRisk(ctx, group)
	default:
		return nil, nil
	}
}

// quote is the tradable top-of-book for one token.
type quote struct {
	tokenID string
	bid     float64
	ask     float64
}

// priced reports whether the quote is usable for spread math. Prices of
// exactly 0 or 1 indicate an effectively resolved market and are excluded.
func (q quote) priced() bool {
	return q.bid > 0 && q.bid < 1 && q.ask > 0 && q.ask < 1
}

// getQuote fetches the snapshot for a token and rejects stale data.
func (s *Scanner) getQuote(ctx context.Context, tokenID string) (quote, error) {
	snap, err := s.books.GetSnapshot(ctx, tokenID)
	if err != nil {
		return quote{}, err
	}
	if snap.Stale(time.Now().UTC(), s.cfg.MaxSnapshotAge) {
		return quote{}, domain.ErrStaleData
	}
	return quote{tokenID: tokenID, bid: snap.BestBid, ask: snap.BestAsk}, nil
}
