// Package liquidity re-checks live order-book depth for a selected plan
// immediately before execution. Passing validation is a hard precondition for
// any capital-committing action, not an optimization.
package liquidity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/polyclaw/engine/internal/domain"
)

// BookFetcher supplies live depth. Unlike the scanner's cached source, the
// validator must see the venue's current book, so this is typically the CLOB
// client itself.
type BookFetcher interface {
	GetOrderBook(ctx context.Context, tokenID string) (domain.OrderbookSnapshot, error)
}

// Config holds validator tuning knobs.
type Config struct {
	// MinProfitRatio mirrors the scanner threshold: realizable profit per
	// dollar below this rejects the plan as spread-closed.
	MinProfitRatio float64

	// MinFillRatio is the minimum fraction of the requested size that must be
	// fillable. At the default of 1.0 any shortfall in walked depth rejects
	// the plan; lower values confirm a size-adjusted plan instead.
	MinFillRatio float64

	// MaxPlanAge rejects plans computed too long ago regardless of prices.
	MaxPlanAge time.Duration
}

// Validator walks live books to turn a theoretical plan into a confirmed,
// sized commitment or an explicit rejection.
type Validator struct {
	books  BookFetcher
	cfg    Config
	logger *slog.Logger
}

// New creates a Validator. Zero config fields default to threshold 0.01,
// full-depth requirement, and a 60s plan age limit.
func New(books BookFetcher, cfg Config, logger *slog.Logger) *Validator {
	if cfg.MinProfitRatio <= 0 {
		cfg.MinProfitRatio = 0.01
	}
	if cfg.MinFillRatio <= 0 || cfg.MinFillRatio > 1 {
		cfg.MinFillRatio = 1.0
	}
	if cfg.MaxPlanAge <= 0 {
		cfg.MaxPlanAge = 60 * time.Second
	}
	return &Validator{
		books:  books,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "liquidity_validator")),
	}
}

// Validate re-fetches depth for every token the plan touches and computes the
// realizable profit by walking the book up to the requested capital. It
// returns a confirmed plan (possibly size-adjusted) or an error wrapping
// domain.ErrInsufficientLiquidity, domain.ErrSpreadClosed, or
// domain.ErrStaleData. The confirmed size never exceeds what capital buys.
func (v *Validator) Validate(ctx context.Context, plan domain.ArbitragePlan, capital float64) (domain.ValidatedPlan, error) {
	now := time.Now().UTC()
	if now.Sub(plan.CreatedAt) > v.cfg.MaxPlanAge {
		return domain.ValidatedPlan{}, fmt.Errorf("liquidity: plan %s aged %s: %w",
			plan.ID, now.Sub(plan.CreatedAt).Round(time.Millisecond), domain.ErrStaleData)
	}
	if capital <= 0 {
		capital = plan.RequiredCapital
	}
	if plan.TotalCost <= 0 || len(plan.Legs) == 0 {
		return domain.ValidatedPlan{}, fmt.Errorf("liquidity: plan %s has no priced legs: %w", plan.ID, domain.ErrInsufficientLiquidity)
	}

	// Each leg trades one token unit per set.
	setSize := capital / plan.TotalCost

	books := make(map[string]domain.OrderbookSnapshot, len(plan.Legs))
	fillRatio := 1.0
	for _, leg := range plan.Legs {
		snap, err := v.books.GetOrderBook(ctx, leg.TokenID)
		if err != nil {
			return domain.ValidatedPlan{}, fmt.Errorf("liquidity: fetch book %s: %w", leg.TokenID, err)
		}
		books[leg.TokenID] = snap

		depth := sideDepth(snap, leg.Side)
		fillable, _ := walkBook(depth, setSize)
		if fillable <= 0 {
			return domain.ValidatedPlan{}, fmt.Errorf("liquidity: no depth for %s %s: %w",
				leg.Side, leg.TokenID, domain.ErrInsufficientLiquidity)
		}
		if r := fillable / setSize; r < fillRatio {
			fillRatio = r
		}
	}

	drift := priceDrift(plan, books)
	if drift {
		v.logger.Info("plan prices moved since scan", slog.String("plan_id", plan.ID))
	}

	if fillRatio < v.cfg.MinFillRatio {
		return domain.ValidatedPlan{}, fmt.Errorf("liquidity: walked depth covers %.1f%% of requested size: %w",
			fillRatio*100, domain.ErrInsufficientLiquidity)
	}

	confirmedSize := setSize * fillRatio

	// Recompute profit per set from walked average prices at the confirmed
	// size, not top-of-book.
	var buyAvgSum, sellAvgSum float64
	var buyLegs, sellLegs int
	for _, leg := range plan.Legs {
		depth := sideDepth(books[leg.TokenID], leg.Side)
		filled, cost := walkBook(depth, confirmedSize)
		if filled < confirmedSize {
			return domain.ValidatedPlan{}, fmt.Errorf("liquidity: depth shrank walking %s: %w",
				leg.TokenID, domain.ErrInsufficientLiquidity)
		}
		avg := cost / filled
		switch leg.Side {
		case domain.OrderSideBuy:
			buyAvgSum += avg
			buyLegs++
		case domain.OrderSideSell:
			sellAvgSum += avg
			sellLegs++
		}
	}

	profitPerSet := realizableProfitPerSet(plan.Direction, buyAvgSum, sellAvgSum)
	capitalPerSet := capitalPerSet(plan.Direction, buyAvgSum, sellLegs)
	if capitalPerSet <= 0 || profitPerSet/capitalPerSet < v.cfg.MinProfitRatio {
		return domain.ValidatedPlan{}, fmt.Errorf("liquidity: realizable profit %.4f/set below threshold: %w",
			profitPerSet, domain.ErrSpreadClosed)
	}

	confirmedCapital := confirmedSize * capitalPerSet
	if confirmedCapital > capital {
		// Walked prices may exceed scan prices; keep the commitment within
		// the requested capital.
		confirmedSize = capital / capitalPerSet
		confirmedCapital = capital
	}

	v.logger.Info("plan confirmed",
		slog.String("plan_id", plan.ID),
		slog.Float64("set_size", confirmedSize),
		slog.Float64("capital", confirmedCapital),
		slog.Float64("profit_per_set", profitPerSet),
	)

	return domain.ValidatedPlan{
		Plan:             plan,
		Capital:          confirmedCapital,
		SetSize:          confirmedSize,
		RealizableProfit: profitPerSet * confirmedSize,
		PriceDrift:       drift,
		ValidatedAt:      now,
	}, nil
}

// priceDrift re-derives the plan's price checksum from the live top of each
// leg's book side and compares it to the checksum recorded at scan time.
// Plans without a recorded checksum report no drift.
func priceDrift(plan domain.ArbitragePlan, books map[string]domain.OrderbookSnapshot) bool {
	if plan.PriceChecksum == 0 {
		return false
	}
	live := make([]domain.PlanLeg, 0, len(plan.Legs))
	for _, leg := range plan.Legs {
		depth := sideDepth(books[leg.TokenID], leg.Side)
		if len(depth) == 0 {
			return true
		}
		leg.Price = depth[0].Price
		live = append(live, leg)
	}
	return domain.PriceChecksum(live) != plan.PriceChecksum
}

// sideDepth returns the book side a taker of the given side consumes: asks
// for buys, bids for sells.
func sideDepth(snap domain.OrderbookSnapshot, side domain.OrderSide) []domain.PriceLevel {
	if side == domain.OrderSideBuy {
		return snap.Asks
	}
	return snap.Bids
}

// walkBook consumes levels in book order up to size, returning the filled
// quantity and its notional cost.
func walkBook(levels []domain.PriceLevel, size float64) (filled, cost float64) {
	remaining := size
	for _, lvl := range levels {
		if remaining <= 0 {
			break
		}
		take := lvl.Size
		if take > remaining {
			take = remaining
		}
		filled += take
		cost += take * lvl.Price
		remaining -= take
	}
	return filled, cost
}

// realizableProfitPerSet applies the direction's payoff identity. The minted
// collateral and the guaranteed $1 set payout cancel, so every direction
// reduces to sell proceeds minus buy cost, with the set's unit value standing
// in for the missing side of buy_set / sell_set plans.
func realizableProfitPerSet(dir domain.PlanDirection, buyAvgSum, sellAvgSum float64) float64 {
	switch dir {
	case domain.DirectionBuySet:
		return 1.0 - buyAvgSum
	case domain.DirectionSellSet:
		return sellAvgSum - 1.0
	default:
		return sellAvgSum - buyAvgSum
	}
}

// capitalPerSet is the upfront collateral per set: walked buy cost plus $1 of
// mint collateral per condition that must be minted for the sell legs.
func capitalPerSet(dir domain.PlanDirection, buyAvgSum float64, sellLegs int) float64 {
	switch dir {
	case domain.DirectionBuySet:
		return buyAvgSum
	case domain.DirectionSellSet:
		return 1.0
	case domain.DirectionBuyComponentsSellAggregate:
		return 1.0 + buyAvgSum
	case domain.DirectionBuyAggregateSellComponents:
		return float64(sellLegs) + buyAvgSum
	default:
		return buyAvgSum
	}
}
