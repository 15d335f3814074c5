package domain

import (
	"fmt"
	"hash/fnv"
	"sort"
	"time"
)

// PlanDirection describes which side of the mispricing a plan trades.
type PlanDirection string

const (
	// DirectionBuySet buys every leg at ask; the complete set is worth 1.0
	// at resolution (or is merged back to collateral).
	DirectionBuySet PlanDirection = "buy_set"

	// DirectionSellSet mints the set from collateral and sells every leg at
	// bid, capturing Σ(bids) − 1.0.
	DirectionSellSet PlanDirection = "sell_set"

	// DirectionBuyComponentsSellAggregate replicates the aggregate position
	// with component legs and sells the aggregate against it.
	DirectionBuyComponentsSellAggregate PlanDirection = "buy_components_sell_aggregate"

	// DirectionBuyAggregateSellComponents is the reverse replication.
	DirectionBuyAggregateSellComponents PlanDirection = "buy_aggregate_sell_components"
)

// PlanLeg is one token the plan trades, at the price the plan was priced on.
type PlanLeg struct {
	TokenID     string
	MarketID    string
	ConditionID string
	Side        OrderSide
	Price       float64
	Size        float64
}

// ArbitragePlan is a proposed trade against one MarketGroup. Plans are
// immutable once created and consumed exactly once by execution (or
// discarded).
type ArbitragePlan struct {
	ID                string
	GroupID           string
	Kind              GroupKind
	Direction         PlanDirection
	Legs              []PlanLeg
	TotalCost         float64 // cost of the bought side per $1 of set
	TheoreticalProfit float64 // per $1 of capital, after the fee buffer
	RequiredCapital   float64
	PriceChecksum     uint64
	CreatedAt         time.Time
}

// ProfitRatio returns the theoretical profit per dollar of required capital.
func (p ArbitragePlan) ProfitRatio() float64 {
	if p.TotalCost <= 0 {
		return 0
	}
	return p.TheoreticalProfit / p.TotalCost
}

// PriceChecksum hashes tokenID:price pairs so a later validation can detect
// that the plan was computed from different prices than the live book. It is
// deterministic across leg ordering; it is not cryptographic.
func PriceChecksum(legs []PlanLeg) uint64 {
	pairs := make([]string, 0, len(legs))
	for _, leg := range legs {
		pairs = append(pairs, fmt.Sprintf("%s:%d", leg.TokenID, int64(leg.Price*1e6)))
	}
	sort.Strings(pairs)

	h := fnv.New64a()
	for _, p := range pairs {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// ValidatedPlan is a plan the Liquidity Validator has confirmed against live
// depth, possibly with a reduced size. It carries the timestamp of the check
// so the orchestrator can enforce the revalidation window.
type ValidatedPlan struct {
	Plan ArbitragePlan
	// Capital is the confirmed capital commitment, never above the requested
	// amount.
	Capital float64
	// SetSize is the number of complete sets the capital mints/buys.
	SetSize float64
	// RealizableProfit is the profit computed by walking live depth for
	// SetSize, not from top-of-book.
	RealizableProfit float64
	// PriceDrift reports that the live top-of-book no longer matches the
	// prices the plan was computed from (checksum mismatch). The walked
	// profit above already reflects the moved prices.
	PriceDrift  bool
	ValidatedAt time.Time
}
