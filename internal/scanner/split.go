package scanner

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/polyclaw/engine/internal/domain"
)

// scanSplit checks an aggregate market against the cost of replicating it
// with component markets. A deviation larger than the fee buffer and profit
// threshold in either direction yields a plan.
func (s *Scanner) scanSplit(ctx context.Context, group domain.MarketGroup) (*domain.ArbitragePlan, error) {
	agg, err := s.getQuote(ctx, group.Aggregate.YesTokenID)
	if err != nil {
		return nil, err
	}
	if !agg.priced() {
		return nil, nil
	}

	type priced struct {
		member domain.GroupMember
		q      quote
	}
	comps := make([]priced, 0, len(group.Members))
	for _, m := range group.Members {
		q, err := s.getQuote(ctx, m.YesTokenID)
		if err != nil {
			return nil, err
		}
		if !q.priced() {
			continue
		}
		comps = append(comps, priced{member: m, q: q})
	}
	// Replication needs at least two priced components.
	if len(comps) < 2 {
		return nil, nil
	}

	var replAsk, replBid float64
	for _, c := range comps {
		replAsk += c.q.ask
		replBid += c.q.bid
	}

	now := time.Now().UTC()

	// Aggregate rich: sell aggregate YES at bid, replicate it by buying
	// component YES at ask.
	if gross := agg.bid - replAsk; gross-s.cfg.FeeBuffer > 0 {
		legs := make([]domain.PlanLeg, 0, len(comps)+1)
		for _, c := range comps {
			legs = append(legs, domain.PlanLeg{
				TokenID:     c.member.YesTokenID,
				MarketID:    c.member.MarketID,
				ConditionID: c.member.ConditionID,
				Side:        domain.OrderSideBuy,
				Price:       c.q.ask,
			})
		}
		legs = append(legs, domain.PlanLeg{
			TokenID:     group.Aggregate.YesTokenID,
			MarketID:    group.Aggregate.MarketID,
			ConditionID: group.Aggregate.ConditionID,
			Side:        domain.OrderSideSell,
			Price:       agg.bid,
		})
		// Selling the aggregate requires minting its set first, so capital
		// per set is the mint collateral plus the replication cost.
		return s.emit(group, domain.DirectionBuyComponentsSellAggregate, legs,
			1.0+replAsk, gross-s.cfg.FeeBuffer, now), nil
	}

	// Aggregate cheap: buy aggregate YES at ask, sell component YES at bid
	// (each component set minted from collateral).
	if gross := replBid - agg.ask; gross-s.cfg.FeeBuffer > 0 {
		legs := make([]domain.PlanLeg, 0, len(comps)+1)
		legs = append(legs, domain.PlanLeg{
			TokenID:     group.Aggregate.YesTokenID,
			MarketID:    group.Aggregate.MarketID,
			ConditionID: group.Aggregate.ConditionID,
			Side:        domain.OrderSideBuy,
			Price:       agg.ask,
		})
		for _, c := range comps {
			legs = append(legs, domain.PlanLeg{
				TokenID:     c.member.YesTokenID,
				MarketID:    c.member.MarketID,
				ConditionID: c.member.ConditionID,
				Side:        domain.OrderSideSell,
				Price:       c.q.bid,
			})
		}
		return s.emit(group, domain.DirectionBuyAggregateSellComponents, legs,
			float64(len(comps))+agg.ask, gross-s.cfg.FeeBuffer, now), nil
	}

	return nil, nil
}

// emit builds an immutable plan if the net spread clears the profit-ratio
// threshold, otherwise returns nil.
func (s *Scanner) emit(group domain.MarketGroup, dir domain.PlanDirection, legs []domain.PlanLeg, capitalPerSet, profitPerSet float64, now time.Time) *domain.ArbitragePlan {
	if capitalPerSet <= 0 || profitPerSet/capitalPerSet < s.cfg.MinProfitRatio {
		return nil
	}
	plan := &domain.ArbitragePlan{
		ID:                uuid.New().String(),
		GroupID:           group.ID,
		Kind:              group.Kind,
		Direction:         dir,
		Legs:              legs,
		TotalCost:         capitalPerSet,
		TheoreticalProfit: profitPerSet,
		RequiredCapital:   s.cfg.DefaultCapital,
		PriceChecksum:     domain.PriceChecksum(legs),
		CreatedAt:         now,
	}
	return plan
}
