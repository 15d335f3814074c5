package scanner

import (
	"context"
	"time"

	"github.com/polyclaw/engine/internal/domain"
)

// scanNegRisk checks a mutually-exclusive event group for a deviation of
// Σ(YES prices) from 1.0. Buying every outcome at ask captures 1 − Σ(asks);
// minting the outcome set and selling every outcome at bid captures
// Σ(bids) − 1. The side follows the sign of the deviation.
func (s *Scanner) scanNegRisk(ctx context.Context, group domain.MarketGroup) (*domain.ArbitragePlan, error) {
	type priced struct {
		member domain.GroupMember
		q      quote
	}
	outcomes := make([]priced, 0, len(group.Members))
	for _, m := range group.Members {
		q, err := s.getQuote(ctx, m.YesTokenID)
		if err != nil {
			return nil, err
		}
		if !q.priced() {
			// Effectively resolved outcome; the sum invariant no longer
			// holds for this group.
			return nil, nil
		}
		outcomes = append(outcomes, priced{member: m, q: q})
	}
	if len(outcomes) < 2 {
		return nil, nil
	}

	var sumAsk, sumBid float64
	for _, o := range outcomes {
		sumAsk += o.q.ask
		sumBid += o.q.bid
	}

	now := time.Now().UTC()

	// Underpriced event: buy every YES at ask, collect 1.0 at resolution.
	if gross := 1.0 - sumAsk; gross-s.cfg.FeeBuffer > 0 {
		legs := make([]domain.PlanLeg, 0, len(outcomes))
		for _, o := range outcomes {
			legs = append(legs, domain.PlanLeg{
				TokenID:     o.member.YesTokenID,
				MarketID:    o.member.MarketID,
				ConditionID: o.member.ConditionID,
				Side:        domain.OrderSideBuy,
				Price:       o.q.ask,
			})
		}
		return s.emit(group, domain.DirectionBuySet, legs, sumAsk, gross-s.cfg.FeeBuffer, now), nil
	}

	// Overpriced event: mint the outcome set via the adapter and sell every
	// YES at bid.
	if gross := sumBid - 1.0; gross-s.cfg.FeeBuffer > 0 {
		legs := make([]domain.PlanLeg, 0, len(outcomes))
		for _, o := range outcomes {
			legs = append(legs, domain.PlanLeg{
				TokenID:     o.member.YesTokenID,
				MarketID:    o.member.MarketID,
				ConditionID: o.member.ConditionID,
				Side:        domain.OrderSideSell,
				Price:       o.q.bid,
			})
		}
		return s.emit(group, domain.DirectionSellSet, legs, 1.0, gross-s.cfg.FeeBuffer, now), nil
	}

	return nil, nil
}
