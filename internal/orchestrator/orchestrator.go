// Package orchestrator sequences one plan execution end to end: consume the
// plan, re-validate liquidity, perform the on-chain position transitions the
// direction requires, liquidate every leg through the order fallback chain,
// and persist an immutable terminal record. Failures abort at well-defined
// points: a preflight rejection commits nothing, an on-chain failure stops
// before any order is placed.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/polyclaw/engine/internal/chain"
	"github.com/polyclaw/engine/internal/domain"
	"github.com/polyclaw/engine/internal/orderexec"
)

// PlanValidator confirms a plan against live depth.
type PlanValidator interface {
	Validate(ctx context.Context, plan domain.ArbitragePlan, capital float64) (domain.ValidatedPlan, error)
}

// PositionMinter performs the on-chain position transitions: set mints for
// sell-side plans, merges to recover unsold split-group inventory, and
// redemptions of settled residual holdings.
type PositionMinter interface {
	MintSet(ctx context.Context, conditionID string, amount float64) (chain.Receipt, error)
	MintNegRiskSet(ctx context.Context, conditionID string, amount float64) (chain.Receipt, error)
	MergeSet(ctx context.Context, conditionID string, amount float64) (chain.Receipt, error)
	RedeemSet(ctx context.Context, conditionID string) (chain.Receipt, error)
}

// LegExecutor liquidates one leg through the fallback ladder.
type LegExecutor interface {
	Execute(ctx context.Context, tokenID string, side domain.OrderSide, price, size float64) orderexec.Outcome
}

// Config tunes orchestration timing.
type Config struct {
	// RevalidateAfter forces a second liquidity check when more time than
	// this has passed between validation and the first capital commitment.
	RevalidateAfter time.Duration
}

// Orchestrator executes consumed plans. One instance handles one plan at a
// time; concurrent plans get separate calls (the chain executor serializes
// wallet transactions underneath).
type Orchestrator struct {
	validator PlanValidator
	minter    PositionMinter
	legs      LegExecutor
	plans     domain.PlanStore
	groups    domain.MarketGroupStore
	results   domain.ExecutionResultStore
	audit     domain.AuditStore
	cfg       Config
	logger    *slog.Logger

	// redeemed tracks result:condition pairs already redeemed so the sweep
	// does not re-issue a redemption every pass. Only touched by
	// RedeemResiduals, which runs from a single sweep loop.
	redeemed map[string]bool
}

// New creates an Orchestrator. audit may be nil.
func New(
	validator PlanValidator,
	minter PositionMinter,
	legs LegExecutor,
	plans domain.PlanStore,
	groups domain.MarketGroupStore,
	results domain.ExecutionResultStore,
	audit domain.AuditStore,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.RevalidateAfter <= 0 {
		cfg.RevalidateAfter = 3 * time.Second
	}
	return &Orchestrator{
		validator: validator,
		minter:    minter,
		legs:      legs,
		plans:     plans,
		groups:    groups,
		results:   results,
		audit:     audit,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "orchestrator")),
		redeemed:  make(map[string]bool),
	}
}

// Execute runs the plan with the given capital (0 uses the plan's required
// capital) to a terminal ExecutionResult. The result is persisted before
// returning; the returned error covers persistence and plan-consumption
// problems only — trade failures are expressed through the result status.
func (o *Orchestrator) Execute(ctx context.Context, planID string, capital float64) (domain.ExecutionResult, error) {
	plan, err := o.plans.GetByID(ctx, planID)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("orchestrator: load plan %s: %w", planID, err)
	}
	if err := o.plans.Consume(ctx, planID); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("orchestrator: consume plan %s: %w", planID, err)
	}

	started := time.Now().UTC()
	o.logEvent(ctx, "execution_started", map[string]any{
		"plan_id":   plan.ID,
		"direction": string(plan.Direction),
		"capital":   capital,
	})

	result := o.run(ctx, plan, capital, started)
	result.CompletedAt = time.Now().UTC()

	if err := o.results.Create(ctx, result); err != nil {
		return result, fmt.Errorf("orchestrator: persist result %s: %w", result.ID, err)
	}
	o.logEvent(ctx, "execution_finished", map[string]any{
		"result_id": result.ID,
		"plan_id":   plan.ID,
		"status":    string(result.Status),
		"profit":    result.RealizedProfit(),
	})
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, plan domain.ArbitragePlan, capital float64, started time.Time) domain.ExecutionResult {
	result := domain.ExecutionResult{
		ID:        uuid.New().String(),
		PlanID:    plan.ID,
		StartedAt: started,
	}

	validated, err := o.validator.Validate(ctx, plan, capital)
	if err != nil {
		result.Status = domain.ExecAbortedPreflight
		result.Reason = rejectionReason(err)
		o.logger.Info("plan aborted in preflight",
			slog.String("plan_id", plan.ID),
			slog.String("reason", result.Reason),
		)
		return result
	}

	// A validation that has gone stale by the time we commit gets one more
	// pass against the live book.
	if time.Since(validated.ValidatedAt) > o.cfg.RevalidateAfter {
		validated, err = o.validator.Validate(ctx, plan, capital)
		if err != nil {
			result.Status = domain.ExecAbortedPreflight
			result.Reason = rejectionReason(err)
			return result
		}
	}

	mintSpend, err := o.mint(ctx, plan, validated.SetSize, &result)
	if err != nil {
		result.Status = domain.ExecFailedOnchain
		result.Reason = err.Error()
		result.SpentCapital = mintSpend
		o.logger.Error("position transition failed",
			slog.String("plan_id", plan.ID),
			slog.String("error", err.Error()),
		)
		return result
	}
	result.SpentCapital = mintSpend

	o.liquidate(ctx, plan, validated.SetSize, &result)
	o.mergeBack(ctx, plan, validated.SetSize, &result)
	return result
}

// mint performs the direction's on-chain transitions: one CTF split per
// distinct condition sold for split-group plans, one adapter split for a
// NegRisk sell_set. Buy-only directions make no chain call. Returns the
// collateral committed; on error the partial spend is still returned.
func (o *Orchestrator) mint(ctx context.Context, plan domain.ArbitragePlan, setSize float64, result *domain.ExecutionResult) (float64, error) {
	if plan.Direction == domain.DirectionBuySet {
		return 0, nil
	}

	if plan.Direction == domain.DirectionSellSet && plan.Kind == domain.GroupKindNegRisk {
		conditionID, err := o.negRiskConditionID(ctx, plan.GroupID)
		if err != nil {
			return 0, err
		}
		receipt, err := o.minter.MintNegRiskSet(ctx, conditionID, setSize)
		if err != nil {
			return 0, err
		}
		result.TxHashes = append(result.TxHashes, receipt.TxHash)
		return setSize, nil
	}

	// Split-group plans mint one binary set per distinct condition with a
	// sell leg.
	var spent float64
	seen := make(map[string]bool)
	for _, leg := range plan.Legs {
		if leg.Side != domain.OrderSideSell || seen[leg.ConditionID] {
			continue
		}
		seen[leg.ConditionID] = true
		receipt, err := o.minter.MintSet(ctx, leg.ConditionID, setSize)
		if err != nil {
			return spent, err
		}
		result.TxHashes = append(result.TxHashes, receipt.TxHash)
		spent += setSize
	}
	return spent, nil
}

// liquidate runs the fallback ladder for every leg, folding fills, spend, and
// residuals into the result. Sell legs dispose of minted inventory; buy legs
// acquire the set. The run continues through partial legs so every leg gets
// its chance.
func (o *Orchestrator) liquidate(ctx context.Context, plan domain.ArbitragePlan, setSize float64, result *domain.ExecutionResult) {
	complete := true
	for _, leg := range plan.Legs {
		out := o.legs.Execute(ctx, leg.TokenID, leg.Side, leg.Price, setSize)
		result.Attempts = append(result.Attempts, out.Attempts...)

		switch leg.Side {
		case domain.OrderSideSell:
			result.RealizedProceeds += out.Proceeds
			if out.Residual > 0 {
				complete = false
				result.Residuals = append(result.Residuals, domain.ResidualHolding{
					TokenID:   leg.TokenID,
					Quantity:  out.Residual,
					LastPrice: lastAttemptPrice(out.Attempts, leg.Price),
				})
			}
		case domain.OrderSideBuy:
			result.SpentCapital += out.Proceeds
			if out.Residual > 0 {
				complete = false
			}
		}
	}

	if complete {
		result.Status = domain.ExecFilled
	} else {
		result.Status = domain.ExecPartial
		result.Reason = "fallback chain expired with residual"
	}
}

// mergeBack recovers collateral for unsold split-group inventory. A residual
// sell leg still holds its full NO side, so the unsold quantity forms
// complete sets the CTF merges back at $1 each. NegRisk sets are minted
// through the adapter and have no per-condition merge; their residuals stay
// for the redeem sweep.
func (o *Orchestrator) mergeBack(ctx context.Context, plan domain.ArbitragePlan, setSize float64, result *domain.ExecutionResult) {
	if plan.Kind != domain.GroupKindSplit || len(result.Residuals) == 0 {
		return
	}

	conditions := residualConditions(plan, *result)
	kept := result.Residuals[:0]
	for _, holding := range result.Residuals {
		conditionID := conditions[holding.TokenID]
		if conditionID == "" || holding.Quantity <= 0 || holding.Quantity > setSize {
			kept = append(kept, holding)
			continue
		}
		receipt, err := o.minter.MergeSet(ctx, conditionID, holding.Quantity)
		if err != nil {
			o.logger.Warn("residual merge failed",
				slog.String("plan_id", plan.ID),
				slog.String("condition_id", conditionID),
				slog.String("error", err.Error()),
			)
			kept = append(kept, holding)
			continue
		}
		result.TxHashes = append(result.TxHashes, receipt.TxHash)
		result.RealizedProceeds += holding.Quantity
		o.logEvent(ctx, "residual_merged", map[string]any{
			"plan_id":      plan.ID,
			"condition_id": conditionID,
			"quantity":     holding.Quantity,
			"tx":           receipt.TxHash,
		})
	}
	result.Residuals = kept

	if result.Status == domain.ExecPartial && !result.HasResidual() {
		result.Reason = "residual merged back to collateral"
	}
}

// RedeemResiduals sweeps persisted results that still hold residual
// positions and redeems each position's condition for collateral. Redemption
// only succeeds once the condition has resolved; earlier attempts revert and
// are retried on the next sweep. Returns the number of redemptions issued.
func (o *Orchestrator) RedeemResiduals(ctx context.Context) (int, error) {
	results, err := o.results.ListResiduals(ctx)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: list residuals: %w", err)
	}

	redeemed := 0
	for _, result := range results {
		plan, err := o.plans.GetByID(ctx, result.PlanID)
		if err != nil {
			o.logger.Warn("residual plan lookup failed",
				slog.String("result_id", result.ID),
				slog.String("plan_id", result.PlanID),
				slog.String("error", err.Error()),
			)
			continue
		}

		conditions := residualConditions(plan, result)
		seen := make(map[string]bool, len(conditions))
		for _, holding := range result.Residuals {
			conditionID := conditions[holding.TokenID]
			if conditionID == "" || holding.Quantity <= 0 || seen[conditionID] {
				continue
			}
			seen[conditionID] = true

			key := result.ID + ":" + conditionID
			if o.redeemed[key] {
				continue
			}
			receipt, err := o.minter.RedeemSet(ctx, conditionID)
			if err != nil {
				o.logger.Debug("residual not redeemable yet",
					slog.String("result_id", result.ID),
					slog.String("condition_id", conditionID),
					slog.String("error", err.Error()),
				)
				continue
			}
			o.redeemed[key] = true
			redeemed++
			o.logEvent(ctx, "residual_redeemed", map[string]any{
				"result_id":    result.ID,
				"plan_id":      plan.ID,
				"condition_id": conditionID,
				"quantity":     holding.Quantity,
				"tx":           receipt.TxHash,
			})
		}
	}
	return redeemed, nil
}

// residualConditions maps each residual token to its leg's condition.
func residualConditions(plan domain.ArbitragePlan, result domain.ExecutionResult) map[string]string {
	conditions := make(map[string]string, len(result.Residuals))
	for _, holding := range result.Residuals {
		for _, leg := range plan.Legs {
			if leg.TokenID == holding.TokenID {
				conditions[holding.TokenID] = leg.ConditionID
				break
			}
		}
	}
	return conditions
}

// negRiskConditionID resolves the condition the adapter splits on for the
// group's event.
func (o *Orchestrator) negRiskConditionID(ctx context.Context, groupID string) (string, error) {
	group, err := o.groups.GetByID(ctx, groupID)
	if err != nil {
		return "", fmt.Errorf("resolve negrisk group %s: %w", groupID, err)
	}
	if group.NegRiskMarketID == "" {
		return "", fmt.Errorf("group %s has no negrisk market id: %w", groupID, domain.ErrNotFound)
	}
	return group.NegRiskMarketID, nil
}

func (o *Orchestrator) logEvent(ctx context.Context, event string, detail map[string]any) {
	if o.audit == nil {
		return
	}
	if err := o.audit.Log(ctx, event, detail); err != nil {
		o.logger.Warn("audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

// rejectionReason maps validator errors onto the stable reason vocabulary.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientLiquidity):
		return domain.ErrInsufficientLiquidity.Error()
	case errors.Is(err, domain.ErrSpreadClosed):
		return domain.ErrSpreadClosed.Error()
	case errors.Is(err, domain.ErrStaleData):
		return domain.ErrStaleData.Error()
	default:
		return err.Error()
	}
}

// lastAttemptPrice returns the price of the final attempt, falling back to
// the planned price when no order was ever placed.
func lastAttemptPrice(attempts []domain.OrderAttempt, planned float64) float64 {
	if len(attempts) == 0 {
		return planned
	}
	return attempts[len(attempts)-1].Price
}
