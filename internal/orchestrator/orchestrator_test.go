package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyclaw/engine/internal/chain"
	"github.com/polyclaw/engine/internal/domain"
	"github.com/polyclaw/engine/internal/orderexec"
)

// --------------------------------------------------------------------------
// Fakes
// --------------------------------------------------------------------------

type stubValidator struct {
	validated domain.ValidatedPlan
	err       error
	calls     int
}

func (s *stubValidator) Validate(_ context.Context, plan domain.ArbitragePlan, _ float64) (domain.ValidatedPlan, error) {
	s.calls++
	if s.err != nil {
		return domain.ValidatedPlan{}, s.err
	}
	v := s.validated
	v.Plan = plan
	if v.ValidatedAt.IsZero() {
		v.ValidatedAt = time.Now().UTC()
	}
	return v, nil
}

type stubMinter struct {
	mintErr      error
	failAfter    int // MintSet calls that succeed before mintErr fires; 0 = fail first
	mergeErr     error
	redeemErr    error
	mintCalls    []string
	negRiskCalls []string
	mergeCalls   []mergeCall
	redeemCalls  []string
}

type mergeCall struct {
	conditionID string
	amount      float64
}

func (s *stubMinter) MintSet(_ context.Context, conditionID string, _ float64) (chain.Receipt, error) {
	if s.mintErr != nil && len(s.mintCalls) >= s.failAfter {
		return chain.Receipt{}, s.mintErr
	}
	s.mintCalls = append(s.mintCalls, conditionID)
	return chain.Receipt{TxHash: fmt.Sprintf("0xmint%d", len(s.mintCalls)), GasUsed: 90_000}, nil
}

func (s *stubMinter) MintNegRiskSet(_ context.Context, conditionID string, _ float64) (chain.Receipt, error) {
	if s.mintErr != nil {
		return chain.Receipt{}, s.mintErr
	}
	s.negRiskCalls = append(s.negRiskCalls, conditionID)
	return chain.Receipt{TxHash: "0xnegrisk", GasUsed: 120_000}, nil
}

func (s *stubMinter) MergeSet(_ context.Context, conditionID string, amount float64) (chain.Receipt, error) {
	if s.mergeErr != nil {
		return chain.Receipt{}, s.mergeErr
	}
	s.mergeCalls = append(s.mergeCalls, mergeCall{conditionID: conditionID, amount: amount})
	return chain.Receipt{TxHash: fmt.Sprintf("0xmerge%d", len(s.mergeCalls)), GasUsed: 80_000}, nil
}

func (s *stubMinter) RedeemSet(_ context.Context, conditionID string) (chain.Receipt, error) {
	if s.redeemErr != nil {
		return chain.Receipt{}, s.redeemErr
	}
	s.redeemCalls = append(s.redeemCalls, conditionID)
	return chain.Receipt{TxHash: fmt.Sprintf("0xredeem%d", len(s.redeemCalls)), GasUsed: 70_000}, nil
}

type stubLegs struct {
	outcomes map[string]orderexec.Outcome // keyed by token ID
	calls    []string
}

func (s *stubLegs) Execute(_ context.Context, tokenID string, side domain.OrderSide, price, size float64) orderexec.Outcome {
	s.calls = append(s.calls, tokenID)
	if out, ok := s.outcomes[tokenID]; ok {
		return out
	}
	// Default: full fill at the planned price.
	return orderexec.Outcome{
		State:     orderexec.StateFilled,
		TokenID:   tokenID,
		Side:      side,
		Requested: size,
		Filled:    size,
		Proceeds:  size * price,
		Attempts: []domain.OrderAttempt{
			{Stage: domain.StageFOK, TokenID: tokenID, Side: side, Price: price, Requested: size, Filled: size},
		},
	}
}

type memPlanStore struct {
	plans    map[string]domain.ArbitragePlan
	consumed map[string]bool
}

func newMemPlanStore(plans ...domain.ArbitragePlan) *memPlanStore {
	s := &memPlanStore{plans: map[string]domain.ArbitragePlan{}, consumed: map[string]bool{}}
	for _, p := range plans {
		s.plans[p.ID] = p
	}
	return s
}

func (s *memPlanStore) Insert(_ context.Context, plan domain.ArbitragePlan) error {
	s.plans[plan.ID] = plan
	return nil
}

func (s *memPlanStore) GetByID(_ context.Context, id string) (domain.ArbitragePlan, error) {
	plan, ok := s.plans[id]
	if !ok {
		return domain.ArbitragePlan{}, domain.ErrNotFound
	}
	return plan, nil
}

func (s *memPlanStore) Consume(_ context.Context, id string) error {
	if _, ok := s.plans[id]; !ok {
		return domain.ErrNotFound
	}
	if s.consumed[id] {
		return domain.ErrPlanConsumed
	}
	s.consumed[id] = true
	return nil
}

func (s *memPlanStore) ListRecent(_ context.Context, _ int) ([]domain.ArbitragePlan, error) {
	return nil, nil
}

type memGroupStore struct {
	groups map[string]domain.MarketGroup
}

func (s *memGroupStore) Upsert(_ context.Context, g domain.MarketGroup) error {
	s.groups[g.ID] = g
	return nil
}

func (s *memGroupStore) GetByID(_ context.Context, id string) (domain.MarketGroup, error) {
	g, ok := s.groups[id]
	if !ok {
		return domain.MarketGroup{}, domain.ErrNotFound
	}
	return g, nil
}

func (s *memGroupStore) List(_ context.Context) ([]domain.MarketGroup, error) { return nil, nil }

type memResultStore struct {
	created   []domain.ExecutionResult
	residuals []domain.ExecutionResult
}

func (s *memResultStore) Create(_ context.Context, result domain.ExecutionResult) error {
	s.created = append(s.created, result)
	return nil
}

func (s *memResultStore) GetByID(_ context.Context, _ string) (domain.ExecutionResult, error) {
	return domain.ExecutionResult{}, domain.ErrNotFound
}

func (s *memResultStore) ListRecent(_ context.Context, _ int) ([]domain.ExecutionResult, error) {
	return nil, nil
}

func (s *memResultStore) ListBefore(_ context.Context, _ time.Time) ([]domain.ExecutionResult, error) {
	return nil, nil
}

func (s *memResultStore) ListResiduals(_ context.Context) ([]domain.ExecutionResult, error) {
	return s.residuals, nil
}

// --------------------------------------------------------------------------
// Fixtures
// --------------------------------------------------------------------------

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func negRiskSellPlan() domain.ArbitragePlan {
	return domain.ArbitragePlan{
		ID:        "plan-nr",
		GroupID:   "group-nr",
		Kind:      domain.GroupKindNegRisk,
		Direction: domain.DirectionSellSet,
		Legs: []domain.PlanLeg{
			{TokenID: "tA", ConditionID: "cA", Side: domain.OrderSideSell, Price: 0.55},
			{TokenID: "tB", ConditionID: "cB", Side: domain.OrderSideSell, Price: 0.55},
		},
		TotalCost:       1.0,
		RequiredCapital: 50,
		CreatedAt:       time.Now().UTC(),
	}
}

func splitReversePlan() domain.ArbitragePlan {
	return domain.ArbitragePlan{
		ID:        "plan-split",
		GroupID:   "group-split",
		Kind:      domain.GroupKindSplit,
		Direction: domain.DirectionBuyAggregateSellComponents,
		Legs: []domain.PlanLeg{
			{TokenID: "agg", ConditionID: "c-agg", Side: domain.OrderSideBuy, Price: 0.40},
			{TokenID: "c1", ConditionID: "cond-1", Side: domain.OrderSideSell, Price: 0.25},
			{TokenID: "c2", ConditionID: "cond-2", Side: domain.OrderSideSell, Price: 0.25},
		},
		TotalCost:       2.40,
		RequiredCapital: 100,
		CreatedAt:       time.Now().UTC(),
	}
}

type fixture struct {
	orch      *Orchestrator
	validator *stubValidator
	minter    *stubMinter
	legs      *stubLegs
	plans     *memPlanStore
	groups    *memGroupStore
	results   *memResultStore
}

func newFixture(validator *stubValidator, plans ...domain.ArbitragePlan) *fixture {
	f := &fixture{
		validator: validator,
		minter:    &stubMinter{},
		legs:      &stubLegs{outcomes: map[string]orderexec.Outcome{}},
		plans:     newMemPlanStore(plans...),
		groups: &memGroupStore{groups: map[string]domain.MarketGroup{
			"group-nr": {
				ID:              "group-nr",
				Kind:            domain.GroupKindNegRisk,
				NegRiskMarketID: "0xevent",
			},
			"group-split": {ID: "group-split", Kind: domain.GroupKindSplit},
		}},
		results: &memResultStore{},
	}
	f.orch = New(f.validator, f.minter, f.legs, f.plans, f.groups, f.results, nil, Config{}, testLogger())
	return f
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestExecutePreflightRejectionCommitsNothing(t *testing.T) {
	validator := &stubValidator{err: fmt.Errorf("liquidity: walked depth covers 40%%: %w", domain.ErrInsufficientLiquidity)}
	f := newFixture(validator, negRiskSellPlan())

	result, err := f.orch.Execute(context.Background(), "plan-nr", 50)
	require.NoError(t, err)

	assert.Equal(t, domain.ExecAbortedPreflight, result.Status)
	assert.Equal(t, "insufficient-liquidity", result.Reason)
	assert.Zero(t, result.SpentCapital)
	assert.Zero(t, result.RealizedProceeds)
	assert.Empty(t, result.TxHashes)
	assert.Empty(t, f.minter.mintCalls)
	assert.Empty(t, f.minter.negRiskCalls)
	assert.Empty(t, f.legs.calls)

	// The terminal record is persisted even for rejections.
	require.Len(t, f.results.created, 1)
	assert.Equal(t, result.ID, f.results.created[0].ID)
}

func TestExecutePlanConsumedExactlyOnce(t *testing.T) {
	validator := &stubValidator{err: errors.New("never reached")}
	f := newFixture(validator, negRiskSellPlan())

	_, err := f.orch.Execute(context.Background(), "plan-nr", 50)
	require.NoError(t, err)

	_, err = f.orch.Execute(context.Background(), "plan-nr", 50)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPlanConsumed)
	// The second attempt never produced a result row.
	assert.Len(t, f.results.created, 1)
}

func TestExecuteUnknownPlan(t *testing.T) {
	f := newFixture(&stubValidator{})

	_, err := f.orch.Execute(context.Background(), "missing", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, f.results.created)
}

func TestExecuteNegRiskSellSetMintsViaAdapter(t *testing.T) {
	validator := &stubValidator{validated: domain.ValidatedPlan{SetSize: 50, Capital: 50, RealizableProfit: 5}}
	f := newFixture(validator, negRiskSellPlan())

	result, err := f.orch.Execute(context.Background(), "plan-nr", 50)
	require.NoError(t, err)

	assert.Equal(t, domain.ExecFilled, result.Status)
	// One adapter split for the whole event, never per-condition CTF splits.
	assert.Equal(t, []string{"0xevent"}, f.minter.negRiskCalls)
	assert.Empty(t, f.minter.mintCalls)
	assert.Equal(t, []string{"0xnegrisk"}, result.TxHashes)

	// $50 of mint collateral, both legs sold at 0.55 for 50 sets.
	assert.InDelta(t, 50, result.SpentCapital, 1e-9)
	assert.InDelta(t, 55, result.RealizedProceeds, 1e-9)
	assert.InDelta(t, 5, result.RealizedProfit(), 1e-9)
	assert.Empty(t, result.Residuals)
	assert.Len(t, result.Attempts, 2)
}

func TestExecuteSplitMintsPerDistinctCondition(t *testing.T) {
	validator := &stubValidator{validated: domain.ValidatedPlan{SetSize: 40, Capital: 96}}
	f := newFixture(validator, splitReversePlan())

	result, err := f.orch.Execute(context.Background(), "plan-split", 96)
	require.NoError(t, err)

	assert.Equal(t, domain.ExecFilled, result.Status)
	assert.ElementsMatch(t, []string{"cond-1", "cond-2"}, f.minter.mintCalls)
	assert.Len(t, result.TxHashes, 2)

	// Mint collateral 2*40 plus the aggregate buy leg 40*0.40.
	assert.InDelta(t, 2*40+40*0.40, result.SpentCapital, 1e-9)
	// Component sells: 2 * 40 * 0.25.
	assert.InDelta(t, 20, result.RealizedProceeds, 1e-9)
	assert.Equal(t, []string{"agg", "c1", "c2"}, f.legs.calls)
}

func TestExecuteBuySetSkipsChain(t *testing.T) {
	plan := negRiskSellPlan()
	plan.ID = "plan-buy"
	plan.Direction = domain.DirectionBuySet
	for i := range plan.Legs {
		plan.Legs[i].Side = domain.OrderSideBuy
		plan.Legs[i].Price = 0.45
	}
	plan.TotalCost = 0.90

	validator := &stubValidator{validated: domain.ValidatedPlan{SetSize: 50, Capital: 45}}
	f := newFixture(validator, plan)

	result, err := f.orch.Execute(context.Background(), "plan-buy", 45)
	require.NoError(t, err)

	assert.Equal(t, domain.ExecFilled, result.Status)
	assert.Empty(t, result.TxHashes)
	assert.Empty(t, f.minter.mintCalls)
	assert.Empty(t, f.minter.negRiskCalls)
	// Buy legs account their fill notional as spend.
	assert.InDelta(t, 2*50*0.45, result.SpentCapital, 1e-9)
}

func TestExecuteMintFailureStopsBeforeOrders(t *testing.T) {
	validator := &stubValidator{validated: domain.ValidatedPlan{SetSize: 40, Capital: 96}}
	f := newFixture(validator, splitReversePlan())
	f.minter.mintErr = errors.New("chain: mint reverted (tx 0xdead): onchain transaction failed")
	f.minter.failAfter = 1

	result, err := f.orch.Execute(context.Background(), "plan-split", 96)
	require.NoError(t, err)

	assert.Equal(t, domain.ExecFailedOnchain, result.Status)
	assert.Contains(t, result.Reason, "reverted")
	// The first condition's mint landed before the failure.
	assert.InDelta(t, 40, result.SpentCapital, 1e-9)
	assert.Len(t, result.TxHashes, 1)
	// No order was placed after the on-chain failure.
	assert.Empty(t, f.legs.calls)
	assert.Zero(t, result.RealizedProceeds)
}

func TestExecutePartialFillRecordsResidual(t *testing.T) {
	validator := &stubValidator{validated: domain.ValidatedPlan{SetSize: 50, Capital: 50}}
	f := newFixture(validator, negRiskSellPlan())

	f.legs.outcomes["tB"] = orderexec.Outcome{
		State:     orderexec.StateExpiredResidual,
		TokenID:   "tB",
		Side:      domain.OrderSideSell,
		Requested: 50,
		Filled:    30,
		Residual:  20,
		Proceeds:  30 * 0.50,
		Attempts: []domain.OrderAttempt{
			{Stage: domain.StageFOK, TokenID: "tB", Price: 0.55, Requested: 50, Error: "rejected"},
			{Stage: domain.StageLimit, TokenID: "tB", Price: 0.50, Requested: 50, Filled: 30},
		},
	}

	result, err := f.orch.Execute(context.Background(), "plan-nr", 50)
	require.NoError(t, err)

	assert.Equal(t, domain.ExecPartial, result.Status)
	assert.Equal(t, "fallback chain expired with residual", result.Reason)
	require.Len(t, result.Residuals, 1)
	residual := result.Residuals[0]
	assert.Equal(t, "tB", residual.TokenID)
	assert.InDelta(t, 20, residual.Quantity, 1e-9)
	// The residual carries the final resting price for follow-up.
	assert.InDelta(t, 0.50, residual.LastPrice, 1e-9)

	// Proceeds: tA full 50 @ 0.55 plus tB partial 30 @ 0.50.
	assert.InDelta(t, 50*0.55+30*0.50, result.RealizedProceeds, 1e-9)
	assert.Len(t, result.Attempts, 3)
	assert.True(t, result.HasResidual())

	// NegRisk sets come from the adapter; there is no per-condition merge.
	assert.Empty(t, f.minter.mergeCalls)
}

func TestExecuteSplitPartialMergesResidualBack(t *testing.T) {
	validator := &stubValidator{validated: domain.ValidatedPlan{SetSize: 40, Capital: 96}}
	f := newFixture(validator, splitReversePlan())

	// c1 sells 30 of 40: the unsold 10 still pair with their NO side, so 10
	// complete sets merge back to $10 of collateral.
	f.legs.outcomes["c1"] = orderexec.Outcome{
		State:     orderexec.StateExpiredResidual,
		TokenID:   "c1",
		Side:      domain.OrderSideSell,
		Requested: 40,
		Filled:    30,
		Residual:  10,
		Proceeds:  30 * 0.25,
		Attempts: []domain.OrderAttempt{
			{Stage: domain.StageLimit, TokenID: "c1", Price: 0.25, Requested: 40, Filled: 30},
		},
	}

	result, err := f.orch.Execute(context.Background(), "plan-split", 96)
	require.NoError(t, err)

	assert.Equal(t, domain.ExecPartial, result.Status)
	assert.Equal(t, "residual merged back to collateral", result.Reason)
	require.Len(t, f.minter.mergeCalls, 1)
	assert.Equal(t, mergeCall{conditionID: "cond-1", amount: 10}, f.minter.mergeCalls[0])

	// Nothing is left stuck in the wallet.
	assert.False(t, result.HasResidual())
	assert.Empty(t, result.Residuals)

	// Proceeds: c1 partial 7.5, c2 full 10, plus the $10 merge recovery.
	assert.InDelta(t, 30*0.25+40*0.25+10, result.RealizedProceeds, 1e-9)
	// Two mints plus the merge.
	assert.Len(t, result.TxHashes, 3)
}

func TestExecuteSplitMergeFailureKeepsResidual(t *testing.T) {
	validator := &stubValidator{validated: domain.ValidatedPlan{SetSize: 40, Capital: 96}}
	f := newFixture(validator, splitReversePlan())
	f.minter.mergeErr = errors.New("chain: merge reverted")

	f.legs.outcomes["c1"] = orderexec.Outcome{
		State:     orderexec.StateExpiredResidual,
		TokenID:   "c1",
		Side:      domain.OrderSideSell,
		Requested: 40,
		Filled:    30,
		Residual:  10,
		Proceeds:  30 * 0.25,
	}

	result, err := f.orch.Execute(context.Background(), "plan-split", 96)
	require.NoError(t, err)

	assert.Equal(t, domain.ExecPartial, result.Status)
	assert.Equal(t, "fallback chain expired with residual", result.Reason)
	require.Len(t, result.Residuals, 1)
	assert.Equal(t, "c1", result.Residuals[0].TokenID)
	// No recovery proceeds were credited.
	assert.InDelta(t, 30*0.25+40*0.25, result.RealizedProceeds, 1e-9)
}

func TestRedeemResidualsSweepsSettledConditions(t *testing.T) {
	f := newFixture(&stubValidator{}, negRiskSellPlan())
	f.results.residuals = []domain.ExecutionResult{{
		ID:     "res-1",
		PlanID: "plan-nr",
		Status: domain.ExecPartial,
		Residuals: []domain.ResidualHolding{
			{TokenID: "tB", Quantity: 20, LastPrice: 0.50},
		},
	}}

	count, err := f.orch.RedeemResiduals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, []string{"cB"}, f.minter.redeemCalls)

	// A second sweep does not re-redeem the same condition.
	count, err = f.orch.RedeemResiduals(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Len(t, f.minter.redeemCalls, 1)
}

func TestRedeemResidualsRetriesUnresolvedConditions(t *testing.T) {
	f := newFixture(&stubValidator{}, negRiskSellPlan())
	f.results.residuals = []domain.ExecutionResult{{
		ID:     "res-1",
		PlanID: "plan-nr",
		Status: domain.ExecPartial,
		Residuals: []domain.ResidualHolding{
			{TokenID: "tB", Quantity: 20},
		},
	}}
	f.minter.redeemErr = errors.New("chain: redeem reverted (tx 0xdead): onchain transaction failed")

	// The condition has not resolved yet; the attempt reverts harmlessly.
	count, err := f.orch.RedeemResiduals(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)

	// Once the market resolves the next sweep succeeds.
	f.minter.redeemErr = nil
	count, err = f.orch.RedeemResiduals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, []string{"cB"}, f.minter.redeemCalls)
}

func TestExecuteRevalidatesStaleValidation(t *testing.T) {
	validator := &stubValidator{validated: domain.ValidatedPlan{
		SetSize:     50,
		Capital:     50,
		ValidatedAt: time.Now().UTC().Add(-10 * time.Second),
	}}
	f := newFixture(validator, negRiskSellPlan())

	_, err := f.orch.Execute(context.Background(), "plan-nr", 50)
	require.NoError(t, err)

	// First pass is older than the revalidation window, so a second check
	// runs before capital is committed.
	assert.Equal(t, 2, validator.calls)
}
