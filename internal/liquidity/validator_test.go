package liquidity

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyclaw/engine/internal/domain"
)

// fakeDepth serves canned live books keyed by token ID.
type fakeDepth struct {
	books map[string]domain.OrderbookSnapshot
}

func (f *fakeDepth) GetOrderBook(_ context.Context, tokenID string) (domain.OrderbookSnapshot, error) {
	book, ok := f.books[tokenID]
	if !ok {
		return domain.OrderbookSnapshot{}, domain.ErrNotFound
	}
	return book, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// buySetPlan is a two-leg buy_set priced at 0.45 per leg: $90 of capital buys
// 100 complete sets.
func buySetPlan() domain.ArbitragePlan {
	legs := []domain.PlanLeg{
		{TokenID: "t1", ConditionID: "c1", Side: domain.OrderSideBuy, Price: 0.45},
		{TokenID: "t2", ConditionID: "c2", Side: domain.OrderSideBuy, Price: 0.45},
	}
	return domain.ArbitragePlan{
		ID:              "plan-1",
		Direction:       domain.DirectionBuySet,
		Legs:            legs,
		TotalCost:       0.90,
		RequiredCapital: 90,
		PriceChecksum:   domain.PriceChecksum(legs),
		CreatedAt:       time.Now().UTC(),
	}
}

func askDepth(levels ...domain.PriceLevel) domain.OrderbookSnapshot {
	return domain.OrderbookSnapshot{Asks: levels, Timestamp: time.Now().UTC()}
}

func bidDepth(levels ...domain.PriceLevel) domain.OrderbookSnapshot {
	return domain.OrderbookSnapshot{Bids: levels, Timestamp: time.Now().UTC()}
}

func TestValidateConfirmsFullDepth(t *testing.T) {
	depth := &fakeDepth{books: map[string]domain.OrderbookSnapshot{
		"t1": askDepth(domain.PriceLevel{Price: 0.45, Size: 150}),
		"t2": askDepth(domain.PriceLevel{Price: 0.45, Size: 150}),
	}}
	v := New(depth, Config{}, testLogger())

	validated, err := v.Validate(context.Background(), buySetPlan(), 90)
	require.NoError(t, err)

	assert.InDelta(t, 100, validated.SetSize, 1e-9)
	assert.InDelta(t, 90, validated.Capital, 1e-9)
	// 1.0 payout minus 0.90 walked cost, over 100 sets.
	assert.InDelta(t, 10, validated.RealizableProfit, 1e-9)
	// Live tops match the scan prices exactly.
	assert.False(t, validated.PriceDrift)
	assert.WithinDuration(t, time.Now().UTC(), validated.ValidatedAt, time.Second)
}

func TestValidateRejectsShallowDepth(t *testing.T) {
	depth := &fakeDepth{books: map[string]domain.OrderbookSnapshot{
		"t1": askDepth(domain.PriceLevel{Price: 0.45, Size: 150}),
		"t2": askDepth(domain.PriceLevel{Price: 0.45, Size: 40}),
	}}
	v := New(depth, Config{}, testLogger())

	_, err := v.Validate(context.Background(), buySetPlan(), 90)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
}

func TestValidateRejectsWalkedSpreadClosed(t *testing.T) {
	// Top of book still shows 0.45, but walking 100 sets averages 0.50 per
	// leg: the edge is gone at the real fill price.
	deep := askDepth(
		domain.PriceLevel{Price: 0.45, Size: 50},
		domain.PriceLevel{Price: 0.55, Size: 100},
	)
	depth := &fakeDepth{books: map[string]domain.OrderbookSnapshot{"t1": deep, "t2": deep}}
	v := New(depth, Config{}, testLogger())

	_, err := v.Validate(context.Background(), buySetPlan(), 90)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSpreadClosed)
}

func TestValidateRejectsAgedPlan(t *testing.T) {
	depth := &fakeDepth{books: map[string]domain.OrderbookSnapshot{
		"t1": askDepth(domain.PriceLevel{Price: 0.45, Size: 150}),
		"t2": askDepth(domain.PriceLevel{Price: 0.45, Size: 150}),
	}}
	v := New(depth, Config{}, testLogger())

	plan := buySetPlan()
	plan.CreatedAt = time.Now().UTC().Add(-2 * time.Minute)

	_, err := v.Validate(context.Background(), plan, 90)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStaleData)
}

func TestValidatePartialFillRatioShrinksSize(t *testing.T) {
	// 60% of the requested size is fillable; with MinFillRatio 0.5 the plan
	// is confirmed at the reduced size instead of rejected.
	depth := &fakeDepth{books: map[string]domain.OrderbookSnapshot{
		"t1": askDepth(domain.PriceLevel{Price: 0.45, Size: 150}),
		"t2": askDepth(domain.PriceLevel{Price: 0.45, Size: 60}),
	}}
	v := New(depth, Config{MinFillRatio: 0.5}, testLogger())

	validated, err := v.Validate(context.Background(), buySetPlan(), 90)
	require.NoError(t, err)
	assert.InDelta(t, 60, validated.SetSize, 1e-9)
	assert.InDelta(t, 54, validated.Capital, 1e-9)
	assert.InDelta(t, 6, validated.RealizableProfit, 1e-9)
}

func TestValidateCapsCapitalAtRequested(t *testing.T) {
	// Live asks sit above the scan price. The walk still clears the
	// threshold, but the commitment stays within the requested capital by
	// shrinking the set size.
	depth := &fakeDepth{books: map[string]domain.OrderbookSnapshot{
		"t1": askDepth(domain.PriceLevel{Price: 0.47, Size: 200}),
		"t2": askDepth(domain.PriceLevel{Price: 0.47, Size: 200}),
	}}
	v := New(depth, Config{}, testLogger())

	validated, err := v.Validate(context.Background(), buySetPlan(), 90)
	require.NoError(t, err)
	assert.InDelta(t, 90, validated.Capital, 1e-9)
	assert.Less(t, validated.SetSize, 100.0)
	assert.InDelta(t, 90/0.94, validated.SetSize, 1e-9)
	// The checksum recomputed from live tops no longer matches the plan's.
	assert.True(t, validated.PriceDrift)
}

func TestValidateFlagsDriftOnSingleLegMove(t *testing.T) {
	depth := &fakeDepth{books: map[string]domain.OrderbookSnapshot{
		"t1": askDepth(domain.PriceLevel{Price: 0.45, Size: 150}),
		"t2": askDepth(domain.PriceLevel{Price: 0.46, Size: 150}),
	}}
	v := New(depth, Config{}, testLogger())

	validated, err := v.Validate(context.Background(), buySetPlan(), 90)
	require.NoError(t, err)
	assert.True(t, validated.PriceDrift)
}

func TestValidateNoChecksumReportsNoDrift(t *testing.T) {
	depth := &fakeDepth{books: map[string]domain.OrderbookSnapshot{
		"t1": askDepth(domain.PriceLevel{Price: 0.45, Size: 150}),
		"t2": askDepth(domain.PriceLevel{Price: 0.45, Size: 150}),
	}}
	v := New(depth, Config{}, testLogger())

	plan := buySetPlan()
	plan.PriceChecksum = 0

	validated, err := v.Validate(context.Background(), plan, 90)
	require.NoError(t, err)
	assert.False(t, validated.PriceDrift)
}

func TestValidateSellSetWalksBids(t *testing.T) {
	legs := []domain.PlanLeg{
		{TokenID: "t1", ConditionID: "c1", Side: domain.OrderSideSell, Price: 0.55},
		{TokenID: "t2", ConditionID: "c2", Side: domain.OrderSideSell, Price: 0.55},
	}
	plan := domain.ArbitragePlan{
		ID:              "plan-2",
		Direction:       domain.DirectionSellSet,
		Legs:            legs,
		TotalCost:       1.0,
		RequiredCapital: 100,
		CreatedAt:       time.Now().UTC(),
	}
	depth := &fakeDepth{books: map[string]domain.OrderbookSnapshot{
		"t1": bidDepth(domain.PriceLevel{Price: 0.55, Size: 150}),
		"t2": bidDepth(domain.PriceLevel{Price: 0.55, Size: 150}),
	}}
	v := New(depth, Config{}, testLogger())

	validated, err := v.Validate(context.Background(), plan, 100)
	require.NoError(t, err)
	assert.InDelta(t, 100, validated.SetSize, 1e-9)
	assert.InDelta(t, 100, validated.Capital, 1e-9)
	// Σ(walked bids) − 1.0 mint collateral, over 100 sets.
	assert.InDelta(t, 10, validated.RealizableProfit, 1e-9)
}

func TestValidateZeroCapitalUsesPlanDefault(t *testing.T) {
	depth := &fakeDepth{books: map[string]domain.OrderbookSnapshot{
		"t1": askDepth(domain.PriceLevel{Price: 0.45, Size: 150}),
		"t2": askDepth(domain.PriceLevel{Price: 0.45, Size: 150}),
	}}
	v := New(depth, Config{}, testLogger())

	validated, err := v.Validate(context.Background(), buySetPlan(), 0)
	require.NoError(t, err)
	assert.InDelta(t, 90, validated.Capital, 1e-9)
}
