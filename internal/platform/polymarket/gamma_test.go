package polymarket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyclaw/engine/internal/domain"
)

func tradableMarket(id, question string) APIMarket {
	return APIMarket{
		ID:           id,
		Question:     question,
		ConditionID:  "0xcond-" + id,
		Active:       true,
		Outcomes:     `["Yes","No"]`,
		ClobTokenIDs: `["yes-` + id + `","no-` + id + `"]`,
	}
}

func TestClassifyEventNegRisk(t *testing.T) {
	event := APIEvent{
		ID:              "ev1",
		Title:           "Who wins the election?",
		NegRisk:         true,
		NegRiskMarketID: "0xevent",
		UpdatedAt:       "2024-05-01T12:00:00Z",
		Markets: []APIMarket{
			tradableMarket("a", "Will candidate A win?"),
			tradableMarket("b", "Will candidate B win?"),
			tradableMarket("c", "Will candidate C win?"),
		},
	}

	group, ok := classifyEvent(&event)
	require.True(t, ok)
	assert.Equal(t, domain.GroupKindNegRisk, group.Kind)
	assert.Equal(t, "0xevent", group.NegRiskMarketID)
	require.Len(t, group.Members, 3)
	assert.Equal(t, "yes-a", group.Members[0].YesTokenID)
	assert.Equal(t, 2, group.Members[2].OutcomeIndex)
	assert.Equal(t, 2024, group.UpdatedAt.Year())
}

func TestClassifyEventSplit(t *testing.T) {
	event := APIEvent{
		ID:    "ev2",
		Title: "Will the index close above 5000?",
		Markets: []APIMarket{
			tradableMarket("agg", "Will the index close above 5000?"),
			tradableMarket("q1", "Will the index close between 5000 and 5100?"),
			tradableMarket("q2", "Will the index close above 5100?"),
		},
	}

	group, ok := classifyEvent(&event)
	require.True(t, ok)
	assert.Equal(t, domain.GroupKindSplit, group.Kind)
	assert.Equal(t, "agg", group.Aggregate.MarketID)
	require.Len(t, group.Members, 2)
	assert.Equal(t, "q1", group.Members[0].MarketID)
}

func TestClassifyEventSkipsNonGroupShapes(t *testing.T) {
	// A single tradable market has no relation to trade against.
	single := APIEvent{
		ID:      "ev3",
		Title:   "Standalone",
		Markets: []APIMarket{tradableMarket("only", "Standalone?")},
	}
	_, ok := classifyEvent(&single)
	assert.False(t, ok)

	// No market restates the event title: no aggregate, no split group.
	noAgg := APIEvent{
		ID:    "ev4",
		Title: "Season outcome",
		Markets: []APIMarket{
			tradableMarket("x", "Will team X make the playoffs?"),
			tradableMarket("y", "Will team Y make the playoffs?"),
			tradableMarket("z", "Will team Z make the playoffs?"),
		},
	}
	_, ok = classifyEvent(&noAgg)
	assert.False(t, ok)
}

func TestClassifyEventIgnoresClosedMarkets(t *testing.T) {
	closed := tradableMarket("c", "Will candidate C win?")
	closed.Closed = true

	event := APIEvent{
		ID:      "ev5",
		Title:   "Who wins?",
		NegRisk: true,
		Markets: []APIMarket{
			tradableMarket("a", "Will candidate A win?"),
			tradableMarket("b", "Will candidate B win?"),
			closed,
		},
	}

	group, ok := classifyEvent(&event)
	require.True(t, ok)
	assert.Len(t, group.Members, 2)
}

func TestSameQuestion(t *testing.T) {
	assert.True(t, sameQuestion("Will it rain?", "will it rain"))
	assert.True(t, sameQuestion("  Will it rain ", "Will it rain?"))
	assert.False(t, sameQuestion("Will it rain?", "Will it snow?"))
}
