package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive  MarketStatus = "active"
	MarketStatusClosed  MarketStatus = "closed"
	MarketStatusSettled MarketStatus = "settled"
)

// Market represents a Polymarket prediction market.
type Market struct {
	ID          string
	Question    string
	Slug        string
	Outcomes    [2]string // e.g. ["Yes","No"]
	TokenIDs    [2]string // ERC-1155 position IDs (76-digit strings); index 1 = YES, 0 = NO
	ConditionID string
	NegRisk     bool
	Volume      float64
	Status      MarketStatus
	ClosedAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// YesTokenID returns the position ID of the YES outcome.
func (m Market) YesTokenID() string { return m.TokenIDs[1] }

// NoTokenID returns the position ID of the NO outcome.
func (m Market) NoTokenID() string { return m.TokenIDs[0] }

// GroupKind classifies how the markets of a group relate to each other.
type GroupKind string

const (
	// GroupKindSplit is one aggregate market whose outcome space is
	// partitioned by an ordered set of component markets.
	GroupKindSplit GroupKind = "split"

	// GroupKindNegRisk is a set of mutually exclusive outcome markets
	// belonging to one event; YES prices should sum to 1.0.
	GroupKindNegRisk GroupKind = "negrisk"
)

// GroupMember is one market inside a MarketGroup, with the token IDs the
// scanner and executors need.
type GroupMember struct {
	MarketID    string
	Question    string
	ConditionID string
	YesTokenID  string
	NoTokenID   string
	// OutcomeIndex is the NegRisk-derived outcome index within the event.
	// Zero for split groups.
	OutcomeIndex int
}

// MarketGroup is a priced relationship between markets: either an aggregate
// market plus its components (split), or the mutually exclusive outcomes of
// one event (negrisk).
type MarketGroup struct {
	ID        string
	Title     string
	Kind      GroupKind
	Aggregate GroupMember   // only set when Kind == GroupKindSplit
	Members   []GroupMember // components (split) or outcomes (negrisk)
	// NegRiskMarketID is the adapter-level market identifier used for
	// on-chain NegRisk splits. Empty for split groups.
	NegRiskMarketID string
	UpdatedAt       time.Time
}
