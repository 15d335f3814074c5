package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType indicates the time-in-force policy.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Till-Cancelled (resting limit)
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill (all or nothing, immediate)
	OrderTypeFAK OrderType = "FAK" // Fill-And-Kill (immediate-or-cancel, partials allowed)
)

// OrderRequest is a single order to be placed on the matching venue.
type OrderRequest struct {
	TokenID string
	Side    OrderSide
	Price   float64
	Size    float64
	Type    OrderType
	// Expiration bounds how long a resting (GTC) order may wait before the
	// caller cancels it. Ignored for immediate order types.
	Expiration time.Time
}

// OrderFill is the venue's view of an order after placement or a status poll.
type OrderFill struct {
	OrderID    string
	FilledSize float64
	AvgPrice   float64
	Open       bool // still resting on the book
}

// Proceeds returns the notional value of the filled portion.
func (f OrderFill) Proceeds() float64 {
	return f.FilledSize * f.AvgPrice
}

// FallbackStage identifies one rung of the descending-aggressiveness
// liquidation ladder.
type FallbackStage string

const (
	StageFOK   FallbackStage = "fok"
	StageIOC   FallbackStage = "ioc"
	StageLimit FallbackStage = "limit"
)

// OrderAttempt records one order placed (or attempted) during liquidation.
// Every attempt is accounted for in the ExecutionResult, including ones that
// filled nothing.
type OrderAttempt struct {
	ID        string
	Stage     FallbackStage
	TokenID   string
	Side      OrderSide
	Type      OrderType
	Price     float64
	Requested float64
	Filled    float64
	AvgPrice  float64
	OrderID   string
	Error     string
	At        time.Time
}
