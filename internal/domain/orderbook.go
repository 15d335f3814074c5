package domain

import "time"

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderbookSnapshot is a full snapshot of bids and asks for a token.
// Snapshots are advisory: anything derived from one must be re-validated
// against live depth before capital is committed.
type OrderbookSnapshot struct {
	AssetID   string
	Bids      []PriceLevel // ordered high -> low
	Asks      []PriceLevel // ordered low -> high
	BestBid   float64
	BestAsk   float64
	MidPrice  float64
	Timestamp time.Time
}

// Stale reports whether the snapshot is older than maxAge at the given time.
func (s OrderbookSnapshot) Stale(now time.Time, maxAge time.Duration) bool {
	if s.Timestamp.IsZero() {
		return true
	}
	return now.Sub(s.Timestamp) > maxAge
}

// PriceChange is an incremental orderbook level update.
type PriceChange struct {
	AssetID   string
	Side      string // "BUY" or "SELL"
	Price     float64
	Size      float64 // 0 means remove level
	Timestamp time.Time
}
