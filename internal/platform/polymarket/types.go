package polymarket

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/polyclaw/engine/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether a flag is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIBookLevel is a single bid/ask level in the CLOB book response.
type APIBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// APIBook is the CLOB /book response for one token.
type APIBook struct {
	Market    string         `json:"market"`
	AssetID   string         `json:"asset_id"`
	Bids      []APIBookLevel `json:"bids"`
	Asks      []APIBookLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// ToDomainSnapshot converts an APIBook to a domain.OrderbookSnapshot with
// bids ordered high to low and asks low to high.
func (b *APIBook) ToDomainSnapshot() domain.OrderbookSnapshot {
	snap := domain.OrderbookSnapshot{AssetID: b.AssetID}

	for _, lvl := range b.Bids {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		if p > 0 && s > 0 {
			snap.Bids = append(snap.Bids, domain.PriceLevel{Price: p, Size: s})
		}
	}
	for _, lvl := range b.Asks {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		if p > 0 && s > 0 {
			snap.Asks = append(snap.Asks, domain.PriceLevel{Price: p, Size: s})
		}
	}

	// The venue does not guarantee level ordering.
	sort.Slice(snap.Bids, func(i, j int) bool { return snap.Bids[i].Price > snap.Bids[j].Price })
	sort.Slice(snap.Asks, func(i, j int) bool { return snap.Asks[i].Price < snap.Asks[j].Price })

	if len(snap.Bids) > 0 {
		snap.BestBid = snap.Bids[0].Price
	}
	if len(snap.Asks) > 0 {
		snap.BestAsk = snap.Asks[0].Price
	}
	if snap.BestBid > 0 && snap.BestAsk > 0 {
		snap.MidPrice = (snap.BestBid + snap.BestAsk) / 2
	}

	snap.Timestamp = parseTimestamp(b.Timestamp)
	return snap
}

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success      bool     `json:"success"`
	ErrorMsg     string   `json:"errorMsg,omitempty"`
	OrderID      string   `json:"orderID,omitempty"`
	Status       string   `json:"status,omitempty"`
	TakingAmount string   `json:"takingAmount,omitempty"`
	MakingAmount string   `json:"makingAmount,omitempty"`
	TransactIDs  []string `json:"transactionsHashes,omitempty"`
}

// APIOpenOrder represents an order as returned by the CLOB order-status API.
type APIOpenOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"` // "BUY" or "SELL"
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
}

// ToDomainFill converts an APIOpenOrder to a domain.OrderFill. The venue
// reports only the limit price, so AvgPrice is the order price.
func (a *APIOpenOrder) ToDomainFill() domain.OrderFill {
	fill := domain.OrderFill{OrderID: a.ID}
	fill.FilledSize, _ = strconv.ParseFloat(a.SizeMatched, 64)
	fill.AvgPrice, _ = strconv.ParseFloat(a.Price, 64)
	fill.Open = a.Status == "live" || a.Status == "open"
	return fill
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIEvent represents an event as returned by the Gamma API. An event groups
// one or more related markets.
type APIEvent struct {
	ID              string      `json:"id"`
	Title           string      `json:"title"`
	Slug            string      `json:"slug"`
	Active          flexBool    `json:"active"`
	Closed          bool        `json:"closed"`
	NegRisk         bool        `json:"negRisk"`
	NegRiskMarketID string      `json:"negRiskMarketID"`
	Markets         []APIMarket `json:"markets"`
	UpdatedAt       string      `json:"updatedAt"`
}

// APIMarket represents a market as returned by the Gamma API.
type APIMarket struct {
	ID             string   `json:"id"`
	Question       string   `json:"question"`
	ConditionID    string   `json:"conditionId"`
	Slug           string   `json:"slug"`
	Active         flexBool `json:"active"`
	Closed         bool     `json:"closed"`
	NegRisk        bool     `json:"negRisk"`
	GroupItemTitle string   `json:"groupItemTitle"`
	Outcomes       string   `json:"outcomes"`     // JSON-encoded, e.g. "[\"Yes\",\"No\"]"
	ClobTokenIDs   string   `json:"clobTokenIds"` // JSON-encoded, e.g. "[\"123\",\"456\"]"
	Volume         string   `json:"volume"`
	EndDateISO     string   `json:"endDateIso"`
}

// Tradable reports whether the market is open for order flow.
func (m *APIMarket) Tradable() bool {
	return bool(m.Active) && !m.Closed && m.ClobTokenIDs != ""
}

// ToGroupMember converts a Gamma market into a group member, resolving which
// position token is the YES side from the outcomes list.
func (m *APIMarket) ToGroupMember(outcomeIndex int) domain.GroupMember {
	member := domain.GroupMember{
		MarketID:     m.ID,
		Question:     m.Question,
		ConditionID:  m.ConditionID,
		OutcomeIndex: outcomeIndex,
	}

	var tokens, outcomes []string
	_ = json.Unmarshal([]byte(m.ClobTokenIDs), &tokens)
	_ = json.Unmarshal([]byte(m.Outcomes), &outcomes)

	yes := 0
	for i, o := range outcomes {
		if strings.EqualFold(o, "Yes") {
			yes = i
			break
		}
	}
	if yes < len(tokens) {
		member.YesTokenID = tokens[yes]
	}
	if no := 1 - yes; no >= 0 && no < len(tokens) {
		member.NoTokenID = tokens[no]
	}
	return member
}

// ToDomainMarket converts a Gamma APIMarket to a domain.Market.
func (m *APIMarket) ToDomainMarket() domain.Market {
	dm := domain.Market{
		ID:          m.ID,
		Question:    m.Question,
		Slug:        m.Slug,
		ConditionID: m.ConditionID,
		NegRisk:     m.NegRisk,
		Outcomes:    [2]string{"No", "Yes"},
	}

	if v, err := strconv.ParseFloat(m.Volume, 64); err == nil {
		dm.Volume = v
	}

	if m.Closed {
		dm.Status = domain.MarketStatusClosed
	} else if bool(m.Active) {
		dm.Status = domain.MarketStatusActive
	} else {
		dm.Status = domain.MarketStatusSettled
	}

	member := m.ToGroupMember(0)
	dm.TokenIDs[1] = member.YesTokenID
	dm.TokenIDs[0] = member.NoTokenID

	if m.EndDateISO != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDateISO); err == nil {
			dm.ClosedAt = &t
		}
	}
	return dm
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// WSBookMessage is a full orderbook snapshot delivered over WebSocket. Its
// level layout matches the REST book response.
type WSBookMessage struct {
	EventType string         `json:"event_type"`
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []APIBookLevel `json:"bids"`
	Asks      []APIBookLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// ToDomainSnapshot converts the frame to a domain.OrderbookSnapshot.
func (b *WSBookMessage) ToDomainSnapshot() domain.OrderbookSnapshot {
	book := APIBook{AssetID: b.AssetID, Market: b.Market, Bids: b.Bids, Asks: b.Asks, Timestamp: b.Timestamp}
	return book.ToDomainSnapshot()
}

// WSPriceChangeMessage is an incremental orderbook price-level update.
type WSPriceChangeMessage struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Side      string `json:"side"` // "BUY" or "SELL"
	Price     string `json:"price"`
	Size      string `json:"size"` // "0" means level removed
	Timestamp string `json:"timestamp"`
}

// ToDomain converts the frame to a domain.PriceChange.
func (p *WSPriceChangeMessage) ToDomain() domain.PriceChange {
	pc := domain.PriceChange{
		AssetID: p.AssetID,
		Side:    p.Side,
	}
	pc.Price, _ = strconv.ParseFloat(p.Price, 64)
	pc.Size, _ = strconv.ParseFloat(p.Size, 64)
	pc.Timestamp = parseTimestamp(p.Timestamp)
	return pc
}

// WSSubscription is the JSON payload sent on connect to subscribe to the
// market channel for a set of asset IDs.
type WSSubscription struct {
	Type   string   `json:"type"` // "market"
	Assets []string `json:"assets_ids"`
}

// parseTimestamp handles the venue's mixed timestamp formats: Unix millis,
// Unix seconds, or RFC3339. Unparseable values fall back to now.
func parseTimestamp(s string) time.Time {
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ts > 1e12 {
			return time.UnixMilli(ts)
		}
		return time.Unix(ts, 0)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Now()
}
