package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/polyclaw/engine/internal/domain"
)

// gammaPageSize is the events page size used when walking the full listing.
const gammaPageSize = 100

// GammaClient is the REST client for the Gamma API, which provides market
// and event discovery.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetEvents returns a page of open events.
func (g *GammaClient) GetEvents(ctx context.Context, limit, offset int) ([]APIEvent, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("closed", "false")

	body, err := g.doGet(ctx, "/events?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: get events: %w", err)
	}

	var events []APIEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode events: %w", err)
	}
	return events, nil
}

// GetMarket returns a single market by its ID.
func (g *GammaClient) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	body, err := g.doGet(ctx, "/markets/"+url.PathEscape(id))
	if err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: get market %s: %w", id, err)
	}

	var apiMarket APIMarket
	if err := json.Unmarshal(body, &apiMarket); err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: decode market: %w", err)
	}
	return apiMarket.ToDomainMarket(), nil
}

// FetchGroups walks the open-event listing and builds the tradable market
// groups: NegRisk events become negrisk groups; non-NegRisk events whose
// member questions identify one aggregate market plus at least two component
// markets become split groups. Events that fit neither shape are skipped.
func (g *GammaClient) FetchGroups(ctx context.Context) ([]domain.MarketGroup, error) {
	var groups []domain.MarketGroup

	for offset := 0; ; offset += gammaPageSize {
		events, err := g.GetEvents(ctx, gammaPageSize, offset)
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			break
		}

		for i := range events {
			if group, ok := classifyEvent(&events[i]); ok {
				groups = append(groups, group)
			}
		}
		if len(events) < gammaPageSize {
			break
		}
	}
	return groups, nil
}

// classifyEvent maps one Gamma event onto a MarketGroup, or reports that the
// event has no usable group shape.
func classifyEvent(e *APIEvent) (domain.MarketGroup, bool) {
	tradable := make([]*APIMarket, 0, len(e.Markets))
	for i := range e.Markets {
		if e.Markets[i].Tradable() {
			tradable = append(tradable, &e.Markets[i])
		}
	}
	if len(tradable) < 2 {
		return domain.MarketGroup{}, false
	}

	updated := time.Now().UTC()
	if t, err := time.Parse(time.RFC3339, e.UpdatedAt); err == nil {
		updated = t
	}

	if e.NegRisk {
		group := domain.MarketGroup{
			ID:              e.ID,
			Title:           e.Title,
			Kind:            domain.GroupKindNegRisk,
			NegRiskMarketID: e.NegRiskMarketID,
			UpdatedAt:       updated,
		}
		for idx, m := range tradable {
			group.Members = append(group.Members, m.ToGroupMember(idx))
		}
		return group, true
	}

	// Split shape: one market restates the event question (the aggregate),
	// the rest partition its outcome space.
	var aggregate *APIMarket
	var components []*APIMarket
	for _, m := range tradable {
		if sameQuestion(m.Question, e.Title) && aggregate == nil {
			aggregate = m
		} else {
			components = append(components, m)
		}
	}
	if aggregate == nil || len(components) < 2 {
		return domain.MarketGroup{}, false
	}

	group := domain.MarketGroup{
		ID:        e.ID,
		Title:     e.Title,
		Kind:      domain.GroupKindSplit,
		Aggregate: aggregate.ToGroupMember(0),
		UpdatedAt: updated,
	}
	for idx, m := range components {
		group.Members = append(group.Members, m.ToGroupMember(idx))
	}
	return group, true
}

// sameQuestion compares a market question with the event title ignoring
// case, surrounding space, and a trailing question mark.
func sameQuestion(question, title string) bool {
	norm := func(s string) string {
		s = strings.TrimSpace(strings.ToLower(s))
		return strings.TrimSuffix(s, "?")
	}
	return norm(question) == norm(title)
}

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}
