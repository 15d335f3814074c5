package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polyclaw/engine/internal/domain"
)

// MarketGroupStore implements domain.MarketGroupStore using PostgreSQL. The
// aggregate member and the component list are stored as JSONB since the
// scanner always loads a group whole.
type MarketGroupStore struct {
	pool *pgxpool.Pool
}

// NewMarketGroupStore creates a new MarketGroupStore.
func NewMarketGroupStore(pool *pgxpool.Pool) *MarketGroupStore {
	return &MarketGroupStore{pool: pool}
}

// Upsert inserts or updates a market group.
func (s *MarketGroupStore) Upsert(ctx context.Context, g domain.MarketGroup) error {
	aggregate, err := json.Marshal(g.Aggregate)
	if err != nil {
		return fmt.Errorf("postgres: marshal group aggregate %s: %w", g.ID, err)
	}
	members, err := json.Marshal(g.Members)
	if err != nil {
		return fmt.Errorf("postgres: marshal group members %s: %w", g.ID, err)
	}

	const query = `
		INSERT INTO market_groups (id, title, kind, aggregate, members, neg_risk_market_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			kind = EXCLUDED.kind,
			aggregate = EXCLUDED.aggregate,
			members = EXCLUDED.members,
			neg_risk_market_id = EXCLUDED.neg_risk_market_id,
			updated_at = NOW()`
	_, err = s.pool.Exec(ctx, query, g.ID, g.Title, string(g.Kind), aggregate, members, g.NegRiskMarketID)
	if err != nil {
		return fmt.Errorf("postgres: upsert market_group %s: %w", g.ID, err)
	}
	return nil
}

// GetByID returns a market group by id. It returns domain.ErrNotFound when no
// row exists.
func (s *MarketGroupStore) GetByID(ctx context.Context, id string) (domain.MarketGroup, error) {
	const query = `
		SELECT id, title, kind, aggregate, members, neg_risk_market_id, updated_at
		FROM market_groups WHERE id = $1`
	g, err := scanGroup(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MarketGroup{}, domain.ErrNotFound
		}
		return domain.MarketGroup{}, fmt.Errorf("postgres: get market_group %s: %w", id, err)
	}
	return g, nil
}

// List returns all market groups.
func (s *MarketGroupStore) List(ctx context.Context) ([]domain.MarketGroup, error) {
	const query = `
		SELECT id, title, kind, aggregate, members, neg_risk_market_id, updated_at
		FROM market_groups ORDER BY id`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list market_groups: %w", err)
	}
	defer rows.Close()

	var list []domain.MarketGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market_group: %w", err)
		}
		list = append(list, g)
	}
	return list, rows.Err()
}

func scanGroup(row pgx.Row) (domain.MarketGroup, error) {
	var (
		g         domain.MarketGroup
		kind      string
		aggregate []byte
		members   []byte
	)
	err := row.Scan(&g.ID, &g.Title, &kind, &aggregate, &members, &g.NegRiskMarketID, &g.UpdatedAt)
	if err != nil {
		return domain.MarketGroup{}, err
	}
	g.Kind = domain.GroupKind(kind)
	if err := json.Unmarshal(aggregate, &g.Aggregate); err != nil {
		return domain.MarketGroup{}, fmt.Errorf("unmarshal aggregate: %w", err)
	}
	if err := json.Unmarshal(members, &g.Members); err != nil {
		return domain.MarketGroup{}, fmt.Errorf("unmarshal members: %w", err)
	}
	return g, nil
}

// Compile-time interface check.
var _ domain.MarketGroupStore = (*MarketGroupStore)(nil)
