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

// PlanStore implements domain.PlanStore using PostgreSQL. The price checksum
// is a uint64 bit-cast to BIGINT for storage.
type PlanStore struct {
	pool *pgxpool.Pool
}

// NewPlanStore creates a new PlanStore.
func NewPlanStore(pool *pgxpool.Pool) *PlanStore {
	return &PlanStore{pool: pool}
}

// Insert persists a new plan. Plans are immutable after insert.
func (s *PlanStore) Insert(ctx context.Context, plan domain.ArbitragePlan) error {
	legs, err := json.Marshal(plan.Legs)
	if err != nil {
		return fmt.Errorf("postgres: marshal plan legs %s: %w", plan.ID, err)
	}

	const query = `
		INSERT INTO plans (id, group_id, kind, direction, legs, total_cost,
			theoretical_profit, required_capital, price_checksum, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = s.pool.Exec(ctx, query,
		plan.ID, plan.GroupID, string(plan.Kind), string(plan.Direction), legs,
		plan.TotalCost, plan.TheoreticalProfit, plan.RequiredCapital,
		int64(plan.PriceChecksum), plan.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert plan %s: %w", plan.ID, err)
	}
	return nil
}

// GetByID returns a plan by id. It returns domain.ErrNotFound when no row
// exists.
func (s *PlanStore) GetByID(ctx context.Context, id string) (domain.ArbitragePlan, error) {
	const query = `
		SELECT id, group_id, kind, direction, legs, total_cost,
			theoretical_profit, required_capital, price_checksum, created_at
		FROM plans WHERE id = $1`
	plan, err := scanPlan(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ArbitragePlan{}, domain.ErrNotFound
		}
		return domain.ArbitragePlan{}, fmt.Errorf("postgres: get plan %s: %w", id, err)
	}
	return plan, nil
}

// Consume atomically marks the plan consumed. It returns
// domain.ErrPlanConsumed if another run got there first and
// domain.ErrNotFound if the plan does not exist.
func (s *PlanStore) Consume(ctx context.Context, id string) error {
	const query = `
		UPDATE plans SET consumed = TRUE, consumed_at = NOW()
		WHERE id = $1 AND NOT consumed`
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: consume plan %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM plans WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("postgres: consume plan %s: %w", id, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrPlanConsumed
}

// ListRecent returns the newest unconsumed plans, newest first.
func (s *PlanStore) ListRecent(ctx context.Context, limit int) ([]domain.ArbitragePlan, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, group_id, kind, direction, legs, total_cost,
			theoretical_profit, required_capital, price_checksum, created_at
		FROM plans WHERE NOT consumed ORDER BY created_at DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent plans: %w", err)
	}
	defer rows.Close()

	var list []domain.ArbitragePlan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan plan: %w", err)
		}
		list = append(list, plan)
	}
	return list, rows.Err()
}

func scanPlan(row pgx.Row) (domain.ArbitragePlan, error) {
	var (
		plan      domain.ArbitragePlan
		kind      string
		direction string
		legs      []byte
		checksum  int64
	)
	err := row.Scan(&plan.ID, &plan.GroupID, &kind, &direction, &legs,
		&plan.TotalCost, &plan.TheoreticalProfit, &plan.RequiredCapital,
		&checksum, &plan.CreatedAt)
	if err != nil {
		return domain.ArbitragePlan{}, err
	}
	plan.Kind = domain.GroupKind(kind)
	plan.Direction = domain.PlanDirection(direction)
	plan.PriceChecksum = uint64(checksum)
	if err := json.Unmarshal(legs, &plan.Legs); err != nil {
		return domain.ArbitragePlan{}, fmt.Errorf("unmarshal legs: %w", err)
	}
	return plan, nil
}

// Compile-time interface check.
var _ domain.PlanStore = (*PlanStore)(nil)
