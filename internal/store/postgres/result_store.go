package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polyclaw/engine/internal/domain"
)

// ExecutionResultStore implements domain.ExecutionResultStore using
// PostgreSQL. Results are append-only; there is no update path.
type ExecutionResultStore struct {
	pool *pgxpool.Pool
}

// NewExecutionResultStore creates a new ExecutionResultStore.
func NewExecutionResultStore(pool *pgxpool.Pool) *ExecutionResultStore {
	return &ExecutionResultStore{pool: pool}
}

// Create persists a terminal execution record.
func (s *ExecutionResultStore) Create(ctx context.Context, result domain.ExecutionResult) error {
	residuals, err := json.Marshal(result.Residuals)
	if err != nil {
		return fmt.Errorf("postgres: marshal residuals %s: %w", result.ID, err)
	}
	attempts, err := json.Marshal(result.Attempts)
	if err != nil {
		return fmt.Errorf("postgres: marshal attempts %s: %w", result.ID, err)
	}

	const query = `
		INSERT INTO execution_results (id, plan_id, status, reason, spent_capital,
			realized_proceeds, residuals, attempts, tx_hashes, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = s.pool.Exec(ctx, query,
		result.ID, result.PlanID, string(result.Status), result.Reason,
		result.SpentCapital, result.RealizedProceeds, residuals, attempts,
		result.TxHashes, result.StartedAt, result.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create execution_result %s: %w", result.ID, err)
	}
	return nil
}

// GetByID returns an execution result by id. It returns domain.ErrNotFound
// when no row exists.
func (s *ExecutionResultStore) GetByID(ctx context.Context, id string) (domain.ExecutionResult, error) {
	result, err := scanResult(s.pool.QueryRow(ctx, resultSelect+" WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionResult{}, domain.ErrNotFound
		}
		return domain.ExecutionResult{}, fmt.Errorf("postgres: get execution_result %s: %w", id, err)
	}
	return result, nil
}

// ListRecent returns the newest results, newest first.
func (s *ExecutionResultStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, resultSelect+" ORDER BY completed_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent execution_results: %w", err)
	}
	return collectResults(rows)
}

// ListBefore returns results completed strictly before the cutoff, oldest
// first, for archival.
func (s *ExecutionResultStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionResult, error) {
	rows, err := s.pool.Query(ctx, resultSelect+" WHERE completed_at < $1 ORDER BY completed_at", before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list execution_results before %s: %w", before, err)
	}
	return collectResults(rows)
}

// ListResiduals returns results still carrying unsold positions.
func (s *ExecutionResultStore) ListResiduals(ctx context.Context) ([]domain.ExecutionResult, error) {
	rows, err := s.pool.Query(ctx, resultSelect+` WHERE jsonb_array_length(residuals) > 0 ORDER BY completed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list residual execution_results: %w", err)
	}
	return collectResults(rows)
}

const resultSelect = `
	SELECT id, plan_id, status, reason, spent_capital, realized_proceeds,
		residuals, attempts, tx_hashes, started_at, completed_at
	FROM execution_results`

func collectResults(rows pgx.Rows) ([]domain.ExecutionResult, error) {
	defer rows.Close()
	var list []domain.ExecutionResult
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan execution_result: %w", err)
		}
		list = append(list, result)
	}
	return list, rows.Err()
}

func scanResult(row pgx.Row) (domain.ExecutionResult, error) {
	var (
		r         domain.ExecutionResult
		status    string
		residuals []byte
		attempts  []byte
	)
	err := row.Scan(&r.ID, &r.PlanID, &status, &r.Reason, &r.SpentCapital,
		&r.RealizedProceeds, &residuals, &attempts, &r.TxHashes,
		&r.StartedAt, &r.CompletedAt)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	r.Status = domain.ExecStatus(status)
	if err := json.Unmarshal(residuals, &r.Residuals); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("unmarshal residuals: %w", err)
	}
	if err := json.Unmarshal(attempts, &r.Attempts); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("unmarshal attempts: %w", err)
	}
	return r, nil
}

// Compile-time interface check.
var _ domain.ExecutionResultStore = (*ExecutionResultStore)(nil)
