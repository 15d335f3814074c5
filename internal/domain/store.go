package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketGroupStore persists market groups and their member links.
type MarketGroupStore interface {
	Upsert(ctx context.Context, g MarketGroup) error
	GetByID(ctx context.Context, id string) (MarketGroup, error)
	List(ctx context.Context) ([]MarketGroup, error)
}

// PlanStore persists scanner output. Consume marks a plan as taken by an
// execution run; a plan can be consumed at most once.
type PlanStore interface {
	Insert(ctx context.Context, plan ArbitragePlan) error
	GetByID(ctx context.Context, id string) (ArbitragePlan, error)
	// Consume atomically marks the plan consumed, returning ErrPlanConsumed
	// if another run got there first.
	Consume(ctx context.Context, id string) error
	ListRecent(ctx context.Context, limit int) ([]ArbitragePlan, error)
}

// ExecutionResultStore persists terminal execution records for audit.
type ExecutionResultStore interface {
	Create(ctx context.Context, result ExecutionResult) error
	GetByID(ctx context.Context, id string) (ExecutionResult, error)
	ListRecent(ctx context.Context, limit int) ([]ExecutionResult, error)
	// ListBefore returns results completed strictly before the cutoff, for
	// archival.
	ListBefore(ctx context.Context, before time.Time) ([]ExecutionResult, error)
	// ListResiduals returns results still carrying unsold positions.
	ListResiduals(ctx context.Context) ([]ExecutionResult, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
