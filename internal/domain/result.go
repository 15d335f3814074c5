package domain

import "time"

// ExecStatus is the terminal status of one plan execution.
type ExecStatus string

const (
	// ExecFilled: every liquidation leg filled completely.
	ExecFilled ExecStatus = "filled"

	// ExecPartial: the fallback chain exhausted with a nonzero residual
	// position still held by the wallet.
	ExecPartial ExecStatus = "partial"

	// ExecAbortedPreflight: the liquidity validator rejected the plan before
	// any capital-committing action. No on-chain call was made.
	ExecAbortedPreflight ExecStatus = "aborted_preflight"

	// ExecFailedOnchain: the position transition reverted or timed out.
	// Capital was lost to gas only; no tokens exist to sell.
	ExecFailedOnchain ExecStatus = "failed_onchain"
)

// ResidualHolding is an unsold token quantity left after the fallback
// chain's final stage expired. Surfaced prominently; never discarded.
type ResidualHolding struct {
	TokenID  string
	Quantity float64
	// LastPrice is the price of the final (expired) resting order, kept for
	// the follow-up report.
	LastPrice float64
}

// ExecutionResult is the terminal record of one plan's outcome. It is created
// by the orchestrator once the run reaches a terminal state and is never
// mutated afterwards.
type ExecutionResult struct {
	ID     string
	PlanID string
	Status ExecStatus

	// Reason carries the rejection or failure detail for non-filled statuses
	// (e.g. "insufficient-liquidity", "spread-closed", a revert reason).
	Reason string

	// SpentCapital is the collateral committed on-chain (zero when aborted
	// in preflight).
	SpentCapital float64

	// RealizedProceeds is the cumulative proceeds across all order attempts.
	RealizedProceeds float64

	// Residuals lists stuck positions requiring manual or deferred follow-up.
	Residuals []ResidualHolding

	// Attempts is the ordered log of every order placed during liquidation.
	Attempts []OrderAttempt

	// TxHashes lists the on-chain transactions issued for this plan.
	TxHashes []string

	StartedAt   time.Time
	CompletedAt time.Time
}

// RealizedProfit returns proceeds minus committed capital. Negative values
// include capital parked in residual positions.
func (r ExecutionResult) RealizedProfit() float64 {
	return r.RealizedProceeds - r.SpentCapital
}

// HasResidual reports whether any position remains unsold.
func (r ExecutionResult) HasResidual() bool {
	for _, h := range r.Residuals {
		if h.Quantity > 0 {
			return true
		}
	}
	return false
}
