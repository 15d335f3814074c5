// Package orderexec liquidates a single plan leg through a ladder of
// descending aggressiveness: fill-or-kill at the planned price, then
// immediate-or-cancel at a relaxed price, then a resting limit order with a
// timeout. Whatever remains unfilled at the end is reported as residual; the
// chain never loses track of quantity.
package orderexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/polyclaw/engine/internal/domain"
)

// OrderPlacer is the venue surface the fallback chain drives. PlaceOrder for
// an immediate type returns the final fill; for GTC it returns the resting
// order, which is then polled with GetOrder and cancelled with CancelOrder.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderFill, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (domain.OrderFill, error)
}

// State names one node of the liquidation ladder's state machine.
type State string

const (
	StatePending         State = "pending"
	StateFOKAttempted    State = "fok_attempted"
	StateIOCAttempted    State = "ioc_attempted"
	StateLimitResting    State = "limit_resting"
	StateFilled          State = "filled"
	StateExpiredResidual State = "expired_residual"
)

// Config tunes the ladder's price relaxation and patience.
type Config struct {
	// IOCRelax is the absolute price concession applied at the IOC stage:
	// subtracted for sells, added for buys.
	IOCRelax float64

	// LimitRelax is the concession applied to the resting limit price.
	LimitRelax float64

	// PriceFloor clamps relaxed sell prices; buys are clamped to 1−PriceFloor.
	PriceFloor float64

	// LimitTimeout bounds how long the resting order may wait before it is
	// cancelled and the remainder declared residual.
	LimitTimeout time.Duration

	// LimitPoll is the status poll interval while resting.
	LimitPoll time.Duration
}

// Outcome is the terminal record of one leg's liquidation. The accounting
// invariant Filled + Residual == Requested holds regardless of which rungs
// executed or errored.
type Outcome struct {
	State     State
	TokenID   string
	Side      domain.OrderSide
	Requested float64
	Filled    float64
	Residual  float64
	Proceeds  float64 // notional of the filled portion across all attempts
	Attempts  []domain.OrderAttempt
}

// AvgPrice returns the volume-weighted fill price, or 0 if nothing filled.
func (o Outcome) AvgPrice() float64 {
	if o.Filled <= 0 {
		return 0
	}
	return o.Proceeds / o.Filled
}

// Executor runs the fallback ladder for one leg at a time.
type Executor struct {
	venue  OrderPlacer
	cfg    Config
	logger *slog.Logger
}

// New creates an Executor. Zero config fields take the standard ladder
// parameters: 0.02 IOC relax, 0.05 limit relax, 0.01 price floor, 30s limit
// timeout, 2s poll.
func New(venue OrderPlacer, cfg Config, logger *slog.Logger) *Executor {
	if cfg.IOCRelax <= 0 {
		cfg.IOCRelax = 0.02
	}
	if cfg.LimitRelax <= 0 {
		cfg.LimitRelax = 0.05
	}
	if cfg.PriceFloor <= 0 {
		cfg.PriceFloor = 0.01
	}
	if cfg.LimitTimeout <= 0 {
		cfg.LimitTimeout = 30 * time.Second
	}
	if cfg.LimitPoll <= 0 {
		cfg.LimitPoll = 2 * time.Second
	}
	return &Executor{
		venue:  venue,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "order_fallback")),
	}
}

// Execute drives one leg through the ladder until filled or exhausted. Venue
// errors on a rung are recorded and advance the ladder rather than abort it;
// only context cancellation stops early, and even then the outcome accounts
// for every unit.
func (e *Executor) Execute(ctx context.Context, tokenID string, side domain.OrderSide, price, size float64) Outcome {
	out := Outcome{
		State:     StatePending,
		TokenID:   tokenID,
		Side:      side,
		Requested: size,
		Residual:  size,
	}

	// Rung 1: all-or-nothing at the planned price.
	out.State = StateFOKAttempted
	e.attempt(ctx, &out, domain.StageFOK, domain.OrderTypeFOK, price)
	if out.Residual <= 0 {
		out.State = StateFilled
		return out
	}
	if ctx.Err() != nil {
		out.State = StateExpiredResidual
		return out
	}

	// Rung 2: partials allowed at a relaxed price.
	out.State = StateIOCAttempted
	e.attempt(ctx, &out, domain.StageIOC, domain.OrderTypeFAK, e.relax(side, price, e.cfg.IOCRelax))
	if out.Residual <= 0 {
		out.State = StateFilled
		return out
	}
	if ctx.Err() != nil {
		out.State = StateExpiredResidual
		return out
	}

	// Rung 3: rest on the book at a deeper concession, bounded by the timeout.
	out.State = StateLimitResting
	e.restLimit(ctx, &out, e.relax(side, price, e.cfg.LimitRelax))
	if out.Residual <= 0 {
		out.State = StateFilled
	} else {
		out.State = StateExpiredResidual
	}

	e.logger.Info("leg liquidation finished",
		slog.String("token_id", tokenID),
		slog.String("side", string(side)),
		slog.String("state", string(out.State)),
		slog.Float64("filled", out.Filled),
		slog.Float64("residual", out.Residual),
	)
	return out
}

// attempt places one immediate order for the current residual and folds the
// fill into the outcome.
func (e *Executor) attempt(ctx context.Context, out *Outcome, stage domain.FallbackStage, typ domain.OrderType, price float64) {
	att := domain.OrderAttempt{
		ID:        uuid.New().String(),
		Stage:     stage,
		TokenID:   out.TokenID,
		Side:      out.Side,
		Type:      typ,
		Price:     price,
		Requested: out.Residual,
		At:        time.Now().UTC(),
	}

	fill, err := e.venue.PlaceOrder(ctx, domain.OrderRequest{
		TokenID: out.TokenID,
		Side:    out.Side,
		Price:   price,
		Size:    out.Residual,
		Type:    typ,
	})
	if err != nil {
		att.Error = err.Error()
		out.Attempts = append(out.Attempts, att)
		e.logger.Warn("order attempt failed",
			slog.String("stage", string(stage)),
			slog.String("token_id", out.TokenID),
			slog.String("error", err.Error()),
		)
		return
	}

	att.Filled = fill.FilledSize
	att.AvgPrice = fill.AvgPrice
	att.OrderID = fill.OrderID
	out.Attempts = append(out.Attempts, att)
	e.apply(out, fill.FilledSize, fill.AvgPrice)
}

// restLimit places a GTC order for the residual and polls it until filled,
// timed out, or cancelled. The order is always cancelled before returning if
// still open; a cancel race that fills more is picked up by the final poll.
func (e *Executor) restLimit(ctx context.Context, out *Outcome, price float64) {
	att := domain.OrderAttempt{
		ID:        uuid.New().String(),
		Stage:     domain.StageLimit,
		TokenID:   out.TokenID,
		Side:      out.Side,
		Type:      domain.OrderTypeGTC,
		Price:     price,
		Requested: out.Residual,
		At:        time.Now().UTC(),
	}

	deadline := time.Now().Add(e.cfg.LimitTimeout)
	fill, err := e.venue.PlaceOrder(ctx, domain.OrderRequest{
		TokenID:    out.TokenID,
		Side:       out.Side,
		Price:      price,
		Size:       out.Residual,
		Type:       domain.OrderTypeGTC,
		Expiration: deadline,
	})
	if err != nil {
		att.Error = err.Error()
		out.Attempts = append(out.Attempts, att)
		return
	}
	att.OrderID = fill.OrderID

	ticker := time.NewTicker(e.cfg.LimitPoll)
	defer ticker.Stop()

	last := fill
	for last.Open && time.Now().Before(deadline) && ctx.Err() == nil {
		select {
		case <-ctx.Done():
		case <-ticker.C:
			polled, err := e.venue.GetOrder(ctx, fill.OrderID)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					// Venue dropped the order; keep the last known fill.
					last.Open = false
					break
				}
				continue
			}
			last = polled
		}
	}

	if last.Open {
		if err := e.venue.CancelOrder(ctx, fill.OrderID); err != nil {
			att.Error = fmt.Sprintf("cancel: %v", err)
		}
		// One final poll so a fill that raced the cancel is not lost.
		if polled, err := e.venue.GetOrder(ctx, fill.OrderID); err == nil {
			last = polled
		}
	}

	att.Filled = last.FilledSize
	att.AvgPrice = last.AvgPrice
	out.Attempts = append(out.Attempts, att)
	e.apply(out, last.FilledSize, last.AvgPrice)
}

// apply folds a fill into the running totals, clamping so cumulative filled
// never exceeds requested.
func (e *Executor) apply(out *Outcome, filled, avgPrice float64) {
	if filled <= 0 {
		return
	}
	if filled > out.Residual {
		filled = out.Residual
	}
	out.Filled += filled
	out.Residual = out.Requested - out.Filled
	out.Proceeds += filled * avgPrice
	if out.Residual < 1e-9 {
		out.Residual = 0
	}
}

// relax concedes price in the taker-friendly direction: down for sells, up
// for buys, clamped away from the 0/1 bounds.
func (e *Executor) relax(side domain.OrderSide, price, concession float64) float64 {
	if side == domain.OrderSideSell {
		p := price - concession
		if p < e.cfg.PriceFloor {
			p = e.cfg.PriceFloor
		}
		return p
	}
	p := price + concession
	if ceil := 1.0 - e.cfg.PriceFloor; p > ceil {
		p = ceil
	}
	return p
}
