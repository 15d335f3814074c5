package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polyclaw/engine/internal/domain"
	"github.com/polyclaw/engine/internal/feed"
	"github.com/polyclaw/engine/internal/liquidity"
	"github.com/polyclaw/engine/internal/orchestrator"
	"github.com/polyclaw/engine/internal/orderexec"
	"github.com/polyclaw/engine/internal/scanner"
)

// ScanMode discovers market groups, streams their books, and emits plans.
// Read-only: no orders, no chain calls.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scan mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startScanPipeline(ctx, g, deps)
	return g.Wait()
}

// ExecuteMode consumes plan IDs from the plan bus and runs each through the
// execution orchestrator.
func (a *App) ExecuteMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting execute mode",
		slog.Bool("auto_execute", a.cfg.Execution.AutoExecute),
	)

	g, ctx := errgroup.WithContext(ctx)
	orch, err := a.startExecutionLoop(ctx, g, deps)
	if err != nil {
		return err
	}
	a.startRedeemLoop(ctx, g, orch)
	a.startArchiveLoop(ctx, g, deps)
	return g.Wait()
}

// MonitorMode streams market data into the caches without persisting plans or
// placing any orders.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	marketFeed := feed.NewFeed(a.cfg.Polymarket.WsHost, deps.Books, deps.Prices, a.logger)
	g.Go(func() error {
		err := marketFeed.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return a.groupRefreshLoop(ctx, deps, marketFeed)
	})

	return g.Wait()
}

// FullMode runs scanning and execution in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode",
		slog.Bool("auto_execute", a.cfg.Execution.AutoExecute),
	)

	g, ctx := errgroup.WithContext(ctx)
	a.startScanPipeline(ctx, g, deps)
	orch, err := a.startExecutionLoop(ctx, g, deps)
	if err != nil {
		return err
	}
	a.startRedeemLoop(ctx, g, orch)
	a.startArchiveLoop(ctx, g, deps)
	return g.Wait()
}

// startScanPipeline adds the feed, group refresh, and scan loop goroutines.
func (a *App) startScanPipeline(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	marketFeed := feed.NewFeed(a.cfg.Polymarket.WsHost, deps.Books, deps.Prices, a.logger)
	g.Go(func() error {
		err := marketFeed.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return a.groupRefreshLoop(ctx, deps, marketFeed)
	})

	scan := scanner.New(deps.Books, scanner.Config{
		MinProfitRatio: a.cfg.Scanner.MinProfitRatio,
		FeeBuffer:      a.cfg.Scanner.FeeBuffer,
		MaxSnapshotAge: a.cfg.Scanner.MaxSnapshotAge.Duration,
		DefaultCapital: a.cfg.Scanner.DefaultCapital,
		Parallelism:    a.cfg.Scanner.Parallelism,
	}, a.logger)

	g.Go(func() error {
		return a.scanLoop(ctx, deps, scan)
	})
}

// groupRefreshLoop periodically re-discovers market groups, persists them,
// and retargets the feed subscription. The first refresh runs immediately.
func (a *App) groupRefreshLoop(ctx context.Context, deps *Dependencies, marketFeed *feed.Feed) error {
	interval := a.cfg.Scanner.GroupRefresh.Duration
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	refresh := func() {
		groups, err := deps.Gamma.FetchGroups(ctx)
		if err != nil {
			a.logger.WarnContext(ctx, "group discovery failed", slog.String("error", err.Error()))
			return
		}
		if len(groups) == 0 {
			a.logger.InfoContext(ctx, "group discovery found no groups")
			return
		}

		if deps.Groups != nil {
			for _, group := range groups {
				if err := deps.Groups.Upsert(ctx, group); err != nil {
					a.logger.WarnContext(ctx, "group upsert failed",
						slog.String("group_id", group.ID),
						slog.String("error", err.Error()),
					)
				}
			}
		}
		if err := deps.GroupCache.SetGroups(ctx, groups); err != nil {
			a.logger.WarnContext(ctx, "group cache write failed", slog.String("error", err.Error()))
		}

		if err := marketFeed.SetAssets(ctx, groupAssetIDs(groups)); err != nil {
			a.logger.WarnContext(ctx, "feed subscription update failed", slog.String("error", err.Error()))
		}
		a.logger.InfoContext(ctx, "groups refreshed", slog.Int("groups", len(groups)))
	}

	refresh()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			refresh()
		}
	}
}

// scanLoop sweeps all known groups on the scan interval, persists emitted
// plans, and announces them on the plan bus.
func (a *App) scanLoop(ctx context.Context, deps *Dependencies, scan *scanner.Scanner) error {
	interval := a.cfg.Scanner.Interval.Duration
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		groups, err := a.loadGroups(ctx, deps)
		if err != nil {
			a.logger.WarnContext(ctx, "scan: load groups failed", slog.String("error", err.Error()))
			continue
		}
		if len(groups) == 0 {
			continue
		}

		plans, err := scan.Scan(ctx, groups)
		if err != nil {
			a.logger.WarnContext(ctx, "scan sweep failed", slog.String("error", err.Error()))
			continue
		}

		for _, plan := range plans {
			if deps.Plans != nil {
				if err := deps.Plans.Insert(ctx, plan); err != nil {
					a.logger.WarnContext(ctx, "plan insert failed",
						slog.String("plan_id", plan.ID),
						slog.String("error", err.Error()),
					)
					continue
				}
			}
			if err := deps.PlanBus.PublishPlan(ctx, plan.ID); err != nil {
				a.logger.WarnContext(ctx, "plan publish failed",
					slog.String("plan_id", plan.ID),
					slog.String("error", err.Error()),
				)
			}
			a.logger.InfoContext(ctx, "plan emitted",
				slog.String("plan_id", plan.ID),
				slog.String("group_id", plan.GroupID),
				slog.String("direction", string(plan.Direction)),
				slog.Float64("profit_per_set", plan.TheoreticalProfit),
			)
		}
	}
}

// loadGroups prefers the cache and falls back to the store.
func (a *App) loadGroups(ctx context.Context, deps *Dependencies) ([]domain.MarketGroup, error) {
	groups, err := deps.GroupCache.GetGroups(ctx)
	if err == nil {
		return groups, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		a.logger.DebugContext(ctx, "group cache read failed", slog.String("error", err.Error()))
	}
	if deps.Groups == nil {
		return nil, nil
	}
	return deps.Groups.List(ctx)
}

// redeemSweepInterval paces the residual redemption sweep. Redemptions on
// unresolved conditions revert, so sweeping faster only burns gas.
const redeemSweepInterval = time.Hour

// startExecutionLoop subscribes to the plan bus and drives the orchestrator,
// which is returned for the redeem sweep. With auto_execute off, announced
// plans are logged but never run.
func (a *App) startExecutionLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) (*orchestrator.Orchestrator, error) {
	if deps.Clob == nil || deps.ChainExec == nil {
		return nil, fmt.Errorf("execution requires a wallet and chain configuration")
	}

	validator := liquidity.New(deps.Clob, liquidity.Config{
		MinProfitRatio: a.cfg.Liquidity.MinProfitRatio,
		MinFillRatio:   a.cfg.Liquidity.MinFillRatio,
		MaxPlanAge:     a.cfg.Liquidity.MaxPlanAge.Duration,
	}, a.logger)

	legs := orderexec.New(deps.Clob, orderexec.Config{
		IOCRelax:     a.cfg.Fallback.IOCRelax,
		LimitRelax:   a.cfg.Fallback.LimitRelax,
		PriceFloor:   a.cfg.Fallback.PriceFloor,
		LimitTimeout: a.cfg.Fallback.LimitTimeout.Duration,
		LimitPoll:    a.cfg.Fallback.LimitPoll.Duration,
	}, a.logger)

	orch := orchestrator.New(
		validator, deps.ChainExec, legs,
		deps.Plans, deps.Groups, deps.Results, deps.Audit,
		orchestrator.Config{RevalidateAfter: a.cfg.Execution.RevalidateAfter.Duration},
		a.logger,
	)

	planCh, err := deps.PlanBus.SubscribePlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscribe plans: %w", err)
	}

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case planID, ok := <-planCh:
				if !ok {
					return nil
				}
				if !a.cfg.Execution.AutoExecute {
					a.logger.InfoContext(ctx, "plan announced (auto_execute off)",
						slog.String("plan_id", planID),
					)
					continue
				}
				a.executePlan(ctx, orch, planID)
			}
		}
	})
	return orch, nil
}

// startRedeemLoop periodically redeems settled residual positions so stuck
// capital flows back to collateral once markets resolve.
func (a *App) startRedeemLoop(ctx context.Context, g *errgroup.Group, orch *orchestrator.Orchestrator) {
	g.Go(func() error {
		ticker := time.NewTicker(redeemSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				count, err := orch.RedeemResiduals(ctx)
				if err != nil {
					a.logger.WarnContext(ctx, "residual redemption sweep failed", slog.String("error", err.Error()))
					continue
				}
				if count > 0 {
					a.logger.InfoContext(ctx, "residual positions redeemed", slog.Int("count", count))
				}
			}
		}
	})
}

// executePlan runs one plan and surfaces its terminal outcome. Residuals are
// logged prominently since they hold capital.
func (a *App) executePlan(ctx context.Context, orch *orchestrator.Orchestrator, planID string) {
	result, err := orch.Execute(ctx, planID, a.cfg.Execution.MaxCapital)
	if err != nil {
		if errors.Is(err, domain.ErrPlanConsumed) {
			a.logger.DebugContext(ctx, "plan already taken", slog.String("plan_id", planID))
			return
		}
		a.logger.ErrorContext(ctx, "plan execution failed",
			slog.String("plan_id", planID),
			slog.String("error", err.Error()),
		)
		return
	}

	a.logger.InfoContext(ctx, "plan executed",
		slog.String("plan_id", planID),
		slog.String("status", string(result.Status)),
		slog.Float64("spent", result.SpentCapital),
		slog.Float64("proceeds", result.RealizedProceeds),
		slog.Float64("profit", result.RealizedProfit()),
	)
	for _, residual := range result.Residuals {
		a.logger.WarnContext(ctx, "residual position held",
			slog.String("plan_id", planID),
			slog.String("token_id", residual.TokenID),
			slog.Float64("quantity", residual.Quantity),
			slog.Float64("last_price", residual.LastPrice),
		)
	}
}

// startArchiveLoop periodically moves old execution results to object
// storage. No-op unless archival is wired.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}

	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}

	g.Go(func() error {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-retention)
				count, err := deps.Archiver.ArchiveResults(ctx, cutoff)
				if err != nil {
					a.logger.WarnContext(ctx, "result archival failed", slog.String("error", err.Error()))
					continue
				}
				if count > 0 {
					a.logger.InfoContext(ctx, "results archived",
						slog.Int64("count", count),
						slog.Time("cutoff", cutoff),
					)
				}
			}
		}
	})
}

// groupAssetIDs collects the distinct token IDs a group set trades, for the
// feed subscription.
func groupAssetIDs(groups []domain.MarketGroup) []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(tokenID string) {
		if tokenID == "" || seen[tokenID] {
			return
		}
		seen[tokenID] = true
		ids = append(ids, tokenID)
	}
	for _, group := range groups {
		add(group.Aggregate.YesTokenID)
		add(group.Aggregate.NoTokenID)
		for _, member := range group.Members {
			add(member.YesTokenID)
			add(member.NoTokenID)
		}
	}
	return ids
}
