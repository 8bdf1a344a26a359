package orchestrator

import (
	"context"
	"errors"

	"github.com/betbot/stockpilot/internal/domain"
	"github.com/betbot/stockpilot/internal/health"
	"github.com/betbot/stockpilot/internal/ports"
	"github.com/betbot/stockpilot/internal/store"
	"golang.org/x/sync/errgroup"
)

type quoteResult struct {
	q   ports.Quote
	err error
}

// checkPositions 并发拉行情，顺序评估并写回健康度
func (o *Orchestrator) checkPositions(ctx context.Context, c *cycle) error {
	positions, err := o.deps.Store.ListPositions(ctx)
	if err != nil {
		return abort(ctx, err)
	}
	if len(positions) == 0 {
		return nil
	}

	quotes := make([]quoteResult, len(positions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Concurrency)
	for i := range positions {
		i := i
		g.Go(func() error {
			qctx, cancel := o.callCtx(gctx)
			defer cancel()
			q, err := o.deps.Data.Quote(qctx, positions[i].Ticker)
			quotes[i] = quoteResult{q: q, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, p := range positions {
		if err := cancelled(ctx); err != nil {
			return err
		}
		if err := quotes[i].err; err != nil {
			log.Warnf("持仓行情获取失败，跳过 %s: %v", p.Ticker, err)
			c.sum.Skipped++
			c.sum.AddProblem("position %s: %v", p.Ticker, err)
			o.deps.Metrics.Skipped()
			continue
		}

		now := o.now()
		p = health.Refresh(p, quotes[i].q, now)
		a := health.Evaluate(p, o.opts.Health, now, c.largeAdmit)
		p.HealthScore = a.Score
		p.HealthState = a.State

		pctx, cancel := o.persistCtx(ctx)
		err := o.deps.Store.UpdatePositionHealth(pctx, p)
		cancel()
		if errors.Is(err, store.ErrNoPosition) {
			// 评估期间被平仓
			log.Warnf("持仓已不存在，跳过 %s", p.Ticker)
			c.sum.Skipped++
			c.sum.AddProblem("position %s: closed during health check", p.Ticker)
			o.deps.Metrics.Skipped()
			continue
		}
		if err != nil {
			return err
		}

		c.sum.PositionsChecked++
		switch a.State {
		case domain.HealthStrong:
			c.sum.Strong++
		case domain.HealthWatch:
			c.sum.Watch++
		case domain.HealthDeadMoney:
			c.sum.DeadMoney++
		}
		log.Debugf("持仓 %s score=%.2f state=%s thesis=%s action=%s", a.Ticker, a.Score, a.State, a.Thesis, a.Action)
		for _, alert := range health.Alerts(a) {
			o.notify(ctx, c, alert)
		}
	}
	return nil
}
