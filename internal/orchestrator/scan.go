package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/betbot/stockpilot/internal/admission"
	"github.com/betbot/stockpilot/internal/domain"
	"github.com/betbot/stockpilot/internal/events"
	"github.com/betbot/stockpilot/internal/ports"
	"github.com/betbot/stockpilot/internal/risk"
	"github.com/betbot/stockpilot/internal/store"
	"github.com/shopspring/decimal"
)

// scan 拉候选 -> 准入 -> 逐条落库并执行
func (o *Orchestrator) scan(ctx context.Context, c *cycle) error {
	rctx, cancel := o.callCtx(ctx)
	cands, err := o.deps.Research.Candidates(rctx)
	cancel()
	if err != nil {
		if cerr := cancelled(ctx); cerr != nil {
			return cerr
		}
		log.Warnf("研究模块不可用，本周期跳过扫描: %v", err)
		c.sum.AddProblem("research: %v", err)
		o.deps.Metrics.Skipped()
		return nil
	}

	for i := range cands {
		cands[i] = admission.FoldAdvice(ctx, o.deps.Advisor, cands[i].Normalize(), o.opts.CallTimeout)
	}
	decisions, err := admission.EvaluateAll(ctx, cands, c.th, c.now, o.opts.Concurrency)
	if err != nil {
		if cerr := cancelled(ctx); cerr != nil {
			return cerr
		}
		return err
	}
	for _, d := range decisions {
		if d.Admitted() && d.Tier == domain.TierLarge {
			c.largeAdmit = true
		}
	}

	if err := o.loadDeployed(ctx, c); err != nil {
		return err
	}

	for _, d := range decisions {
		if err := cancelled(ctx); err != nil {
			return err
		}
		d.CycleID = c.sum.ID
		pctx, cancel := o.persistCtx(ctx)
		id, err := o.deps.Store.RecordDecision(pctx, d)
		cancel()
		if err != nil {
			return err
		}
		d.ID = id
		c.sum.Evaluated++
		o.deps.Metrics.Decision(d)
		if !d.Admitted() {
			c.sum.Rejected++
			log.Debugf("拒绝 %s: %s", d.Candidate.Ticker, d.Reason)
			continue
		}
		c.sum.Admitted++
		if err := o.execute(ctx, c, d); err != nil {
			return err
		}
	}
	return nil
}

// loadDeployed 周期开始时的已部署比例 + 当日已用额度
func (o *Orchestrator) loadDeployed(ctx context.Context, c *cycle) error {
	cost, err := o.deps.Store.DeployedCost(ctx)
	if err != nil {
		return abort(ctx, err)
	}
	c.deployed = cost.Div(o.opts.Capital).InexactFloat64()

	used, err := o.deps.Store.TradesExecutedOn(ctx, c.now.In(o.deps.Schedule.Location()))
	if err != nil {
		return abort(ctx, err)
	}
	o.deps.Budget.Sync(c.day, used, c.th.DailyTradeCap)
	return nil
}

// execute 准入决策 -> 闸门 -> 下单；每条准入最终恰好对应一条成交或一条未执行记录。
// 只有持久化失败（或取消）会返回 error。
func (o *Orchestrator) execute(ctx context.Context, c *cycle, d domain.Decision) error {
	ticker := d.Candidate.Ticker
	held, err := o.heldFraction(ctx, ticker)
	if err != nil {
		if ctx.Err() != nil {
			return o.cancelledRecord(ctx, c, d)
		}
		return err
	}
	gates := risk.Gates{Breaker: o.deps.Breaker, Budget: o.deps.Budget}
	if v := gates.Check(risk.GateInput{
		Day:              c.day,
		SizeFraction:     d.SizeFraction,
		DeployedFraction: c.deployed,
		PositionFraction: held,
		Thresholds:       c.th,
		DryRun:           c.dryRun,
	}); v != nil {
		kind := domain.UnexecutedPolicy
		if v.Gate == risk.GateDryRun {
			kind = domain.UnexecutedDryRun
		}
		if err := o.unexecuted(ctx, c, d, kind, v.Error()); err != nil {
			return err
		}
		if kind == domain.UnexecutedPolicy {
			o.notify(ctx, c, events.New(ticker, events.AlertGateBlocked, map[string]any{
				"gate":   v.Gate,
				"detail": v.Detail,
				"tier":   string(d.Tier),
			}))
		}
		return nil
	}

	qctx, cancel := o.callCtx(ctx)
	q, err := o.deps.Data.Quote(qctx, ticker)
	cancel()
	if err == nil && !q.Price.IsPositive() {
		err = &domain.ExternalCallFailure{Op: "quote", Ticker: ticker, Err: fmt.Errorf("no price")}
	}
	if err != nil {
		if ctx.Err() != nil {
			return o.cancelledRecord(ctx, c, d)
		}
		log.Warnf("行情获取失败，跳过 %s: %v", ticker, err)
		c.sum.AddProblem("quote %s: %v", ticker, err)
		o.deps.Metrics.Skipped()
		return o.record(ctx, c, d, domain.UnexecutedExternal, err.Error(), &c.sum.Skipped)
	}

	shares := sharesFor(d.SizeFraction, o.opts.Capital, q.Price)
	if !shares.IsPositive() {
		v := &domain.PolicyViolation{Gate: risk.GateMinShares, Detail: fmt.Sprintf("size %.4f of %s at %s is below one share", d.SizeFraction, o.opts.Capital, q.Price)}
		return o.unexecuted(ctx, c, d, domain.UnexecutedPolicy, v.Error())
	}
	if ctx.Err() != nil {
		return o.cancelledRecord(ctx, c, d)
	}

	req := ports.ExecutionRequest{
		Ticker:    ticker,
		Shares:    shares,
		Side:      ports.SideBuy,
		StopPrice: stopPrice(q.Price, o.opts.StopLossPct),
		LimitHint: q.Price,
	}
	// 单一旦发出就等券商回报，周期取消不打断
	ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.CallTimeout)
	res, err := o.deps.Executor.Execute(ectx, req)
	cancel()
	if err != nil || !res.Success {
		detail := res.Error
		if err != nil {
			detail = err.Error()
		}
		if !errors.Is(err, context.Canceled) {
			o.deps.Breaker.OnError()
		}
		log.Errorf("下单失败: %s x%s err=%s", ticker, shares, detail)
		if rerr := o.unexecuted(ctx, c, d, domain.UnexecutedExecution, detail); rerr != nil {
			return rerr
		}
		o.notify(ctx, c, events.New(ticker, events.AlertExecutionFailed, map[string]any{
			"shares": shares.String(),
			"error":  detail,
		}))
		return nil
	}
	o.deps.Breaker.OnSuccess()

	fill := res.FillPrice
	if !fill.IsPositive() {
		fill = q.Price
	}
	t := domain.Trade{
		DecisionID:     d.ID,
		Ticker:         ticker,
		Action:         domain.ActionBuy,
		Shares:         shares,
		Price:          fill,
		BrokerOrderID:  res.BrokerOrderID,
		Thesis:         thesisOf(d.Candidate),
		ThesisStrength: thesisStrength(d.Candidate),
		CatalystDate:   q.CatalystDate,
		AnalystTarget:  q.AnalystTarget,
		CreatedAt:      o.now(),
	}
	pctx, pcancel := o.persistCtx(ctx)
	_, err = o.deps.Store.RecordTrade(pctx, t)
	pcancel()
	if err != nil {
		// 单已成交但没记上：必须中止，由人工核对
		return err
	}

	o.deps.Budget.Consume(c.day)
	c.deployed += t.Notional().Div(o.opts.Capital).InexactFloat64()
	c.sum.Executed++
	o.deps.Metrics.Trade(domain.ActionBuy)
	log.Infof("已买入 %s x%s @ %s tier=%s order=%s", ticker, shares, fill, d.Tier, res.BrokerOrderID)
	o.notify(ctx, c, events.New(ticker, events.AlertTradeExecuted, map[string]any{
		"shares":   shares.String(),
		"price":    fill.String(),
		"tier":     string(d.Tier),
		"order_id": res.BrokerOrderID,
	}))
	return nil
}

// heldFraction 该 ticker 已有持仓成本占总资金的比例；成交落库时已并入持仓
func (o *Orchestrator) heldFraction(ctx context.Context, ticker string) (float64, error) {
	p, err := o.deps.Store.GetPosition(ctx, ticker)
	switch {
	case errors.Is(err, store.ErrNoPosition):
		return 0, nil
	case err != nil:
		return 0, err
	}
	return p.CostBasis().Div(o.opts.Capital).InexactFloat64(), nil
}

func (o *Orchestrator) unexecuted(ctx context.Context, c *cycle, d domain.Decision, kind domain.UnexecutedKind, detail string) error {
	return o.record(ctx, c, d, kind, detail, &c.sum.Unexecuted)
}

func (o *Orchestrator) cancelledRecord(ctx context.Context, c *cycle, d domain.Decision) error {
	if err := o.unexecuted(ctx, c, d, domain.UnexecutedCancelled, "cycle cancelled before execution"); err != nil {
		return err
	}
	return cancelled(ctx)
}

func (o *Orchestrator) record(ctx context.Context, c *cycle, d domain.Decision, kind domain.UnexecutedKind, detail string, counter *int) error {
	pctx, cancel := o.persistCtx(ctx)
	defer cancel()
	err := o.deps.Store.RecordUnexecuted(pctx, domain.Unexecuted{
		DecisionID: d.ID,
		Kind:       kind,
		Detail:     detail,
		CreatedAt:  o.now(),
	})
	if err != nil {
		return err
	}
	*counter++
	o.deps.Metrics.Unexecuted(kind)
	log.Infof("未执行 %s: %s %s", d.Candidate.Ticker, kind, detail)
	return nil
}

// sharesFor floor(size × capital / price)
func sharesFor(size float64, capital, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() || size <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(size).Mul(capital).Div(price).Floor()
}

func stopPrice(price decimal.Decimal, lossPct float64) decimal.Decimal {
	if lossPct <= 0 {
		return decimal.Zero
	}
	keep := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(lossPct).Div(decimal.NewFromInt(100)))
	return price.Mul(keep).Round(2)
}

func thesisOf(c domain.Candidate) string {
	parts := make([]string, 0, 2)
	if c.Strategy != "" {
		parts = append(parts, c.Strategy)
	}
	if len(c.Signals) > 0 {
		parts = append(parts, strings.Join(c.Signals, ","))
	}
	return strings.Join(parts, ": ")
}

// thesisStrength 建仓时的初始论点强度（0-10），取汇聚分的十分位
func thesisStrength(c domain.Candidate) int {
	v := int(math.Round(c.Convergence / 10))
	switch {
	case v < 0:
		return 0
	case v > 10:
		return 10
	}
	return v
}
