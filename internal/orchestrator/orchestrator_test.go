package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/betbot/stockpilot/internal/domain"
	"github.com/betbot/stockpilot/internal/events"
	"github.com/betbot/stockpilot/internal/feedback"
	"github.com/betbot/stockpilot/internal/health"
	"github.com/betbot/stockpilot/internal/ports"
	"github.com/betbot/stockpilot/internal/risk"
	"github.com/betbot/stockpilot/internal/schedule"
	"github.com/betbot/stockpilot/internal/store"
	"github.com/betbot/stockpilot/pkg/statestore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2026-10-13 周二 10:00 纽约时间 -> MARKET_OPEN
var clock = time.Date(2026, 10, 13, 14, 0, 0, 0, time.UTC)

type fakeResearch struct {
	cands []domain.Candidate
	err   error
}

func (f fakeResearch) Candidates(context.Context) ([]domain.Candidate, error) {
	out := make([]domain.Candidate, len(f.cands))
	copy(out, f.cands)
	return out, f.err
}

type fakeExecutor struct {
	mu    sync.Mutex
	calls []ports.ExecutionRequest
	fail  map[string]string
}

func (f *fakeExecutor) Execute(_ context.Context, req ports.ExecutionRequest) (ports.ExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if msg, ok := f.fail[req.Ticker]; ok {
		return ports.ExecutionResult{Error: msg}, nil
	}
	return ports.ExecutionResult{Success: true, BrokerOrderID: fmt.Sprintf("ord-%d", len(f.calls))}, nil
}

func (f *fakeExecutor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeData struct {
	quotes map[string]ports.Quote
}

func (f fakeData) Quote(_ context.Context, ticker string) (ports.Quote, error) {
	q, ok := f.quotes[ticker]
	if !ok {
		return ports.Quote{}, &domain.ExternalCallFailure{Op: "quote", Ticker: ticker, Err: errors.New("timeout")}
	}
	q.Ticker = ticker
	return q, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []events.Alert
}

func (n *recordingNotifier) Notify(_ context.Context, a events.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

func (n *recordingNotifier) types() []events.AlertType {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []events.AlertType
	for _, a := range n.alerts {
		out = append(out, a.Type)
	}
	return out
}

type fakeFeedback struct {
	runs int
}

func (f *fakeFeedback) Run(context.Context) (feedback.Report, error) {
	f.runs++
	return feedback.Report{Published: domain.PolicyThresholds{Version: 2}}, nil
}

// failingTrades 成交落库失败
type failingTrades struct {
	*store.Store
}

func (failingTrades) RecordTrade(context.Context, domain.Trade) (string, error) {
	return "", &domain.PersistenceFailure{Op: "record trade", Err: errors.New("disk full")}
}

type fixture struct {
	store    *store.Store
	state    *statestore.Store
	exec     *fakeExecutor
	notifier *recordingNotifier
	deps     Deps
	opts     Options
}

func newFixture(t *testing.T, cands []domain.Candidate) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "learning.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	_, err = st.EnsureThresholds(context.Background(), domain.DefaultThresholds())
	require.NoError(t, err)

	state, err := statestore.Open(statestore.OpenOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = state.Close() })

	sched, err := schedule.New("America/New_York", nil)
	require.NoError(t, err)

	quotes := map[string]ports.Quote{}
	for _, c := range cands {
		quotes[c.Ticker] = ports.Quote{Price: decimal.NewFromInt(100)}
	}

	f := &fixture{
		store:    st,
		state:    state,
		exec:     &fakeExecutor{fail: map[string]string{}},
		notifier: &recordingNotifier{},
	}
	f.deps = Deps{
		Store:    st,
		State:    state,
		Research: fakeResearch{cands: cands},
		Executor: f.exec,
		Data:     fakeData{quotes: quotes},
		Notifier: f.notifier,
		Schedule: sched,
		Breaker:  risk.NewCircuitBreaker(risk.CircuitBreakerConfig{MaxConsecutiveErrors: 3, Location: sched.Location()}),
		Budget:   risk.NewDailyBudget(3),
	}
	f.opts = Options{
		Capital:     decimal.NewFromInt(100000),
		Health:      health.DefaultWeights(),
		CallTimeout: time.Second,
		Concurrency: 2,
	}
	return f
}

func (f *fixture) build(t *testing.T) *Orchestrator {
	t.Helper()
	o, err := New(f.deps, f.opts)
	require.NoError(t, err)
	o.SetClock(func() time.Time { return clock })
	return o
}

func gold(tickers ...string) []domain.Candidate {
	out := make([]domain.Candidate, 0, len(tickers))
	for _, tk := range tickers {
		out = append(out, domain.Candidate{Ticker: tk, Convergence: 90, VolumeRatio: 3, Signals: []string{"breakout"}, Strategy: "momentum"})
	}
	return out
}

func requireNoOrphans(t *testing.T, st *store.Store) {
	t.Helper()
	orphans, err := st.OrphanedDecisions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestRunCycle_DailyBudgetBlocksFourthAdmit(t *testing.T) {
	f := newFixture(t, gold("NVDA", "AMD", "AVGO", "MU"))
	o := f.build(t)

	sum, err := o.RunCycle(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.True(t, sum.Completed)
	assert.Equal(t, "MARKET_OPEN", sum.Window)
	assert.Equal(t, 4, sum.Evaluated)
	assert.Equal(t, 4, sum.Admitted)
	assert.Equal(t, 3, sum.Executed)
	assert.Equal(t, 1, sum.Unexecuted)
	assert.Equal(t, 3, f.exec.count())
	requireNoOrphans(t, f.store)

	decisions, err := f.store.ListDecisions(context.Background(), sum.ID, 10)
	require.NoError(t, err)
	require.Len(t, decisions, 4)
	var blocked *domain.Unexecuted
	for _, d := range decisions {
		u, err := f.store.GetUnexecuted(context.Background(), d.ID)
		require.NoError(t, err)
		if u != nil {
			blocked = u
		}
	}
	require.NotNil(t, blocked)
	assert.Equal(t, domain.UnexecutedPolicy, blocked.Kind)
	assert.Contains(t, blocked.Detail, risk.GateDailyBudget)

	n, err := f.store.TradesExecutedOn(context.Background(), clock.In(o.deps.Schedule.Location()))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// 同一天再跑一次：额度从库里恢复，不再下单
	sum, err = o.RunCycle(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Executed)
	assert.Equal(t, 4, sum.Unexecuted)
	assert.Equal(t, 3, f.exec.count())
	assert.Contains(t, f.notifier.types(), events.AlertGateBlocked)
}

func TestRunCycle_TradeSizingAndPositions(t *testing.T) {
	f := newFixture(t, []domain.Candidate{
		{Ticker: "NVDA", Convergence: 90, VolumeRatio: 3},  // LARGE 0.10
		{Ticker: "AMD", Convergence: 72, VolumeRatio: 1.6}, // MEDIUM 0.07
		{Ticker: "MU", Convergence: 40, VolumeRatio: 3},    // REJECT
	})
	f.opts.StopLossPct = 8
	o := f.build(t)

	sum, err := o.RunCycle(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Evaluated)
	assert.Equal(t, 2, sum.Admitted)
	assert.Equal(t, 1, sum.Rejected)
	assert.Equal(t, 2, sum.Executed)
	assert.Equal(t, 2, sum.PositionsChecked)

	require.Len(t, f.exec.calls, 2)
	assert.Equal(t, "100", f.exec.calls[0].Shares.String())
	assert.Equal(t, "70", f.exec.calls[1].Shares.String())
	assert.Equal(t, "92", f.exec.calls[0].StopPrice.String())
	assert.Equal(t, ports.SideBuy, f.exec.calls[0].Side)

	positions, err := f.store.ListPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)
	for _, p := range positions {
		assert.Equal(t, domain.HealthWatch, p.HealthState)
	}
	requireNoOrphans(t, f.store)
}

func TestRunCycle_DryRunRecordsEveryAdmit(t *testing.T) {
	f := newFixture(t, append(gold("NVDA", "AMD"), domain.Candidate{Ticker: "F", Convergence: 30, VolumeRatio: 1}))
	o := f.build(t)

	sum, err := o.RunCycle(context.Background(), RunOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, sum.DryRun)
	assert.Equal(t, 2, sum.Admitted)
	assert.Equal(t, 1, sum.Rejected)
	assert.Equal(t, 0, sum.Executed)
	assert.Equal(t, 2, sum.Unexecuted)
	assert.Equal(t, 0, f.exec.count())
	requireNoOrphans(t, f.store)

	decisions, err := f.store.ListDecisions(context.Background(), sum.ID, 10)
	require.NoError(t, err)
	for _, d := range decisions {
		u, err := f.store.GetUnexecuted(context.Background(), d.ID)
		require.NoError(t, err)
		if d.Admitted() {
			require.NotNil(t, u)
			assert.Equal(t, domain.UnexecutedDryRun, u.Kind)
		} else {
			assert.Nil(t, u)
		}
	}
}

func TestRunCycle_PersistenceFailureAborts(t *testing.T) {
	f := newFixture(t, gold("NVDA", "AMD"))
	f.deps.Store = failingTrades{Store: f.store}
	o := f.build(t)

	sum, err := o.RunCycle(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.True(t, domain.IsPersistenceFailure(err))
	assert.False(t, sum.Completed)
	assert.Equal(t, 1, f.exec.count())
	assert.Contains(t, f.notifier.types(), events.AlertCycleAborted)

	cycles, err := f.store.ListCycles(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.False(t, cycles[0].Completed)
	assert.NotEmpty(t, cycles[0].Error)
}

func TestRunCycle_ExternalFailuresSkipOnlyTheItem(t *testing.T) {
	f := newFixture(t, gold("NVDA", "AMD"))
	f.deps.Data = fakeData{quotes: map[string]ports.Quote{"NVDA": {Price: decimal.NewFromInt(100)}}}
	o := f.build(t)

	sum, err := o.RunCycle(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.True(t, sum.Completed)
	assert.Equal(t, 2, sum.Admitted)
	assert.Equal(t, 1, sum.Executed)
	assert.Equal(t, 1, sum.Skipped)
	assert.NotEmpty(t, sum.Problems)
	requireNoOrphans(t, f.store)

	f.deps.Research = fakeResearch{err: &domain.ExternalCallFailure{Op: "research", Err: errors.New("feed missing")}}
	o = f.build(t)
	sum, err = o.RunCycle(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.True(t, sum.Completed)
	assert.Equal(t, 0, sum.Evaluated)
	assert.Equal(t, 1, sum.PositionsChecked)
}

func TestRunCycle_ExecutionErrorsTripBreaker(t *testing.T) {
	f := newFixture(t, gold("NVDA", "AMD", "AVGO"))
	f.exec.fail = map[string]string{"NVDA": "rejected", "AMD": "rejected", "AVGO": "rejected"}
	f.deps.Breaker = risk.NewCircuitBreaker(risk.CircuitBreakerConfig{MaxConsecutiveErrors: 2})
	o := f.build(t)

	sum, err := o.RunCycle(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Unexecuted)
	assert.Equal(t, 2, f.exec.count())
	requireNoOrphans(t, f.store)
}

func TestRunCycle_ManualHaltBlocksExecution(t *testing.T) {
	f := newFixture(t, gold("NVDA"))
	require.NoError(t, f.state.Halt("earnings week", clock))
	o := f.build(t)

	sum, err := o.RunCycle(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Unexecuted)
	assert.Equal(t, 0, f.exec.count())

	require.NoError(t, f.state.Resume())
	sum, err = o.RunCycle(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Executed)
}

func TestRunCycle_ClosedWindowOnlyChecksHealth(t *testing.T) {
	f := newFixture(t, gold("NVDA"))
	o := f.build(t)
	o.SetClock(func() time.Time { return time.Date(2026, 10, 17, 15, 0, 0, 0, time.UTC) }) // 周六

	sum, err := o.RunCycle(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "CLOSED", sum.Window)
	assert.Equal(t, 0, sum.Evaluated)

	sum, err = o.RunCycle(context.Background(), RunOptions{Window: schedule.MarketOpen})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Executed)
}

func TestRunCycle_DeadMoneyReallocateWhenLargeAdmitted(t *testing.T) {
	f := newFixture(t, gold("NVDA"))
	ctx := context.Background()
	require.NoError(t, f.store.UpsertPosition(ctx, domain.Position{
		Ticker:         "INTC",
		Shares:         decimal.NewFromInt(10),
		AvgCost:        decimal.NewFromInt(100),
		CurrentPrice:   decimal.NewFromInt(100),
		ThesisStrength: 4,
		OpenedAt:       clock.AddDate(0, 0, -30),
		UpdatedAt:      clock,
	}))
	catalyst := clock.Add(7 * 7 * 24 * time.Hour)
	f.deps.Data = fakeData{quotes: map[string]ports.Quote{
		"NVDA": {Price: decimal.NewFromInt(100)},
		"INTC": {Price: decimal.NewFromInt(94), CatalystDate: &catalyst},
	}}
	o := f.build(t)

	sum, err := o.RunCycle(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.PositionsChecked)
	assert.Equal(t, 1, sum.DeadMoney)

	types := f.notifier.types()
	assert.Contains(t, types, events.AlertReallocate)
	assert.Contains(t, types, events.AlertWeakThesis)

	p, err := f.store.GetPosition(ctx, "INTC")
	require.NoError(t, err)
	assert.Equal(t, -6.5, p.HealthScore)
	assert.Equal(t, domain.HealthDeadMoney, p.HealthState)
}

func TestRunCycle_FeedbackOncePerDay(t *testing.T) {
	f := newFixture(t, nil)
	fb := &fakeFeedback{}
	f.deps.Feedback = fb
	o := f.build(t)

	sum, err := o.RunCycle(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.True(t, sum.FeedbackRan)
	assert.Equal(t, 2, sum.PublishedVersion)

	sum, err = o.RunCycle(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.False(t, sum.FeedbackRan)
	assert.Equal(t, 1, fb.runs)

	day, err := f.state.FeedbackDay()
	require.NoError(t, err)
	assert.Equal(t, "2026-10-13", day)
}

func TestRunCycle_CancelledIsNotCompleted(t *testing.T) {
	f := newFixture(t, gold("NVDA", "AMD"))
	o := f.build(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := o.RunCycle(ctx, RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, sum.Completed)
	assert.Equal(t, 0, f.exec.count())
	requireNoOrphans(t, f.store)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{}, Options{Capital: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.True(t, domain.IsConfigurationError(err))

	f := newFixture(t, nil)
	_, err = New(f.deps, Options{})
	require.Error(t, err)
	assert.True(t, domain.IsConfigurationError(err))
}

func TestSharesFor(t *testing.T) {
	assert.Equal(t, "33", sharesFor(0.1, decimal.NewFromInt(1000), decimal.NewFromInt(3)).String())
	assert.True(t, sharesFor(0.01, decimal.NewFromInt(100), decimal.NewFromInt(500)).IsZero())
	assert.True(t, sharesFor(0.1, decimal.NewFromInt(100), decimal.Zero).IsZero())
}

func TestRunCycle_PerTickerLimitAcrossCycles(t *testing.T) {
	f := newFixture(t, gold("NVDA"))
	o := f.build(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		sum, err := o.RunCycle(ctx, RunOptions{})
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, 1, sum.Executed)
			continue
		}
		assert.Equal(t, 0, sum.Executed)
		assert.Equal(t, 1, sum.Unexecuted)
	}
	assert.Equal(t, 1, f.exec.count())
	requireNoOrphans(t, f.store)

	p, err := f.store.GetPosition(ctx, "NVDA")
	require.NoError(t, err)
	assert.Equal(t, "100", p.Shares.String())
	held := p.CostBasis().Div(f.opts.Capital).InexactFloat64()
	assert.LessOrEqual(t, held, domain.DefaultThresholds().MaxPositionFraction)

	cycles, err := f.store.ListCycles(ctx, 5)
	require.NoError(t, err)
	require.Len(t, cycles, 3)
	blocked := 0
	for _, cy := range cycles {
		decisions, err := f.store.ListDecisions(ctx, cy.ID, 10)
		require.NoError(t, err)
		require.Len(t, decisions, 1)
		u, err := f.store.GetUnexecuted(ctx, decisions[0].ID)
		require.NoError(t, err)
		if u == nil {
			continue
		}
		blocked++
		assert.Equal(t, domain.UnexecutedPolicy, u.Kind)
		assert.Contains(t, u.Detail, risk.GatePositionLimit)
	}
	assert.Equal(t, 2, blocked)
}

func TestRunCycle_PerTickerLimitCountsExistingHolding(t *testing.T) {
	f := newFixture(t, gold("NVDA"))
	ctx := context.Background()
	require.NoError(t, f.store.UpsertPosition(ctx, domain.Position{
		Ticker:       "NVDA",
		Shares:       decimal.NewFromInt(30),
		AvgCost:      decimal.NewFromInt(100),
		CurrentPrice: decimal.NewFromInt(100),
		OpenedAt:     clock.AddDate(0, 0, -3),
		UpdatedAt:    clock,
	}))
	o := f.build(t)

	// 已持有 0.03，gold 档 0.10 会超过单票 0.10
	sum, err := o.RunCycle(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Executed)
	assert.Equal(t, 1, sum.Unexecuted)
	assert.Equal(t, 0, f.exec.count())
}

// cancellingExecutor 下单过程中周期被取消
type cancellingExecutor struct {
	cancel context.CancelFunc
	err    error
	calls  int
}

func (e *cancellingExecutor) Execute(ctx context.Context, req ports.ExecutionRequest) (ports.ExecutionResult, error) {
	e.calls++
	e.cancel()
	if e.err != nil {
		return ports.ExecutionResult{}, e.err
	}
	if err := ctx.Err(); err != nil {
		return ports.ExecutionResult{}, err
	}
	return ports.ExecutionResult{Success: true, BrokerOrderID: "ord-x", FillPrice: decimal.NewFromInt(100)}, nil
}

func TestRunCycle_CancelDuringExecuteKeepsFill(t *testing.T) {
	f := newFixture(t, gold("NVDA"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exec := &cancellingExecutor{cancel: cancel}
	f.deps.Executor = exec
	o := f.build(t)

	sum, err := o.RunCycle(ctx, RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, domain.IsPersistenceFailure(err))
	assert.Equal(t, 1, exec.calls)
	assert.Equal(t, 1, sum.Executed)
	assert.Equal(t, 0, sum.Unexecuted)
	assert.Equal(t, int64(0), f.deps.Breaker.ConsecutiveErrors())
	requireNoOrphans(t, f.store)

	p, err := f.store.GetPosition(context.Background(), "NVDA")
	require.NoError(t, err)
	assert.Equal(t, "100", p.Shares.String())
}

func TestRunCycle_CancelledExecuteDoesNotTripBreaker(t *testing.T) {
	f := newFixture(t, gold("NVDA"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.deps.Executor = &cancellingExecutor{cancel: cancel, err: fmt.Errorf("bridge: %w", context.Canceled)}
	o := f.build(t)

	sum, err := o.RunCycle(ctx, RunOptions{})
	require.Error(t, err)
	assert.Equal(t, 1, sum.Unexecuted)
	assert.Equal(t, int64(0), f.deps.Breaker.ConsecutiveErrors())
	requireNoOrphans(t, f.store)
}

// cancelOnDeployed 读已部署资金时周期被取消，读库报错被包成持久化失败
type cancelOnDeployed struct {
	*store.Store
	cancel context.CancelFunc
}

func (s cancelOnDeployed) DeployedCost(ctx context.Context) (decimal.Decimal, error) {
	s.cancel()
	return decimal.Zero, &domain.PersistenceFailure{Op: "deployed cost", Err: ctx.Err()}
}

func TestRunCycle_CancelDuringStoreReadIsCancellation(t *testing.T) {
	f := newFixture(t, gold("NVDA"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.deps.Store = cancelOnDeployed{Store: f.store, cancel: cancel}
	o := f.build(t)

	sum, err := o.RunCycle(ctx, RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, domain.IsPersistenceFailure(err))
	assert.False(t, sum.Completed)
	assert.Equal(t, 0, f.exec.count())
	requireNoOrphans(t, f.store)
}

// vanishingPositions 健康度写回时持仓已被平掉
type vanishingPositions struct {
	*store.Store
}

func (vanishingPositions) UpdatePositionHealth(context.Context, domain.Position) error {
	return store.ErrNoPosition
}

func TestRunCycle_PositionClosedMidCheckIsSkipped(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertPosition(ctx, domain.Position{
		Ticker:       "INTC",
		Shares:       decimal.NewFromInt(10),
		AvgCost:      decimal.NewFromInt(100),
		CurrentPrice: decimal.NewFromInt(100),
		OpenedAt:     clock.AddDate(0, 0, -3),
		UpdatedAt:    clock,
	}))
	f.deps.Store = vanishingPositions{Store: f.store}
	f.deps.Data = fakeData{quotes: map[string]ports.Quote{"INTC": {Price: decimal.NewFromInt(101)}}}
	o := f.build(t)

	sum, err := o.RunCycle(ctx, RunOptions{})
	require.NoError(t, err)
	assert.True(t, sum.Completed)
	assert.Equal(t, 0, sum.PositionsChecked)
	assert.Equal(t, 1, sum.Skipped)
	require.NotEmpty(t, sum.Problems)
	assert.Contains(t, sum.Problems[len(sum.Problems)-1], "closed during health check")
}
