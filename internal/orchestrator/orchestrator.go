package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/betbot/stockpilot/internal/domain"
	"github.com/betbot/stockpilot/internal/events"
	"github.com/betbot/stockpilot/internal/feedback"
	"github.com/betbot/stockpilot/internal/health"
	"github.com/betbot/stockpilot/internal/metrics"
	"github.com/betbot/stockpilot/internal/ports"
	"github.com/betbot/stockpilot/internal/risk"
	"github.com/betbot/stockpilot/internal/schedule"
	"github.com/betbot/stockpilot/pkg/statestore"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "orchestrator")

// Store 周期内用到的 learning store 能力
type Store interface {
	CurrentThresholds(ctx context.Context) (domain.PolicyThresholds, error)
	RecordDecision(ctx context.Context, d domain.Decision) (string, error)
	RecordUnexecuted(ctx context.Context, u domain.Unexecuted) error
	RecordTrade(ctx context.Context, t domain.Trade) (string, error)
	TradesExecutedOn(ctx context.Context, day time.Time) (int, error)
	DeployedCost(ctx context.Context) (decimal.Decimal, error)
	GetPosition(ctx context.Context, ticker string) (domain.Position, error)
	ListPositions(ctx context.Context) ([]domain.Position, error)
	UpdatePositionHealth(ctx context.Context, p domain.Position) error
	RecordCycle(ctx context.Context, c domain.CycleSummary) error
}

// RunState 跨进程的运行状态（kill switch / feedback 日期）
type RunState interface {
	HaltState() (statestore.HaltState, error)
	FeedbackDay() (string, error)
	SetFeedbackDay(day string) error
	SetLastCycle(window string, at time.Time) error
}

// FeedbackRunner 每日 feedback
type FeedbackRunner interface {
	Run(ctx context.Context) (feedback.Report, error)
}

// Deps 外部协作者。Advisor / Feedback / Metrics 可为空。
type Deps struct {
	Store    Store
	State    RunState
	Research ports.Research
	Executor ports.Executor
	Data     ports.PositionData
	Notifier ports.Notifier
	Advisor  ports.Advisor
	Feedback FeedbackRunner
	Schedule *schedule.Schedule
	Breaker  *risk.CircuitBreaker
	Budget   *risk.DailyBudget
	Metrics  *metrics.Metrics
}

// Options 周期参数
type Options struct {
	Capital        decimal.Decimal
	DryRun         bool
	Health         health.Weights
	CallTimeout    time.Duration
	PersistTimeout time.Duration
	Concurrency    int
	StopLossPct    float64
}

// RunOptions 单次周期的覆盖项
type RunOptions struct {
	DryRun bool
	// Window 非空时按该时段执行（手动触发用），否则按当前时间判断
	Window schedule.Window
}

// Orchestrator 按时段驱动一次完整周期：准入 -> 闸门 -> 执行 -> 健康度 -> feedback。
// 同一时刻只跑一个周期。
type Orchestrator struct {
	deps Deps
	opts Options
	now  func() time.Time

	mu sync.Mutex
}

func New(deps Deps, opts Options) (*Orchestrator, error) {
	missing := func(field string) error {
		return &domain.ConfigurationError{Field: field, Reason: "required"}
	}
	switch {
	case deps.Store == nil:
		return nil, missing("store")
	case deps.State == nil:
		return nil, missing("state")
	case deps.Research == nil:
		return nil, missing("research")
	case deps.Executor == nil:
		return nil, missing("executor")
	case deps.Data == nil:
		return nil, missing("position data")
	case deps.Schedule == nil:
		return nil, missing("schedule")
	}
	if !opts.Capital.IsPositive() {
		return nil, &domain.ConfigurationError{Field: "capital", Reason: "must be > 0"}
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Breaker == nil {
		deps.Breaker = risk.NewCircuitBreaker(risk.CircuitBreakerConfig{Location: deps.Schedule.Location()})
	}
	if deps.Budget == nil {
		deps.Budget = risk.NewDailyBudget(0)
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 15 * time.Second
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 10 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Orchestrator{deps: deps, opts: opts, now: time.Now}, nil
}

// SetClock 测试用
func (o *Orchestrator) SetClock(now func() time.Time) {
	if now != nil {
		o.now = now
	}
}

// cycle 单个周期的运行上下文
type cycle struct {
	sum        domain.CycleSummary
	th         domain.PolicyThresholds
	day        string
	now        time.Time
	dryRun     bool
	tasks      schedule.Tasks
	largeAdmit bool
	deployed   float64
}

// RunCycle 执行一个周期。返回的汇总总是如实计数；error 非空表示周期中途中止
// （持久化失败、取消或配置缺失），此时 summary.Completed=false。
func (o *Orchestrator) RunCycle(ctx context.Context, ro RunOptions) (domain.CycleSummary, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	start := o.now()
	window := ro.Window
	if window == "" {
		window = o.deps.Schedule.WindowAt(start)
	}
	c := &cycle{
		now:    start,
		day:    o.deps.Schedule.Day(start),
		dryRun: o.opts.DryRun || ro.DryRun,
		tasks:  schedule.TasksFor(window),
	}
	c.sum = domain.CycleSummary{
		ID:        uuid.NewString(),
		Window:    string(window),
		DryRun:    c.dryRun,
		StartedAt: start.UTC(),
	}
	log.Infof("周期开始: id=%s window=%s day=%s dry_run=%v", c.sum.ID, window, c.day, c.dryRun)

	err := o.run(ctx, c)
	o.finish(ctx, c, err)
	return c.sum, err
}

func (o *Orchestrator) run(ctx context.Context, c *cycle) error {
	if err := cancelled(ctx); err != nil {
		return err
	}
	o.syncHalt(c)

	th, err := o.deps.Store.CurrentThresholds(ctx)
	if err != nil {
		return abort(ctx, err)
	}
	c.th = th
	c.sum.ThresholdsVersion = th.Version

	if c.tasks.Scan {
		if err := o.scan(ctx, c); err != nil {
			return err
		}
	}
	if c.tasks.Health {
		if err := cancelled(ctx); err != nil {
			return err
		}
		if err := o.checkPositions(ctx, c); err != nil {
			return err
		}
	}
	if err := cancelled(ctx); err != nil {
		return err
	}
	return o.maybeFeedback(ctx, c)
}

// syncHalt 以持久化的 kill switch 为准
func (o *Orchestrator) syncHalt(c *cycle) {
	hs, err := o.deps.State.HaltState()
	if err != nil {
		// 读不到状态时按暂停处理
		log.Errorf("读取 halt 状态失败，本周期禁止下单: %v", err)
		c.sum.AddProblem("halt state unavailable: %v", err)
		o.deps.Breaker.Halt()
		return
	}
	switch {
	case hs.Halted:
		o.deps.Breaker.Halt()
	case o.deps.Breaker.Halted():
		o.deps.Breaker.Resume()
	}
}

func (o *Orchestrator) maybeFeedback(ctx context.Context, c *cycle) error {
	if o.deps.Feedback == nil {
		return nil
	}
	last, err := o.deps.State.FeedbackDay()
	if err != nil {
		c.sum.AddProblem("feedback day unavailable: %v", err)
		return nil
	}
	if last == c.day {
		return nil
	}

	rep, err := o.deps.Feedback.Run(ctx)
	o.deps.Metrics.Feedback(err)
	c.sum.ForwardReturnsSet = rep.ForwardReturnsSet
	for _, s := range rep.Skipped {
		c.sum.AddProblem("feedback: %s", s)
	}
	if err != nil {
		switch {
		case errors.Is(err, feedback.ErrFeedbackBusy):
			c.sum.AddProblem("feedback skipped: %v", err)
			return nil
		case domain.IsPersistenceFailure(err), ctx.Err() != nil:
			return err
		}
		c.sum.AddProblem("feedback failed: %v", err)
		return nil
	}

	c.sum.FeedbackRan = true
	c.sum.PublishedVersion = rep.Published.Version
	if err := o.deps.State.SetFeedbackDay(c.day); err != nil {
		c.sum.AddProblem("persist feedback day: %v", err)
	}
	o.notify(ctx, c, events.New("", events.AlertThresholds, map[string]any{
		"version":     rep.Published.Version,
		"comment":     rep.Published.Comment,
		"adjustments": len(rep.Adjustments),
	}))
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, c *cycle, runErr error) {
	c.sum.FinishedAt = o.now().UTC()
	c.sum.Completed = runErr == nil
	if runErr != nil {
		c.sum.Error = runErr.Error()
		log.Errorf("周期中止: %s err=%v", c.sum.ID, runErr)
		o.notify(ctx, c, events.New("", events.AlertCycleAborted, map[string]any{
			"cycle_id": c.sum.ID,
			"error":    runErr.Error(),
		}))
	}

	pctx, cancel := o.persistCtx(ctx)
	defer cancel()
	if err := o.deps.Store.RecordCycle(pctx, c.sum); err != nil {
		log.Errorf("写入周期记录失败: %v", err)
	}
	if err := o.deps.State.SetLastCycle(c.sum.Window, c.now); err != nil {
		log.Warnf("写入 last cycle 失败: %v", err)
	}
	o.deps.Metrics.Cycle(c.sum, c.sum.FinishedAt.Sub(c.sum.StartedAt))
	log.Info(c.sum.String())
}

// persistCtx 写库不受取消影响，只受超时约束
func (o *Orchestrator) persistCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.opts.PersistTimeout)
}

func (o *Orchestrator) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.opts.CallTimeout)
}

func (o *Orchestrator) notify(ctx context.Context, c *cycle, a events.Alert) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.CallTimeout)
	defer cancel()
	if err := o.deps.Notifier.Notify(nctx, a); err != nil {
		log.Warnf("告警发送失败: type=%s ticker=%s err=%v", a.Type, a.Ticker, err)
		return
	}
	c.sum.Alerts++
}

func cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cycle cancelled: %w", err)
	}
	return nil
}

// abort 周期已取消时以取消为准，读库失败不再报成持久化错误
func abort(ctx context.Context, err error) error {
	if cerr := cancelled(ctx); cerr != nil {
		return cerr
	}
	return err
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, events.Alert) error { return nil }
