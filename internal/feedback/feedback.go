package feedback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/betbot/stockpilot/internal/domain"
	"github.com/betbot/stockpilot/internal/ports"
	"github.com/betbot/stockpilot/internal/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "feedback")

// ErrFeedbackBusy 已有一次 feedback 在运行
var ErrFeedbackBusy = errors.New("feedback loop already running")

// Store feedback 需要的存储能力
type Store interface {
	QueryOutcomes(ctx context.Context, f store.OutcomeFilter) ([]domain.Trade, error)
	UpdateForwardReturn(ctx context.Context, ticker string, tradeDate time.Time, horizonDays int, returnPct float64) error
	CurrentThresholds(ctx context.Context) (domain.PolicyThresholds, error)
	PublishThresholds(ctx context.Context, t domain.PolicyThresholds, comment string) (domain.PolicyThresholds, error)
}

// Report 一次 feedback 的结果
type Report struct {
	ForwardReturnsSet int                           `json:"forward_returns_set"`
	Skipped           []string                      `json:"skipped,omitempty"`
	Stats             map[domain.SizeTier]TierStats `json:"stats"`
	Adjustments       []Adjustment                  `json:"adjustments,omitempty"`
	Published         domain.PolicyThresholds       `json:"published"`
}

// Loop 每日一次：回填前瞻收益 -> 重新计算阈值 -> 发布新版本。
// 同一时刻只允许一个实例运行（独占写阈值）。
type Loop struct {
	store   Store
	prices  ports.PriceHistory
	params  Params
	timeout time.Duration
	now     func() time.Time
	loc     *time.Location

	mu sync.Mutex
}

// NewLoop 创建 feedback loop；callTimeout 作用于每次外部行情调用与每次写库
func NewLoop(st Store, prices ports.PriceHistory, params Params, callTimeout time.Duration) *Loop {
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return &Loop{store: st, prices: prices, params: params, timeout: callTimeout, now: time.Now, loc: time.UTC}
}

// SetClock 测试用
func (l *Loop) SetClock(now func() time.Time) {
	if now != nil {
		l.now = now
	}
}

// SetLocation 交易所时区；交易日与到期日都按该时区的日历日计算
func (l *Loop) SetLocation(loc *time.Location) {
	if loc != nil {
		l.loc = loc
	}
}

// Run 执行一次完整的 feedback
func (l *Loop) Run(ctx context.Context) (Report, error) {
	if !l.mu.TryLock() {
		return Report{}, ErrFeedbackBusy
	}
	defer l.mu.Unlock()

	var rep Report
	n, skipped, err := l.fillForwardReturns(ctx)
	rep.ForwardReturnsSet = n
	rep.Skipped = skipped
	if err != nil {
		return rep, err
	}
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	cur, err := l.store.CurrentThresholds(ctx)
	if err != nil {
		return rep, err
	}
	closed, err := l.closedTrades(ctx)
	if err != nil {
		return rep, err
	}
	next, adjs := Recompute(cur, closed, l.params)
	rep.Stats = Stats(closed)
	rep.Adjustments = adjs

	pctx, cancel := l.persistCtx(ctx)
	defer cancel()
	published, err := l.store.PublishThresholds(pctx, next, Comment(adjs, rep.Stats))
	if err != nil {
		return rep, err
	}
	rep.Published = published
	log.Infof("feedback 完成: forward_returns=%d skipped=%d adjustments=%d -> v%d",
		rep.ForwardReturnsSet, len(rep.Skipped), len(adjs), published.Version)
	return rep, nil
}

func (l *Loop) closedTrades(ctx context.Context) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, o := range []domain.Outcome{domain.OutcomeWin, domain.OutcomeLoss} {
		ts, err := l.store.QueryOutcomes(ctx, store.OutcomeFilter{Action: domain.ActionBuy, Outcome: o})
		if err != nil {
			return nil, err
		}
		out = append(out, ts...)
	}
	return out, nil
}

// fillForwardReturns 为 BUY/MISSED 交易补齐已到期、尚未记录的 horizon。
// 单个 ticker 行情失败只跳过该交易。
func (l *Loop) fillForwardReturns(ctx context.Context) (int, []string, error) {
	var trades []domain.Trade
	for _, a := range []domain.Action{domain.ActionBuy, domain.ActionMissed} {
		ts, err := l.store.QueryOutcomes(ctx, store.OutcomeFilter{Action: a})
		if err != nil {
			return 0, nil, err
		}
		trades = append(trades, ts...)
	}

	today := l.dayOf(l.now())
	var (
		set     int
		skipped []string
	)
	for _, t := range trades {
		if err := ctx.Err(); err != nil {
			return set, skipped, err
		}
		due := l.dueHorizons(t, today)
		if len(due) == 0 {
			continue
		}
		tradeDay := l.dayOf(t.CreatedAt)
		entry := t.Price
		if !entry.IsPositive() {
			p, err := l.closeOn(ctx, t.Ticker, tradeDay)
			if err != nil {
				skipped = append(skipped, fmt.Sprintf("%s %s: %v", t.Ticker, tradeDay.Format("2006-01-02"), err))
				continue
			}
			entry = p
		}
		for _, h := range due {
			px, err := l.closeOn(ctx, t.Ticker, AddBusinessDays(tradeDay, h))
			if err != nil {
				skipped = append(skipped, fmt.Sprintf("%s %s h=%d: %v", t.Ticker, tradeDay.Format("2006-01-02"), h, err))
				break
			}
			pctx, cancel := l.persistCtx(ctx)
			err = l.store.UpdateForwardReturn(pctx, t.Ticker, t.CreatedAt, h, round(domain.ReturnPct(entry, px), 4))
			cancel()
			if err != nil {
				return set, skipped, err
			}
			set++
		}
	}
	return set, skipped, nil
}

func (l *Loop) closeOn(ctx context.Context, ticker string, day time.Time) (decimal.Decimal, error) {
	cctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	px, err := l.prices.CloseOn(cctx, ticker, day)
	if err != nil {
		return decimal.Zero, &domain.ExternalCallFailure{Op: "close_on", Ticker: ticker, Err: err}
	}
	if !px.IsPositive() {
		return decimal.Zero, &domain.ExternalCallFailure{Op: "close_on", Ticker: ticker, Err: fmt.Errorf("no close for %s", day.Format("2006-01-02"))}
	}
	return px, nil
}

// persistCtx 写库不随调用方取消而中断
func (l *Loop) persistCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
}

func (l *Loop) dueHorizons(t domain.Trade, today time.Time) []int {
	tradeDay := l.dayOf(t.CreatedAt)
	var out []int
	for _, h := range domain.Horizons {
		if _, ok := t.ForwardReturn(h); ok {
			continue
		}
		if AddBusinessDays(tradeDay, h).Before(today) {
			out = append(out, h)
		}
	}
	return out
}

// AddBusinessDays 向后数 n 个工作日（只跳过周末，不处理交易所假日）
func AddBusinessDays(day time.Time, n int) time.Time {
	d := day
	for n > 0 {
		d = d.AddDate(0, 0, 1)
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		n--
	}
	return d
}

// dayOf 交易所时区的日历日（以 UTC 零点表示），与 Store.TradeDay 口径一致
func (l *Loop) dayOf(t time.Time) time.Time {
	t = t.In(l.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
