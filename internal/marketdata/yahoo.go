package marketdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/betbot/stockpilot/internal/domain"
	"github.com/betbot/stockpilot/internal/ports"
	"github.com/betbot/stockpilot/pkg/cache"
	"github.com/betbot/stockpilot/pkg/ratelimit"
	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/quote"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "marketdata")

// Bar 日线
type Bar struct {
	Day   time.Time
	Close decimal.Decimal
}

type (
	quoteFunc func(symbol string) (decimal.Decimal, error)
	barsFunc  func(symbol string, start, end time.Time) ([]Bar, error)
)

// Yahoo 非官方接口，回填远期收益时调用密集，需要限速
const (
	yahooBurst   = 5
	yahooPerSec  = 2.0
	barsCacheTTL = time.Hour
)

// Provider 基于 Yahoo Finance 的行情 + 本地日历。实现 ports.PositionData 与 ports.PriceHistory。
type Provider struct {
	calendar Calendar
	quote    quoteFunc
	bars     barsFunc
	now      func() time.Time
	limiter  ratelimit.RateLimiter
	barCache *cache.TTL[string, []Bar]
}

func NewProvider(cal Calendar) *Provider {
	if cal == nil {
		cal = Calendar{}
	}
	return &Provider{
		calendar: cal,
		quote:    yahooQuote,
		bars:     yahooBars,
		now:      time.Now,
		limiter:  ratelimit.NewTokenBucket(yahooBurst, yahooPerSec),
		barCache: cache.NewTTL[string, []Bar](barsCacheTTL),
	}
}

// Quote 现价 + 日历事实 + 板块动量
func (p *Provider) Quote(ctx context.Context, ticker string) (ports.Quote, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if err := p.limiter.Wait(ctx); err != nil {
		return ports.Quote{}, &domain.ExternalCallFailure{Op: "quote", Ticker: ticker, Err: err}
	}
	price, err := callCtx(ctx, func() (decimal.Decimal, error) { return p.quote(ticker) })
	if err != nil {
		return ports.Quote{}, &domain.ExternalCallFailure{Op: "quote", Ticker: ticker, Err: err}
	}
	if !price.IsPositive() {
		return ports.Quote{}, &domain.ExternalCallFailure{Op: "quote", Ticker: ticker, Err: fmt.Errorf("no regular market price")}
	}

	q := ports.Quote{Ticker: ticker, Price: price}
	entry, ok := p.calendar[ticker]
	if !ok {
		return q, nil
	}
	q.AnalystTarget, q.CatalystDate, _ = entry.parse()
	switch {
	case entry.SectorMomentumPct != nil:
		q.SectorMomentumPct = *entry.SectorMomentumPct
	case entry.SectorETF != "":
		m, err := p.momentum(ctx, entry.SectorETF)
		if err != nil {
			// 板块动量缺失按 0 处理，不影响持仓评估
			log.Warnf("sector momentum %s (%s) 获取失败: %v", ticker, entry.SectorETF, err)
		} else {
			q.SectorMomentumPct = m
		}
	}
	return q, nil
}

// CloseOn 某个交易日（或之后第一个交易日）的收盘价
func (p *Provider) CloseOn(ctx context.Context, ticker string, day time.Time) (decimal.Decimal, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	bars, err := p.dailyBars(ctx, ticker, start, start.AddDate(0, 0, 7))
	if err != nil {
		return decimal.Zero, &domain.ExternalCallFailure{Op: "close_on", Ticker: ticker, Err: err}
	}
	for _, b := range bars {
		if !b.Day.Before(start) {
			return b.Close, nil
		}
	}
	return decimal.Zero, &domain.ExternalCallFailure{Op: "close_on", Ticker: ticker, Err: fmt.Errorf("no bar on or after %s", start.Format("2006-01-02"))}
}

// momentum ETF 近 30 个自然日涨跌幅（百分比）
func (p *Provider) momentum(ctx context.Context, etf string) (float64, error) {
	end := p.now().UTC()
	from := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	bars, err := p.dailyBars(ctx, strings.ToUpper(etf), from.AddDate(0, 0, -30), from.AddDate(0, 0, 1))
	if err != nil {
		return 0, err
	}
	if len(bars) < 2 {
		return 0, fmt.Errorf("not enough bars for %s", etf)
	}
	return domain.ReturnPct(bars[0].Close, bars[len(bars)-1].Close), nil
}

// dailyBars 限速 + 按 (ticker, 区间) 缓存的日线
func (p *Provider) dailyBars(ctx context.Context, ticker string, start, end time.Time) ([]Bar, error) {
	key := ticker + "|" + start.Format("2006-01-02") + "|" + end.Format("2006-01-02")
	if bars, ok := p.barCache.Get(key); ok {
		return bars, nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	bars, err := callCtx(ctx, func() ([]Bar, error) { return p.bars(ticker, start, end) })
	if err != nil {
		return nil, err
	}
	p.barCache.Set(key, bars, 0)
	return bars, nil
}

// callCtx finance-go 不支持 context，这里让调用方的超时生效（后台调用自行结束）
func callCtx[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}

func yahooQuote(symbol string) (decimal.Decimal, error) {
	q, err := quote.Get(symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get quote for %s: %w", symbol, err)
	}
	if q == nil {
		return decimal.Zero, fmt.Errorf("quote for %s not found", symbol)
	}
	return decimal.NewFromFloat(q.RegularMarketPrice), nil
}

func yahooBars(symbol string, start, end time.Time) ([]Bar, error) {
	params := &chart.Params{
		Symbol:   symbol,
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
		Interval: datetime.OneDay,
	}
	iter := chart.Get(params)
	var out []Bar
	for iter.Next() {
		bar := iter.Bar()
		out = append(out, Bar{Day: time.Unix(int64(bar.Timestamp), 0).UTC(), Close: bar.Close})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to get historical data for %s: %w", symbol, err)
	}
	return out, nil
}
