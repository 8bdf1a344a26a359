package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/betbot/stockpilot/internal/ports"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "broker")

// Paper 模拟成交：按参考价（或行情价）全部成交，只在进程内记账
type Paper struct {
	prices ports.PositionData

	mu       sync.Mutex
	holdings map[string]decimal.Decimal
}

func NewPaper(prices ports.PositionData) *Paper {
	return &Paper{prices: prices, holdings: make(map[string]decimal.Decimal)}
}

func (p *Paper) Execute(ctx context.Context, req ports.ExecutionRequest) (ports.ExecutionResult, error) {
	if !req.Shares.IsPositive() {
		return ports.ExecutionResult{Error: "shares must be positive"}, nil
	}
	price := req.LimitHint
	if !price.IsPositive() {
		if p.prices == nil {
			return ports.ExecutionResult{Error: "no reference price"}, nil
		}
		q, err := p.prices.Quote(ctx, req.Ticker)
		if err != nil {
			return ports.ExecutionResult{}, err
		}
		price = q.Price
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	held := p.holdings[req.Ticker]
	switch req.Side {
	case ports.SideBuy:
		p.holdings[req.Ticker] = held.Add(req.Shares)
	case ports.SideSell:
		if req.Shares.GreaterThan(held) {
			return ports.ExecutionResult{Error: fmt.Sprintf("paper: sell %s %s exceeds holding %s", req.Shares, req.Ticker, held)}, nil
		}
		p.holdings[req.Ticker] = held.Sub(req.Shares)
	default:
		return ports.ExecutionResult{Error: fmt.Sprintf("paper: unknown side %q", req.Side)}, nil
	}

	id := "paper-" + uuid.NewString()
	log.Infof("[paper] %s %s x%s @ %s stop=%s id=%s", req.Side, req.Ticker, req.Shares, price, req.StopPrice, id)
	return ports.ExecutionResult{Success: true, BrokerOrderID: id, FillPrice: price}, nil
}

// Holding 测试/展示用
func (p *Paper) Holding(ticker string) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.holdings[ticker]
}
