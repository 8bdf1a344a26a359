package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/betbot/stockpilot/internal/ports"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// Bridge 通过 HTTP 调用外部券商桥接服务下单。下单请求不重试，避免重复成交。
type Bridge struct {
	client *resty.Client
}

type orderRequest struct {
	Ticker    string          `json:"ticker"`
	Shares    decimal.Decimal `json:"shares"`
	Side      string          `json:"side"`
	StopPrice decimal.Decimal `json:"stop_price,omitempty"`
	LimitHint decimal.Decimal `json:"limit_hint,omitempty"`
}

type orderResponse struct {
	Success   bool            `json:"success"`
	OrderID   string          `json:"order_id"`
	FillPrice decimal.Decimal `json:"fill_price"`
	Error     string          `json:"error"`
}

func NewBridge(baseURL, apiKey string, timeout time.Duration) *Bridge {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "stockpilot")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &Bridge{client: client}
}

func (b *Bridge) Execute(ctx context.Context, req ports.ExecutionRequest) (ports.ExecutionResult, error) {
	var out orderResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(orderRequest{
			Ticker:    req.Ticker,
			Shares:    req.Shares,
			Side:      string(req.Side),
			StopPrice: req.StopPrice,
			LimitHint: req.LimitHint,
		}).
		SetResult(&out).
		SetError(&out).
		Post("/orders")
	if err != nil {
		return ports.ExecutionResult{}, fmt.Errorf("bridge order %s: %w", req.Ticker, err)
	}
	if resp.StatusCode() >= 500 {
		return ports.ExecutionResult{}, fmt.Errorf("bridge order %s: status %d", req.Ticker, resp.StatusCode())
	}
	res := ports.ExecutionResult{
		Success:       out.Success && !resp.IsError(),
		BrokerOrderID: out.OrderID,
		FillPrice:     out.FillPrice,
		Error:         out.Error,
	}
	if !res.Success && res.Error == "" {
		res.Error = fmt.Sprintf("rejected (status %d)", resp.StatusCode())
	}
	return res, nil
}
