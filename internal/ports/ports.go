package ports

import (
	"context"
	"time"

	"github.com/betbot/stockpilot/internal/domain"
	"github.com/betbot/stockpilot/internal/events"
	"github.com/shopspring/decimal"
)

// 核心只依赖这些小接口；具体实现（文件/HTTP/券商）在 adapter 包里。

// Research 每个周期提供候选列表（顺序无约定）
type Research interface {
	Candidates(ctx context.Context) ([]domain.Candidate, error)
}

// Side 下单方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ExecutionRequest 下单请求
type ExecutionRequest struct {
	Ticker    string
	Shares    decimal.Decimal
	Side      Side
	StopPrice decimal.Decimal
	// LimitHint 下单时参考价（行情价），券商可忽略
	LimitHint decimal.Decimal
}

// ExecutionResult 下单结果
type ExecutionResult struct {
	Success       bool
	BrokerOrderID string
	FillPrice     decimal.Decimal // 为 0 时按 LimitHint 记账
	Error         string
}

// Executor 唯一的下单入口。失败不重试，由调用方记录。
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) (ExecutionResult, error)
}

// Quote 持仓相关行情事实
type Quote struct {
	Ticker            string
	Price             decimal.Decimal
	AnalystTarget     decimal.Decimal
	CatalystDate      *time.Time
	SectorMomentumPct float64
}

// PositionData 按需提供现价/目标价/催化剂日期
type PositionData interface {
	Quote(ctx context.Context, ticker string) (Quote, error)
}

// PriceHistory 提供历史收盘价（前瞻收益计算用）
type PriceHistory interface {
	CloseOn(ctx context.Context, ticker string, day time.Time) (decimal.Decimal, error)
}

// Notifier 告警输出，投递方式与核心无关
type Notifier interface {
	Notify(ctx context.Context, alert events.Alert) error
}

// Advisor 可选的 LLM 顾问：输出只会并入候选的信号标签，不能推翻准入规则
type Advisor interface {
	Advise(ctx context.Context, c domain.Candidate) ([]string, error)
}
