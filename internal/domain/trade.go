package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action 交易动作
type Action string

const (
	ActionBuy    Action = "BUY"
	ActionSell   Action = "SELL"
	ActionWatch  Action = "WATCH"
	ActionHold   Action = "HOLD"
	ActionMissed Action = "MISSED" // 没买、事后记录的机会
)

// Outcome 交易终态
type Outcome string

const (
	OutcomeWin    Outcome = "WIN"
	OutcomeLoss   Outcome = "LOSS"
	OutcomeOpen   Outcome = "OPEN"
	OutcomeMissed Outcome = "MISSED"
)

// Closed 是否已有胜负结论
func (o Outcome) Closed() bool {
	return o == OutcomeWin || o == OutcomeLoss
}

// Horizons 前瞻收益统计的固定天数（交易日）
var Horizons = []int{1, 3, 5, 10, 20}

// Trade 交易记录（永不删除，历史即训练信号）
type Trade struct {
	ID            string          `json:"id"`
	DecisionID    string          `json:"decision_id,omitempty"` // BUY 来自准入决策；MISSED/SELL 等为空
	Ticker        string          `json:"ticker"`
	Action        Action          `json:"action"`
	Shares        decimal.Decimal `json:"shares"`
	Price         decimal.Decimal `json:"price"`
	BrokerOrderID string          `json:"broker_order_id,omitempty"`
	Thesis        string          `json:"thesis,omitempty"`
	Outcome       Outcome         `json:"outcome"`
	Tier          SizeTier        `json:"tier,omitempty"` // 查询时从 decision 关联
	RealizedPct   *float64        `json:"realized_pct,omitempty"`
	// ForwardReturns horizon(天) -> 收益百分比
	ForwardReturns map[int]float64 `json:"forward_returns,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ClosedAt       *time.Time      `json:"closed_at,omitempty"`

	// 仅在 BUY 建仓时使用，写入 positions
	ThesisStrength int             `json:"-"`
	CatalystDate   *time.Time      `json:"-"`
	AnalystTarget  decimal.Decimal `json:"-"`
}

// Notional 成交金额
func (t Trade) Notional() decimal.Decimal {
	return t.Shares.Mul(t.Price)
}

// ForwardReturn 取某个 horizon 的前瞻收益
func (t Trade) ForwardReturn(horizon int) (float64, bool) {
	if t.ForwardReturns == nil {
		return 0, false
	}
	v, ok := t.ForwardReturns[horizon]
	return v, ok
}

// ReturnPct 相对入场价的涨跌幅（百分比）
func ReturnPct(entry, exit decimal.Decimal) float64 {
	if entry.IsZero() {
		return 0
	}
	return exit.Sub(entry).Div(entry).Mul(decimal.NewFromInt(100)).InexactFloat64()
}
