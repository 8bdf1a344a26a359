package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Position 持仓（每个持有的 ticker 一行）
type Position struct {
	Ticker         string          `json:"ticker"`
	Shares         decimal.Decimal `json:"shares"`
	AvgCost        decimal.Decimal `json:"avg_cost"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
	AnalystTarget  decimal.Decimal `json:"analyst_target"`
	ThesisStrength int             `json:"thesis_strength"` // 0-10，独立维护，不由价格推导
	Thesis         string          `json:"thesis,omitempty"`
	CatalystDate   *time.Time      `json:"catalyst_date,omitempty"`
	SectorMomentum float64         `json:"sector_momentum"` // 板块动量（百分比，外部提供）
	OpenedAt       time.Time       `json:"opened_at"`
	HealthScore    float64         `json:"health_score"`
	HealthState    HealthState     `json:"health_state,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CostBasis 总成本
func (p Position) CostBasis() decimal.Decimal {
	return p.Shares.Mul(p.AvgCost)
}

// UnrealizedPct 未实现盈亏百分比（没有现价时按 0 处理）
func (p Position) UnrealizedPct() float64 {
	if p.CurrentPrice.IsZero() {
		return 0
	}
	return ReturnPct(p.AvgCost, p.CurrentPrice)
}

// DaysHeld 持有天数
func (p Position) DaysHeld(now time.Time) int {
	if p.OpenedAt.IsZero() || now.Before(p.OpenedAt) {
		return 0
	}
	return int(math.Floor(now.Sub(p.OpenedAt).Hours() / 24))
}

// AddFill 加仓，按成交量加权更新均价
func (p *Position) AddFill(shares, price decimal.Decimal) {
	if !shares.IsPositive() {
		return
	}
	total := p.Shares.Add(shares)
	cost := p.CostBasis().Add(shares.Mul(price))
	p.Shares = total
	p.AvgCost = cost.Div(total).Round(6)
}

// HealthState 健康度分类
type HealthState string

const (
	HealthStrong    HealthState = "STRONG"
	HealthWatch     HealthState = "WATCH"
	HealthDeadMoney HealthState = "DEAD_MONEY"
)

// ThesisFlag 论点强度标记（与健康度正交）
type ThesisFlag string

const (
	ThesisOK   ThesisFlag = "OK"
	ThesisWeak ThesisFlag = "WEAK_THESIS"
)

// SuggestedAction 监控给出的建议动作
type SuggestedAction string

const (
	SuggestHold       SuggestedAction = "HOLD"
	SuggestTrim       SuggestedAction = "TRIM"
	SuggestExit       SuggestedAction = "EXIT"
	SuggestReallocate SuggestedAction = "REALLOCATE"
)
