package health

import (
	"math"
	"time"

	"github.com/betbot/stockpilot/internal/domain"
	"github.com/betbot/stockpilot/internal/events"
	"github.com/betbot/stockpilot/internal/ports"
)

// Weights 健康分各分量的系数与上限（策略数据，可配置）
type Weights struct {
	PnLMultiplier         float64 `yaml:"pnl_multiplier" json:"pnl_multiplier"`
	PnLCap                float64 `yaml:"pnl_cap" json:"pnl_cap"`
	TargetMultiplier      float64 `yaml:"target_multiplier" json:"target_multiplier"`
	TargetCap             float64 `yaml:"target_cap" json:"target_cap"`
	FlatBandPct           float64 `yaml:"flat_band_pct" json:"flat_band_pct"` // 盈亏不超过此值才计催化剂等待惩罚
	CatalystPerWeek       float64 `yaml:"catalyst_per_week" json:"catalyst_per_week"`
	CatalystCap           float64 `yaml:"catalyst_cap" json:"catalyst_cap"`
	CatalystPassedPenalty float64 `yaml:"catalyst_passed_penalty" json:"catalyst_passed_penalty"`
	SectorMultiplier      float64 `yaml:"sector_multiplier" json:"sector_multiplier"`
	SectorCap             float64 `yaml:"sector_cap" json:"sector_cap"`
	StrongAt              float64 `yaml:"strong_at" json:"strong_at"`
	DeadMoneyAt           float64 `yaml:"dead_money_at" json:"dead_money_at"`
	WeakThesisBelow       int     `yaml:"weak_thesis_below" json:"weak_thesis_below"`
}

// DefaultWeights 默认权重
func DefaultWeights() Weights {
	return Weights{
		PnLMultiplier:         0.5,
		PnLCap:                5,
		TargetMultiplier:      0.1,
		TargetCap:             3,
		FlatBandPct:           1.0,
		CatalystPerWeek:       0.5,
		CatalystCap:           4,
		CatalystPassedPenalty: 2,
		SectorMultiplier:      0.2,
		SectorCap:             2,
		StrongAt:              5,
		DeadMoneyAt:           -5,
		WeakThesisBelow:       5,
	}
}

// Components 分项得分
type Components struct {
	PnL      float64 `json:"pnl"`
	Target   float64 `json:"target"`
	Catalyst float64 `json:"catalyst"`
	Sector   float64 `json:"sector"`
}

// Assessment 单个持仓的本周期评估结果
type Assessment struct {
	Ticker     string                 `json:"ticker"`
	PnLPct     float64                `json:"pnl_pct"`
	Score      float64                `json:"score"`
	Components Components             `json:"components"`
	State      domain.HealthState     `json:"state"`
	Thesis     domain.ThesisFlag      `json:"thesis"`
	Action     domain.SuggestedAction `json:"action"`
	DaysHeld   int                    `json:"days_held"`
}

// Score 从持仓当前字段重新计算健康分（不读取上一次的分数）
func Score(p domain.Position, w Weights, now time.Time) (float64, Components) {
	pnl := p.UnrealizedPct()
	c := Components{
		PnL:    clamp(pnl*w.PnLMultiplier, w.PnLCap),
		Sector: clamp(p.SectorMomentum*w.SectorMultiplier, w.SectorCap),
	}
	if p.AnalystTarget.IsPositive() && p.CurrentPrice.IsPositive() {
		upside := domain.ReturnPct(p.CurrentPrice, p.AnalystTarget)
		c.Target = clamp(upside*w.TargetMultiplier, w.TargetCap)
	}
	if pnl <= w.FlatBandPct && p.CatalystDate != nil {
		if p.CatalystDate.Before(now) {
			c.Catalyst = -w.CatalystPassedPenalty
		} else {
			weeks := p.CatalystDate.Sub(now).Hours() / (24 * 7)
			c.Catalyst = -math.Min(weeks*w.CatalystPerWeek, w.CatalystCap)
		}
	}
	c = Components{PnL: round2(c.PnL), Target: round2(c.Target), Catalyst: round2(c.Catalyst), Sector: round2(c.Sector)}
	return round2(c.PnL + c.Target + c.Catalyst + c.Sector), c
}

// Classify 分数到状态的映射（无滞回）
func Classify(score float64, w Weights) domain.HealthState {
	switch {
	case score >= w.StrongAt:
		return domain.HealthStrong
	case score <= w.DeadMoneyAt:
		return domain.HealthDeadMoney
	default:
		return domain.HealthWatch
	}
}

// Evaluate 评估单个持仓。
// largeAdmitInCycle：本周期是否有 LARGE 档准入，决定 DEAD_MONEY 是换仓还是直接退出。
func Evaluate(p domain.Position, w Weights, now time.Time, largeAdmitInCycle bool) Assessment {
	score, comps := Score(p, w, now)
	a := Assessment{
		Ticker:     p.Ticker,
		PnLPct:     round2(p.UnrealizedPct()),
		Score:      score,
		Components: comps,
		State:      Classify(score, w),
		Thesis:     domain.ThesisOK,
		DaysHeld:   p.DaysHeld(now),
	}
	if p.ThesisStrength < w.WeakThesisBelow {
		a.Thesis = domain.ThesisWeak
	}

	switch {
	case a.State == domain.HealthDeadMoney && largeAdmitInCycle:
		a.Action = domain.SuggestReallocate
	case a.State == domain.HealthDeadMoney:
		a.Action = domain.SuggestExit
	case a.Thesis == domain.ThesisWeak:
		a.Action = domain.SuggestTrim
	default:
		a.Action = domain.SuggestHold
	}
	return a
}

// Refresh 用最新行情事实覆盖持仓字段；缺失的外部字段保留原值
func Refresh(p domain.Position, q ports.Quote, now time.Time) domain.Position {
	if q.Price.IsPositive() {
		p.CurrentPrice = q.Price
	}
	if q.AnalystTarget.IsPositive() {
		p.AnalystTarget = q.AnalystTarget
	}
	if q.CatalystDate != nil {
		p.CatalystDate = q.CatalystDate
	}
	p.SectorMomentum = q.SectorMomentumPct
	p.UpdatedAt = now
	return p
}

// Alerts 评估结果对应的告警
func Alerts(a Assessment) []events.Alert {
	payload := map[string]any{
		"score":     a.Score,
		"state":     string(a.State),
		"thesis":    string(a.Thesis),
		"action":    string(a.Action),
		"pnl_pct":   a.PnLPct,
		"days_held": a.DaysHeld,
	}
	var out []events.Alert
	if a.State == domain.HealthDeadMoney {
		typ := events.AlertDeadMoney
		if a.Action == domain.SuggestReallocate {
			typ = events.AlertReallocate
		}
		out = append(out, events.New(a.Ticker, typ, payload))
	}
	if a.Thesis == domain.ThesisWeak {
		out = append(out, events.New(a.Ticker, events.AlertWeakThesis, payload))
	}
	return out
}

func clamp(v, limit float64) float64 {
	if limit <= 0 {
		return v
	}
	return math.Max(-limit, math.Min(limit, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
