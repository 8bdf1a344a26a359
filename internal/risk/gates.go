package risk

import (
	"fmt"

	"github.com/betbot/stockpilot/internal/domain"
)

// 闸门名（按检查顺序）
const (
	GateCircuitBreaker = "circuit_breaker"
	GateDailyBudget    = "daily_budget"
	GateDryRun         = "dry_run"
	GateCapacity       = "capacity"
	GatePositionLimit  = "position_limit"

	// GateMinShares 按资金与价格折算后不足一股（闸门之后由执行方判断）
	GateMinShares = "min_shares"
)

const capacityEpsilon = 1e-9

// GateInput 单个准入决策执行前的闸门输入
type GateInput struct {
	Day              string
	SizeFraction     float64
	DeployedFraction float64 // 已部署成本 / 总资金
	PositionFraction float64 // 该 ticker 已有持仓成本 / 总资金
	Thresholds       domain.PolicyThresholds
	DryRun           bool
}

// Gates 执行前的安全闸门，按顺序检查，第一个失败的闸门生效
type Gates struct {
	Breaker *CircuitBreaker
	Budget  *DailyBudget
}

// Check 返回 nil 表示全部放行
func (g Gates) Check(in GateInput) *domain.PolicyViolation {
	if err := g.Breaker.AllowTrading(); err != nil {
		return &domain.PolicyViolation{Gate: GateCircuitBreaker, Detail: err.Error()}
	}
	if g.Budget != nil && g.Budget.Remaining(in.Day) <= 0 {
		return &domain.PolicyViolation{Gate: GateDailyBudget, Detail: fmt.Sprintf("daily budget exhausted (%d/%d)", g.Budget.Used(in.Day), in.Thresholds.DailyTradeCap)}
	}
	if in.DryRun {
		return &domain.PolicyViolation{Gate: GateDryRun, Detail: "dry-run: execution skipped"}
	}
	limit := in.Thresholds.Deployable()
	if in.DeployedFraction+in.SizeFraction > limit+capacityEpsilon {
		return &domain.PolicyViolation{Gate: GateCapacity, Detail: fmt.Sprintf("deployed %.4f + size %.4f exceeds %.4f", in.DeployedFraction, in.SizeFraction, limit)}
	}
	if perTicker := in.Thresholds.MaxPositionFraction; in.PositionFraction+in.SizeFraction > perTicker+capacityEpsilon {
		return &domain.PolicyViolation{Gate: GatePositionLimit, Detail: fmt.Sprintf("held %.4f + size %.4f exceeds per-ticker max %.4f", in.PositionFraction, in.SizeFraction, perTicker)}
	}
	return nil
}
