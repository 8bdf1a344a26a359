package domain

import (
	"fmt"
	"time"
)

// Band 分档阈值：同时满足 convergence 与 volume 才命中
type Band struct {
	Convergence  float64 `json:"convergence" yaml:"convergence"`
	VolumeRatio  float64 `json:"volume_ratio" yaml:"volume_ratio"`
	SizeFraction float64 `json:"size_fraction" yaml:"size_fraction"`
}

// Meets 候选是否满足该档
func (b Band) Meets(c Candidate) bool {
	return c.Convergence >= b.Convergence && c.VolumeRatio >= b.VolumeRatio
}

// PolicyThresholds 策略阈值（版本化单例）
// 由 feedback 循环生成新版本；每条 Decision 都携带当时的完整快照。
type PolicyThresholds struct {
	Version                int       `json:"version"`
	MinConvergence         float64   `json:"min_convergence" yaml:"min_convergence"`
	MinVolumeRatio         float64   `json:"min_volume_ratio" yaml:"min_volume_ratio"`
	Gold                   Band      `json:"gold" yaml:"gold"`
	Optimal                Band      `json:"optimal" yaml:"optimal"`
	BorderlineSizeFraction float64   `json:"borderline_size_fraction" yaml:"borderline_size_fraction"`
	DailyTradeCap          int       `json:"daily_trade_cap" yaml:"daily_trade_cap"`
	MaxPositionFraction    float64   `json:"max_position_fraction" yaml:"max_position_fraction"`
	ReservedCashFraction   float64   `json:"reserved_cash_fraction" yaml:"reserved_cash_fraction"`
	CreatedAt              time.Time `json:"created_at"`
	Comment                string    `json:"comment,omitempty"`
}

// DefaultThresholds 首次运行时写入的 v1 默认值（经验数据，不是推导结果）
func DefaultThresholds() PolicyThresholds {
	return PolicyThresholds{
		MinConvergence:         50,
		MinVolumeRatio:         1.5,
		Gold:                   Band{Convergence: 80, VolumeRatio: 2.5, SizeFraction: 0.10},
		Optimal:                Band{Convergence: 70, VolumeRatio: 1.5, SizeFraction: 0.07},
		BorderlineSizeFraction: 0.04,
		DailyTradeCap:          3,
		MaxPositionFraction:    0.10,
		ReservedCashFraction:   0.10,
	}
}

// Deployable 可部署资金比例上限
func (t PolicyThresholds) Deployable() float64 {
	return 1 - t.ReservedCashFraction
}

// TierFraction 档位对应的仓位比例（未封顶）
func (t PolicyThresholds) TierFraction(tier SizeTier) float64 {
	switch tier {
	case TierLarge:
		return t.Gold.SizeFraction
	case TierMedium:
		return t.Optimal.SizeFraction
	case TierSmall:
		return t.BorderlineSizeFraction
	}
	return 0
}

// Validate 校验阈值一致性：floor <= optimal <= gold，档位比例单调
func (t PolicyThresholds) Validate() error {
	bad := func(field, format string, args ...any) error {
		return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
	}
	if t.MinConvergence < 0 || t.MinConvergence > 100 {
		return bad("min_convergence", "must be within [0,100], got %.2f", t.MinConvergence)
	}
	if t.MinVolumeRatio < 0 {
		return bad("min_volume_ratio", "must be >= 0, got %.2f", t.MinVolumeRatio)
	}
	if t.Optimal.Convergence < t.MinConvergence || t.Optimal.VolumeRatio < t.MinVolumeRatio {
		return bad("optimal", "band must not be looser than the admission floor")
	}
	if t.Gold.Convergence < t.Optimal.Convergence || t.Gold.VolumeRatio < t.Optimal.VolumeRatio {
		return bad("gold", "band must not be looser than the optimal band")
	}
	if t.Gold.Convergence > 100 {
		return bad("gold.convergence", "must be <= 100, got %.2f", t.Gold.Convergence)
	}
	if t.BorderlineSizeFraction <= 0 {
		return bad("borderline_size_fraction", "must be > 0")
	}
	if t.Optimal.SizeFraction < t.BorderlineSizeFraction || t.Gold.SizeFraction < t.Optimal.SizeFraction {
		return bad("size_fraction", "tier sizes must be non-decreasing (borderline <= optimal <= gold)")
	}
	if t.MaxPositionFraction <= 0 || t.MaxPositionFraction > 1 {
		return bad("max_position_fraction", "must be within (0,1], got %.4f", t.MaxPositionFraction)
	}
	if t.ReservedCashFraction < 0 || t.ReservedCashFraction >= 1 {
		return bad("reserved_cash_fraction", "must be within [0,1), got %.4f", t.ReservedCashFraction)
	}
	if t.DailyTradeCap < 0 {
		return bad("daily_trade_cap", "must be >= 0, got %d", t.DailyTradeCap)
	}
	return nil
}
