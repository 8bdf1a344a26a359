package feedback

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/betbot/stockpilot/internal/domain"
	"gonum.org/v1/gonum/stat"
)

// Params 阈值自适应参数
type Params struct {
	MinSample      int     `yaml:"min_sample" json:"min_sample"`
	WinRateFloor   float64 `yaml:"win_rate_floor" json:"win_rate_floor"`
	WinRateCeiling float64 `yaml:"win_rate_ceiling" json:"win_rate_ceiling"`
	ConvStep       float64 `yaml:"convergence_step" json:"convergence_step"`
	VolStep        float64 `yaml:"volume_step" json:"volume_step"`
	ConvMin        float64 `yaml:"convergence_min" json:"convergence_min"`
	ConvMax        float64 `yaml:"convergence_max" json:"convergence_max"`
	VolMin         float64 `yaml:"volume_min" json:"volume_min"`
	VolMax         float64 `yaml:"volume_max" json:"volume_max"`
}

// DefaultParams 默认参数
func DefaultParams() Params {
	return Params{
		MinSample:      5,
		WinRateFloor:   0.45,
		WinRateCeiling: 0.70,
		ConvStep:       2,
		VolStep:        0.1,
		ConvMin:        40,
		ConvMax:        95,
		VolMin:         1.0,
		VolMax:         5.0,
	}
}

// TierStats 某档位已结算交易的统计
type TierStats struct {
	Tier          domain.SizeTier `json:"tier"`
	Samples       int             `json:"samples"`
	WinRate       float64         `json:"win_rate"`
	MeanReturn5D  float64         `json:"mean_return_5d"`
	With5DReturns int             `json:"with_5d_returns"`
}

// Adjustment 一次阈值调整
type Adjustment struct {
	Tier      domain.SizeTier `json:"tier"`
	Direction string          `json:"direction"` // tighten | loosen
	Stats     TierStats       `json:"stats"`
	Clamped   bool            `json:"clamped,omitempty"` // 步长被上下界或相邻档位截断
}

// Stats 按档位汇总已结算（WIN/LOSS）交易
func Stats(trades []domain.Trade) map[domain.SizeTier]TierStats {
	wins := make(map[domain.SizeTier][]float64)
	fwd := make(map[domain.SizeTier][]float64)
	for _, t := range trades {
		if !t.Outcome.Closed() || t.Tier == "" {
			continue
		}
		w := 0.0
		if t.Outcome == domain.OutcomeWin {
			w = 1
		}
		wins[t.Tier] = append(wins[t.Tier], w)
		if r, ok := t.ForwardReturn(5); ok {
			fwd[t.Tier] = append(fwd[t.Tier], r)
		}
	}

	out := make(map[domain.SizeTier]TierStats, len(wins))
	for tier, xs := range wins {
		s := TierStats{Tier: tier, Samples: len(xs), WinRate: stat.Mean(xs, nil)}
		if ys := fwd[tier]; len(ys) > 0 {
			s.MeanReturn5D = stat.Mean(ys, nil)
			s.With5DReturns = len(ys)
		}
		out[tier] = s
	}
	return out
}

// Recompute 根据各档位胜率生成下一版阈值（纯函数，不修改入参）。
// SMALL 对应准入底线，MEDIUM 对应 optimal 档，LARGE 对应 gold 档。
func Recompute(cur domain.PolicyThresholds, trades []domain.Trade, p Params) (domain.PolicyThresholds, []Adjustment) {
	next := cur
	stats := Stats(trades)

	var adjustments []Adjustment
	for _, tier := range []domain.SizeTier{domain.TierSmall, domain.TierMedium, domain.TierLarge} {
		s, ok := stats[tier]
		if !ok || s.Samples < p.MinSample {
			continue
		}
		var sign float64
		switch {
		case s.WinRate < p.WinRateFloor:
			sign = 1
		case s.WinRate > p.WinRateCeiling:
			sign = -1
		default:
			continue
		}
		conv, vol := bandOf(&next, tier)
		lo, hi := neighbours(&next, tier)
		nc, cc := stepWithin(*conv, sign*p.ConvStep, math.Max(p.ConvMin, lo.conv), math.Min(p.ConvMax, hi.conv))
		nv, cv := stepWithin(*vol, sign*p.VolStep, math.Max(p.VolMin, lo.vol), math.Min(p.VolMax, hi.vol))
		if nc == *conv && nv == *vol {
			continue
		}
		*conv, *vol = nc, nv

		dir := "tighten"
		if sign < 0 {
			dir = "loosen"
		}
		adjustments = append(adjustments, Adjustment{Tier: tier, Direction: dir, Stats: s, Clamped: cc || cv})
	}
	return next, adjustments
}

// Comment 版本说明
func Comment(adjs []Adjustment, stats map[domain.SizeTier]TierStats) string {
	if len(adjs) == 0 {
		tiers := make([]string, 0, len(stats))
		for tier, s := range stats {
			tiers = append(tiers, fmt.Sprintf("%s n=%d win=%.2f", tier, s.Samples, s.WinRate))
		}
		sort.Strings(tiers)
		if len(tiers) == 0 {
			return "feedback: no closed trades, thresholds unchanged"
		}
		return "feedback: no adjustment (" + strings.Join(tiers, "; ") + ")"
	}
	parts := make([]string, 0, len(adjs))
	for _, a := range adjs {
		part := fmt.Sprintf("%s %s n=%d win=%.2f mean5d=%.2f%%",
			a.Direction, a.Tier, a.Stats.Samples, a.Stats.WinRate, a.Stats.MeanReturn5D)
		if a.Clamped {
			part += " (clamped)"
		}
		parts = append(parts, part)
	}
	return "feedback: " + strings.Join(parts, "; ")
}

func bandOf(t *domain.PolicyThresholds, tier domain.SizeTier) (*float64, *float64) {
	switch tier {
	case domain.TierLarge:
		return &t.Gold.Convergence, &t.Gold.VolumeRatio
	case domain.TierMedium:
		return &t.Optimal.Convergence, &t.Optimal.VolumeRatio
	default:
		return &t.MinConvergence, &t.MinVolumeRatio
	}
}

type band struct{ conv, vol float64 }

// neighbours 相邻档位的取值，保持 floor <= optimal <= gold
func neighbours(t *domain.PolicyThresholds, tier domain.SizeTier) (lo, hi band) {
	lo = band{math.Inf(-1), math.Inf(-1)}
	hi = band{math.Inf(1), math.Inf(1)}
	switch tier {
	case domain.TierSmall:
		hi = band{t.Optimal.Convergence, t.Optimal.VolumeRatio}
	case domain.TierMedium:
		lo = band{t.MinConvergence, t.MinVolumeRatio}
		hi = band{t.Gold.Convergence, t.Gold.VolumeRatio}
	case domain.TierLarge:
		lo = band{t.Optimal.Convergence, t.Optimal.VolumeRatio}
	}
	return lo, hi
}

// stepWithin 按 delta 方向移动 v，不越过 [lo, hi]；已在界外的值不会被反向拉回
func stepWithin(v, delta, lo, hi float64) (float64, bool) {
	next := round(v+delta, 2)
	switch {
	case delta > 0 && next > hi:
		if v >= hi {
			return v, true
		}
		return hi, true
	case delta < 0 && next < lo:
		if v <= lo {
			return v, true
		}
		return lo, true
	}
	return next, false
}

func round(v float64, places int) float64 {
	f := math.Pow(10, float64(places))
	return math.Round(v*f) / f
}
