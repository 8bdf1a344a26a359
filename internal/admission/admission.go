package admission

import (
	"context"
	"math"
	"time"

	"github.com/betbot/stockpilot/internal/domain"
	"github.com/betbot/stockpilot/internal/ports"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var log = logrus.WithField("module", "admission")

// Evaluate 按阈值快照对单个候选做准入判定（纯函数，相同输入必得相同结果）。
// 两条底线都不满足时，优先报告 convergence。
func Evaluate(c domain.Candidate, th domain.PolicyThresholds, now time.Time) domain.Decision {
	c = c.Normalize()
	d := domain.Decision{
		Candidate:         c,
		ThresholdsVersion: th.Version,
		Thresholds:        th,
		CreatedAt:         now,
	}

	// NaN 不能当作通过
	if math.IsNaN(c.Convergence) || c.Convergence < th.MinConvergence {
		d.Verdict = domain.VerdictReject
		d.Reason = domain.ReasonConvergenceBelowFloor
		return d
	}
	if math.IsNaN(c.VolumeRatio) || c.VolumeRatio < th.MinVolumeRatio {
		d.Verdict = domain.VerdictReject
		d.Reason = domain.ReasonVolumeBelowFloor
		return d
	}

	d.Verdict = domain.VerdictAdmit
	d.Tier = Tier(c, th)
	d.SizeFraction = math.Min(th.TierFraction(d.Tier), th.MaxPositionFraction)
	return d
}

// Tier 已过底线的候选落在哪一档
func Tier(c domain.Candidate, th domain.PolicyThresholds) domain.SizeTier {
	switch {
	case th.Gold.Meets(c):
		return domain.TierLarge
	case th.Optimal.Meets(c):
		return domain.TierMedium
	default:
		return domain.TierSmall
	}
}

// EvaluateAll 并发评估一批候选，结果顺序与输入一致。
// 所有 goroutine 只共享同一个不可变的阈值快照。
func EvaluateAll(ctx context.Context, cands []domain.Candidate, th domain.PolicyThresholds, now time.Time, limit int) ([]domain.Decision, error) {
	out := make([]domain.Decision, len(cands))
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := range cands {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = Evaluate(cands[i], th, now)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// FoldAdvice 把顾问输出并入信号标签。顾问失败不影响候选本身。
func FoldAdvice(ctx context.Context, advisor ports.Advisor, c domain.Candidate, timeout time.Duration) domain.Candidate {
	if advisor == nil {
		return c
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	tags, err := advisor.Advise(ctx, c)
	if err != nil {
		log.Warnf("advisor 调用失败，忽略: ticker=%s err=%v", c.Ticker, err)
		return c
	}
	return c.WithSignals(tags...)
}
