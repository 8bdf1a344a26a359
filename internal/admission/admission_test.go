package admission

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/betbot/stockpilot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)

func v1() domain.PolicyThresholds {
	th := domain.DefaultThresholds()
	th.Version = 1
	return th
}

func TestEvaluate_GoldBandAdmitsLarge(t *testing.T) {
	d := Evaluate(domain.Candidate{Ticker: "nvda", Convergence: 85, VolumeRatio: 3.0}, v1(), now)
	assert.Equal(t, domain.VerdictAdmit, d.Verdict)
	assert.Equal(t, domain.TierLarge, d.Tier)
	assert.Equal(t, 0.10, d.SizeFraction)
	assert.Equal(t, 1, d.ThresholdsVersion)
	assert.Equal(t, "NVDA", d.Candidate.Ticker)
}

func TestEvaluate_VolumeBelowFloorRejects(t *testing.T) {
	d := Evaluate(domain.Candidate{Ticker: "AMD", Convergence: 75, VolumeRatio: 1.2}, v1(), now)
	assert.Equal(t, domain.VerdictReject, d.Verdict)
	assert.Equal(t, "volume below floor", d.Reason)
	assert.Empty(t, d.Tier)
	assert.Zero(t, d.SizeFraction)
}

func TestEvaluate_BorderlineAdmitsSmall(t *testing.T) {
	d := Evaluate(domain.Candidate{Ticker: "SOFI", Convergence: 55, VolumeRatio: 1.6}, v1(), now)
	assert.Equal(t, domain.VerdictAdmit, d.Verdict)
	assert.Equal(t, domain.TierSmall, d.Tier)
	assert.Equal(t, 0.04, d.SizeFraction)
}

func TestEvaluate_OptimalBandAdmitsMedium(t *testing.T) {
	d := Evaluate(domain.Candidate{Ticker: "AVGO", Convergence: 78, VolumeRatio: 1.8}, v1(), now)
	assert.Equal(t, domain.VerdictAdmit, d.Verdict)
	assert.Equal(t, domain.TierMedium, d.Tier)
	assert.Equal(t, 0.07, d.SizeFraction)
}

func TestEvaluate_ConvergenceBelowFloorRegardlessOfVolume(t *testing.T) {
	d := Evaluate(domain.Candidate{Ticker: "PLTR", Convergence: 45, VolumeRatio: 1.2}, v1(), now)
	assert.Equal(t, domain.VerdictReject, d.Verdict)
	assert.Equal(t, "convergence below floor", d.Reason)

	for _, vol := range []float64{0, 0.5, 1.2, 1.5, 2.5, 4, 10} {
		d := Evaluate(domain.Candidate{Ticker: "PLTR", Convergence: 49.9, VolumeRatio: vol}, v1(), now)
		assert.Equal(t, domain.VerdictReject, d.Verdict, "volume %.1f", vol)
		assert.Equal(t, "convergence below floor", d.Reason, "volume %.1f", vol)
		assert.Empty(t, d.Tier, "volume %.1f", vol)
	}
}

func TestEvaluate_ConvergenceReportedFirst(t *testing.T) {
	d := Evaluate(domain.Candidate{Ticker: "X", Convergence: 10, VolumeRatio: 0.1}, v1(), now)
	assert.Equal(t, domain.VerdictReject, d.Verdict)
	assert.Equal(t, "convergence below floor", d.Reason)

	d = Evaluate(domain.Candidate{Ticker: "X", Convergence: math.NaN(), VolumeRatio: 3}, v1(), now)
	assert.Equal(t, domain.VerdictReject, d.Verdict)
}

func TestEvaluate_Boundaries(t *testing.T) {
	th := v1()
	// 恰好等于底线即通过
	d := Evaluate(domain.Candidate{Ticker: "A", Convergence: 50, VolumeRatio: 1.5}, th, now)
	assert.Equal(t, domain.VerdictAdmit, d.Verdict)
	// gold 需要两个维度都达标
	d = Evaluate(domain.Candidate{Ticker: "A", Convergence: 95, VolumeRatio: 2.0}, th, now)
	assert.Equal(t, domain.TierMedium, d.Tier)
	d = Evaluate(domain.Candidate{Ticker: "A", Convergence: 80, VolumeRatio: 2.5}, th, now)
	assert.Equal(t, domain.TierLarge, d.Tier)
}

func TestEvaluate_SizeCappedByMaxPosition(t *testing.T) {
	th := v1()
	th.MaxPositionFraction = 0.05
	d := Evaluate(domain.Candidate{Ticker: "A", Convergence: 90, VolumeRatio: 4}, th, now)
	assert.Equal(t, domain.TierLarge, d.Tier)
	assert.Equal(t, 0.05, d.SizeFraction)
}

func TestEvaluate_TierMonotonic(t *testing.T) {
	th := v1()
	for conv := 50.0; conv <= 100; conv += 2.5 {
		for vol := 1.5; vol <= 5; vol += 0.25 {
			base := Evaluate(domain.Candidate{Ticker: "M", Convergence: conv, VolumeRatio: vol}, th, now)
			up := Evaluate(domain.Candidate{Ticker: "M", Convergence: conv + 5, VolumeRatio: vol + 0.5}, th, now)
			require.Equal(t, domain.VerdictAdmit, base.Verdict)
			assert.GreaterOrEqual(t, up.Tier.Rank(), base.Tier.Rank(), "conv=%v vol=%v", conv, vol)
			assert.GreaterOrEqual(t, up.SizeFraction, base.SizeFraction)
		}
	}
}

func TestEvaluateAll_PreservesOrder(t *testing.T) {
	cands := []domain.Candidate{
		{Ticker: "NVDA", Convergence: 85, VolumeRatio: 3},
		{Ticker: "AMD", Convergence: 75, VolumeRatio: 1.2},
		{Ticker: "SOFI", Convergence: 55, VolumeRatio: 1.6},
	}
	ds, err := EvaluateAll(context.Background(), cands, v1(), now, 2)
	require.NoError(t, err)
	require.Len(t, ds, 3)
	assert.Equal(t, "NVDA", ds[0].Candidate.Ticker)
	assert.Equal(t, domain.VerdictReject, ds[1].Verdict)
	assert.Equal(t, domain.TierSmall, ds[2].Tier)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = EvaluateAll(ctx, cands, v1(), now, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

type stubAdvisor struct {
	tags []string
	err  error
}

func (s stubAdvisor) Advise(context.Context, domain.Candidate) ([]string, error) {
	return s.tags, s.err
}

func TestFoldAdvice_NeverChangesVerdict(t *testing.T) {
	c := domain.Candidate{Ticker: "AMD", Convergence: 75, VolumeRatio: 1.2}
	folded := FoldAdvice(context.Background(), stubAdvisor{tags: []string{"LLM:Strong_Buy"}}, c, time.Second)
	assert.True(t, folded.HasSignal("llm:strong_buy"))
	assert.Equal(t, domain.VerdictReject, Evaluate(folded, v1(), now).Verdict)

	failed := FoldAdvice(context.Background(), stubAdvisor{err: errors.New("timeout")}, c, time.Second)
	assert.Equal(t, c, failed)
}
