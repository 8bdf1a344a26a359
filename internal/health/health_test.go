package health

import (
	"testing"
	"time"

	"github.com/betbot/stockpilot/internal/domain"
	"github.com/betbot/stockpilot/internal/events"
	"github.com/betbot/stockpilot/internal/ports"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var now = time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)

func position(avg, price int64) domain.Position {
	return domain.Position{
		Ticker:         "INTC",
		Shares:         decimal.NewFromInt(10),
		AvgCost:        decimal.NewFromInt(avg),
		CurrentPrice:   decimal.NewFromInt(price),
		ThesisStrength: 7,
		OpenedAt:       now.AddDate(0, 0, -30),
	}
}

func TestEvaluate_DeadMoneyWeakThesis(t *testing.T) {
	p := position(100, 94)
	p.ThesisStrength = 4
	catalyst := now.Add(7 * 7 * 24 * time.Hour)
	p.CatalystDate = &catalyst

	a := Evaluate(p, DefaultWeights(), now, false)
	assert.Equal(t, -3.0, a.Components.PnL)
	assert.Equal(t, -3.5, a.Components.Catalyst)
	assert.Equal(t, -6.5, a.Score)
	assert.Equal(t, domain.HealthDeadMoney, a.State)
	assert.Equal(t, domain.ThesisWeak, a.Thesis)
	assert.Equal(t, domain.SuggestExit, a.Action)
	assert.Equal(t, 30, a.DaysHeld)

	a = Evaluate(p, DefaultWeights(), now, true)
	assert.Equal(t, domain.SuggestReallocate, a.Action)

	alerts := Alerts(a)
	assert.Len(t, alerts, 2)
	assert.Equal(t, events.AlertReallocate, alerts[0].Type)
	assert.Equal(t, events.AlertWeakThesis, alerts[1].Type)
}

func TestScore_ComponentsClamped(t *testing.T) {
	w := DefaultWeights()

	p := position(100, 120) // +20% -> 10 -> 5
	p.AnalystTarget = decimal.NewFromInt(180)
	p.SectorMomentum = 25
	score, c := Score(p, w, now)
	assert.Equal(t, 5.0, c.PnL)
	assert.Equal(t, 3.0, c.Target)
	assert.Equal(t, 2.0, c.Sector)
	assert.Equal(t, 10.0, score)
	assert.Equal(t, domain.HealthStrong, Classify(score, w))

	p = position(100, 100)
	p.AnalystTarget = decimal.NewFromInt(90)
	p.SectorMomentum = -3
	score, c = Score(p, w, now)
	assert.Equal(t, -1.0, c.Target)
	assert.Equal(t, -0.6, c.Sector)
	assert.Equal(t, -1.6, score)
	assert.Equal(t, domain.HealthWatch, Classify(score, w))
}

func TestScore_CatalystOnlyWhenFlat(t *testing.T) {
	w := DefaultWeights()
	far := now.AddDate(0, 3, 0)

	p := position(100, 105)
	p.CatalystDate = &far
	_, c := Score(p, w, now)
	assert.Zero(t, c.Catalyst)

	p = position(100, 100)
	p.CatalystDate = &far
	_, c = Score(p, w, now)
	assert.Equal(t, -4.0, c.Catalyst)

	passed := now.AddDate(0, 0, -3)
	p.CatalystDate = &passed
	_, c = Score(p, w, now)
	assert.Equal(t, -2.0, c.Catalyst)

	p.CatalystDate = nil
	_, c = Score(p, w, now)
	assert.Zero(t, c.Catalyst)
}

func TestClassify_Thresholds(t *testing.T) {
	w := DefaultWeights()
	assert.Equal(t, domain.HealthStrong, Classify(5, w))
	assert.Equal(t, domain.HealthWatch, Classify(4.99, w))
	assert.Equal(t, domain.HealthWatch, Classify(-4.99, w))
	assert.Equal(t, domain.HealthDeadMoney, Classify(-5, w))
}

func TestEvaluate_WeakThesisTrimsWhenNotDead(t *testing.T) {
	p := position(100, 104)
	p.ThesisStrength = 3
	a := Evaluate(p, DefaultWeights(), now, true)
	assert.Equal(t, domain.HealthWatch, a.State)
	assert.Equal(t, domain.SuggestTrim, a.Action)

	p.ThesisStrength = 5
	a = Evaluate(p, DefaultWeights(), now, true)
	assert.Equal(t, domain.SuggestHold, a.Action)
	assert.Empty(t, Alerts(a))
}

func TestRefresh_KeepsMissingFields(t *testing.T) {
	p := position(100, 100)
	p.AnalystTarget = decimal.NewFromInt(130)
	got := Refresh(p, ports.Quote{Price: decimal.NewFromInt(110), SectorMomentumPct: 1.5}, now)
	assert.True(t, got.CurrentPrice.Equal(decimal.NewFromInt(110)))
	assert.True(t, got.AnalystTarget.Equal(decimal.NewFromInt(130)))
	assert.Equal(t, 1.5, got.SectorMomentum)
	assert.Equal(t, now, got.UpdatedAt)
}
