package risk

import (
	"errors"
	"testing"
	"time"

	"github.com/betbot/stockpilot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_ConsecutiveErrorsTripForTheDay(t *testing.T) {
	now := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxConsecutiveErrors: 2, Location: time.UTC})
	cb.SetClock(func() time.Time { return now })

	require.NoError(t, cb.AllowTrading())
	cb.OnError()
	cb.OnSuccess()
	cb.OnError()
	require.NoError(t, cb.AllowTrading())
	cb.OnError()
	err := cb.AllowTrading()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCircuitBreakerOpen))

	// 第二天自动恢复
	now = now.AddDate(0, 0, 1)
	assert.NoError(t, cb.AllowTrading())
}

func TestCircuitBreaker_ManualHaltSurvivesDayRoll(t *testing.T) {
	now := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	cb.SetClock(func() time.Time { return now })
	cb.Halt()
	assert.Error(t, cb.AllowTrading())
	now = now.AddDate(0, 0, 1)
	assert.Error(t, cb.AllowTrading())
	assert.True(t, cb.Halted())
	cb.Resume()
	assert.NoError(t, cb.AllowTrading())
}

func TestDailyBudget(t *testing.T) {
	b := NewDailyBudget(3)
	b.Sync("2024-06-03", 2, 3)
	assert.Equal(t, 1, b.Remaining("2024-06-03"))
	b.Consume("2024-06-03")
	assert.Equal(t, 0, b.Remaining("2024-06-03"))
	assert.Equal(t, 3, b.Remaining("2024-06-04"))
}

func TestGates_Order(t *testing.T) {
	th := domain.DefaultThresholds()
	day := "2024-06-03"
	budget := NewDailyBudget(th.DailyTradeCap)
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	g := Gates{Breaker: cb, Budget: budget}

	in := GateInput{Day: day, SizeFraction: 0.10, DeployedFraction: 0.5, Thresholds: th}
	assert.Nil(t, g.Check(in))

	// 容量：0.85 + 0.10 > 0.90
	in.DeployedFraction = 0.85
	v := g.Check(in)
	require.NotNil(t, v)
	assert.Equal(t, GateCapacity, v.Gate)

	// 恰好等于上限放行
	in.DeployedFraction = 0.80
	assert.Nil(t, g.Check(in))

	// 单票上限：已持有 0.05 再加 0.10 超过 0.10
	in.PositionFraction = 0.05
	v = g.Check(in)
	require.NotNil(t, v)
	assert.Equal(t, GatePositionLimit, v.Gate)
	assert.Contains(t, v.Detail, "per-ticker max")

	in.SizeFraction = 0.05
	assert.Nil(t, g.Check(in))
	in.SizeFraction = 0.10
	in.PositionFraction = 0

	in.DryRun = true
	v = g.Check(in)
	require.NotNil(t, v)
	assert.Equal(t, GateDryRun, v.Gate)

	budget.Sync(day, 3, 3)
	v = g.Check(in)
	require.NotNil(t, v)
	assert.Equal(t, GateDailyBudget, v.Gate)
	assert.Contains(t, v.Detail, "daily budget exhausted")

	cb.Halt()
	v = g.Check(in)
	require.NotNil(t, v)
	assert.Equal(t, GateCircuitBreaker, v.Gate)
}
