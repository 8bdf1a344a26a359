package marketdata

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/betbot/stockpilot/internal/domain"
	"github.com/betbot/stockpilot/pkg/ratelimit"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const calendarYAML = `
tickers:
  intc:
    analyst_target: "42.50"
    catalyst_date: "2024-07-25"
    sector_etf: SOXX
  nvda:
    sector_momentum_pct: 3.5
`

func testProvider(t *testing.T) *Provider {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calendar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(calendarYAML), 0o644))
	cal, err := LoadCalendar(path)
	require.NoError(t, err)

	p := NewProvider(cal)
	p.now = func() time.Time { return time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC) }
	p.quote = func(symbol string) (decimal.Decimal, error) {
		if symbol == "DOWN" {
			return decimal.Zero, errors.New("503")
		}
		return decimal.NewFromInt(40), nil
	}
	p.bars = func(symbol string, start, end time.Time) ([]Bar, error) {
		if symbol == "SOXX" {
			return []Bar{
				{Day: start.AddDate(0, 0, 1), Close: decimal.NewFromInt(200)},
				{Day: end.AddDate(0, 0, -1), Close: decimal.NewFromInt(210)},
			}, nil
		}
		// 周末请求：返回下周一的 bar
		return []Bar{{Day: start.AddDate(0, 0, 2).Add(13*time.Hour + 30*time.Minute), Close: decimal.NewFromInt(44)}}, nil
	}
	return p
}

func TestQuote_MergesCalendar(t *testing.T) {
	p := testProvider(t)
	q, err := p.Quote(context.Background(), "intc")
	require.NoError(t, err)
	assert.Equal(t, "INTC", q.Ticker)
	assert.True(t, q.AnalystTarget.Equal(decimal.RequireFromString("42.5")))
	require.NotNil(t, q.CatalystDate)
	assert.Equal(t, "2024-07-25", q.CatalystDate.Format("2006-01-02"))
	assert.InDelta(t, 5.0, q.SectorMomentumPct, 1e-9)

	q, err = p.Quote(context.Background(), "NVDA")
	require.NoError(t, err)
	assert.Equal(t, 3.5, q.SectorMomentumPct)
	assert.Nil(t, q.CatalystDate)
}

func TestQuote_FailureIsExternal(t *testing.T) {
	p := testProvider(t)
	_, err := p.Quote(context.Background(), "DOWN")
	require.Error(t, err)
	assert.True(t, domain.IsExternalCallFailure(err))
}

func TestCloseOn_FirstBarOnOrAfterDay(t *testing.T) {
	p := testProvider(t)
	sat := time.Date(2024, 6, 8, 0, 0, 0, 0, time.UTC)
	px, err := p.CloseOn(context.Background(), "INTC", sat)
	require.NoError(t, err)
	assert.True(t, px.Equal(decimal.NewFromInt(44)))
}

func TestCallCtx_RespectsTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := callCtx(ctx, func() (int, error) {
		time.Sleep(200 * time.Millisecond)
		return 1, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoadCalendar_Errors(t *testing.T) {
	cal, err := LoadCalendar("")
	require.NoError(t, err)
	assert.Empty(t, cal)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tickers:\n  x:\n    catalyst_date: soon\n"), 0o644))
	_, err = LoadCalendar(path)
	assert.Error(t, err)
}

func TestCloseOn_CachesBars(t *testing.T) {
	p := testProvider(t)
	calls := 0
	inner := p.bars
	p.bars = func(symbol string, start, end time.Time) ([]Bar, error) {
		calls++
		return inner(symbol, start, end)
	}
	day := time.Date(2024, 6, 8, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := p.CloseOn(context.Background(), "INTC", day)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, calls)

	_, err := p.CloseOn(context.Background(), "AMD", day)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestQuote_RateLimited(t *testing.T) {
	p := testProvider(t)
	p.limiter = ratelimit.NewTokenBucket(1, 0.001)
	_, err := p.Quote(context.Background(), "NVDA")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Quote(ctx, "NVDA")
	require.Error(t, err)
	assert.True(t, domain.IsExternalCallFailure(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
