package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/betbot/stockpilot/internal/ports"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedQuote struct{ px decimal.Decimal }

func (f fixedQuote) Quote(_ context.Context, ticker string) (ports.Quote, error) {
	return ports.Quote{Ticker: ticker, Price: f.px}, nil
}

func TestPaper_BuySell(t *testing.T) {
	p := NewPaper(fixedQuote{px: decimal.NewFromInt(50)})
	ctx := context.Background()

	res, err := p.Execute(ctx, ports.ExecutionRequest{Ticker: "NVDA", Shares: decimal.NewFromInt(10), Side: ports.SideBuy})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.FillPrice.Equal(decimal.NewFromInt(50)))
	assert.NotEmpty(t, res.BrokerOrderID)

	res, err = p.Execute(ctx, ports.ExecutionRequest{Ticker: "NVDA", Shares: decimal.NewFromInt(11), Side: ports.SideSell})
	require.NoError(t, err)
	assert.False(t, res.Success)

	res, err = p.Execute(ctx, ports.ExecutionRequest{Ticker: "NVDA", Shares: decimal.NewFromInt(4), Side: ports.SideSell, LimitHint: decimal.NewFromInt(55)})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.FillPrice.Equal(decimal.NewFromInt(55)))
	assert.Equal(t, "6", p.Holding("NVDA").String())
}

func TestBridge_PostsOrderWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/orders", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		if req["ticker"] == "BAD" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"success":false,"error":"insufficient buying power"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"order_id":"ord-1","fill_price":"101.25"}`))
	}))
	defer srv.Close()

	b := NewBridge(srv.URL+"/", "secret", time.Second)
	res, err := b.Execute(context.Background(), ports.ExecutionRequest{Ticker: "NVDA", Shares: decimal.NewFromInt(3), Side: ports.SideBuy})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "ord-1", res.BrokerOrderID)
	assert.True(t, res.FillPrice.Equal(decimal.RequireFromString("101.25")))

	res, err = b.Execute(context.Background(), ports.ExecutionRequest{Ticker: "BAD", Shares: decimal.NewFromInt(1), Side: ports.SideBuy})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "insufficient buying power", res.Error)
	assert.Equal(t, int32(2), calls.Load())
}
