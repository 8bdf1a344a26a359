package store

import (
	"context"
	"strings"
	"time"

	"github.com/betbot/stockpilot/internal/domain"
)

// TradeDay 前瞻收益的日期键（交易所时区的日历日）
func (s *Store) TradeDay(t time.Time) string {
	return formatDay(t.In(s.loc))
}

// UpdateForwardReturn 写入 (ticker, 交易日, horizon) 的前瞻收益；重复写入覆盖，幂等。
func (s *Store) UpdateForwardReturn(ctx context.Context, ticker string, tradeDate time.Time, horizonDays int, returnPct float64) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO forward_returns (ticker, trade_date, horizon_days, return_pct, updated_at)
VALUES (?,?,?,?,?)
ON CONFLICT(ticker, trade_date, horizon_days) DO UPDATE SET
  return_pct=excluded.return_pct,
  updated_at=excluded.updated_at
`, strings.ToUpper(ticker), s.TradeDay(tradeDate), horizonDays, returnPct, formatTime(s.now()))
	if err != nil {
		return persistErr("update forward return", err)
	}
	return nil
}

// ForwardReturns 读取某笔交易日的全部 horizon
func (s *Store) ForwardReturns(ctx context.Context, ticker string, tradeDate time.Time) (map[int]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT horizon_days, return_pct FROM forward_returns WHERE ticker=? AND trade_date=?
`, strings.ToUpper(ticker), s.TradeDay(tradeDate))
	if err != nil {
		return nil, persistErr("forward returns", err)
	}
	defer rows.Close()

	out := make(map[int]float64)
	for rows.Next() {
		var h int
		var v float64
		if err := rows.Scan(&h, &v); err != nil {
			return nil, persistErr("forward returns", err)
		}
		out[h] = v
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("forward returns", err)
	}
	return out, nil
}

func (s *Store) attachForwardReturns(ctx context.Context, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	var tickers []any
	for _, t := range trades {
		if _, ok := seen[t.Ticker]; ok {
			continue
		}
		seen[t.Ticker] = struct{}{}
		tickers = append(tickers, t.Ticker)
	}
	q := `SELECT ticker, trade_date, horizon_days, return_pct FROM forward_returns WHERE ticker IN (?` +
		strings.Repeat(",?", len(tickers)-1) + `)`
	rows, err := s.db.QueryContext(ctx, q, tickers...)
	if err != nil {
		return persistErr("attach forward returns", err)
	}
	defer rows.Close()

	byKey := make(map[string]map[int]float64)
	for rows.Next() {
		var ticker, day string
		var h int
		var v float64
		if err := rows.Scan(&ticker, &day, &h, &v); err != nil {
			return persistErr("attach forward returns", err)
		}
		k := ticker + "|" + day
		if byKey[k] == nil {
			byKey[k] = make(map[int]float64)
		}
		byKey[k][h] = v
	}
	if err := rows.Err(); err != nil {
		return persistErr("attach forward returns", err)
	}

	for i := range trades {
		if m, ok := byKey[trades[i].Ticker+"|"+s.TradeDay(trades[i].CreatedAt)]; ok {
			trades[i].ForwardReturns = m
		}
	}
	return nil
}
