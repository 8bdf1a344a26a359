package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/betbot/stockpilot/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNoPosition 没有该 ticker 的持仓
var ErrNoPosition = errors.New("no open position")

// RecordTrade 记录一笔成交。
// BUY 若关联决策，则该决策必须是尚无执行记录的 ADMIT；同一事务内更新持仓。
func (s *Store) RecordTrade(ctx context.Context, t domain.Trade) (string, error) {
	if t.Action == domain.ActionSell {
		return s.RecordExit(ctx, t.Ticker, t.Shares, t.Price, t.CreatedAt)
	}
	if t.Action == domain.ActionMissed {
		return s.RecordMissed(ctx, t)
	}
	t = s.prepareTrade(t)
	if t.Outcome == "" {
		t.Outcome = domain.OutcomeOpen
	}
	if t.Action == domain.ActionBuy && !t.Shares.IsPositive() {
		return "", persistErr("record trade", fmt.Errorf("buy %s with non-positive shares %s", t.Ticker, t.Shares))
	}

	err := s.withTx(ctx, "record trade", func(tx *sql.Tx) error {
		if t.DecisionID != "" {
			if err := requireOpenAdmit(ctx, tx, t.DecisionID); err != nil {
				return err
			}
		}
		if err := insertTrade(ctx, tx, t); err != nil {
			return err
		}
		if t.Action == domain.ActionBuy {
			return applyBuy(ctx, tx, t)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

// RecordMissed 记录错过的机会（没有关联决策，outcome 固定为 MISSED）
func (s *Store) RecordMissed(ctx context.Context, t domain.Trade) (string, error) {
	t = s.prepareTrade(t)
	t.Action = domain.ActionMissed
	t.Outcome = domain.OutcomeMissed
	t.DecisionID = ""
	err := s.withTx(ctx, "record missed", func(tx *sql.Tx) error {
		return insertTrade(ctx, tx, t)
	})
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

// RecordExit 卖出。持仓清零时删除持仓，并按各笔买入价结算该 ticker 所有 OPEN 的 BUY。
func (s *Store) RecordExit(ctx context.Context, ticker string, shares, price decimal.Decimal, at time.Time) (string, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if at.IsZero() {
		at = s.now()
	}
	id := uuid.NewString()
	err := s.withTx(ctx, "record exit", func(tx *sql.Tx) error {
		pos, err := getPosition(ctx, tx, ticker)
		if err != nil {
			return err
		}
		if !shares.IsPositive() || shares.GreaterThan(pos.Shares) {
			return fmt.Errorf("sell %s shares of %s: holding %s", shares, ticker, pos.Shares)
		}
		realized := domain.ReturnPct(pos.AvgCost, price)
		sell := domain.Trade{
			ID:          id,
			Ticker:      ticker,
			Action:      domain.ActionSell,
			Shares:      shares,
			Price:       price,
			Outcome:     outcomeFor(realized),
			RealizedPct: &realized,
			CreatedAt:   at,
			ClosedAt:    &at,
		}
		if err := insertTrade(ctx, tx, sell); err != nil {
			return err
		}

		remaining := pos.Shares.Sub(shares)
		if remaining.IsPositive() {
			_, err := tx.ExecContext(ctx, `UPDATE positions SET shares=?, updated_at=? WHERE ticker=?`,
				remaining.String(), formatTime(at), ticker)
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE ticker=?`, ticker); err != nil {
			return err
		}
		return resolveOpenBuys(ctx, tx, ticker, price, at)
	})
	if err != nil {
		return "", err
	}
	log.Infof("卖出记录: %s shares=%s price=%s", ticker, shares, price)
	return id, nil
}

// OutcomeFilter 交易查询条件（零值表示不过滤）
type OutcomeFilter struct {
	Ticker  string
	From    time.Time
	To      time.Time
	Action  domain.Action
	Outcome domain.Outcome
	Tier    domain.SizeTier
	Limit   int
}

// QueryOutcomes 只读查询交易历史（附带档位与前瞻收益）
func (s *Store) QueryOutcomes(ctx context.Context, f OutcomeFilter) ([]domain.Trade, error) {
	q := `
SELECT t.id, t.decision_id, t.ticker, t.action, t.shares, t.price, t.broker_order_id, t.thesis, t.outcome,
       t.realized_pct, t.created_at, t.closed_at, d.tier
FROM trades t
LEFT JOIN decisions d ON d.id = t.decision_id
WHERE 1=1`
	var args []any
	if f.Ticker != "" {
		q += ` AND t.ticker=?`
		args = append(args, strings.ToUpper(f.Ticker))
	}
	if !f.From.IsZero() {
		q += ` AND t.created_at >= ?`
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		q += ` AND t.created_at < ?`
		args = append(args, formatTime(f.To))
	}
	if f.Action != "" {
		q += ` AND t.action=?`
		args = append(args, string(f.Action))
	}
	if f.Outcome != "" {
		q += ` AND t.outcome=?`
		args = append(args, string(f.Outcome))
	}
	if f.Tier != "" {
		q += ` AND d.tier=?`
		args = append(args, string(f.Tier))
	}
	q += ` ORDER BY t.created_at ASC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, persistErr("query outcomes", err)
	}
	var out []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			rows.Close()
			return nil, persistErr("query outcomes", err)
		}
		out = append(out, t)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, persistErr("query outcomes", err)
	}

	if err := s.attachForwardReturns(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// TradesExecutedOn 指定日期已执行的 BUY 数（每日额度核对用）
func (s *Store) TradesExecutedOn(ctx context.Context, day time.Time) (int, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	var n int
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM trades WHERE action='BUY' AND decision_id IS NOT NULL AND created_at >= ? AND created_at < ?
`, formatTime(start), formatTime(start.AddDate(0, 0, 1))).Scan(&n)
	if err != nil {
		return 0, persistErr("count trades", err)
	}
	return n, nil
}

func (s *Store) prepareTrade(t domain.Trade) domain.Trade {
	if strings.TrimSpace(t.ID) == "" {
		t.ID = uuid.NewString()
	}
	t.Ticker = strings.ToUpper(strings.TrimSpace(t.Ticker))
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	return t
}

func insertTrade(ctx context.Context, tx *sql.Tx, t domain.Trade) error {
	var realized any
	if t.RealizedPct != nil {
		realized = *t.RealizedPct
	}
	_, err := tx.ExecContext(ctx, `
INSERT INTO trades (id,decision_id,ticker,action,shares,price,broker_order_id,thesis,outcome,realized_pct,created_at,closed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
`, t.ID, nullString(t.DecisionID), t.Ticker, string(t.Action), t.Shares.String(), t.Price.String(),
		nullString(t.BrokerOrderID), nullString(t.Thesis), string(t.Outcome), realized, formatTime(t.CreatedAt), nullTime(t.ClosedAt))
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// applyBuy 新建或加仓
func applyBuy(ctx context.Context, tx *sql.Tx, t domain.Trade) error {
	pos, err := getPosition(ctx, tx, t.Ticker)
	if err != nil && !errors.Is(err, ErrNoPosition) {
		return err
	}
	if errors.Is(err, ErrNoPosition) {
		pos = domain.Position{
			Ticker:         t.Ticker,
			ThesisStrength: t.ThesisStrength,
			Thesis:         t.Thesis,
			CatalystDate:   t.CatalystDate,
			AnalystTarget:  t.AnalystTarget,
			OpenedAt:       t.CreatedAt,
		}
	}
	pos.AddFill(t.Shares, t.Price)
	pos.CurrentPrice = t.Price
	pos.UpdatedAt = t.CreatedAt
	if pos.Thesis == "" {
		pos.Thesis = t.Thesis
	}
	if pos.CatalystDate == nil {
		pos.CatalystDate = t.CatalystDate
	}
	if pos.AnalystTarget.IsZero() {
		pos.AnalystTarget = t.AnalystTarget
	}
	return upsertPosition(ctx, tx, pos)
}

func resolveOpenBuys(ctx context.Context, tx *sql.Tx, ticker string, exit decimal.Decimal, at time.Time) error {
	rows, err := tx.QueryContext(ctx, `SELECT id, price FROM trades WHERE ticker=? AND action='BUY' AND outcome='OPEN'`, ticker)
	if err != nil {
		return err
	}
	type openBuy struct {
		id    string
		price decimal.Decimal
	}
	var buys []openBuy
	for rows.Next() {
		var id, price string
		if err := rows.Scan(&id, &price); err != nil {
			rows.Close()
			return err
		}
		p, err := decimal.NewFromString(price)
		if err != nil {
			rows.Close()
			return err
		}
		buys = append(buys, openBuy{id: id, price: p})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, b := range buys {
		pct := domain.ReturnPct(b.price, exit)
		if _, err := tx.ExecContext(ctx, `UPDATE trades SET outcome=?, realized_pct=?, closed_at=? WHERE id=?`,
			string(outcomeFor(pct)), pct, formatTime(at), b.id); err != nil {
			return err
		}
	}
	return nil
}

func outcomeFor(realizedPct float64) domain.Outcome {
	if realizedPct > 0 {
		return domain.OutcomeWin
	}
	return domain.OutcomeLoss
}

func scanTrade(row rowScanner) (domain.Trade, error) {
	var (
		t          domain.Trade
		decisionID sql.NullString
		action     string
		shares     string
		price      string
		brokerID   sql.NullString
		thesis     sql.NullString
		outcome    string
		realized   sql.NullFloat64
		created    string
		closed     sql.NullString
		tier       sql.NullString
	)
	if err := row.Scan(&t.ID, &decisionID, &t.Ticker, &action, &shares, &price, &brokerID, &thesis, &outcome,
		&realized, &created, &closed, &tier); err != nil {
		return domain.Trade{}, err
	}
	var err error
	if t.Shares, err = decimal.NewFromString(shares); err != nil {
		return domain.Trade{}, err
	}
	if t.Price, err = decimal.NewFromString(price); err != nil {
		return domain.Trade{}, err
	}
	t.DecisionID = decisionID.String
	t.Action = domain.Action(action)
	t.BrokerOrderID = brokerID.String
	t.Thesis = thesis.String
	t.Outcome = domain.Outcome(outcome)
	if realized.Valid {
		v := realized.Float64
		t.RealizedPct = &v
	}
	t.CreatedAt = parseTime(created)
	t.ClosedAt = scanNullTime(closed)
	t.Tier = domain.SizeTier(tier.String)
	return t, nil
}
