package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/betbot/stockpilot/internal/domain"
	"github.com/shopspring/decimal"
)

const positionColumns = `ticker,shares,avg_cost,current_price,analyst_target,thesis_strength,thesis,catalyst_date,sector_momentum,opened_at,health_score,health_state,updated_at`

// ListPositions 全部持仓（按 ticker 排序）
func (s *Store) ListPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+positionColumns+` FROM positions ORDER BY ticker ASC`)
	if err != nil {
		return nil, persistErr("list positions", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, persistErr("list positions", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list positions", err)
	}
	return out, nil
}

// GetPosition 单个持仓；不存在返回 ErrNoPosition
func (s *Store) GetPosition(ctx context.Context, ticker string) (domain.Position, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE ticker=?`, strings.ToUpper(ticker))
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Position{}, ErrNoPosition
	}
	if err != nil {
		return domain.Position{}, persistErr("get position", err)
	}
	return p, nil
}

// UpsertPosition 导入/覆盖持仓（手工同步券商持仓用）
func (s *Store) UpsertPosition(ctx context.Context, p domain.Position) error {
	p.Ticker = strings.ToUpper(strings.TrimSpace(p.Ticker))
	if p.OpenedAt.IsZero() {
		p.OpenedAt = s.now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = s.now()
	}
	return s.withTx(ctx, "upsert position", func(tx *sql.Tx) error {
		return upsertPosition(ctx, tx, p)
	})
}

// UpdatePositionHealth 刷新现价、外部数据与健康度
func (s *Store) UpdatePositionHealth(ctx context.Context, p domain.Position) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE positions SET current_price=?, analyst_target=?, catalyst_date=?, sector_momentum=?, health_score=?, health_state=?, updated_at=?
WHERE ticker=?
`, p.CurrentPrice.String(), p.AnalystTarget.String(), nullTime(p.CatalystDate), p.SectorMomentum,
		p.HealthScore, nullString(string(p.HealthState)), formatTime(p.UpdatedAt), strings.ToUpper(p.Ticker))
	if err != nil {
		return persistErr("update position health", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNoPosition
	}
	return nil
}

// DeployedCost 已部署资金（持仓成本合计）
func (s *Store) DeployedCost(ctx context.Context) (decimal.Decimal, error) {
	positions, err := s.ListPositions(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.CostBasis())
	}
	return total, nil
}

func getPosition(ctx context.Context, tx *sql.Tx, ticker string) (domain.Position, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE ticker=?`, ticker)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Position{}, ErrNoPosition
	}
	return p, err
}

func upsertPosition(ctx context.Context, tx *sql.Tx, p domain.Position) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO positions (`+positionColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(ticker) DO UPDATE SET
  shares=excluded.shares,
  avg_cost=excluded.avg_cost,
  current_price=excluded.current_price,
  analyst_target=excluded.analyst_target,
  thesis_strength=excluded.thesis_strength,
  thesis=excluded.thesis,
  catalyst_date=excluded.catalyst_date,
  sector_momentum=excluded.sector_momentum,
  health_score=excluded.health_score,
  health_state=excluded.health_state,
  updated_at=excluded.updated_at
`, p.Ticker, p.Shares.String(), p.AvgCost.String(), p.CurrentPrice.String(), p.AnalystTarget.String(),
		p.ThesisStrength, nullString(p.Thesis), nullTime(p.CatalystDate), p.SectorMomentum,
		formatTime(p.OpenedAt), p.HealthScore, nullString(string(p.HealthState)), formatTime(p.UpdatedAt))
	return err
}

func scanPosition(row rowScanner) (domain.Position, error) {
	var (
		p                                domain.Position
		shares, avgCost, current, target string
		thesis, catalyst, state          sql.NullString
		opened, updated                  string
	)
	if err := row.Scan(&p.Ticker, &shares, &avgCost, &current, &target, &p.ThesisStrength, &thesis, &catalyst,
		&p.SectorMomentum, &opened, &p.HealthScore, &state, &updated); err != nil {
		return domain.Position{}, err
	}
	var err error
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{{&p.Shares, shares}, {&p.AvgCost, avgCost}, {&p.CurrentPrice, current}, {&p.AnalystTarget, target}} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return domain.Position{}, err
		}
	}
	p.Thesis = thesis.String
	p.CatalystDate = scanNullTime(catalyst)
	p.HealthState = domain.HealthState(state.String)
	p.OpenedAt = parseTime(opened)
	p.UpdatedAt = parseTime(updated)
	return p, nil
}
