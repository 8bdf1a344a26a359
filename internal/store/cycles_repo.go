package store

import (
	"context"
	"encoding/json"

	"github.com/betbot/stockpilot/internal/domain"
)

// RecordCycle 写入（或覆盖）周期运行记录
func (s *Store) RecordCycle(ctx context.Context, c domain.CycleSummary) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return persistErr("record cycle", err)
	}
	var finished any
	if !c.FinishedAt.IsZero() {
		finished = formatTime(c.FinishedAt)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO cycle_runs (id, window_name, policy_version, dry_run, started_at, finished_at, completed, error, summary_json)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  finished_at=excluded.finished_at,
  completed=excluded.completed,
  error=excluded.error,
  summary_json=excluded.summary_json
`, c.ID, c.Window, c.ThresholdsVersion, boolInt(c.DryRun), formatTime(c.StartedAt), finished,
		boolInt(c.Completed), nullString(c.Error), string(raw))
	if err != nil {
		return persistErr("record cycle", err)
	}
	return nil
}

// ListCycles 最近的周期（新的在前）
func (s *Store) ListCycles(ctx context.Context, limit int) ([]domain.CycleSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT summary_json FROM cycle_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, persistErr("list cycles", err)
	}
	defer rows.Close()

	var out []domain.CycleSummary
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, persistErr("list cycles", err)
		}
		var c domain.CycleSummary
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, persistErr("list cycles", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list cycles", err)
	}
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
