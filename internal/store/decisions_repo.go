package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/betbot/stockpilot/internal/domain"
	"github.com/google/uuid"
)

// ErrDecisionNotFound 决策不存在
var ErrDecisionNotFound = errors.New("decision not found")

// RecordDecision 追加一条决策（含阈值快照）。失败即 PersistenceFailure，调用方必须中止周期。
func (s *Store) RecordDecision(ctx context.Context, d domain.Decision) (string, error) {
	if strings.TrimSpace(d.ID) == "" {
		d.ID = uuid.NewString()
	}
	if d.Verdict != domain.VerdictAdmit && d.Verdict != domain.VerdictReject {
		return "", persistErr("record decision", fmt.Errorf("invalid verdict %q", d.Verdict))
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	signals, err := json.Marshal(d.Candidate.Signals)
	if err != nil {
		return "", persistErr("record decision", err)
	}
	snapshot, err := json.Marshal(d.Thresholds)
	if err != nil {
		return "", persistErr("record decision", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO decisions (id,cycle_id,ticker,verdict,reason,tier,size_fraction,convergence,volume_ratio,signals_json,strategy,policy_version,policy_snapshot_json,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
`, d.ID, nullString(d.CycleID), d.Candidate.Ticker, string(d.Verdict), nullString(d.Reason), nullString(string(d.Tier)),
		d.SizeFraction, d.Candidate.Convergence, d.Candidate.VolumeRatio, string(signals), nullString(d.Candidate.Strategy),
		d.ThresholdsVersion, string(snapshot), formatTime(d.CreatedAt))
	if err != nil {
		return "", persistErr("record decision", err)
	}
	return d.ID, nil
}

// GetDecision 读取决策（快照原样返回，不会被后续阈值版本改写）
func (s *Store) GetDecision(ctx context.Context, id string) (domain.Decision, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id,cycle_id,ticker,verdict,reason,tier,size_fraction,convergence,volume_ratio,signals_json,strategy,policy_version,policy_snapshot_json,created_at
FROM decisions WHERE id=?
`, id)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Decision{}, ErrDecisionNotFound
	}
	if err != nil {
		return domain.Decision{}, persistErr("get decision", err)
	}
	return d, nil
}

// ListDecisions 按周期列出决策（cycleID 为空时列出最近的）
func (s *Store) ListDecisions(ctx context.Context, cycleID string, limit int) ([]domain.Decision, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	q := `
SELECT id,cycle_id,ticker,verdict,reason,tier,size_fraction,convergence,volume_ratio,signals_json,strategy,policy_version,policy_snapshot_json,created_at
FROM decisions`
	var args []any
	if cycleID != "" {
		q += ` WHERE cycle_id=?`
		args = append(args, cycleID)
	}
	q += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, persistErr("list decisions", err)
	}
	defer rows.Close()
	var out []domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, persistErr("list decisions", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list decisions", err)
	}
	return out, nil
}

// RecordUnexecuted 准入但未执行的显式记录（闸门拦截 / dry-run / 执行失败）
func (s *Store) RecordUnexecuted(ctx context.Context, u domain.Unexecuted) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	return s.withTx(ctx, "record unexecuted", func(tx *sql.Tx) error {
		if err := requireOpenAdmit(ctx, tx, u.DecisionID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO unexecuted (decision_id, kind, detail, created_at) VALUES (?,?,?,?)
`, u.DecisionID, string(u.Kind), nullString(u.Detail), formatTime(u.CreatedAt))
		return err
	})
}

// GetUnexecuted 读取未执行记录；不存在返回 (nil, nil)
func (s *Store) GetUnexecuted(ctx context.Context, decisionID string) (*domain.Unexecuted, error) {
	var (
		u       domain.Unexecuted
		kind    string
		detail  sql.NullString
		created string
	)
	err := s.db.QueryRowContext(ctx, `SELECT decision_id, kind, detail, created_at FROM unexecuted WHERE decision_id=?`, decisionID).
		Scan(&u.DecisionID, &kind, &detail, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("get unexecuted", err)
	}
	u.Kind = domain.UnexecutedKind(kind)
	u.Detail = detail.String
	u.CreatedAt = parseTime(created)
	return &u, nil
}

// OrphanedDecisions 审计：既没有交易也没有未执行记录的 ADMIT 决策
func (s *Store) OrphanedDecisions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT d.id FROM decisions d
LEFT JOIN trades t ON t.decision_id = d.id
LEFT JOIN unexecuted u ON u.decision_id = d.id
WHERE d.verdict = 'ADMIT' AND t.id IS NULL AND u.decision_id IS NULL
ORDER BY d.created_at
`)
	if err != nil {
		return nil, persistErr("orphaned decisions", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, persistErr("orphaned decisions", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// requireOpenAdmit 决策必须是 ADMIT，且尚未产生交易或未执行记录
func requireOpenAdmit(ctx context.Context, tx *sql.Tx, decisionID string) error {
	var verdict string
	err := tx.QueryRowContext(ctx, `SELECT verdict FROM decisions WHERE id=?`, decisionID).Scan(&verdict)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("decision %s: %w", decisionID, ErrDecisionNotFound)
	}
	if err != nil {
		return err
	}
	if domain.Verdict(verdict) != domain.VerdictAdmit {
		return fmt.Errorf("decision %s is %s: rejected decisions never produce trades", decisionID, verdict)
	}
	var n int
	if err := tx.QueryRowContext(ctx, `
SELECT (SELECT COUNT(*) FROM trades WHERE decision_id=?) + (SELECT COUNT(*) FROM unexecuted WHERE decision_id=?)
`, decisionID, decisionID).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("decision %s already has an execution record", decisionID)
	}
	return nil
}

func scanDecision(row rowScanner) (domain.Decision, error) {
	var (
		d        domain.Decision
		cycleID  sql.NullString
		verdict  string
		reason   sql.NullString
		tier     sql.NullString
		signals  string
		strategy sql.NullString
		snapshot string
		created  string
	)
	if err := row.Scan(&d.ID, &cycleID, &d.Candidate.Ticker, &verdict, &reason, &tier, &d.SizeFraction,
		&d.Candidate.Convergence, &d.Candidate.VolumeRatio, &signals, &strategy, &d.ThresholdsVersion, &snapshot, &created); err != nil {
		return domain.Decision{}, err
	}
	d.CycleID = cycleID.String
	d.Verdict = domain.Verdict(verdict)
	d.Reason = reason.String
	d.Tier = domain.SizeTier(tier.String)
	d.Candidate.Strategy = strategy.String
	d.CreatedAt = parseTime(created)
	if err := json.Unmarshal([]byte(signals), &d.Candidate.Signals); err != nil {
		return domain.Decision{}, err
	}
	if err := json.Unmarshal([]byte(snapshot), &d.Thresholds); err != nil {
		return domain.Decision{}, err
	}
	return d, nil
}
