package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/betbot/stockpilot/internal/domain"
)

// ErrNoThresholds 库里还没有任何阈值版本
var ErrNoThresholds = errors.New("no policy thresholds version stored")

// EnsureThresholds 首次运行时用默认值写入 v1；已有版本则直接返回最新版本
func (s *Store) EnsureThresholds(ctx context.Context, defaults domain.PolicyThresholds) (domain.PolicyThresholds, error) {
	cur, err := s.CurrentThresholds(ctx)
	if err == nil {
		return cur, nil
	}
	if !errors.Is(err, ErrNoThresholds) {
		return domain.PolicyThresholds{}, err
	}
	if err := defaults.Validate(); err != nil {
		return domain.PolicyThresholds{}, err
	}
	log.Infof("初始化策略阈值 v1（默认值）")
	return s.PublishThresholds(ctx, defaults, "initial defaults")
}

// CurrentThresholds 最新版本
func (s *Store) CurrentThresholds(ctx context.Context) (domain.PolicyThresholds, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT version, thresholds_json, comment, created_at
FROM policy_versions ORDER BY version DESC LIMIT 1
`)
	return scanThresholds(row)
}

// ThresholdsVersion 指定版本，不存在时返回 ErrNoThresholds
func (s *Store) ThresholdsVersion(ctx context.Context, version int) (domain.PolicyThresholds, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT version, thresholds_json, comment, created_at
FROM policy_versions WHERE version=?
`, version)
	return scanThresholds(row)
}

// PublishThresholds 写入新版本（版本号单调递增，单条 INSERT 原子可见）
func (s *Store) PublishThresholds(ctx context.Context, t domain.PolicyThresholds, comment string) (domain.PolicyThresholds, error) {
	if err := t.Validate(); err != nil {
		return domain.PolicyThresholds{}, err
	}
	err := s.withTx(ctx, "publish thresholds", func(tx *sql.Tx) error {
		var max int
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM policy_versions`).Scan(&max); err != nil {
			return err
		}
		t.Version = max + 1
		t.CreatedAt = s.now().UTC()
		t.Comment = comment
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO policy_versions (version, thresholds_json, comment, created_at)
VALUES (?,?,?,?)
`, t.Version, string(b), nullString(comment), formatTime(t.CreatedAt))
		return err
	})
	if err != nil {
		return domain.PolicyThresholds{}, err
	}
	log.Infof("策略阈值已发布: v%d (%s)", t.Version, comment)
	return t, nil
}

// ListThresholdVersions 最近的阈值版本（新在前）
func (s *Store) ListThresholdVersions(ctx context.Context, limit int) ([]domain.PolicyThresholds, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT version, thresholds_json, comment, created_at
FROM policy_versions ORDER BY version DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, persistErr("list thresholds", err)
	}
	defer rows.Close()

	var out []domain.PolicyThresholds
	for rows.Next() {
		t, err := scanThresholds(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list thresholds", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThresholds(row rowScanner) (domain.PolicyThresholds, error) {
	var (
		version int
		raw     string
		comment sql.NullString
		created string
	)
	if err := row.Scan(&version, &raw, &comment, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PolicyThresholds{}, ErrNoThresholds
		}
		return domain.PolicyThresholds{}, persistErr("read thresholds", err)
	}
	var t domain.PolicyThresholds
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return domain.PolicyThresholds{}, persistErr("decode thresholds", err)
	}
	// 版本号以列为准
	t.Version = version
	t.Comment = comment.String
	t.CreatedAt = parseTime(created)
	return t, nil
}
