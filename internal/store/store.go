package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/betbot/stockpilot/internal/domain"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

var log = logrus.WithField("module", "store")

// Store learning store：决策、交易、持仓、阈值版本的唯一事实来源。
// 写入失败一律包装为 PersistenceFailure 返回，不做静默重试（重试可能重复记账）。
type Store struct {
	db  *sql.DB
	now func() time.Time
	loc *time.Location // 交易日口径，默认 UTC
}

// Open 打开（必要时创建）sqlite 数据库并执行迁移
func Open(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, &domain.ConfigurationError{Field: "database.path", Reason: "db path is required"}
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, persistErr("mkdir db dir", err)
		}
	}

	// 外键约束按连接生效，放进 DSN 保证重连后仍然开启
	dsn := "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, persistErr("open sqlite", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接，写入天然串行
	db.SetMaxIdleConns(1)

	s := &Store{db: db, now: time.Now, loc: time.UTC}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debugf("learning store opened: %s", dbPath)
	return s, nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SetClock 测试用：替换时间源
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SetLocation 交易所时区，前瞻收益按该时区的日历日记键
func (s *Store) SetLocation(loc *time.Location) {
	if loc != nil {
		s.loc = loc
	}
}

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &domain.PersistenceFailure{Op: op, Err: errors.WithStack(err)}
}

// withTx 在单个事务里执行 fn；失败整体回滚
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr(op+": begin", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if domain.IsPersistenceFailure(err) {
			return err
		}
		return persistErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return persistErr(op+": commit", err)
	}
	return nil
}

// 定宽格式，保证 TEXT 列按字典序比较即按时间比较
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, v)
	return t
}

func formatDay(t time.Time) string {
	return t.Format("2006-01-02")
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return formatTime(*t)
}

func scanNullTime(v sql.NullString) *time.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil
	}
	t := parseTime(v.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullString(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
