package store

import (
	"context"
	"fmt"
	"time"
)

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`
CREATE TABLE IF NOT EXISTS policy_versions (
  version INTEGER PRIMARY KEY,
  thresholds_json TEXT NOT NULL,
  comment TEXT,
  created_at TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS decisions (
  id TEXT PRIMARY KEY,
  cycle_id TEXT,
  ticker TEXT NOT NULL,
  verdict TEXT NOT NULL,           -- "ADMIT" | "REJECT"
  reason TEXT,
  tier TEXT,
  size_fraction REAL NOT NULL,
  convergence REAL NOT NULL,
  volume_ratio REAL NOT NULL,
  signals_json TEXT NOT NULL,
  strategy TEXT,
  policy_version INTEGER NOT NULL REFERENCES policy_versions(version),
  policy_snapshot_json TEXT NOT NULL,
  created_at TEXT NOT NULL,
  UNIQUE (ticker, id)
);`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_created_at ON decisions(created_at DESC);`,
		`
CREATE TABLE IF NOT EXISTS trades (
  id TEXT PRIMARY KEY,
  decision_id TEXT REFERENCES decisions(id),
  ticker TEXT NOT NULL,
  action TEXT NOT NULL,
  shares TEXT NOT NULL,
  price TEXT NOT NULL,
  broker_order_id TEXT,
  thesis TEXT,
  outcome TEXT NOT NULL,
  realized_pct REAL,
  created_at TEXT NOT NULL,
  closed_at TEXT
);`,
		// 每条准入决策至多一笔交易
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_decision_unique ON trades(decision_id) WHERE decision_id IS NOT NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_trades_ticker_time ON trades(ticker, created_at DESC);`,
		`
CREATE TABLE IF NOT EXISTS unexecuted (
  decision_id TEXT PRIMARY KEY REFERENCES decisions(id),
  kind TEXT NOT NULL,
  detail TEXT,
  created_at TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS forward_returns (
  ticker TEXT NOT NULL,
  trade_date TEXT NOT NULL,        -- YYYY-MM-DD
  horizon_days INTEGER NOT NULL,
  return_pct REAL NOT NULL,
  updated_at TEXT NOT NULL,
  PRIMARY KEY (ticker, trade_date, horizon_days)
);`,
		`
CREATE TABLE IF NOT EXISTS positions (
  ticker TEXT PRIMARY KEY,
  shares TEXT NOT NULL,
  avg_cost TEXT NOT NULL,
  current_price TEXT NOT NULL,
  analyst_target TEXT NOT NULL,
  thesis_strength INTEGER NOT NULL DEFAULT 5,
  thesis TEXT,
  catalyst_date TEXT,
  sector_momentum REAL NOT NULL DEFAULT 0,
  opened_at TEXT NOT NULL,
  health_score REAL NOT NULL DEFAULT 0,
  health_state TEXT,
  updated_at TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS cycle_runs (
  id TEXT PRIMARY KEY,
  window_name TEXT NOT NULL,
  policy_version INTEGER,
  dry_run INTEGER NOT NULL DEFAULT 0,
  started_at TEXT NOT NULL,
  finished_at TEXT,
  completed INTEGER NOT NULL DEFAULT 0,
  error TEXT,
  summary_json TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_cycle_runs_started_at ON cycle_runs(started_at DESC);`,
	}

	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return persistErr("migrate", fmt.Errorf("migrate exec failed: %w", err))
		}
	}

	return nil
}
