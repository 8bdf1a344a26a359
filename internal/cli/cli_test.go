package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/betbot/stockpilot/internal/domain"
	"github.com/betbot/stockpilot/internal/store"
	"github.com/betbot/stockpilot/pkg/statestore"
	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DB_PATH", filepath.Join(dir, "stockpilot.db"))
	t.Setenv("STATE_DIR", filepath.Join(dir, "state"))
	t.Setenv("LOG_TO_FILE", "false")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("BROKER_MODE", "paper")
	t.Setenv("CALL_TIMEOUT_SECONDS", "1")
	return dir
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	return cmd.Execute()
}

func openStore(t *testing.T, dir string) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(dir, "stockpilot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestThresholdsRollbackPublishesNewVersion(t *testing.T) {
	dir := testEnv(t)
	require.NoError(t, execute(t, "thresholds", "--rollback", "1"))

	cur, err := openStore(t, dir).CurrentThresholds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, cur.Version)
	assert.Equal(t, "rollback to v1", cur.Comment)
	assert.Equal(t, domain.DefaultThresholds().MinConvergence, cur.MinConvergence)

	err = execute(t, "thresholds", "--rollback", "9")
	require.Error(t, err)
}

func TestMissedAndExitAreJournaled(t *testing.T) {
	dir := testEnv(t)
	require.NoError(t, execute(t, "missed", "amd", "--price", "50", "--thesis", "gap fill"))

	err := execute(t, "exit", "NVDA", "--shares", "1", "--price", "100")
	require.Error(t, err)

	err = execute(t, "missed", "AMD", "--price=-1")
	require.Error(t, err)
	assert.Equal(t, 2, ExitCode(err))

	trades, err := openStore(t, dir).QueryOutcomes(context.Background(), store.OutcomeFilter{Action: domain.ActionMissed})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "AMD", trades[0].Ticker)
	assert.Equal(t, domain.OutcomeMissed, trades[0].Outcome)
}

func TestHaltAndResumePersist(t *testing.T) {
	dir := testEnv(t)
	require.NoError(t, execute(t, "halt", "--reason", "fomc"))

	st, err := statestore.Open(statestore.OpenOptions{Path: filepath.Join(dir, "state")})
	require.NoError(t, err)
	hs, err := st.HaltState()
	require.NoError(t, err)
	assert.True(t, hs.Halted)
	assert.Equal(t, "fomc", hs.Reason)
	require.NoError(t, st.Close())

	require.NoError(t, execute(t, "resume"))
	st, err = statestore.Open(statestore.OpenOptions{Path: filepath.Join(dir, "state")})
	require.NoError(t, err)
	hs, err = st.HaltState()
	require.NoError(t, err)
	assert.False(t, hs.Halted)
	require.NoError(t, st.Close())
}

func TestRunCycleOnceDryRun(t *testing.T) {
	dir := testEnv(t)
	feed := filepath.Join(dir, "candidates.yaml")
	require.NoError(t, os.WriteFile(feed, []byte(fmt.Sprintf(`generated_at: %s
candidates:
  - ticker: nvda
    convergence: 88
    volume_ratio: 3.1
    signals: [breakout]
  - ticker: f
    convergence: 20
    volume_ratio: 0.8
`, time.Now().UTC().Format(time.RFC3339))), 0o644))
	t.Setenv("RESEARCH_FILE", feed)

	require.NoError(t, execute(t, "run-cycle", "--once", "--dry-run", "--window", "market_open"))

	cycles, err := openStore(t, dir).ListCycles(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	c := cycles[0]
	assert.True(t, c.Completed)
	assert.True(t, c.DryRun)
	assert.Equal(t, 2, c.Evaluated)
	assert.Equal(t, 1, c.Admitted)
	assert.Equal(t, 1, c.Unexecuted)
	assert.Equal(t, 0, c.Executed)
}

func TestRunCycleRejectsUnknownWindow(t *testing.T) {
	testEnv(t)
	err := execute(t, "run-cycle", "--once", "--window", "lunch")
	require.Error(t, err)
	assert.Equal(t, 2, ExitCode(err))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 2, ExitCode(&domain.ConfigurationError{Field: "x", Reason: "y"}))
	assert.Equal(t, 3, ExitCode(fmt.Errorf("wrap: %w", &domain.PersistenceFailure{Op: "x", Err: errors.New("y")})))
	assert.Equal(t, 130, ExitCode(fmt.Errorf("cycle cancelled: %w", context.Canceled)))
	// 取消后读库失败被包成持久化错误时仍按取消退出
	assert.Equal(t, 130, ExitCode(&domain.PersistenceFailure{Op: "deployed cost", Err: pkgerrors.WithStack(context.Canceled)}))
	assert.Equal(t, 3, ExitCode(&domain.PersistenceFailure{Op: "record trade", Err: context.DeadlineExceeded}))
	assert.Equal(t, 1, ExitCode(errors.New("boom")))
}

func TestRenderSummary(t *testing.T) {
	out := renderSummary(domain.CycleSummary{ID: "c1", Window: "MARKET_OPEN", Evaluated: 3, Admitted: 2, Error: "disk full", Problems: []string{"quote AMD: timeout"}})
	assert.Contains(t, out, "ABORTED")
	assert.Contains(t, out, "MARKET_OPEN")
	assert.Contains(t, out, "quote AMD: timeout")

	assert.Equal(t, "1d:+1.5 5d:-2.0", forwardCell(map[int]float64{5: -2, 1: 1.5}))
	assert.Equal(t, "-", forwardCell(nil))
}

func TestRenderThresholdsTable(t *testing.T) {
	th := domain.DefaultThresholds()
	th.Version = 4
	th.Comment = "rollback to v1"
	out := renderThresholds([]domain.PolicyThresholds{th})
	assert.Contains(t, out, "VERSION")
	assert.Contains(t, out, "v4")
	assert.Contains(t, out, "rollback to v1")
}
