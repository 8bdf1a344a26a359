package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/betbot/stockpilot/internal/broker"
	"github.com/betbot/stockpilot/internal/domain"
	"github.com/betbot/stockpilot/internal/marketdata"
	"github.com/betbot/stockpilot/internal/notify"
	"github.com/betbot/stockpilot/internal/ports"
	"github.com/betbot/stockpilot/internal/store"
	"github.com/betbot/stockpilot/pkg/config"
	"github.com/betbot/stockpilot/pkg/shutdown"
	"github.com/betbot/stockpilot/pkg/statestore"
)

// app 一次命令执行期间打开的资源
type app struct {
	cfg      *config.Config
	store    *store.Store
	state    *statestore.Store
	shutdown *shutdown.Manager
}

// openApp 打开 learning store（并写入 v1 默认阈值）；withState 时同时打开运行状态库
func openApp(ctx context.Context, cfg *config.Config, withState bool) (*app, error) {
	a := &app{cfg: cfg, shutdown: shutdown.NewManager()}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	a.store = st
	if loc, err := time.LoadLocation(cfg.Timezone); err == nil {
		st.SetLocation(loc)
	}
	a.shutdown.OnShutdown("learning store", func(context.Context) error { return st.Close() })

	if _, err := st.EnsureThresholds(ctx, cfg.Policy); err != nil {
		a.close(ctx)
		return nil, err
	}

	if withState {
		state, err := openState(cfg)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		a.state = state
		a.shutdown.OnShutdown("state store", func(context.Context) error { return state.Close() })
	}
	return a, nil
}

func openState(cfg *config.Config) (*statestore.Store, error) {
	var key []byte
	if strings.TrimSpace(cfg.StateKey) != "" {
		k, err := statestore.ParseKey(cfg.StateKey)
		if err != nil {
			return nil, &domain.ConfigurationError{Field: "state_key", Reason: err.Error()}
		}
		key = k
	}
	if err := os.MkdirAll(filepath.Clean(cfg.StateDir), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir state dir: %w", err)
	}
	st, err := statestore.Open(statestore.OpenOptions{Path: cfg.StateDir, EncryptionKey: key})
	if err != nil {
		return nil, fmt.Errorf("%w（守护进程运行中时请使用 POST /api/halt 与 /api/resume）", err)
	}
	return st, nil
}

func (a *app) close(ctx context.Context) {
	for _, err := range a.shutdown.Shutdown(ctx) {
		log.Warnf("关闭资源失败: %v", err)
	}
}

// newExecutor 按配置选择 paper 或 bridge
func newExecutor(cfg *config.Config, prices ports.PositionData) ports.Executor {
	if cfg.Broker.Mode == "bridge" {
		return broker.NewBridge(cfg.Broker.BridgeURL, cfg.Broker.APIKey, cfg.CallTimeout)
	}
	return broker.NewPaper(prices)
}

func newNotifier(cfg *config.Config) ports.Notifier {
	n := notify.Multi{notify.LogNotifier{}}
	if cfg.NotifyWebhook != "" {
		n = append(n, notify.NewWebhookNotifier(cfg.NotifyWebhook, cfg.CallTimeout))
	}
	return n
}

func newMarketData(cfg *config.Config) (*marketdata.Provider, error) {
	cal, err := marketdata.LoadCalendar(cfg.CalendarFile)
	if err != nil {
		return nil, &domain.ConfigurationError{Field: "calendar_file", Reason: err.Error()}
	}
	return marketdata.NewProvider(cal), nil
}
