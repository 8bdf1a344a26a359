package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/betbot/stockpilot/internal/api"
	"github.com/betbot/stockpilot/internal/domain"
	"github.com/betbot/stockpilot/internal/feedback"
	"github.com/betbot/stockpilot/internal/metrics"
	"github.com/betbot/stockpilot/internal/orchestrator"
	"github.com/betbot/stockpilot/internal/research"
	"github.com/betbot/stockpilot/internal/risk"
	"github.com/betbot/stockpilot/internal/schedule"
	"github.com/betbot/stockpilot/internal/store"
	"github.com/betbot/stockpilot/pkg/config"
	"github.com/betbot/stockpilot/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var log = logrus.WithField("module", "cli")

// NewRootCmd 根命令
func NewRootCmd() *cobra.Command {
	var (
		configPath string
		cfg        *config.Config
	)

	rootCmd := &cobra.Command{
		Use:           "stockpilot",
		Short:         "stockpilot - scheduled equities admission, sizing and position health",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env 不存在不算错误
			_ = godotenv.Load()
			c, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				c.LogLevel = "debug"
			}
			dir := ""
			if c.LogToFile {
				dir = c.LogDir
			}
			loc, _ := time.LoadLocation(c.Timezone)
			if err := logger.Init(logger.Config{
				Level:      c.LogLevel,
				Dir:        dir,
				MaxSize:    100,
				MaxBackups: 10,
				MaxAge:     30,
				Compress:   true,
				Location:   loc,
			}); err != nil {
				return fmt.Errorf("初始化日志失败: %w", err)
			}
			cfg = c
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Close()
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "配置文件路径（.yaml/.yml/.json）")
	rootCmd.PersistentFlags().Bool("debug", false, "debug 日志")

	getCfg := func() *config.Config { return cfg }
	rootCmd.AddCommand(
		newRunCycleCmd(getCfg),
		newThresholdsCmd(getCfg),
		newOutcomesCmd(getCfg),
		newHaltCmd(getCfg),
		newResumeCmd(getCfg),
		newExitCmd(getCfg),
		newMissedCmd(getCfg),
	)
	return rootCmd
}

func newRunCycleCmd(getCfg func() *config.Config) *cobra.Command {
	var (
		dryRun bool
		once   bool
		window string
	)
	cmd := &cobra.Command{
		Use:   "run-cycle",
		Short: "Run the scheduled decision cycle (loop by default, --once for a single cycle)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ro := orchestrator.RunOptions{DryRun: dryRun}
			if window != "" {
				w, err := schedule.ParseWindow(strings.ToUpper(window))
				if err != nil {
					return &domain.ConfigurationError{Field: "window", Reason: err.Error()}
				}
				ro.Window = w
			}
			return runCycle(cmd.Context(), getCfg(), ro, once)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "只记录决策，不下单")
	cmd.Flags().BoolVar(&once, "once", false, "只跑一个周期后退出")
	cmd.Flags().StringVar(&window, "window", "", "强制按指定时段执行（PREMARKET_EARLY|PREMARKET_LATE|MARKET_OPEN|AFTER_HOURS|CLOSED）")
	return cmd
}

func runCycle(parent context.Context, cfg *config.Config, ro orchestrator.RunOptions, once bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.close(shutdownCtx)
	}()

	sched, err := schedule.New(cfg.Timezone, cfg.Intervals)
	if err != nil {
		return &domain.ConfigurationError{Field: "timezone", Reason: err.Error()}
	}
	data, err := newMarketData(cfg)
	if err != nil {
		return err
	}
	m := metrics.New()
	fb := feedback.NewLoop(a.store, data, cfg.Feedback, cfg.CallTimeout)
	fb.SetLocation(sched.Location())
	deps := orchestrator.Deps{
		Store:    a.store,
		State:    a.state,
		Research: research.NewFileSource(cfg.ResearchFile, cfg.ResearchMaxAge),
		Executor: newExecutor(cfg, data),
		Data:     data,
		Notifier: newNotifier(cfg),
		Feedback: fb,
		Schedule: sched,
		Breaker: risk.NewCircuitBreaker(risk.CircuitBreakerConfig{
			MaxConsecutiveErrors: int64(cfg.MaxConsecutiveErrors),
			Location:             sched.Location(),
		}),
		Budget:  risk.NewDailyBudget(cfg.Policy.DailyTradeCap),
		Metrics: m,
	}
	orch, err := orchestrator.New(deps, orchestrator.Options{
		Capital:        cfg.Capital,
		DryRun:         cfg.DryRun,
		Health:         cfg.Health,
		CallTimeout:    cfg.CallTimeout,
		PersistTimeout: cfg.PersistTimeout,
		Concurrency:    cfg.Concurrency,
		StopLossPct:    cfg.Broker.StopLossPct,
	})
	if err != nil {
		return err
	}

	logger.StartRotationChecker(ctx)
	if cfg.HTTPAddr != "" && !once {
		srv := api.New(api.Config{Store: a.store, Halt: a.state, Metrics: m.Handler()}).Start(ctx, cfg.HTTPAddr)
		a.shutdown.OnShutdown("api", func(ctx context.Context) error { return srv.Shutdown(ctx) })
	}
	if cfg.DebugAddr != "" && !once {
		if _, err := m.StartDebugAsync(ctx, cfg.DebugAddr); err != nil {
			return &domain.ConfigurationError{Field: "debug_addr", Reason: err.Error()}
		}
		log.Infof("metrics/pprof 调试端口: %s", cfg.DebugAddr)
	}

	log.Infof("stockpilot 启动: broker=%s dry_run=%v capital=%s tz=%s", cfg.Broker.Mode, cfg.DryRun || ro.DryRun, cfg.Capital, cfg.Timezone)
	if once {
		sum, err := orch.RunCycle(ctx, ro)
		fmt.Println(renderSummary(sum))
		return err
	}
	err = orch.Loop(ctx, ro)
	if errors.Is(err, context.Canceled) && parent.Err() == nil {
		log.Info("收到退出信号，已停止")
		return nil
	}
	return err
}

func newThresholdsCmd(getCfg func() *config.Config) *cobra.Command {
	var (
		rollback int
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "thresholds",
		Short: "List policy threshold versions, or roll back to an earlier one (as a new version)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, getCfg(), false)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if rollback > 0 {
				old, err := a.store.ThresholdsVersion(ctx, rollback)
				if err != nil {
					return fmt.Errorf("读取 v%d 失败: %w", rollback, err)
				}
				pub, err := a.store.PublishThresholds(ctx, old, fmt.Sprintf("rollback to v%d", rollback))
				if err != nil {
					return err
				}
				fmt.Println(okStyle.Render(fmt.Sprintf("已发布 v%d（内容同 v%d）", pub.Version, rollback)))
			}
			versions, err := a.store.ListThresholdVersions(ctx, limit)
			if err != nil {
				return err
			}
			fmt.Println(renderThresholds(versions))
			return nil
		},
	}
	cmd.Flags().IntVar(&rollback, "rollback", 0, "回滚到指定版本（写入新版本）")
	cmd.Flags().IntVar(&limit, "limit", 20, "显示的版本数")
	return cmd
}

func newOutcomesCmd(getCfg func() *config.Config) *cobra.Command {
	var (
		ticker, action, outcome, tier string
		since, until                  string
		limit                         int
		asJSON                        bool
	)
	cmd := &cobra.Command{
		Use:   "outcomes",
		Short: "Query the trade journal with forward returns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := store.OutcomeFilter{
				Ticker:  strings.ToUpper(strings.TrimSpace(ticker)),
				Action:  domain.Action(strings.ToUpper(action)),
				Outcome: domain.Outcome(strings.ToUpper(outcome)),
				Tier:    domain.SizeTier(strings.ToUpper(tier)),
				Limit:   limit,
			}
			var err error
			if f.From, err = parseDate(since); err != nil {
				return &domain.ConfigurationError{Field: "since", Reason: err.Error()}
			}
			if f.To, err = parseDate(until); err != nil {
				return &domain.ConfigurationError{Field: "until", Reason: err.Error()}
			}

			ctx := context.Background()
			a, err := openApp(ctx, getCfg(), false)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			trades, err := a.store.QueryOutcomes(ctx, f)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(trades)
			}
			fmt.Println(renderOutcomes(trades))
			return nil
		},
	}
	cmd.Flags().StringVar(&ticker, "ticker", "", "按 ticker 过滤")
	cmd.Flags().StringVar(&action, "action", "", "BUY|SELL|MISSED|WATCH|HOLD")
	cmd.Flags().StringVar(&outcome, "outcome", "", "WIN|LOSS|OPEN|MISSED")
	cmd.Flags().StringVar(&tier, "tier", "", "LARGE|MEDIUM|SMALL")
	cmd.Flags().StringVar(&since, "since", "", "起始日期 YYYY-MM-DD（含）")
	cmd.Flags().StringVar(&until, "until", "", "结束日期 YYYY-MM-DD（不含）")
	cmd.Flags().IntVar(&limit, "limit", 0, "最多返回条数")
	cmd.Flags().BoolVar(&asJSON, "json", false, "输出 JSON")
	return cmd
}

func newHaltCmd(getCfg func() *config.Config) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "halt",
		Short: "Engage the kill switch: admitted decisions are recorded but not executed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openState(getCfg())
			if err != nil {
				return err
			}
			defer st.Close()
			if strings.TrimSpace(reason) == "" {
				reason = "manual halt"
			}
			if err := st.Halt(reason, time.Now().UTC()); err != nil {
				return err
			}
			fmt.Println(warnStyle.Render("trading halted: " + reason))
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "暂停原因")
	return cmd
}

func newResumeCmd(getCfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Release the kill switch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openState(getCfg())
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Resume(); err != nil {
				return err
			}
			fmt.Println(okStyle.Render("trading resumed"))
			return nil
		},
	}
}

func newExitCmd(getCfg func() *config.Config) *cobra.Command {
	var shares, price string
	cmd := &cobra.Command{
		Use:   "exit TICKER",
		Short: "Record a sell fill; a full exit resolves the ticker's open buys to WIN/LOSS",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := decimal.NewFromString(shares)
			if err != nil || !qty.IsPositive() {
				return &domain.ConfigurationError{Field: "shares", Reason: fmt.Sprintf("invalid %q", shares)}
			}
			px, err := decimal.NewFromString(price)
			if err != nil || !px.IsPositive() {
				return &domain.ConfigurationError{Field: "price", Reason: fmt.Sprintf("invalid %q", price)}
			}

			ctx := context.Background()
			a, err := openApp(ctx, getCfg(), false)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			id, err := a.store.RecordExit(ctx, args[0], qty, px, time.Now())
			if err != nil {
				return err
			}
			fmt.Println(okStyle.Render(fmt.Sprintf("sell recorded: %s %s x%s @ %s", id, strings.ToUpper(args[0]), qty, px)))
			return nil
		},
	}
	cmd.Flags().StringVar(&shares, "shares", "", "卖出股数")
	cmd.Flags().StringVar(&price, "price", "", "成交价")
	_ = cmd.MarkFlagRequired("shares")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

func newMissedCmd(getCfg func() *config.Config) *cobra.Command {
	var price, thesis string
	cmd := &cobra.Command{
		Use:   "missed TICKER",
		Short: "Log a missed opportunity so its forward returns feed the learning loop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			px, err := decimal.NewFromString(price)
			if err != nil || !px.IsPositive() {
				return &domain.ConfigurationError{Field: "price", Reason: fmt.Sprintf("invalid %q", price)}
			}

			ctx := context.Background()
			a, err := openApp(ctx, getCfg(), false)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			id, err := a.store.RecordMissed(ctx, domain.Trade{Ticker: args[0], Price: px, Thesis: thesis})
			if err != nil {
				return err
			}
			fmt.Println(okStyle.Render(fmt.Sprintf("missed recorded: %s %s @ %s", id, strings.ToUpper(args[0]), px)))
			return nil
		},
	}
	cmd.Flags().StringVar(&price, "price", "", "当时价格")
	cmd.Flags().StringVar(&thesis, "thesis", "", "当时的判断")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

func parseDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", v)
}

// ExitCode 错误到进程退出码。取消优先于持久化失败：取消后读库报错不算存储故障；
// 写库超时仍按持久化失败处理。
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case domain.IsConfigurationError(err):
		return 2
	case errors.Is(err, context.Canceled):
		return 130
	case domain.IsPersistenceFailure(err):
		return 3
	case errors.Is(err, context.DeadlineExceeded):
		return 130
	}
	return 1
}
