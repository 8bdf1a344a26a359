package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/betbot/stockpilot/internal/domain"
	"github.com/betbot/stockpilot/internal/store"
	"github.com/betbot/stockpilot/pkg/statestore"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "api")

// Store 只读查询面
type Store interface {
	ListCycles(ctx context.Context, limit int) ([]domain.CycleSummary, error)
	CurrentThresholds(ctx context.Context) (domain.PolicyThresholds, error)
	ListThresholdVersions(ctx context.Context, limit int) ([]domain.PolicyThresholds, error)
	ListPositions(ctx context.Context) ([]domain.Position, error)
	ListDecisions(ctx context.Context, cycleID string, limit int) ([]domain.Decision, error)
	QueryOutcomes(ctx context.Context, f store.OutcomeFilter) ([]domain.Trade, error)
}

// KillSwitch 人工暂停开关。守护进程运行时 badger 目录被独占，只能通过 API 切换。
type KillSwitch interface {
	HaltState() (statestore.HaltState, error)
	Halt(reason string, at time.Time) error
	Resume() error
}

type Config struct {
	Store   Store
	Halt    KillSwitch   // 可选
	Metrics http.Handler // 可选，挂在 /metrics
}

// Server 状态查询 + kill switch 的 HTTP 接口
type Server struct {
	cfg Config
}

func New(cfg Config) *Server {
	return &Server{cfg: cfg}
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	if s.cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.cfg.Metrics))
	}

	api := r.Group("/api")
	api.GET("/status", s.wrap(s.handleStatus))
	api.POST("/halt", s.wrap(s.handleHalt))
	api.POST("/resume", s.wrap(s.handleResume))
	api.GET("/cycles", s.wrap(s.handleCycles))
	api.GET("/decisions", s.wrap(s.handleDecisions))
	api.GET("/thresholds", s.wrap(s.handleThresholds))
	api.GET("/positions", s.wrap(s.handlePositions))
	api.GET("/outcomes", s.wrap(s.handleOutcomes))
	return r
}

// Start 后台监听，ctx 结束时优雅关闭
func (s *Server) Start(ctx context.Context, addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: s.Router(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Infof("API 监听: %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("API 服务退出: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return srv
}

func (s *Server) wrap(h func(http.ResponseWriter, *http.Request)) gin.HandlerFunc {
	return func(c *gin.Context) {
		h(c.Writer, c.Request)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func limitParam(r *http.Request, def, max int) int {
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= max {
			return n
		}
	}
	return def
}
