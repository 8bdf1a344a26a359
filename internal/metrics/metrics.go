package metrics

import (
	"time"

	"github.com/betbot/stockpilot/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 周期运行指标。方法对 nil 接收者安全，测试里可以不传。
type Metrics struct {
	registry *prometheus.Registry

	decisions   *prometheus.CounterVec
	unexecuted  *prometheus.CounterVec
	trades      *prometheus.CounterVec
	cycles      *prometheus.CounterVec
	skipped     prometheus.Counter
	cycleTime   prometheus.Histogram
	healthState *prometheus.GaugeVec
	policy      prometheus.Gauge
	feedback    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockpilot", Name: "decisions_total", Help: "admission decisions by verdict and tier",
		}, []string{"verdict", "tier"}),
		unexecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockpilot", Name: "unexecuted_total", Help: "admitted decisions that were not executed",
		}, []string{"kind"}),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockpilot", Name: "trades_total", Help: "recorded trades by action",
		}, []string{"action"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockpilot", Name: "cycles_total", Help: "cycles by window and result",
		}, []string{"window", "result"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stockpilot", Name: "skipped_items_total", Help: "candidates/positions skipped after external failures",
		}),
		cycleTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stockpilot", Name: "cycle_duration_seconds", Help: "cycle wall time",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		healthState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "stockpilot", Name: "positions", Help: "open positions by health state",
		}, []string{"state"}),
		policy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stockpilot", Name: "thresholds_version", Help: "policy thresholds version in use",
		}),
		feedback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockpilot", Name: "feedback_runs_total", Help: "feedback loop runs by result",
		}, []string{"result"}),
	}
	m.registry.MustRegister(m.decisions, m.unexecuted, m.trades, m.cycles, m.skipped, m.cycleTime, m.healthState, m.policy, m.feedback)
	return m
}

// Registry 供 /metrics 暴露
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Decision(d domain.Decision) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(d.Verdict), string(d.Tier)).Inc()
}

func (m *Metrics) Unexecuted(kind domain.UnexecutedKind) {
	if m == nil {
		return
	}
	m.unexecuted.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) Trade(action domain.Action) {
	if m == nil {
		return
	}
	m.trades.WithLabelValues(string(action)).Inc()
}

func (m *Metrics) Skipped() {
	if m == nil {
		return
	}
	m.skipped.Inc()
}

// Cycle 记录一次周期结束
func (m *Metrics) Cycle(s domain.CycleSummary, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "completed"
	if !s.Completed {
		result = "aborted"
	}
	m.cycles.WithLabelValues(s.Window, result).Inc()
	m.cycleTime.Observe(elapsed.Seconds())
	m.policy.Set(float64(s.ThresholdsVersion))
	if s.PositionsChecked > 0 || s.Strong+s.Watch+s.DeadMoney > 0 {
		m.healthState.WithLabelValues(string(domain.HealthStrong)).Set(float64(s.Strong))
		m.healthState.WithLabelValues(string(domain.HealthWatch)).Set(float64(s.Watch))
		m.healthState.WithLabelValues(string(domain.HealthDeadMoney)).Set(float64(s.DeadMoney))
	}
}

func (m *Metrics) Feedback(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.feedback.WithLabelValues("error").Inc()
		return
	}
	m.feedback.WithLabelValues("published").Inc()
}
