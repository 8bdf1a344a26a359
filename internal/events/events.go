package events

import (
	"time"
)

// AlertType 告警类型
type AlertType string

const (
	AlertTradeExecuted   AlertType = "trade_executed"
	AlertExecutionFailed AlertType = "execution_failed"
	AlertGateBlocked     AlertType = "gate_blocked"
	AlertDeadMoney       AlertType = "dead_money"
	AlertWeakThesis      AlertType = "weak_thesis"
	AlertReallocate      AlertType = "reallocate"
	AlertThresholds      AlertType = "thresholds_published"
	AlertCycleAborted    AlertType = "cycle_aborted"
)

// Alert 结构化告警事件（ticker 可为空，表示全局事件）
type Alert struct {
	Ticker    string         `json:"ticker,omitempty"`
	Type      AlertType      `json:"alert_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// New 创建告警
func New(ticker string, typ AlertType, payload map[string]any) Alert {
	return Alert{
		Ticker:    ticker,
		Type:      typ,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}
