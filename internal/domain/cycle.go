package domain

import (
	"fmt"
	"time"
)

// CycleSummary 单个周期的汇总（部分失败也必须如实计数）
type CycleSummary struct {
	ID                string    `json:"id"`
	Window            string    `json:"window"`
	ThresholdsVersion int       `json:"thresholds_version"`
	DryRun            bool      `json:"dry_run"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`

	Evaluated  int `json:"evaluated"`
	Admitted   int `json:"admitted"`
	Rejected   int `json:"rejected"`
	Executed   int `json:"executed"`
	Unexecuted int `json:"unexecuted"` // 闸门拦截 / dry-run / 执行失败
	Skipped    int `json:"skipped"`    // 外部调用失败跳过

	PositionsChecked int `json:"positions_checked"`
	Strong           int `json:"strong"`
	Watch            int `json:"watch"`
	DeadMoney        int `json:"dead_money"`
	Alerts           int `json:"alerts"`

	FeedbackRan       bool `json:"feedback_ran"`
	PublishedVersion  int  `json:"published_version,omitempty"`
	ForwardReturnsSet int  `json:"forward_returns_set"`

	Completed bool     `json:"completed"`
	Error     string   `json:"error,omitempty"`
	Problems  []string `json:"problems,omitempty"` // 被跳过项的原因
}

// AddProblem 记录一条被跳过/降级的原因
func (s *CycleSummary) AddProblem(format string, args ...any) {
	s.Problems = append(s.Problems, fmt.Sprintf(format, args...))
}

// String 单行摘要（日志用）
func (s CycleSummary) String() string {
	return fmt.Sprintf("cycle=%s window=%s policy=v%d evaluated=%d admitted=%d rejected=%d executed=%d unexecuted=%d skipped=%d positions=%d completed=%v",
		s.ID, s.Window, s.ThresholdsVersion, s.Evaluated, s.Admitted, s.Rejected, s.Executed, s.Unexecuted, s.Skipped, s.PositionsChecked, s.Completed)
}
