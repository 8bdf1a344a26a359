package domain

import "time"

// Verdict 准入结论
type Verdict string

const (
	VerdictAdmit  Verdict = "ADMIT"
	VerdictReject Verdict = "REJECT"
)

// SizeTier 仓位档位
type SizeTier string

const (
	TierLarge  SizeTier = "LARGE"  // gold 档
	TierMedium SizeTier = "MEDIUM" // optimal 档
	TierSmall  SizeTier = "SMALL"  // borderline：刚过门槛
)

// Rank 档位大小，用于比较（未分档为 0）
func (t SizeTier) Rank() int {
	switch t {
	case TierLarge:
		return 3
	case TierMedium:
		return 2
	case TierSmall:
		return 1
	default:
		return 0
	}
}

// 拒绝原因（文案固定，报表与测试依赖）
const (
	ReasonConvergenceBelowFloor = "convergence below floor"
	ReasonVolumeBelowFloor      = "volume below floor"
)

// Decision 准入决策（不可变，只追加）
type Decision struct {
	ID                string           `json:"id"`
	CycleID           string           `json:"cycle_id,omitempty"`
	Candidate         Candidate        `json:"candidate"`
	Verdict           Verdict          `json:"verdict"`
	Reason            string           `json:"reason,omitempty"`
	Tier              SizeTier         `json:"tier,omitempty"`
	SizeFraction      float64          `json:"size_fraction"`
	ThresholdsVersion int              `json:"thresholds_version"`
	Thresholds        PolicyThresholds `json:"thresholds"` // 决策时使用的阈值快照
	CreatedAt         time.Time        `json:"created_at"`
}

// Admitted 是否准入
func (d Decision) Admitted() bool {
	return d.Verdict == VerdictAdmit
}

// UnexecutedKind 准入但未执行的原因类别
type UnexecutedKind string

const (
	UnexecutedPolicy    UnexecutedKind = "POLICY_VIOLATION" // 安全闸门拦截
	UnexecutedDryRun    UnexecutedKind = "DRY_RUN"
	UnexecutedExecution UnexecutedKind = "EXECUTION_FAILED" // 券商拒单/调用失败
	UnexecutedExternal  UnexecutedKind = "EXTERNAL_FAILURE" // 行情等外部依赖失败
	UnexecutedCancelled UnexecutedKind = "CANCELLED"
)

// Unexecuted 准入后未执行的显式记录（与 Trade 二选一）
type Unexecuted struct {
	DecisionID string         `json:"decision_id"`
	Kind       UnexecutedKind `json:"kind"`
	Detail     string         `json:"detail"`
	CreatedAt  time.Time      `json:"created_at"`
}
