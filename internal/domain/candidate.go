package domain

import (
	"sort"
	"strings"
)

// Candidate 候选标的（每个扫描周期由外部研究模块产出，未被准入则不落库）
type Candidate struct {
	Ticker      string   `json:"ticker" yaml:"ticker"`
	Convergence float64  `json:"convergence" yaml:"convergence"`   // 信号汇聚分 0-100
	VolumeRatio float64  `json:"volume_ratio" yaml:"volume_ratio"` // 今日成交量 / 历史均量
	Signals     []string `json:"signals,omitempty" yaml:"signals"` // 定性信号标签
	Strategy    string   `json:"strategy,omitempty" yaml:"strategy"`
}

// Normalize 规范化 ticker 与信号标签（大写、去重、排序），保证快照可复现
func (c Candidate) Normalize() Candidate {
	c.Ticker = strings.ToUpper(strings.TrimSpace(c.Ticker))
	c.Strategy = strings.TrimSpace(c.Strategy)
	c.Signals = mergeTags(c.Signals, nil)
	return c
}

// WithSignals 返回追加了信号标签的副本（原值不变）
func (c Candidate) WithSignals(tags ...string) Candidate {
	c.Signals = mergeTags(c.Signals, tags)
	return c
}

// HasSignal 是否包含某个信号标签
func (c Candidate) HasSignal(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, s := range c.Signals {
		if s == tag {
			return true
		}
	}
	return false
}

func mergeTags(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			s = strings.ToLower(strings.TrimSpace(s))
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}
