package schedule

import (
	"fmt"
	"time"
)

// Window 交易时段
type Window string

const (
	PremarketEarly Window = "PREMARKET_EARLY" // 04:00-07:00
	PremarketLate  Window = "PREMARKET_LATE"  // 07:00-09:30
	MarketOpen     Window = "MARKET_OPEN"     // 09:30-16:00
	AfterHours     Window = "AFTER_HOURS"     // 16:00-20:00
	Closed         Window = "CLOSED"
)

// Windows 全部时段（按时间顺序）
var Windows = []Window{PremarketEarly, PremarketLate, MarketOpen, AfterHours, Closed}

// Tasks 某个时段要做的事
type Tasks struct {
	Scan    bool // 拉候选 + 准入
	Execute bool // 过闸门后下单
	Health  bool // 持仓健康度
}

// TasksFor 时段 -> 任务。feedback 不随时段走，每天一次由 orchestrator 判断。
func TasksFor(w Window) Tasks {
	switch w {
	case PremarketEarly, PremarketLate, MarketOpen:
		return Tasks{Scan: true, Execute: true, Health: true}
	default:
		return Tasks{Health: true}
	}
}

// Schedule 交易所时区 + 每个时段的周期间隔
type Schedule struct {
	loc       *time.Location
	intervals map[Window]time.Duration
}

// DefaultIntervals 默认周期间隔
func DefaultIntervals() map[Window]time.Duration {
	return map[Window]time.Duration{
		PremarketEarly: 30 * time.Minute,
		PremarketLate:  15 * time.Minute,
		MarketOpen:     15 * time.Minute,
		AfterHours:     60 * time.Minute,
		Closed:         2 * time.Hour,
	}
}

// New 创建调度表；tz 为空时使用 America/New_York
func New(tz string, intervals map[Window]time.Duration) (*Schedule, error) {
	if tz == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	merged := DefaultIntervals()
	for w, d := range intervals {
		if d > 0 {
			merged[w] = d
		}
	}
	return &Schedule{loc: loc, intervals: merged}, nil
}

// Location 交易所时区
func (s *Schedule) Location() *time.Location { return s.loc }

// WindowAt 给定时刻所处时段（周末全天 CLOSED）
func (s *Schedule) WindowAt(t time.Time) Window {
	return WindowAt(t.In(s.loc))
}

// Interval 时段对应的周期间隔
func (s *Schedule) Interval(w Window) time.Duration {
	if d, ok := s.intervals[w]; ok && d > 0 {
		return d
	}
	return time.Hour
}

// Day 交易所本地日期（YYYY-MM-DD），用于“每天一次”的判断
func (s *Schedule) Day(t time.Time) string {
	return t.In(s.loc).Format("2006-01-02")
}

// WindowAt 按 t 自身的时区判断时段
func WindowAt(t time.Time) Window {
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return Closed
	}
	m := t.Hour()*60 + t.Minute()
	switch {
	case m >= 4*60 && m < 7*60:
		return PremarketEarly
	case m >= 7*60 && m < 9*60+30:
		return PremarketLate
	case m >= 9*60+30 && m < 16*60:
		return MarketOpen
	case m >= 16*60 && m < 20*60:
		return AfterHours
	default:
		return Closed
	}
}

// ParseWindow 配置里的时段名
func ParseWindow(v string) (Window, error) {
	for _, w := range Windows {
		if string(w) == v {
			return w, nil
		}
	}
	return "", fmt.Errorf("unknown window %q", v)
}
