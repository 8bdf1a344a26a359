package risk

import "sync"

// DailyBudget 每日可执行交易笔数。以库中当日已执行笔数为准同步，进程重启不丢。
type DailyBudget struct {
	mu    sync.Mutex
	limit int
	day   string
	used  int
}

func NewDailyBudget(limit int) *DailyBudget {
	return &DailyBudget{limit: limit}
}

// Sync 设置某天已用笔数（周期开始时从 learning store 读取）
func (b *DailyBudget) Sync(day string, used int, limit int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.day = day
	b.used = used
	b.limit = limit
}

// Remaining 当天剩余笔数；跨天自动归零重计
func (b *DailyBudget) Remaining(day string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked(day)
	if b.used >= b.limit {
		return 0
	}
	return b.limit - b.used
}

// Consume 记一笔成交
func (b *DailyBudget) Consume(day string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked(day)
	b.used++
}

// Used 当天已用
func (b *DailyBudget) Used(day string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked(day)
	return b.used
}

func (b *DailyBudget) rollLocked(day string) {
	if b.day != day {
		b.day = day
		b.used = 0
	}
}
