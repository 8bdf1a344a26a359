package risk

import (
	"fmt"
	"sync/atomic"
	"time"
)

// ErrCircuitBreakerOpen 表示断路器已打开，禁止继续交易。
var ErrCircuitBreakerOpen = fmt.Errorf("circuit breaker open")

// CircuitBreakerConfig 断路器配置。
// 约定：阈值 <= 0 表示关闭对应限制。
type CircuitBreakerConfig struct {
	// MaxConsecutiveErrors 连续执行失败上限（券商拒单/调用失败）。触发后当天不再交易。
	MaxConsecutiveErrors int64
	// Location 计算“当天”用的时区（交易所时区），nil 表示本地时区
	Location *time.Location
}

// CircuitBreaker 两种熔断：
// - 手动 Halt：持续到 Resume（由 kill switch 持久化，重启后由上层恢复）
// - 连续错误：自动触发，只持续到当天结束
type CircuitBreaker struct {
	halted  atomic.Bool
	tripped atomic.Bool

	consecutiveErrors atomic.Int64
	dayKey            atomic.Int64 // YYYYMMDD

	maxConsecutiveErrors atomic.Int64
	loc                  atomic.Pointer[time.Location]

	now func() time.Time
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{now: time.Now}
	cb.SetConfig(cfg)
	return cb
}

func (cb *CircuitBreaker) SetConfig(cfg CircuitBreakerConfig) {
	if cb == nil {
		return
	}
	cb.maxConsecutiveErrors.Store(cfg.MaxConsecutiveErrors)
	if cfg.Location != nil {
		cb.loc.Store(cfg.Location)
	}
}

// SetClock 测试用
func (cb *CircuitBreaker) SetClock(now func() time.Time) {
	if cb != nil && now != nil {
		cb.now = now
	}
}

// Halt 手动熔断。
func (cb *CircuitBreaker) Halt() {
	if cb == nil {
		return
	}
	cb.halted.Store(true)
}

// Resume 手动恢复（同时清空连续错误计数和当日自动熔断）。
func (cb *CircuitBreaker) Resume() {
	if cb == nil {
		return
	}
	cb.halted.Store(false)
	cb.tripped.Store(false)
	cb.consecutiveErrors.Store(0)
}

// Halted 是否处于手动熔断
func (cb *CircuitBreaker) Halted() bool {
	return cb != nil && cb.halted.Load()
}

// AllowTrading 检查是否允许交易；拒绝时返回带原因的错误。
func (cb *CircuitBreaker) AllowTrading() error {
	if cb == nil {
		return nil
	}
	cb.rollDayIfNeeded()

	if cb.halted.Load() {
		return fmt.Errorf("%w: manual halt", ErrCircuitBreakerOpen)
	}
	if cb.tripped.Load() {
		return fmt.Errorf("%w: %d consecutive execution errors", ErrCircuitBreakerOpen, cb.consecutiveErrors.Load())
	}
	maxErr := cb.maxConsecutiveErrors.Load()
	if maxErr > 0 && cb.consecutiveErrors.Load() >= maxErr {
		cb.tripped.Store(true)
		return fmt.Errorf("%w: %d consecutive execution errors", ErrCircuitBreakerOpen, cb.consecutiveErrors.Load())
	}
	return nil
}

// OnSuccess 一次执行成功后调用，清空连续错误计数。
func (cb *CircuitBreaker) OnSuccess() {
	if cb == nil {
		return
	}
	cb.rollDayIfNeeded()
	cb.consecutiveErrors.Store(0)
}

// OnError 一次执行失败后调用，累计连续错误计数。
func (cb *CircuitBreaker) OnError() {
	if cb == nil {
		return
	}
	cb.rollDayIfNeeded()
	cb.consecutiveErrors.Add(1)
}

// ConsecutiveErrors 当前连续错误数
func (cb *CircuitBreaker) ConsecutiveErrors() int64 {
	if cb == nil {
		return 0
	}
	return cb.consecutiveErrors.Load()
}

func (cb *CircuitBreaker) rollDayIfNeeded() {
	now := cb.now()
	if loc := cb.loc.Load(); loc != nil {
		now = now.In(loc)
	}
	key := int64(now.Year()*10000 + int(now.Month())*100 + now.Day())
	prev := cb.dayKey.Load()
	if prev == key {
		return
	}
	// 切换成功者负责清理当日自动熔断
	if cb.dayKey.CompareAndSwap(prev, key) {
		cb.tripped.Store(false)
		cb.consecutiveErrors.Store(0)
	}
}
