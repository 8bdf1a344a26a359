package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter 速率限制器接口
type RateLimiter interface {
	Wait(ctx context.Context) error
	Allow() bool
}

// TokenBucket 令牌桶：capacity 为突发上限，每秒补充 rate 个令牌（可为小数）
type TokenBucket struct {
	capacity   float64
	rate       float64
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// NewTokenBucket 创建令牌桶；rate<=0 表示不限速
func NewTokenBucket(capacity int, rate float64) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	tb := &TokenBucket{
		capacity: float64(capacity),
		rate:     rate,
		tokens:   float64(capacity),
		now:      time.Now,
	}
	tb.lastRefill = tb.now()
	return tb
}

// refill 按流逝时间补充令牌（调用方持锁）
func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}

// reserve 取一个令牌；取不到时返回需要等待的时长
func (tb *TokenBucket) reserve() (time.Duration, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if tb.rate <= 0 {
		return 0, true
	}
	tb.refill()
	if tb.tokens >= 1 {
		tb.tokens--
		return 0, true
	}
	missing := 1 - tb.tokens
	return time.Duration(missing / tb.rate * float64(time.Second)), false
}

// Allow 检查是否允许请求
func (tb *TokenBucket) Allow() bool {
	_, ok := tb.reserve()
	return ok
}

// Wait 等待直到拿到令牌或 ctx 结束
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		wait, ok := tb.reserve()
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Remaining 当前可用令牌数（向下取整）
func (tb *TokenBucket) Remaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if tb.rate <= 0 {
		return int(tb.capacity)
	}
	tb.refill()
	return int(tb.tokens)
}
