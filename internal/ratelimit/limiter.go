// Package ratelimit 实现了聊天接口的按用户滑动窗口限流。
package ratelimit

import (
	"context"
	"sales-crm-go/pkg/log"
	"sync"
	"time"
)

// Decision 是一次限流判定的结果，附带响应头所需的元数据。
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// bucket 是单个用户在当前窗口内的计数。
type bucket struct {
	count   int
	resetAt time.Time
}

// Limiter 维护进程内的按用户请求计数。
// 检查与自增在同一把锁内完成，并发请求不会双双越过上限。
type Limiter struct {
	mu      sync.Mutex
	buckets map[uint]*bucket
	limit   int
	window  time.Duration
	now     func() time.Time
}

// NewLimiter 创建一个新的 Limiter 实例。
func NewLimiter(limit int, window time.Duration) *Limiter {
	return &Limiter{
		buckets: make(map[uint]*bucket),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Check 判定用户的本次请求是否放行，并返回剩余额度与窗口重置时间。
// 窗口不存在或已过期时开启新窗口；总是返回判定结果，不会出错。
func (l *Limiter) Check(userID uint) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[userID]
	if !ok || now.After(b.resetAt) {
		b = &bucket{count: 0, resetAt: now.Add(l.window)}
		l.buckets[userID] = b
	}

	if b.count >= l.limit {
		return Decision{Allowed: false, Limit: l.limit, Remaining: 0, ResetAt: b.resetAt}
	}

	b.count++
	return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit - b.count, ResetAt: b.resetAt}
}

// Sweep 清理窗口已过期的计数，只为控制内存占用，正确性不依赖它。
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for userID, b := range l.buckets {
		if now.After(b.resetAt) {
			delete(l.buckets, userID)
			removed++
		}
	}
	return removed
}

// StartSweeper 周期性执行 Sweep，直到 ctx 被取消。
func (l *Limiter) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := l.Sweep(); removed > 0 {
				log.Infof("[RateLimit] 清理过期限流计数 %d 条", removed)
			}
		}
	}
}
