package service

import (
	"context"
	"sync"
	"time"
)

// RateLimiter 对同一后端家族的所有调用强制最小请求间隔。
// 唯一的共享可变状态是 last 这个时间戳，由互斥锁保护；
// 并发调用方会依次预占下一个时隙再各自休眠，保证全局间隔成立。
type RateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{interval: interval}
}

// Wait 阻塞直到距离上一次请求至少 interval。ctx 取消时提前返回。
func (l *RateLimiter) Wait(ctx context.Context) error {
	if l == nil || l.interval <= 0 {
		return nil
	}
	l.mu.Lock()
	now := time.Now()
	next := l.last.Add(l.interval)
	if next.Before(now) {
		next = now
	}
	l.last = next
	l.mu.Unlock()

	wait := time.Until(next)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Rearm 限流被拒重试后重置间隔时钟，下一次 Wait 从现在重新计
func (l *RateLimiter) Rearm() {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.last = time.Now()
	l.mu.Unlock()
}
