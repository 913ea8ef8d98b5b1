package service

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestRateLimiterSpacing(t *testing.T) {
	interval := 20 * time.Millisecond
	l := NewRateLimiter(interval)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Wait(context.Background()); err != nil {
				t.Errorf("Wait 失败: %v", err)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	// 5 次调用至少要跨 4 个间隔
	if min := 4 * interval; elapsed < min {
		t.Errorf("5 次调用耗时 %v, 应不少于 %v", elapsed, min)
	}
}

func TestRateLimiterZeroInterval(t *testing.T) {
	l := NewRateLimiter(0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("零间隔不应阻塞, 耗时 %v", elapsed)
	}
}

func TestRateLimiterContextCancel(t *testing.T) {
	l := NewRateLimiter(time.Hour)
	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- l.Wait(ctx)
	}()
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("取消后 Wait 应返回错误")
		}
	case <-time.After(time.Second):
		t.Fatal("取消后 Wait 未返回")
	}
}

func TestRateLimiterRearm(t *testing.T) {
	interval := 30 * time.Millisecond
	l := NewRateLimiter(interval)
	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	time.Sleep(interval)
	l.Rearm()

	// Rearm 后间隔时钟从现在重新计
	start := time.Now()
	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < interval/2 {
		t.Errorf("Rearm 后应重新等满间隔, 只等了 %v", elapsed)
	}
}
