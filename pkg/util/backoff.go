package util

import (
	"context"
	"math/rand"
	"time"
)

// BackoffPolicy 指数退避参数
type BackoffPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Factor      float64
	Jitter      float64 // 0.25 表示 ±25%
}

// DefaultBackoff 外部 API 调用的默认重试策略
func DefaultBackoff(attempts int) BackoffPolicy {
	if attempts <= 0 {
		attempts = 3
	}
	return BackoffPolicy{
		MaxAttempts: attempts,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		Factor:      2.0,
		Jitter:      0.25,
	}
}

// Delay 计算第 attempt 次（从 0 开始）失败后的等待时长
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		d *= p.Factor
		if d >= float64(p.MaxDelay) {
			d = float64(p.MaxDelay)
			break
		}
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Retry 按退避策略执行 fn，直到成功、用尽次数或 ctx 取消
func Retry(ctx context.Context, p BackoffPolicy, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay(attempt)):
		}
	}
	return lastErr
}
