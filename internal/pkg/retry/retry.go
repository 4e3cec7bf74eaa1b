// Package retry 提供统一的“带超时 + 有限重试”外呼封装。
// 所有外部信号源与交易所调用都应经由 Do，避免散落的 sleep-and-reissue。
package retry

import (
	"context"
	"fmt"
	"time"

	"quorum/internal/logger"
)

type Config struct {
	Attempts int           // 总尝试次数，<=0 时视为 1
	Delay    time.Duration // 两次尝试之间的等待
	Timeout  time.Duration // 单次尝试的超时，<=0 表示沿用外层 ctx
}

// Do 执行 fn，超时与重试语义统一在此处理。
// 超时包裹整个调用路径，而不仅仅是请求提交。
func Do[T any](ctx context.Context, name string, cfg Config, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if fn == nil {
		return zero, fmt.Errorf("retry.Do: fn is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		callCtx := ctx
		var cancel context.CancelFunc
		if cfg.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		}
		out, err := fn(callCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return out, nil
		}
		lastErr = err
		if i < attempts {
			logger.Warnf("%s 第 %d/%d 次失败: %v，%s 后重试", name, i, attempts, err, cfg.Delay)
			if !sleep(ctx, cfg.Delay) {
				return zero, ctx.Err()
			}
		}
	}
	return zero, fmt.Errorf("%s: %d 次尝试均失败: %w", name, attempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
