// Package retry 提供带退避的重试机制.
package retry

import (
	"context"
	"fmt"
	"time"
)

// 默认配置值.
const (
	DefaultMaxAttempts = 3
	DefaultDelay       = 100 * time.Millisecond
	DefaultMaxDelay    = 30 * time.Second
)

// Retry 重试器.
type Retry struct {
	ctx         context.Context
	fn          func() error
	maxAttempts int
	delay       time.Duration
	maxDelay    time.Duration
	multiplier  float64
	onRetry     func(attempt int, err error)
}

// Do 创建重试器.
//
// 使用示例:
//
//	err := retry.Do(ctx, func() error {
//	    return dial()
//	}).WithMaxAttempts(5).WithDelay(time.Second).WithBackoff(2).Run()
func Do(ctx context.Context, fn func() error) *Retry {
	return &Retry{
		ctx:         ctx,
		fn:          fn,
		maxAttempts: DefaultMaxAttempts,
		delay:       DefaultDelay,
		maxDelay:    DefaultMaxDelay,
		multiplier:  1,
	}
}

// WithMaxAttempts 设置最大尝试次数.
func (r *Retry) WithMaxAttempts(n int) *Retry {
	if n > 0 {
		r.maxAttempts = n
	}
	return r
}

// WithDelay 设置首次重试间隔.
func (r *Retry) WithDelay(d time.Duration) *Retry {
	r.delay = d
	return r
}

// WithBackoff 设置间隔增长倍数，小于 1 时按 1 处理.
func (r *Retry) WithBackoff(multiplier float64) *Retry {
	if multiplier >= 1 {
		r.multiplier = multiplier
	}
	return r
}

// WithMaxDelay 设置间隔上限.
func (r *Retry) WithMaxDelay(d time.Duration) *Retry {
	r.maxDelay = d
	return r
}

// OnRetry 设置每次失败后的回调，attempt 从 1 开始.
func (r *Retry) OnRetry(fn func(attempt int, err error)) *Retry {
	r.onRetry = fn
	return r
}

// Run 执行重试.
//
// 全部失败时返回包装了最后一次错误的 ErrMaxAttempts.
func (r *Retry) Run() error {
	delay := r.delay
	var lastErr error

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := r.ctx.Err(); err != nil {
			return err
		}

		lastErr = r.fn()
		if lastErr == nil {
			return nil
		}

		if r.onRetry != nil {
			r.onRetry(attempt, lastErr)
		}

		if attempt == r.maxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-r.ctx.Done():
			timer.Stop()
			return r.ctx.Err()
		}

		delay = r.next(delay)
	}

	return fmt.Errorf("%w: %w", ErrMaxAttempts, lastErr)
}

func (r *Retry) next(d time.Duration) time.Duration {
	next := time.Duration(float64(d) * r.multiplier)
	if r.maxDelay > 0 && next > r.maxDelay {
		return r.maxDelay
	}
	return next
}
