package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/Tsukikage7/orderflow/logger"
)

// Guard 以幂等键包裹消息处理.
type Guard struct {
	store Store
	opts  *options
}

// NewGuard 创建幂等守卫.
func NewGuard(store Store, opts ...Option) *Guard {
	return &Guard{store: store, opts: applyOptions(opts)}
}

// Process 执行 fn，同一 key 至多成功完成一次.
//
// 返回 duplicate=true 表示该 key 已完成，fn 未被调用.
// 其他消费者持有处理锁时返回 ErrInProgress.
// fn 失败时释放处理锁，不写入完成记录.
// key 为空时不做幂等检查.
func (g *Guard) Process(ctx context.Context, key string, fn func() error) (duplicate bool, err error) {
	if key == "" {
		return false, fn()
	}

	o := g.opts
	full := key
	if o.scope != "" {
		full = o.scope + ":" + key
	}

	existing, err := g.store.Get(ctx, full)
	if err != nil {
		if !o.skipOnError {
			return false, fmt.Errorf("%w: %w", ErrStore, err)
		}
		o.logger.Warnf("[idempotency] 读取完成记录失败，跳过检查: key=%s err=%v", full, err)
		return false, fn()
	}
	if existing != nil {
		o.logger.Debugf("[idempotency] 重复消息已跳过: key=%s", full)
		return true, nil
	}

	acquired, err := g.store.SetNX(ctx, full, o.lockTimeout)
	if err != nil {
		if !o.skipOnError {
			return false, fmt.Errorf("%w: %w", ErrStore, err)
		}
		o.logger.Warnf("[idempotency] 获取处理锁失败，跳过检查: key=%s err=%v", full, err)
		return false, fn()
	}
	if !acquired {
		// 锁与完成记录之间存在竞争窗口，再确认一次.
		if done, _ := g.store.Get(ctx, full); done != nil {
			return true, nil
		}
		return false, fmt.Errorf("%w: %s", ErrInProgress, full)
	}

	if err := fn(); err != nil {
		if derr := g.store.Delete(context.WithoutCancel(ctx), full); derr != nil {
			o.logger.Warnf("[idempotency] 释放处理锁失败: key=%s err=%v", full, derr)
		}
		return false, err
	}

	result := &Result{Queue: o.scope, CompletedAt: time.Now()}
	if err := g.store.Set(context.WithoutCancel(ctx), full, result, o.ttl); err != nil {
		// 处理已成功，记录失败只会导致可能的重复处理.
		o.logger.With(logger.String("key", full), logger.Err(err)).Warn("[idempotency] 写入完成记录失败")
	}
	return false, nil
}
