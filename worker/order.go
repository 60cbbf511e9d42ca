package worker

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/Tsukikage7/orderflow/domain"
	"github.com/Tsukikage7/orderflow/logger"
	"github.com/Tsukikage7/orderflow/messaging"
)

// Emitter 尽力发布订单事件.
type Emitter interface {
	Emit(ctx context.Context, event domain.Event, orderType domain.OrderType)
}

// OrderProcessor 订单处理器.
//
// 处理流程: 解码订单，发出 order.processing，模拟耗时处理，
// 成功发出 order.completed，失败发出 order.failed 并返回错误.
type OrderProcessor struct {
	emitter     Emitter
	workerID    string
	minDuration time.Duration
	maxDuration time.Duration
	failureRate float64
	random      func() float64
	sleep       func(ctx context.Context, d time.Duration) error
	log         logger.Logger
}

// ProcessorOption 订单处理器配置选项.
type ProcessorOption func(*OrderProcessor)

// WithProcessingTime 设置模拟处理耗时区间.
func WithProcessingTime(lo, hi time.Duration) ProcessorOption {
	return func(p *OrderProcessor) {
		if lo >= 0 && hi >= lo {
			p.minDuration, p.maxDuration = lo, hi
		}
	}
}

// WithFailureRate 设置模拟失败概率 (0-1).
func WithFailureRate(rate float64) ProcessorOption {
	return func(p *OrderProcessor) {
		p.failureRate = min(max(rate, 0), 1)
	}
}

// WithRandom 设置 [0,1) 随机数来源.
func WithRandom(fn func() float64) ProcessorOption {
	return func(p *OrderProcessor) {
		p.random = fn
	}
}

// WithSleep 设置等待函数.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ProcessorOption {
	return func(p *OrderProcessor) {
		p.sleep = fn
	}
}

// WithProcessorLogger 设置日志记录器.
func WithProcessorLogger(log logger.Logger) ProcessorOption {
	return func(p *OrderProcessor) {
		p.log = log
	}
}

// NewOrderProcessor 创建订单处理器.
func NewOrderProcessor(emitter Emitter, workerID string, opts ...ProcessorOption) *OrderProcessor {
	p := &OrderProcessor{
		emitter:     emitter,
		workerID:    workerID,
		minDuration: 500 * time.Millisecond,
		maxDuration: 2 * time.Second,
		random:      rand.Float64,
		sleep:       sleepContext,
		log:         logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle 实现 Handler.
func (p *OrderProcessor) Handle(ctx context.Context, d *messaging.Delivery) error {
	order, err := domain.DecodeOrder(d.Body)
	if err != nil {
		return err
	}

	p.log.Infof("[worker] %s 收到订单 %s (%s)", p.workerID, order.OrderID, order.OrderType)

	p.emitter.Emit(ctx, domain.NewEvent(domain.EventOrderProcessing, order.OrderID,
		fmt.Sprintf("Processing by worker %s", p.workerID),
		map[string]any{domain.MetaWorkerID: p.workerID},
	), order.OrderType)

	took := p.minDuration + time.Duration(p.random()*float64(p.maxDuration-p.minDuration))
	err = p.sleep(ctx, took)
	if err == nil && p.failureRate > 0 && p.random() < p.failureRate {
		err = fmt.Errorf("%w: order %s", ErrSimulatedFailure, order.OrderID)
	}

	if err != nil {
		// 处理超时后 ctx 已结束，失败事件仍需发出.
		p.emitter.Emit(context.WithoutCancel(ctx), domain.NewEvent(domain.EventOrderFailed, order.OrderID,
			fmt.Sprintf("Failed: %v", err),
			map[string]any{domain.MetaWorkerID: p.workerID},
		), order.OrderType)
		return err
	}

	p.log.Infof("[worker] %s 完成订单 %s, 耗时 %.2fs", p.workerID, order.OrderID, took.Seconds())

	p.emitter.Emit(ctx, domain.NewEvent(domain.EventOrderCompleted, order.OrderID,
		fmt.Sprintf("Completed by worker %s", p.workerID),
		map[string]any{
			domain.MetaWorkerID:       p.workerID,
			domain.MetaProcessingTime: took.Seconds(),
		},
	), order.OrderType)
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
