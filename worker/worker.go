// Package worker 实现带确认的队列消费循环.
//
// 每条投递恰好被处理一次确认: 处理成功确认 (Ack)，处理失败或 panic
// 以不重新入队的方式否定确认 (Nack(false))，由队列的死信交换机接收.
// 预取数量默认为 1，同一时刻每个消费者只持有一条未确认消息.
//
// 示例:
//
//	w := worker.New(broker, "orders.express", processor,
//	    worker.WithName("express-1"),
//	    worker.WithLogger(log),
//	)
//	if err := w.Run(ctx); err != nil {
//	    log.Errorf("worker stopped: %v", err)
//	}
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Tsukikage7/orderflow/idempotency"
	"github.com/Tsukikage7/orderflow/logger"
	"github.com/Tsukikage7/orderflow/messaging"
	"github.com/Tsukikage7/orderflow/metrics"
	"github.com/Tsukikage7/orderflow/recovery"
)

// Handler 投递处理器.
type Handler interface {
	Handle(ctx context.Context, d *messaging.Delivery) error
}

// HandlerFunc 函数形式的处理器.
type HandlerFunc func(ctx context.Context, d *messaging.Delivery) error

// Handle 实现 Handler.
func (f HandlerFunc) Handle(ctx context.Context, d *messaging.Delivery) error {
	return f(ctx, d)
}

// Worker 队列消费者.
type Worker struct {
	broker  messaging.Broker
	queue   string
	handler Handler

	name     string
	prefetch int
	timeout  time.Duration

	log       logger.Logger
	metrics   metrics.Collector
	tracer    *messaging.Tracer
	recoverer *recovery.Recoverer

	store     idempotency.Store
	guardOpts []idempotency.Option
	guard     *idempotency.Guard
}

// New 创建消费者.
func New(broker messaging.Broker, queue string, handler Handler, opts ...Option) *Worker {
	w := &Worker{
		broker:   broker,
		queue:    queue,
		handler:  handler,
		name:     queue,
		prefetch: DefaultPrefetch,
		log:      logger.Nop(),
		metrics:  metrics.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}

	if w.tracer == nil {
		w.tracer = messaging.NewTracer("orderflow")
	}
	w.recoverer = recovery.New(
		recovery.WithLogger(w.log),
		recovery.WithOnPanic(w.metrics.RecordPanic),
	)
	if w.store != nil {
		gopts := append([]idempotency.Option{
			idempotency.WithScope(w.queue),
			idempotency.WithLogger(w.log),
		}, w.guardOpts...)
		w.guard = idempotency.NewGuard(w.store, gopts...)
	}
	return w
}

// Name 返回消费者名称.
func (w *Worker) Name() string { return w.name }

// Queue 返回消费的队列.
func (w *Worker) Queue() string { return w.queue }

// Run 消费队列直到 ctx 取消.
//
// ctx 取消后不再接收新投递，正在处理的投递完成并确认后返回 nil.
// 投递通道在未取消时关闭 (连接断开) 返回 messaging.ErrConnectionLost.
func (w *Worker) Run(ctx context.Context) error {
	if w.handler == nil {
		return ErrNilHandler
	}

	deliveries, err := w.broker.Consume(ctx, w.queue, messaging.ConsumeOptions{
		Prefetch: w.prefetch,
		Tag:      w.name,
	})
	if err != nil {
		return fmt.Errorf("消费队列 %s 失败: %w", w.queue, err)
	}

	w.log.Infof("[worker] %s 开始消费 %s, prefetch=%d", w.name, w.queue, w.prefetch)

	for {
		select {
		case <-ctx.Done():
			w.log.Infof("[worker] %s 已停止", w.name)
			return nil

		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					w.log.Infof("[worker] %s 已停止", w.name)
					return nil
				}
				w.log.Errorf("[worker] %s 投递通道意外关闭", w.name)
				return fmt.Errorf("%w: queue %s", messaging.ErrConnectionLost, w.queue)
			}
			if ctx.Err() != nil {
				// 与取消同时就绪的投递放回队列.
				if err := d.Nack(true); err != nil {
					w.log.Warnf("[worker] %s 退回投递失败: tag=%d err=%v", w.name, d.DeliveryTag, err)
				}
				w.log.Infof("[worker] %s 已停止", w.name)
				return nil
			}
			w.handle(ctx, d)
		}
	}
}

// handle 处理并确认单条投递.
//
// 处理器运行在脱离取消信号的上下文中，关闭时已取出的投递仍会完成.
func (w *Worker) handle(ctx context.Context, d *messaging.Delivery) {
	start := time.Now()

	hctx := context.WithoutCancel(ctx)
	if w.timeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(hctx, w.timeout)
		defer cancel()
	}

	hctx, span := w.tracer.StartConsume(hctx, w.queue, d)
	defer span.End()

	duplicate, err := w.process(hctx, d)

	var (
		outcome    string
		resolveErr error
	)
	switch {
	case err == nil && duplicate:
		outcome = metrics.OutcomeDuplicate
		resolveErr = d.Ack()
		w.log.Infof("[worker] %s 跳过重复消息: id=%s", w.name, d.MessageID)

	case err == nil:
		outcome = metrics.OutcomeAck
		resolveErr = d.Ack()

	case errors.Is(err, idempotency.ErrInProgress):
		// 其他消费者持有处理锁，放回队列稍后重试.
		outcome = metrics.OutcomeNack
		resolveErr = d.Nack(true)
		w.log.Warnf("[worker] %s 消息正在其他消费者处理, 重新入队: id=%s", w.name, d.MessageID)

	default:
		perr := &ProcessingError{
			Queue:       w.queue,
			DeliveryTag: d.DeliveryTag,
			MessageID:   d.MessageID,
			Err:         err,
		}
		messaging.SetError(span, perr)
		outcome = metrics.OutcomeNack
		resolveErr = d.Nack(false)
		w.log.WithContext(hctx).With(
			logger.String("worker", w.name),
			logger.Uint64("delivery_tag", d.DeliveryTag),
			logger.Int64("deaths", messaging.DeathCount(d.Headers)),
			logger.Err(perr),
		).Error("[worker] 处理失败, 转入死信")
	}

	if resolveErr != nil {
		w.log.Warnf("[worker] %s 确认失败: tag=%d err=%v", w.name, d.DeliveryTag, resolveErr)
	}

	w.metrics.RecordDelivery(w.queue, outcome, time.Since(start))
}

func (w *Worker) process(ctx context.Context, d *messaging.Delivery) (bool, error) {
	run := func() error {
		return w.recoverer.Run(ctx, w.queue, func() error {
			return w.handler.Handle(ctx, d)
		})
	}

	if w.guard == nil {
		return false, run()
	}
	return w.guard.Process(ctx, d.MessageID, run)
}
