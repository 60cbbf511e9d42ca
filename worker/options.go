package worker

import (
	"time"

	"github.com/Tsukikage7/orderflow/idempotency"
	"github.com/Tsukikage7/orderflow/logger"
	"github.com/Tsukikage7/orderflow/messaging"
	"github.com/Tsukikage7/orderflow/metrics"
)

// DefaultPrefetch 默认预取数量，保证公平分发.
const DefaultPrefetch = 1

// Option 消费者配置选项.
type Option func(*Worker)

// WithName 设置消费者名称，同时作为消费者标签.
func WithName(name string) Option {
	return func(w *Worker) {
		w.name = name
	}
}

// WithPrefetch 设置预取数量.
func WithPrefetch(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.prefetch = n
		}
	}
}

// WithProcessingTimeout 设置单条消息的处理超时.
func WithProcessingTimeout(d time.Duration) Option {
	return func(w *Worker) {
		w.timeout = d
	}
}

// WithLogger 设置日志记录器.
func WithLogger(log logger.Logger) Option {
	return func(w *Worker) {
		w.log = log
	}
}

// WithMetrics 设置指标收集器.
func WithMetrics(m metrics.Collector) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithTracer 设置消息链路追踪器.
func WithTracer(t *messaging.Tracer) Option {
	return func(w *Worker) {
		w.tracer = t
	}
}

// WithIdempotency 启用重复投递检测.
//
// 以消息 ID 为幂等键，作用域为队列名.
func WithIdempotency(store idempotency.Store, opts ...idempotency.Option) Option {
	return func(w *Worker) {
		w.store = store
		w.guardOpts = opts
	}
}
