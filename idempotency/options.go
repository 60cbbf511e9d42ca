package idempotency

import (
	"time"

	"github.com/Tsukikage7/orderflow/logger"
)

// Option 配置选项函数.
type Option func(*options)

type options struct {
	ttl         time.Duration
	lockTimeout time.Duration
	logger      logger.Logger
	skipOnError bool
	scope       string
}

func defaultOptions() *options {
	return &options{
		ttl:         DefaultTTL,
		lockTimeout: DefaultLockTimeout,
		logger:      logger.Nop(),
	}
}

func applyOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithTTL 设置完成记录的保留时间.
//
// 默认 24 小时.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

// WithLockTimeout 设置处理锁的超时时间.
//
// 持锁的消费者崩溃后，锁在超时后自动失效，重投的消息可以再次处理.
// 默认 30 秒.
func WithLockTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.lockTimeout = timeout
	}
}

// WithLogger 设置日志记录器.
func WithLogger(log logger.Logger) Option {
	return func(o *options) {
		o.logger = log
	}
}

// WithSkipOnError 设置存储错误时是否跳过幂等检查.
//
// 为 true 时存储故障不阻塞处理，代价是可能重复处理.
// 默认为 false，存储失败时返回错误.
func WithSkipOnError(skip bool) Option {
	return func(o *options) {
		o.skipOnError = skip
	}
}

// WithScope 设置键作用域，通常为队列名.
//
// 同一条消息经 fanout 投递到多个队列时，各队列独立判重.
func WithScope(scope string) Option {
	return func(o *options) {
		o.scope = scope
	}
}
