package monitor

import (
	"time"

	"github.com/Tsukikage7/orderflow/logger"
	"github.com/Tsukikage7/orderflow/metrics"
	"github.com/Tsukikage7/orderflow/topology"
)

// DefaultSchedule 默认巡检周期.
const DefaultSchedule = "@every 10s"

type options struct {
	schedule        string
	deadLetterQueue string
	timeout         time.Duration
	logger          logger.Logger
	metrics         metrics.Collector
	location        *time.Location
}

func defaultOptions() *options {
	return &options{
		schedule:        DefaultSchedule,
		deadLetterQueue: topology.QueueFailed,
		timeout:         5 * time.Second,
		logger:          logger.Nop(),
		metrics:         metrics.Nop(),
	}
}

// Option 监控配置选项.
type Option func(*options)

// WithSchedule 设置巡检周期，支持秒级 Cron 表达式和 @every.
func WithSchedule(spec string) Option {
	return func(o *options) {
		if spec != "" {
			o.schedule = spec
		}
	}
}

// WithDeadLetterQueue 设置需要告警的死信队列，为空时不告警.
func WithDeadLetterQueue(name string) Option {
	return func(o *options) {
		o.deadLetterQueue = name
	}
}

// WithTimeout 设置单次巡检超时.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger 设置日志记录器.
func WithLogger(log logger.Logger) Option {
	return func(o *options) {
		o.logger = log
	}
}

// WithMetrics 设置指标收集器.
func WithMetrics(m metrics.Collector) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithLocation 设置时区.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		o.location = loc
	}
}
