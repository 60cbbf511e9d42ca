package subscriber

import (
	"context"
	"strings"

	"github.com/Tsukikage7/orderflow/domain"
	"github.com/Tsukikage7/orderflow/logger"
	"github.com/Tsukikage7/orderflow/messaging"
	"github.com/Tsukikage7/orderflow/metrics"
	"github.com/Tsukikage7/orderflow/topology"
)

// MetricLogEntries 日志订阅者接收的条目计数.
const MetricLogEntries = "order_log_entries_total"

const unknownSegment = "unknown"

// LogKey 分解后的日志路由键 <category>.<event>.<order-type>.
type LogKey struct {
	Category  string
	Event     string
	OrderType string
}

// EventType 返回 <category>.<event>.
func (k LogKey) EventType() string {
	return k.Category + "." + k.Event
}

// ParseLogKey 分解日志路由键，缺失的段记为 unknown.
func ParseLogKey(routingKey string) LogKey {
	parts := strings.SplitN(routingKey, ".", 3)
	key := LogKey{Category: unknownSegment, Event: unknownSegment, OrderType: unknownSegment}
	if len(parts) > 0 && parts[0] != "" {
		key.Category = parts[0]
	}
	if len(parts) > 1 && parts[1] != "" {
		key.Event = parts[1]
	}
	if len(parts) > 2 && parts[2] != "" {
		key.OrderType = parts[2]
	}
	return key
}

// LogHandler 主题订阅者的处理器.
type LogHandler struct {
	pattern string
	log     logger.Logger
	metrics metrics.Collector
}

// LogOption 日志处理器配置选项.
type LogOption func(*LogHandler)

// WithPattern 设置订阅的主题模式.
func WithPattern(pattern string) LogOption {
	return func(h *LogHandler) {
		if pattern != "" {
			h.pattern = pattern
		}
	}
}

// WithLogMetrics 设置指标收集器.
func WithLogMetrics(m metrics.Collector) LogOption {
	return func(h *LogHandler) {
		h.metrics = m
	}
}

// NewLogHandler 创建日志处理器，默认模式 order.#.
func NewLogHandler(log logger.Logger, opts ...LogOption) *LogHandler {
	if log == nil {
		log = logger.Nop()
	}
	h := &LogHandler{
		pattern: topology.LogPattern,
		log:     log,
		metrics: metrics.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Pattern 返回订阅的主题模式.
func (h *LogHandler) Pattern() string { return h.pattern }

// Handle 实现 worker.Handler.
//
// 路由键与模式不匹配的投递直接确认丢弃.
func (h *LogHandler) Handle(ctx context.Context, d *messaging.Delivery) error {
	if !messaging.MatchTopic(h.pattern, d.RoutingKey) {
		h.log.Warnf("[logs] 路由键 %q 不匹配 %q, 丢弃", d.RoutingKey, h.pattern)
		return nil
	}

	event, err := domain.DecodeEvent(d.Body)
	if err != nil {
		return err
	}

	key := ParseLogKey(d.RoutingKey)
	h.metrics.Counter(MetricLogEntries, map[string]string{
		"event":      key.EventType(),
		"order_type": key.OrderType,
	})

	h.log.WithContext(ctx).With(
		logger.String("category", key.Category),
		logger.String("event", key.Event),
		logger.String("order_type", key.OrderType),
		logger.String("order_id", event.OrderID),
	).Info("[logs] " + event.Message)
	return nil
}
