package subscriber

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/Tsukikage7/orderflow/domain"
	"github.com/Tsukikage7/orderflow/logger"
	"github.com/Tsukikage7/orderflow/messaging"
	"github.com/Tsukikage7/orderflow/metrics"
)

// 分析指标名称.
const (
	MetricProcessingTime = "order_processing_time_seconds"
	MetricWorkerOrders   = "worker_orders_total"
)

// Journal 事件日志表.
type Journal interface {
	Append(ctx context.Context, event domain.Event, recordedAt time.Time) error
}

// Stats 分析订阅者的累计统计.
type Stats struct {
	Events         map[domain.EventType]int
	WorkerOrders   map[string]int
	Completed      int
	ProcessingTime float64
}

// AverageProcessingTime 返回已完成订单的平均处理耗时 (秒).
func (s Stats) AverageProcessingTime() float64 {
	if s.Completed == 0 {
		return 0
	}
	return s.ProcessingTime / float64(s.Completed)
}

// AnalyticsHandler 分析订阅者的处理器.
type AnalyticsHandler struct {
	metrics metrics.Collector
	journal Journal
	log     logger.Logger
	now     func() time.Time

	mu    sync.Mutex
	stats Stats
}

// AnalyticsOption 分析处理器配置选项.
type AnalyticsOption func(*AnalyticsHandler)

// WithJournal 设置事件日志表.
func WithJournal(j Journal) AnalyticsOption {
	return func(h *AnalyticsHandler) {
		h.journal = j
	}
}

// WithAnalyticsMetrics 设置指标收集器.
func WithAnalyticsMetrics(m metrics.Collector) AnalyticsOption {
	return func(h *AnalyticsHandler) {
		h.metrics = m
	}
}

// WithAnalyticsLogger 设置日志记录器.
func WithAnalyticsLogger(log logger.Logger) AnalyticsOption {
	return func(h *AnalyticsHandler) {
		h.log = log
	}
}

// NewAnalyticsHandler 创建分析处理器.
func NewAnalyticsHandler(opts ...AnalyticsOption) *AnalyticsHandler {
	h := &AnalyticsHandler{
		metrics: metrics.Nop(),
		log:     logger.Nop(),
		now:     time.Now,
		stats: Stats{
			Events:       make(map[domain.EventType]int),
			WorkerOrders: make(map[string]int),
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle 实现 worker.Handler.
func (h *AnalyticsHandler) Handle(ctx context.Context, d *messaging.Delivery) error {
	event, err := domain.DecodeEvent(d.Body)
	if err != nil {
		return err
	}

	h.metrics.RecordEvent(string(event.EventType))

	took, hasTime := event.ProcessingTime()
	workerID, hasWorker := event.WorkerID()

	h.mu.Lock()
	h.stats.Events[event.EventType]++
	if event.EventType == domain.EventOrderCompleted {
		if hasTime {
			h.stats.Completed++
			h.stats.ProcessingTime += took
		}
		if hasWorker {
			h.stats.WorkerOrders[workerID]++
		}
	}
	h.mu.Unlock()

	if event.EventType == domain.EventOrderCompleted {
		if hasTime {
			h.metrics.Histogram(MetricProcessingTime, took, nil)
			h.log.Infof("[analytics] 订单 %s 处理耗时 %.2fs", event.OrderID, took)
		}
		if hasWorker {
			h.metrics.Counter(MetricWorkerOrders, map[string]string{"worker": workerID})
		}
	}

	if h.journal != nil {
		if err := h.journal.Append(ctx, event, h.now()); err != nil {
			return fmt.Errorf("记录事件 %s 失败: %w", event.OrderID, err)
		}
	}
	return nil
}

// Snapshot 返回累计统计的副本.
func (h *AnalyticsHandler) Snapshot() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	return Stats{
		Events:         maps.Clone(h.stats.Events),
		WorkerOrders:   maps.Clone(h.stats.WorkerOrders),
		Completed:      h.stats.Completed,
		ProcessingTime: h.stats.ProcessingTime,
	}
}
