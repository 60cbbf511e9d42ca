package metrics

import (
	"fmt"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector Prometheus 指标收集器实现.
type PrometheusCollector struct {
	config *Config

	// 消息指标
	publishedTotal     *prometheus.CounterVec
	deliveriesTotal    *prometheus.CounterVec
	processingDuration *prometheus.HistogramVec
	queueDepth         *prometheus.GaugeVec

	// RPC 指标
	rpcCallsTotal *prometheus.CounterVec
	rpcDuration   prometheus.Histogram

	// 订阅者指标
	eventsTotal *prometheus.CounterVec
	panicTotal  *prometheus.CounterVec

	// 自定义指标注册表
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
	mu         sync.RWMutex

	registry *prometheus.Registry
}

var _ Collector = (*PrometheusCollector)(nil)

// NewPrometheus 创建 Prometheus 指标收集器.
func NewPrometheus(cfg *Config) (*PrometheusCollector, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "orderflow"
	}

	// 创建新的注册表，避免与默认注册表冲突
	registry := prometheus.NewRegistry()

	c := &PrometheusCollector{
		config:     cfg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		registry:   registry,
	}

	c.publishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Total number of published messages",
		},
		[]string{"exchange", "outcome"},
	)

	c.deliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_resolved_total",
			Help:      "Total number of resolved deliveries",
		},
		[]string{"queue", "outcome"},
	)

	c.processingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processing_duration_seconds",
			Help:      "Delivery processing duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"queue"},
	)

	c.queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of ready messages in a queue",
		},
		[]string{"queue"},
	)

	c.rpcCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "Total number of RPC calls",
		},
		[]string{"outcome"},
	)

	c.rpcDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "duration_seconds",
			Help:      "RPC round-trip duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	c.eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_recorded_total",
			Help:      "Total number of order events recorded",
		},
		[]string{"event_type"},
	)

	c.panicTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "panics_recovered_total",
			Help:      "Total number of panics recovered",
		},
		[]string{"component"},
	)

	// 注册所有指标
	collectors := []prometheus.Collector{
		c.publishedTotal,
		c.deliveriesTotal,
		c.processingDuration,
		c.queueDepth,
		c.rpcCallsTotal,
		c.rpcDuration,
		c.eventsTotal,
		c.panicTotal,
	}

	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRegisterMetric, err)
		}
	}

	return c, nil
}

// RecordPublish 记录发布结果.
func (c *PrometheusCollector) RecordPublish(exchange, outcome string) {
	c.publishedTotal.WithLabelValues(exchangeLabel(exchange), outcome).Inc()
}

// RecordDelivery 记录投递处理结果与耗时.
func (c *PrometheusCollector) RecordDelivery(queue, outcome string, duration time.Duration) {
	c.deliveriesTotal.WithLabelValues(queue, outcome).Inc()
	c.processingDuration.WithLabelValues(queue).Observe(duration.Seconds())
}

// SetQueueDepth 更新队列深度.
func (c *PrometheusCollector) SetQueueDepth(queue string, depth int) {
	c.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordRPC 记录 RPC 调用.
func (c *PrometheusCollector) RecordRPC(outcome string, duration time.Duration) {
	c.rpcCallsTotal.WithLabelValues(outcome).Inc()
	c.rpcDuration.Observe(duration.Seconds())
}

// RecordEvent 记录订单事件.
func (c *PrometheusCollector) RecordEvent(eventType string) {
	c.eventsTotal.WithLabelValues(eventType).Inc()
}

// RecordPanic 记录 panic 事件.
func (c *PrometheusCollector) RecordPanic(component string) {
	c.panicTotal.WithLabelValues(component).Inc()
}

// Registry 返回底层注册表.
func (c *PrometheusCollector) Registry() *prometheus.Registry {
	return c.registry
}

func exchangeLabel(exchange string) string {
	if exchange == "" {
		return "(default)"
	}
	return exchange
}

// Counter 增加自定义计数器，首次使用时按 labels 的键注册.
//
//	collector.Counter("worker_orders_total", map[string]string{"worker_id": "express-1"})
func (c *PrometheusCollector) Counter(name string, labels map[string]string) {
	names, values := extractLabels(labels)
	vec := custom(c, c.counters, name, func() *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Name:      name,
			Help:      "Custom counter: " + name,
		}, names)
	})
	if vec == nil {
		return
	}
	if m, err := vec.GetMetricWithLabelValues(values...); err == nil {
		m.Inc()
	}
}

// Histogram 观察自定义直方图.
//
//	collector.Histogram("order_processing_time_seconds", 1.2, nil)
func (c *PrometheusCollector) Histogram(name string, value float64, labels map[string]string) {
	names, values := extractLabels(labels)
	vec := custom(c, c.histograms, name, func() *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: c.config.Namespace,
			Name:      name,
			Help:      "Custom histogram: " + name,
			Buckets:   prometheus.DefBuckets,
		}, names)
	})
	if vec == nil {
		return
	}
	if m, err := vec.GetMetricWithLabelValues(values...); err == nil {
		m.Observe(value)
	}
}

// Gauge 设置自定义仪表盘.
//
//	collector.Gauge("rpc_pending_calls", 3, nil)
func (c *PrometheusCollector) Gauge(name string, value float64, labels map[string]string) {
	names, values := extractLabels(labels)
	vec := custom(c, c.gauges, name, func() *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Name:      name,
			Help:      "Custom gauge: " + name,
		}, names)
	})
	if vec == nil {
		return
	}
	if m, err := vec.GetMetricWithLabelValues(values...); err == nil {
		m.Set(value)
	}
}

// custom 返回已注册的自定义指标，不存在时创建并注册.
// 注册失败 (例如与内置指标重名) 时返回 nil，调用方静默丢弃.
func custom[V prometheus.Collector](c *PrometheusCollector, vecs map[string]V, name string, create func() V) V {
	c.mu.RLock()
	vec, ok := vecs[name]
	c.mu.RUnlock()
	if ok {
		return vec
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if vec, ok = vecs[name]; ok {
		return vec
	}

	vec = create()
	if err := c.registry.Register(vec); err != nil {
		var zero V
		return zero
	}
	vecs[name] = vec
	return vec
}

// extractLabels 按键排序返回 label 名称和值.
func extractLabels(labels map[string]string) ([]string, []string) {
	names := slices.Sorted(maps.Keys(labels))
	values := make([]string, len(names))
	for i, k := range names {
		values[i] = labels[k]
	}
	return names, values
}

// GetHandler 返回 metrics 的 HTTP 处理器.
func (c *PrometheusCollector) GetHandler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// GetPath 返回 metrics 路径.
func (c *PrometheusCollector) GetPath() string {
	if c.config.Path == "" {
		return "/metrics"
	}
	return c.config.Path
}
