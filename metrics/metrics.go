// Package metrics 提供消息路由与投递的 Prometheus 指标.
package metrics

import (
	"net/http"
	"time"
)

// 结果标签取值.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeAck       = "ack"
	OutcomeNack      = "nack"
	OutcomeDuplicate = "duplicate"
	OutcomeTimeout   = "timeout"
)

// Collector 指标收集器接口.
type Collector interface {
	// 消息指标
	RecordPublish(exchange, outcome string)
	RecordDelivery(queue, outcome string, duration time.Duration)
	SetQueueDepth(queue string, depth int)

	// RPC 指标
	RecordRPC(outcome string, duration time.Duration)

	// 订阅者指标
	RecordEvent(eventType string)
	RecordPanic(component string)

	// 自定义指标
	Counter(name string, labels map[string]string)
	Histogram(name string, value float64, labels map[string]string)
	Gauge(name string, value float64, labels map[string]string)
}

// Exposer 可通过 HTTP 暴露指标的收集器.
type Exposer interface {
	GetHandler() http.Handler
	GetPath() string
}

// NewMetrics 创建指标收集器.
func NewMetrics(cfg *Config) (*PrometheusCollector, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	return NewPrometheus(cfg)
}

// MustNewMetrics 创建指标收集器，失败时 panic.
func MustNewMetrics(cfg *Config) *PrometheusCollector {
	c, err := NewMetrics(cfg)
	if err != nil {
		panic(err)
	}
	return c
}

// Nop 返回丢弃所有指标的收集器.
func Nop() Collector { return nopCollector{} }

type nopCollector struct{}

func (nopCollector) RecordPublish(string, string) {}
func (nopCollector) RecordDelivery(string, string, time.Duration) {}
func (nopCollector) SetQueueDepth(string, int) {}
func (nopCollector) RecordRPC(string, time.Duration) {}
func (nopCollector) RecordEvent(string) {}
func (nopCollector) RecordPanic(string) {}
func (nopCollector) Counter(string, map[string]string) {}
func (nopCollector) Histogram(string, float64, map[string]string) {}
func (nopCollector) Gauge(string, float64, map[string]string) {}
