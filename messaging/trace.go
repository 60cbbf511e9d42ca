package messaging

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Tracer 消息链路追踪器.
//
// 使用全局 OpenTelemetry TracerProvider，需要先通过 tracing.NewTracer 初始化.
// 未初始化时所有 span 都是无操作的.
type Tracer struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// NewTracer 创建消息链路追踪器.
func NewTracer(serviceName string) *Tracer {
	return &Tracer{
		tracer:     otel.Tracer(serviceName),
		propagator: otel.GetTextMapPropagator(),
	}
}

// StartPublish 开始发布 span.
func (t *Tracer) StartPublish(ctx context.Context, exchange, routingKey string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "rabbitmq.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", exchange),
			attribute.String("messaging.rabbitmq.destination.routing_key", routingKey),
			attribute.String("messaging.operation", "publish"),
		),
	)
}

// StartConsume 从投递头中恢复上游链路并开始消费 span.
func (t *Tracer) StartConsume(ctx context.Context, queue string, d *Delivery) (context.Context, trace.Span) {
	ctx = t.Extract(ctx, d.Headers)
	return t.tracer.Start(ctx, "rabbitmq.process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.source.name", queue),
			attribute.String("messaging.rabbitmq.destination.routing_key", d.RoutingKey),
			attribute.String("messaging.operation", "process"),
			attribute.Int64("messaging.rabbitmq.delivery_tag", int64(d.DeliveryTag)),
			attribute.Bool("messaging.rabbitmq.redelivered", d.Redelivered),
		),
	)
}

// Inject 将链路上下文注入到消息头.
func (t *Tracer) Inject(ctx context.Context, headers map[string]any) map[string]any {
	if headers == nil {
		headers = make(map[string]any)
	}
	t.propagator.Inject(ctx, headerCarrier(headers))
	return headers
}

// Extract 从消息头提取链路上下文.
func (t *Tracer) Extract(ctx context.Context, headers map[string]any) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return t.propagator.Extract(ctx, headerCarrier(headers))
}

// SetError 标记 span 失败.
func SetError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// headerCarrier 以 AMQP 消息头实现 propagation.TextMapCarrier.
type headerCarrier map[string]any

func (c headerCarrier) Get(key string) string {
	switch v := c[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (c headerCarrier) Set(key, value string) {
	c[key] = value
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
