package messaging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func newTestTracer() *Tracer {
	t := NewTracer("orderflow-test")
	t.propagator = propagation.TraceContext{}
	return t
}

func TestTracer_InjectExtractRoundTrip(t *testing.T) {
	tracer := newTestTracer()

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := tracer.Inject(ctx, map[string]any{"custom": "value"})
	assert.Equal(t, "value", headers["custom"])
	require.Contains(t, headers, "traceparent")

	extracted := trace.SpanContextFromContext(tracer.Extract(context.Background(), headers))
	assert.Equal(t, traceID, extracted.TraceID())
	assert.Equal(t, spanID, extracted.SpanID())
}

func TestTracer_InjectNilHeaders(t *testing.T) {
	headers := newTestTracer().Inject(context.Background(), nil)
	assert.NotNil(t, headers)
}

func TestTracer_ExtractEmptyHeaders(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, newTestTracer().Extract(ctx, nil))
}

func TestTracer_StartSpans(t *testing.T) {
	tracer := newTestTracer()

	ctx, span := tracer.StartPublish(context.Background(), "orders.direct", "order.express")
	assert.NotNil(t, ctx)
	span.End()

	d := NewDelivery(nil, 3, Message{Headers: map[string]any{}})
	d.RoutingKey = "order.express"
	ctx, span = tracer.StartConsume(context.Background(), "orders.express", d)
	assert.NotNil(t, ctx)
	SetError(span, assert.AnError)
	span.End()
}

func TestHeaderCarrier_Get(t *testing.T) {
	c := headerCarrier{
		"s": "text",
		"b": []byte("bytes"),
		"n": int64(5),
	}

	assert.Equal(t, "text", c.Get("s"))
	assert.Equal(t, "bytes", c.Get("b"))
	assert.Equal(t, "5", c.Get("n"))
	assert.Equal(t, "", c.Get("missing"))
	assert.Len(t, c.Keys(), 3)
}
