// Package publisher 将订单、事件和日志发布到对应的交换机.
//
// 订单经直连交换机按订单类型路由到工作队列; 事件经 fanout 广播到
// 所有订阅者; 日志经 topic 交换机以 <event-type>.<order-type> 为键发布.
//
// 示例:
//
//	pub := publisher.New(broker, topology.PerTypeTopology(), publisher.WithLogger(log))
//	if err := pub.Produce(ctx, order); err != nil {
//	    return err
//	}
package publisher

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/Tsukikage7/orderflow/domain"
	"github.com/Tsukikage7/orderflow/logger"
	"github.com/Tsukikage7/orderflow/messaging"
	"github.com/Tsukikage7/orderflow/metrics"
	"github.com/Tsukikage7/orderflow/topology"
)

// DefaultEmitTimeout 尽力发布事件的默认超时.
const DefaultEmitTimeout = 5 * time.Second

// Publisher 消息发布器.
type Publisher struct {
	broker      messaging.Broker
	topo        *topology.Topology
	log         logger.Logger
	metrics     metrics.Collector
	tracer      *messaging.Tracer
	emitTimeout time.Duration
	now         func() time.Time
}

// Option 发布器配置选项.
type Option func(*Publisher)

// WithLogger 设置日志记录器.
func WithLogger(log logger.Logger) Option {
	return func(p *Publisher) {
		p.log = log
	}
}

// WithMetrics 设置指标收集器.
func WithMetrics(m metrics.Collector) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithTracer 设置消息链路追踪器.
func WithTracer(t *messaging.Tracer) Option {
	return func(p *Publisher) {
		p.tracer = t
	}
}

// WithEmitTimeout 设置 Emit 的超时时间.
func WithEmitTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.emitTimeout = d
		}
	}
}

// New 创建发布器.
func New(broker messaging.Broker, topo *topology.Topology, opts ...Option) *Publisher {
	p := &Publisher{
		broker:      broker,
		topo:        topo,
		log:         logger.Nop(),
		metrics:     metrics.Nop(),
		tracer:      messaging.NewTracer("orderflow"),
		emitTimeout: DefaultEmitTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish 发布消息到交换机.
//
// 失败同步返回，连接关闭时返回 messaging.ErrClientClosed 或 messaging.ErrChannelClosed.
// 自动补全消息 ID 与时间戳，并注入链路上下文.
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, msg messaging.Message) error {
	ctx, span := p.tracer.StartPublish(ctx, exchange, routingKey)
	defer span.End()

	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = p.now()
	}
	msg.Headers = p.tracer.Inject(ctx, maps.Clone(msg.Headers))

	if err := p.broker.Publish(ctx, exchange, routingKey, msg); err != nil {
		messaging.SetError(span, err)
		p.metrics.RecordPublish(exchange, metrics.OutcomeError)
		return err
	}

	p.metrics.RecordPublish(exchange, metrics.OutcomeSuccess)
	p.log.WithContext(ctx).Debugf("[publisher] 已发布: exchange=%s key=%s id=%s", exchange, routingKey, msg.MessageID)
	return nil
}

// PublishJSON 以持久化 JSON 消息发布负载.
func (p *Publisher) PublishJSON(ctx context.Context, exchange, routingKey string, v any) error {
	body, err := domain.Encode(v)
	if err != nil {
		return err
	}
	return p.Publish(ctx, exchange, routingKey, messaging.Message{
		Body:        body,
		ContentType: messaging.ContentTypeJSON,
		Persistent:  true,
	})
}

// PublishOrder 按订单类型路由发布订单.
func (p *Publisher) PublishOrder(ctx context.Context, order domain.Order) error {
	if err := order.Validate(); err != nil {
		return err
	}
	route, err := p.topo.OrderRoute(order.OrderType)
	if err != nil {
		return err
	}

	if err := p.PublishJSON(ctx, route.Exchange, route.RoutingKey, order); err != nil {
		return fmt.Errorf("发布订单 %s 失败: %w", order.OrderID, err)
	}

	p.log.Infof("[publisher] 订单已发布: %s (%s) key=%s", order.OrderID, order.OrderType, route.RoutingKey)
	return nil
}

// PublishEvent 广播事件给所有订阅者.
func (p *Publisher) PublishEvent(ctx context.Context, event domain.Event) error {
	return p.PublishJSON(ctx, topology.ExchangeEvents, "", event)
}

// PublishLog 以 <event-type>.<order-type> 为键发布日志.
func (p *Publisher) PublishLog(ctx context.Context, event domain.Event, orderType domain.OrderType) error {
	return p.PublishJSON(ctx, topology.ExchangeLogs, domain.LogRoutingKey(event.EventType, orderType), event)
}

// Emit 尽力发布事件与日志，错误只记录不返回.
func (p *Publisher) Emit(ctx context.Context, event domain.Event, orderType domain.OrderType) {
	ctx, cancel := context.WithTimeout(ctx, p.emitTimeout)
	defer cancel()

	if err := p.PublishEvent(ctx, event); err != nil {
		p.log.Warnf("[publisher] 事件发布失败: %s order=%s err=%v", event.EventType, event.OrderID, err)
	}
	if err := p.PublishLog(ctx, event, orderType); err != nil {
		p.log.Warnf("[publisher] 日志发布失败: %s order=%s err=%v", event.EventType, event.OrderID, err)
	}
}

// Produce 先发出 order.created 事件再发布订单.
func (p *Publisher) Produce(ctx context.Context, order domain.Order) error {
	if err := order.Validate(); err != nil {
		return err
	}
	p.Emit(ctx, domain.CreatedEvent(order), order.OrderType)
	return p.PublishOrder(ctx, order)
}
