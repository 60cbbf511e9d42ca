// Package messaging 提供基于交换机的消息代理边界.
//
// Broker 抽象了 AMQP 0-9-1 风格的代理: 交换机、队列、绑定、发布、
// 带预取上限的消费、确认与否定确认、独占自动删除队列.
// 生产环境使用 RabbitMQ 实现，测试与演示使用 messaging/memory 实现.
//
// 示例:
//
//	broker, _ := messaging.NewRabbitMQ(ctx, cfg, messaging.WithLogger(log))
//	defer broker.Close()
//
//	_ = broker.DeclareExchange(ctx, messaging.Exchange{Name: "orders.direct", Kind: messaging.KindDirect, Durable: true})
//	_ = broker.Publish(ctx, "orders.direct", "order.express", messaging.Message{Body: body, Persistent: true})
//
//	deliveries, _ := broker.Consume(ctx, "orders.express", messaging.ConsumeOptions{Prefetch: 1})
//	for d := range deliveries {
//	    _ = d.Ack()
//	}
package messaging

import (
	"context"
	"time"
)

// DefaultExchange 默认交换机，按队列名直接投递.
const DefaultExchange = ""

// ExchangeKind 交换机类型.
type ExchangeKind string

// 支持的交换机类型.
const (
	KindDirect ExchangeKind = "direct"
	KindFanout ExchangeKind = "fanout"
	KindTopic  ExchangeKind = "topic"
)

// Valid 判断交换机类型是否受支持.
func (k ExchangeKind) Valid() bool {
	switch k {
	case KindDirect, KindFanout, KindTopic:
		return true
	}
	return false
}

// Exchange 交换机定义.
type Exchange struct {
	Name       string
	Kind       ExchangeKind
	Durable    bool
	AutoDelete bool
}

// Queue 队列定义.
type Queue struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool

	// DeadLetterExchange 被否定确认且不重新入队的消息转发到该交换机.
	DeadLetterExchange string

	// MessageTTL 消息存活时间，0 表示不过期.
	MessageTTL time.Duration
}

// Binding 队列与交换机的绑定.
//
// Pattern 对 direct 交换机是精确路由键，对 topic 交换机是通配模式，
// 对 fanout 交换机被忽略.
type Binding struct {
	Queue    string
	Exchange string
	Pattern  string
}

// ConsumeOptions 消费选项.
type ConsumeOptions struct {
	// Prefetch 未确认消息上限，0 表示不限制.
	Prefetch int

	// Tag 消费者标签，为空时由代理生成.
	Tag string

	// AutoAck 投递即确认，Delivery 的 Ack/Nack 不再访问代理.
	AutoAck bool
}

// Broker 消息代理接口.
//
// Consume 返回的 channel 在 ctx 取消或连接断开时关闭.
// 已经交付的 Delivery 在 ctx 取消后仍可确认，直到连接关闭.
type Broker interface {
	// DeclareExchange 声明交换机，属性冲突时返回 ErrTopologyConflict.
	DeclareExchange(ctx context.Context, ex Exchange) error
	// DeclareQueue 声明队列，属性冲突时返回 ErrTopologyConflict.
	DeclareQueue(ctx context.Context, q Queue) error
	// Bind 绑定队列到交换机.
	Bind(ctx context.Context, b Binding) error
	// Publish 发布消息，失败同步返回.
	Publish(ctx context.Context, exchange, routingKey string, msg Message) error
	// Consume 开始消费队列.
	Consume(ctx context.Context, queue string, opts ConsumeOptions) (<-chan *Delivery, error)
	// DeclareExclusiveQueue 声明由代理命名的独占自动删除队列.
	DeclareExclusiveQueue(ctx context.Context) (string, error)
	// QueueDepth 返回队列中待投递的消息数.
	QueueDepth(ctx context.Context, queue string) (int, error)
	// Close 关闭连接.
	Close() error
}
