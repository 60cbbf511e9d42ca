package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Tsukikage7/orderflow/logger"
)

// AMQP 队列参数.
const (
	argDeadLetterExchange = "x-dead-letter-exchange"
	argMessageTTL         = "x-message-ttl"
)

// RabbitMQ 基于 amqp091-go 的 Broker 实现.
//
// 声明类操作各自使用短生命周期通道，发布共享一个受锁保护的通道，
// 每次 Consume 独占一个通道.
type RabbitMQ struct {
	conn    *rabbitMQConnection
	confirm bool
	logger  logger.Logger

	mu     sync.Mutex
	pubCh  *amqp.Channel
	closed atomic.Bool
}

// RabbitMQOption RabbitMQ 配置选项.
type RabbitMQOption func(*RabbitMQ)

// WithLogger 设置日志记录器.
func WithLogger(log logger.Logger) RabbitMQOption {
	return func(r *RabbitMQ) {
		r.logger = log
	}
}

// NewRabbitMQ 连接 RabbitMQ.
func NewRabbitMQ(ctx context.Context, cfg *Config, opts ...RabbitMQOption) (*RabbitMQ, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, ErrNoURL
	}
	cfg.ApplyDefaults()

	r := &RabbitMQ{
		confirm: cfg.Confirm,
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	conn, err := newRabbitMQConnection(ctx, cfg, r.logger)
	if err != nil {
		return nil, err
	}
	r.conn = conn

	go r.handleReconnect()

	return r, nil
}

func (r *RabbitMQ) handleReconnect() {
	for {
		select {
		case <-r.conn.done:
			return
		case <-r.conn.ReconnectNotify():
			r.mu.Lock()
			if r.pubCh != nil {
				_ = r.pubCh.Close()
				r.pubCh = nil
			}
			r.mu.Unlock()
			r.logger.Info("[rabbitmq] reconnected, publish channel reset")
		}
	}
}

// withChannel 在临时通道上执行声明类操作.
//
// 代理在声明失败时会关闭通道，因此不复用.
func (r *RabbitMQ) withChannel(fn func(ch *amqp.Channel) error) error {
	if r.closed.Load() {
		return ErrClientClosed
	}

	ch, err := r.conn.Channel()
	if err != nil {
		return mapAMQPError(err)
	}
	defer func() {
		if !ch.IsClosed() {
			_ = ch.Close()
		}
	}()

	return mapAMQPError(fn(ch))
}

// DeclareExchange 声明交换机.
func (r *RabbitMQ) DeclareExchange(_ context.Context, ex Exchange) error {
	if ex.Name == "" {
		return ErrEmptyName
	}
	if !ex.Kind.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidKind, ex.Kind)
	}

	return r.withChannel(func(ch *amqp.Channel) error {
		return ch.ExchangeDeclare(ex.Name, string(ex.Kind), ex.Durable, ex.AutoDelete, false, false, nil)
	})
}

// DeclareQueue 声明队列.
func (r *RabbitMQ) DeclareQueue(_ context.Context, q Queue) error {
	if q.Name == "" {
		return ErrEmptyName
	}

	return r.withChannel(func(ch *amqp.Channel) error {
		_, err := ch.QueueDeclare(q.Name, q.Durable, q.AutoDelete, q.Exclusive, false, queueArgs(q))
		return err
	})
}

func queueArgs(q Queue) amqp.Table {
	args := amqp.Table{}
	if q.DeadLetterExchange != "" {
		args[argDeadLetterExchange] = q.DeadLetterExchange
	}
	if q.MessageTTL > 0 {
		args[argMessageTTL] = q.MessageTTL.Milliseconds()
	}
	if len(args) == 0 {
		return nil
	}
	return args
}

// Bind 绑定队列到交换机.
func (r *RabbitMQ) Bind(_ context.Context, b Binding) error {
	return r.withChannel(func(ch *amqp.Channel) error {
		return ch.QueueBind(b.Queue, b.Pattern, b.Exchange, false, nil)
	})
}

// DeclareExclusiveQueue 声明由代理命名的独占自动删除队列.
//
// 独占队列归属连接，连接断开时由代理删除.
func (r *RabbitMQ) DeclareExclusiveQueue(_ context.Context) (string, error) {
	var name string
	err := r.withChannel(func(ch *amqp.Channel) error {
		q, err := ch.QueueDeclare("", false, true, true, false, nil)
		name = q.Name
		return err
	})
	return name, err
}

// QueueDepth 返回队列中待投递的消息数.
func (r *RabbitMQ) QueueDepth(_ context.Context, queue string) (int, error) {
	var depth int
	err := r.withChannel(func(ch *amqp.Channel) error {
		q, err := ch.QueueDeclarePassive(queue, false, false, false, false, nil)
		depth = q.Messages
		return err
	})
	return depth, err
}

// Publish 发布消息.
//
// 启用发布确认时等待代理确认，被拒绝返回 ErrPublishNacked.
func (r *RabbitMQ) Publish(ctx context.Context, exchange, routingKey string, msg Message) error {
	if r.closed.Load() {
		return ErrClientClosed
	}

	publishing := toPublishing(msg)

	r.mu.Lock()
	ch, err := r.publishChannel()
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrSendMessage, mapAMQPError(err))
	}

	if !r.confirm {
		err = ch.PublishWithContext(ctx, exchange, routingKey, false, false, publishing)
		r.mu.Unlock()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSendMessage, mapAMQPError(err))
		}
		return nil
	}

	dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false, publishing)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSendMessage, mapAMQPError(err))
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSendMessage, err)
	}
	if !acked {
		return ErrPublishNacked
	}
	return nil
}

// publishChannel 返回可用的发布通道，调用方需持有 r.mu.
func (r *RabbitMQ) publishChannel() (*amqp.Channel, error) {
	if r.pubCh != nil && !r.pubCh.IsClosed() {
		return r.pubCh, nil
	}

	ch, err := r.conn.Channel()
	if err != nil {
		return nil, err
	}

	if r.confirm {
		if err := ch.Confirm(false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("启用发布确认失败: %w", err)
		}
	}

	r.pubCh = ch
	return ch, nil
}

func toPublishing(msg Message) amqp.Publishing {
	publishing := amqp.Publishing{
		ContentType:   msg.ContentType,
		Body:          msg.Body,
		CorrelationId: msg.CorrelationID,
		ReplyTo:       msg.ReplyTo,
		MessageId:     msg.MessageID,
		Timestamp:     msg.Timestamp,
	}
	if publishing.Timestamp.IsZero() {
		publishing.Timestamp = time.Now()
	}
	if msg.Persistent {
		publishing.DeliveryMode = amqp.Persistent
	} else {
		publishing.DeliveryMode = amqp.Transient
	}
	if len(msg.Headers) > 0 {
		publishing.Headers = amqp.Table(msg.Headers)
	}
	return publishing
}

// Consume 在独占通道上开始消费.
func (r *RabbitMQ) Consume(ctx context.Context, queue string, opts ConsumeOptions) (<-chan *Delivery, error) {
	if r.closed.Load() {
		return nil, ErrClientClosed
	}

	ch, err := r.conn.Channel()
	if err != nil {
		return nil, mapAMQPError(err)
	}

	if opts.Prefetch > 0 {
		if err := ch.Qos(opts.Prefetch, 0, false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("设置 QoS 失败: %w", mapAMQPError(err))
		}
	}

	tag := opts.Tag
	if tag == "" {
		tag = "orderflow-" + uuid.NewString()
	}

	in, err := ch.Consume(queue, tag, opts.AutoAck, false, false, false, nil)
	if err != nil {
		if !ch.IsClosed() {
			_ = ch.Close()
		}
		return nil, mapAMQPError(err)
	}

	c := &rabbitConsumer{
		ch:      ch,
		queue:   queue,
		tag:     tag,
		autoAck: opts.AutoAck,
	}
	out := make(chan *Delivery)
	go c.run(ctx, in, out)

	r.logger.With(
		logger.String("queue", queue),
		logger.String("consumer", tag),
		logger.Int("prefetch", opts.Prefetch),
	).Debug("[rabbitmq] consumer started")

	return out, nil
}

// Close 关闭发布通道和连接，所有消费者随之停止.
func (r *RabbitMQ) Close() error {
	if r.closed.Swap(true) {
		return nil
	}

	r.mu.Lock()
	if r.pubCh != nil && !r.pubCh.IsClosed() {
		_ = r.pubCh.Close()
	}
	r.mu.Unlock()

	return r.conn.Close()
}

// rabbitConsumer 单个消费通道.
//
// ctx 取消后停止接收新投递，等已交付的投递全部确认后才关闭通道，
// 未交付的预取消息随通道关闭由代理重新入队.
type rabbitConsumer struct {
	ch      *amqp.Channel
	queue   string
	tag     string
	autoAck bool

	mu       sync.Mutex
	inflight int
	draining bool
}

func (c *rabbitConsumer) run(ctx context.Context, in <-chan amqp.Delivery, out chan<- *Delivery) {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			c.drain()
			return

		case d, ok := <-in:
			if !ok {
				return
			}

			delivery := c.convert(&d)
			select {
			case out <- delivery:
			case <-ctx.Done():
				_ = delivery.Nack(true)
				c.drain()
				return
			}
		}
	}
}

func (c *rabbitConsumer) convert(d *amqp.Delivery) *Delivery {
	var acker Acknowledger
	if !c.autoAck {
		acker = c
		c.mu.Lock()
		c.inflight++
		c.mu.Unlock()
	}

	delivery := NewDelivery(acker, d.DeliveryTag, Message{
		Body:          d.Body,
		ContentType:   d.ContentType,
		Persistent:    d.DeliveryMode == amqp.Persistent,
		CorrelationID: d.CorrelationId,
		ReplyTo:       d.ReplyTo,
		MessageID:     d.MessageId,
		Timestamp:     d.Timestamp,
		Headers:       map[string]any(d.Headers),
	})
	delivery.Exchange = d.Exchange
	delivery.RoutingKey = d.RoutingKey
	delivery.ConsumerTag = d.ConsumerTag
	delivery.Redelivered = d.Redelivered
	return delivery
}

// Ack 实现 Acknowledger.
func (c *rabbitConsumer) Ack(tag uint64) error {
	defer c.release()
	return mapAMQPError(c.ch.Ack(tag, false))
}

// Nack 实现 Acknowledger.
func (c *rabbitConsumer) Nack(tag uint64, requeue bool) error {
	defer c.release()
	return mapAMQPError(c.ch.Nack(tag, false, requeue))
}

func (c *rabbitConsumer) release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inflight--
	if c.draining && c.inflight <= 0 {
		_ = c.ch.Close()
	}
}

func (c *rabbitConsumer) drain() {
	_ = c.ch.Cancel(c.tag, false)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.draining = true
	if c.inflight <= 0 {
		_ = c.ch.Close()
	}
}

// mapAMQPError 将代理错误映射为包内错误.
func mapAMQPError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrChannelClosed, err)
	}

	var amqpErr *amqp.Error
	if !errors.As(err, &amqpErr) {
		return err
	}

	switch amqpErr.Code {
	case amqp.PreconditionFailed:
		return fmt.Errorf("%w: %s", ErrTopologyConflict, amqpErr.Reason)
	case amqp.NotFound:
		if strings.Contains(amqpErr.Reason, "exchange") {
			return fmt.Errorf("%w: %s", ErrExchangeNotFound, amqpErr.Reason)
		}
		return fmt.Errorf("%w: %s", ErrQueueNotFound, amqpErr.Reason)
	case amqp.ResourceLocked, amqp.AccessRefused:
		return fmt.Errorf("%w: %s", ErrExclusiveQueue, amqpErr.Reason)
	}
	return err
}
