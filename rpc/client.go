package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tsukikage7/orderflow/domain"
	"github.com/Tsukikage7/orderflow/logger"
	"github.com/Tsukikage7/orderflow/messaging"
	"github.com/Tsukikage7/orderflow/metrics"
	"github.com/Tsukikage7/orderflow/topology"
)

// DefaultTimeout 默认调用超时.
const DefaultTimeout = 5 * time.Second

// MetricPendingCalls 等待响应的调用数.
const MetricPendingCalls = "rpc_pending_calls"

type reply struct {
	body []byte
	err  error
}

// Client 请求/响应客户端.
//
// 一个客户端持有一个独占回复队列和一个回复消费者，可并发调用.
type Client struct {
	broker  messaging.Broker
	queue   string
	timeout time.Duration
	log     logger.Logger
	metrics metrics.Collector
	tracer  *messaging.Tracer

	replyQueue string
	cancel     context.CancelFunc
	done       chan struct{}

	mu      sync.Mutex
	closed  bool
	pending map[string]chan reply
}

// ClientOption 客户端配置选项.
type ClientOption func(*Client)

// WithClientLogger 设置日志记录器.
func WithClientLogger(log logger.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// WithClientMetrics 设置指标收集器.
func WithClientMetrics(m metrics.Collector) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithClientTracer 设置消息链路追踪器.
func WithClientTracer(t *messaging.Tracer) ClientOption {
	return func(c *Client) {
		c.tracer = t
	}
}

// WithTargetQueue 设置请求发往的队列.
func WithTargetQueue(queue string) ClientOption {
	return func(c *Client) {
		if queue != "" {
			c.queue = queue
		}
	}
}

// WithDefaultTimeout 设置 Call 未指定超时时使用的超时.
func WithDefaultTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient 创建客户端，声明回复队列并开始消费.
func NewClient(ctx context.Context, broker messaging.Broker, opts ...ClientOption) (*Client, error) {
	c := &Client{
		broker:  broker,
		queue:   topology.QueueInventoryRPC,
		timeout: DefaultTimeout,
		log:     logger.Nop(),
		metrics: metrics.Nop(),
		pending: make(map[string]chan reply),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracer == nil {
		c.tracer = messaging.NewTracer("orderflow")
	}

	name, err := broker.DeclareExclusiveQueue(ctx)
	if err != nil {
		return nil, fmt.Errorf("声明回复队列失败: %w", err)
	}
	c.replyQueue = name

	// 回复消费者随客户端关闭，不随调用方的 ctx.
	cctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	deliveries, err := broker.Consume(cctx, name, messaging.ConsumeOptions{AutoAck: true})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("消费回复队列失败: %w", err)
	}
	c.cancel = cancel

	go c.listen(deliveries)

	c.log.Debugf("[rpc] 客户端就绪, 回复队列 %s", name)
	return c, nil
}

// ReplyQueue 返回回复队列名称.
func (c *Client) ReplyQueue() string { return c.replyQueue }

func (c *Client) listen(deliveries <-chan *messaging.Delivery) {
	defer close(c.done)

	for d := range deliveries {
		c.dispatch(d)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.log.Errorf("[rpc] 回复队列 %s 连接断开", c.replyQueue)
		c.closed = true
		c.failPendingLocked(messaging.ErrConnectionLost)
	}
}

func (c *Client) dispatch(d *messaging.Delivery) {
	c.mu.Lock()
	ch, ok := c.pending[d.CorrelationID]
	if ok {
		delete(c.pending, d.CorrelationID)
	}
	c.mu.Unlock()

	if !ok {
		c.log.Warnf("[rpc] 忽略未知或已超时的响应: correlation_id=%s", d.CorrelationID)
		return
	}
	ch <- reply{body: d.Body}
}

func (c *Client) failPendingLocked(err error) {
	for id, ch := range c.pending {
		ch <- reply{err: err}
		delete(c.pending, id)
	}
	c.metrics.Gauge(MetricPendingCalls, 0, nil)
}

func (c *Client) register() (string, chan reply, error) {
	id := uuid.NewString()
	ch := make(chan reply, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", nil, ErrClientClosed
	}
	c.pending[id] = ch
	c.metrics.Gauge(MetricPendingCalls, float64(len(c.pending)), nil)
	return id, ch, nil
}

func (c *Client) abandon(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; ok {
		delete(c.pending, id)
		c.metrics.Gauge(MetricPendingCalls, float64(len(c.pending)), nil)
	}
}

// Call 发送请求并等待对应的响应.
//
// timeout 不大于 0 时使用默认超时. 超时返回 ErrRPCTimeout，请求被放弃.
func (c *Client) Call(ctx context.Context, body []byte, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	start := time.Now()

	id, ch, err := c.register()
	if err != nil {
		return nil, err
	}
	defer c.abandon(id)

	resp, err := c.roundTrip(ctx, id, ch, body, timeout)
	c.metrics.RecordRPC(rpcOutcome(err), time.Since(start))
	return resp, err
}

func (c *Client) roundTrip(ctx context.Context, id string, ch <-chan reply, body []byte, timeout time.Duration) ([]byte, error) {
	pctx, span := c.tracer.StartPublish(ctx, messaging.DefaultExchange, c.queue)
	defer span.End()

	err := c.broker.Publish(pctx, messaging.DefaultExchange, c.queue, messaging.Message{
		Body:          body,
		ContentType:   messaging.ContentTypeJSON,
		CorrelationID: id,
		ReplyTo:       c.replyQueue,
		MessageID:     id,
		Headers:       c.tracer.Inject(pctx, nil),
	})
	if err != nil {
		messaging.SetError(span, err)
		return nil, fmt.Errorf("发送请求失败: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.body, r.err
	case <-timer.C:
		messaging.SetError(span, ErrRPCTimeout)
		c.log.Warnf("[rpc] 调用超时: correlation_id=%s timeout=%s", id, timeout)
		return nil, fmt.Errorf("%w: %s 内未收到响应", ErrRPCTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func rpcOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrRPCTimeout):
		return metrics.OutcomeTimeout
	}
	return metrics.OutcomeError
}

// CheckInventory 查询商品库存.
func (c *Client) CheckInventory(ctx context.Context, productID string, quantity int, timeout time.Duration) (domain.InventoryResponse, error) {
	req := domain.InventoryRequest{ProductID: productID, Quantity: quantity}
	if err := req.Validate(); err != nil {
		return domain.InventoryResponse{}, err
	}
	body, err := domain.Encode(req)
	if err != nil {
		return domain.InventoryResponse{}, err
	}

	c.log.Infof("[rpc] 查询库存 %s x%d", productID, quantity)
	out, err := c.Call(ctx, body, timeout)
	if err != nil {
		return domain.InventoryResponse{}, err
	}
	return domain.DecodeInventoryResponse(out)
}

// Close 停止回复消费者，等待中的调用返回 ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		c.failPendingLocked(ErrClientClosed)
	}
	c.mu.Unlock()

	c.cancel()
	<-c.done
	return nil
}
