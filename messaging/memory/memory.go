// Package memory 提供进程内的 messaging.Broker 实现.
//
// 语义与 RabbitMQ 对齐: 交换机路由、默认交换机、预取上限、确认与否定确认、
// 死信转发与 x-death 记录、消息 TTL、独占与自动删除队列、
// 连接关闭时未确认消息重新入队. 用于测试和不依赖外部代理的演示模式.
//
// 示例:
//
//	srv := memory.NewServer()
//	broker := srv.Connect()
//	defer broker.Close()
package memory

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tsukikage7/orderflow/messaging"
)

// Server 进程内代理，持有全部交换机与队列.
type Server struct {
	mu        sync.Mutex
	exchanges map[string]*exchange
	queues    map[string]*queue
	now       func() time.Time
}

// Option 代理配置选项.
type Option func(*Server)

// WithClock 设置时钟，用于测试消息 TTL.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// NewServer 创建进程内代理.
func NewServer(opts ...Option) *Server {
	s := &Server{
		exchanges: make(map[string]*exchange),
		queues:    make(map[string]*queue),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect 打开新连接.
func (s *Server) Connect() *Conn {
	return &Conn{srv: s}
}

// Stats 返回队列待投递和未确认的消息数.
func (s *Server) Stats(name string) (ready, unacked int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[name]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", messaging.ErrQueueNotFound, name)
	}
	s.expire(q)

	for _, c := range q.attached {
		unacked += len(c.unacked)
	}
	return len(q.ready), unacked, nil
}

type exchange struct {
	def      messaging.Exchange
	bindings []messaging.Binding
}

type queue struct {
	def       messaging.Queue
	owner     *Conn
	ready     []*envelope
	consumers []*consumer
	attached  []*consumer
	cursor    int
}

type envelope struct {
	msg         messaging.Message
	exchange    string
	routingKey  string
	redelivered bool
	expiresAt   time.Time
}

// route 按交换机类型把消息投递到匹配的队列，调用方需持有 s.mu.
//
// 无匹配绑定的消息被丢弃，与未设置 mandatory 的 RabbitMQ 一致.
func (s *Server) route(exchangeName, routingKey string, msg messaging.Message) error {
	if exchangeName == messaging.DefaultExchange {
		if q, ok := s.queues[routingKey]; ok {
			s.enqueue(q, exchangeName, routingKey, msg)
		}
		return nil
	}

	ex, ok := s.exchanges[exchangeName]
	if !ok {
		return fmt.Errorf("%w: %s", messaging.ErrExchangeNotFound, exchangeName)
	}

	seen := make(map[string]bool, len(ex.bindings))
	for _, b := range ex.bindings {
		if seen[b.Queue] || !messaging.Matches(ex.def.Kind, b.Pattern, routingKey) {
			continue
		}
		seen[b.Queue] = true
		if q, ok := s.queues[b.Queue]; ok {
			s.enqueue(q, exchangeName, routingKey, msg)
		}
	}
	return nil
}

func (s *Server) enqueue(q *queue, exchangeName, routingKey string, msg messaging.Message) {
	env := &envelope{
		msg:        copyMessage(msg),
		exchange:   exchangeName,
		routingKey: routingKey,
	}
	if q.def.MessageTTL > 0 {
		env.expiresAt = s.now().Add(q.def.MessageTTL)
	}
	q.ready = append(q.ready, env)
	s.dispatch(q)
}

func copyMessage(msg messaging.Message) messaging.Message {
	msg.Body = bytes.Clone(msg.Body)
	if msg.Headers != nil {
		msg.Headers = maps.Clone(msg.Headers)
	}
	return msg
}

// dispatch 按轮询把待投递消息分配给有余量的消费者，调用方需持有 s.mu.
func (s *Server) dispatch(q *queue) {
	s.expire(q)

	for len(q.ready) > 0 {
		c := q.nextConsumer()
		if c == nil {
			return
		}
		env := q.ready[0]
		q.ready = q.ready[1:]
		c.assign(env)
	}
}

func (q *queue) nextConsumer() *consumer {
	n := len(q.consumers)
	for i := 0; i < n; i++ {
		idx := (q.cursor + i) % n
		if c := q.consumers[idx]; c.hasCapacity() {
			q.cursor = (idx + 1) % n
			return c
		}
	}
	return nil
}

// expire 将过期消息转入死信，调用方需持有 s.mu.
func (s *Server) expire(q *queue) {
	if q.def.MessageTTL <= 0 || len(q.ready) == 0 {
		return
	}

	now := s.now()
	live := q.ready[:0:0]
	var expired []*envelope
	for _, env := range q.ready {
		if !env.expiresAt.IsZero() && !now.Before(env.expiresAt) {
			expired = append(expired, env)
			continue
		}
		live = append(live, env)
	}
	q.ready = live

	for _, env := range expired {
		s.deadLetter(q, env, "expired")
	}
}

// deadLetter 转发到队列的死信交换机，保留原路由键，调用方需持有 s.mu.
func (s *Server) deadLetter(q *queue, env *envelope, reason string) {
	if q.def.DeadLetterExchange == "" {
		return
	}

	msg := env.msg
	msg.Headers = maps.Clone(msg.Headers)
	if msg.Headers == nil {
		msg.Headers = make(map[string]any)
	}
	msg.Headers[messaging.HeaderDeath] = appendDeath(msg.Headers[messaging.HeaderDeath], deathRecord{
		queue:      q.def.Name,
		reason:     reason,
		exchange:   env.exchange,
		routingKey: env.routingKey,
		at:         s.now(),
	})

	// 死信交换机不存在时消息被丢弃.
	_ = s.route(q.def.DeadLetterExchange, env.routingKey, msg)
}

type deathRecord struct {
	queue      string
	reason     string
	exchange   string
	routingKey string
	at         time.Time
}

// appendDeath 更新 x-death 列表，同一队列和原因只保留一条并累加 count.
func appendDeath(existing any, rec deathRecord) []any {
	prev, _ := existing.([]any)
	out := make([]any, 0, len(prev)+1)

	var found map[string]any
	for _, entry := range prev {
		table, ok := entry.(map[string]any)
		if !ok {
			out = append(out, entry)
			continue
		}
		table = maps.Clone(table)
		if table["queue"] == rec.queue && table["reason"] == rec.reason {
			count, _ := table["count"].(int64)
			table["count"] = count + 1
			table["time"] = rec.at
			found = table
			continue
		}
		out = append(out, table)
	}

	if found == nil {
		found = map[string]any{
			"count":        int64(1),
			"queue":        rec.queue,
			"reason":       rec.reason,
			"exchange":     rec.exchange,
			"routing-keys": []any{rec.routingKey},
			"time":         rec.at,
		}
	}
	return append([]any{found}, out...)
}

func (s *Server) deleteQueue(q *queue) {
	delete(s.queues, q.def.Name)
	for _, ex := range s.exchanges {
		kept := ex.bindings[:0]
		for _, b := range ex.bindings {
			if b.Queue != q.def.Name {
				kept = append(kept, b)
			}
		}
		ex.bindings = kept
	}
}

// Conn 进程内连接，实现 messaging.Broker.
type Conn struct {
	srv       *Server
	closed    bool
	nextTag   uint64
	consumers []*consumer
}

var _ messaging.Broker = (*Conn)(nil)

// DeclareExchange 声明交换机.
func (c *Conn) DeclareExchange(_ context.Context, ex messaging.Exchange) error {
	if ex.Name == "" {
		return messaging.ErrEmptyName
	}
	if !ex.Kind.Valid() {
		return fmt.Errorf("%w: %s", messaging.ErrInvalidKind, ex.Kind)
	}

	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.closed {
		return messaging.ErrClientClosed
	}

	if existing, ok := s.exchanges[ex.Name]; ok {
		if existing.def != ex {
			return fmt.Errorf("%w: exchange %s declared as %+v, got %+v",
				messaging.ErrTopologyConflict, ex.Name, existing.def, ex)
		}
		return nil
	}

	s.exchanges[ex.Name] = &exchange{def: ex}
	return nil
}

// DeclareQueue 声明队列.
func (c *Conn) DeclareQueue(_ context.Context, q messaging.Queue) error {
	if q.Name == "" {
		return messaging.ErrEmptyName
	}

	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()

	return c.declareQueueLocked(q)
}

func (c *Conn) declareQueueLocked(q messaging.Queue) error {
	if c.closed {
		return messaging.ErrClientClosed
	}

	s := c.srv
	if existing, ok := s.queues[q.Name]; ok {
		if existing.def.Exclusive && existing.owner != c {
			return fmt.Errorf("%w: %s", messaging.ErrExclusiveQueue, q.Name)
		}
		if existing.def != q {
			return fmt.Errorf("%w: queue %s declared as %+v, got %+v",
				messaging.ErrTopologyConflict, q.Name, existing.def, q)
		}
		return nil
	}

	nq := &queue{def: q}
	if q.Exclusive {
		nq.owner = c
	}
	s.queues[q.Name] = nq
	return nil
}

// Bind 绑定队列到交换机，重复绑定不产生副作用.
func (c *Conn) Bind(_ context.Context, b messaging.Binding) error {
	if b.Exchange == messaging.DefaultExchange {
		return fmt.Errorf("%w: default exchange cannot be bound", messaging.ErrEmptyName)
	}

	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.closed {
		return messaging.ErrClientClosed
	}

	ex, ok := s.exchanges[b.Exchange]
	if !ok {
		return fmt.Errorf("%w: %s", messaging.ErrExchangeNotFound, b.Exchange)
	}
	if _, ok := s.queues[b.Queue]; !ok {
		return fmt.Errorf("%w: %s", messaging.ErrQueueNotFound, b.Queue)
	}

	for _, existing := range ex.bindings {
		if existing == b {
			return nil
		}
	}
	ex.bindings = append(ex.bindings, b)
	return nil
}

// DeclareExclusiveQueue 声明由代理命名的独占自动删除队列.
func (c *Conn) DeclareExclusiveQueue(_ context.Context) (string, error) {
	name := "amq.gen-" + uuid.NewString()

	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()

	err := c.declareQueueLocked(messaging.Queue{Name: name, Exclusive: true, AutoDelete: true})
	return name, err
}

// QueueDepth 返回队列中待投递的消息数.
func (c *Conn) QueueDepth(_ context.Context, name string) (int, error) {
	ready, _, err := c.srv.Stats(name)
	return ready, err
}

// Publish 路由并投递消息.
func (c *Conn) Publish(ctx context.Context, exchangeName, routingKey string, msg messaging.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.closed {
		return messaging.ErrClientClosed
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	return s.route(exchangeName, routingKey, msg)
}

// Consume 开始消费队列.
func (c *Conn) Consume(ctx context.Context, name string, opts messaging.ConsumeOptions) (<-chan *messaging.Delivery, error) {
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.closed {
		return nil, messaging.ErrClientClosed
	}

	q, ok := s.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", messaging.ErrQueueNotFound, name)
	}
	if q.def.Exclusive && q.owner != c {
		return nil, fmt.Errorf("%w: %s", messaging.ErrExclusiveQueue, name)
	}

	tag := opts.Tag
	if tag == "" {
		tag = "ctag-" + uuid.NewString()
	}

	cons := &consumer{
		conn:     c,
		q:        q,
		tag:      tag,
		prefetch: opts.Prefetch,
		autoAck:  opts.AutoAck,
		unacked:  make(map[uint64]*envelope),
		out:      make(chan *messaging.Delivery),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	c.consumers = append(c.consumers, cons)
	q.consumers = append(q.consumers, cons)
	q.attached = append(q.attached, cons)

	go cons.loop()
	go cons.watch(ctx)

	s.dispatch(q)
	return cons.out, nil
}

// Close 关闭连接.
//
// 未确认的消息重新入队，独占队列被删除，所有消费 channel 关闭.
func (c *Conn) Close() error {
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	touched := make(map[*queue]bool)
	for _, cons := range c.consumers {
		cons.stopLocked()
		cons.requeueLocked(nil, true)
		touched[cons.q] = true
	}

	for _, q := range s.queues {
		if q.owner == c || (touched[q] && q.def.AutoDelete && len(q.consumers) == 0) {
			s.deleteQueue(q)
			delete(touched, q)
		}
	}

	for q := range touched {
		if _, alive := s.queues[q.def.Name]; alive {
			s.dispatch(q)
		}
	}
	return nil
}
