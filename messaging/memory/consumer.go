package memory

import (
	"context"
	"maps"
	"slices"

	"github.com/Tsukikage7/orderflow/messaging"
)

// consumer 队列上的一个消费者.
//
// 已分配未交付的消息在 pending 中，已分配未确认的消息在 unacked 中.
// pending 是 unacked 的子集 (自动确认模式除外).
type consumer struct {
	conn     *Conn
	q        *queue
	tag      string
	prefetch int
	autoAck  bool

	pending []*messaging.Delivery
	unacked map[uint64]*envelope
	stopped bool

	out  chan *messaging.Delivery
	wake chan struct{}
	done chan struct{}
}

func (c *consumer) hasCapacity() bool {
	if c.stopped {
		return false
	}
	return c.autoAck || c.prefetch <= 0 || len(c.unacked) < c.prefetch
}

// assign 分配消息，调用方需持有 s.mu.
func (c *consumer) assign(env *envelope) {
	c.conn.nextTag++
	tag := c.conn.nextTag

	var acker messaging.Acknowledger
	if !c.autoAck {
		acker = c
		c.unacked[tag] = env
	}

	msg := env.msg
	if msg.Headers != nil {
		msg.Headers = maps.Clone(msg.Headers)
	}
	d := messaging.NewDelivery(acker, tag, msg)
	d.Exchange = env.exchange
	d.RoutingKey = env.routingKey
	d.ConsumerTag = c.tag
	d.Redelivered = env.redelivered

	c.pending = append(c.pending, d)
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// loop 把分配的消息交给调用方，停止后归还未交付的消息.
func (c *consumer) loop() {
	defer close(c.out)

	s := c.conn.srv
	for {
		s.mu.Lock()
		var d *messaging.Delivery
		if !c.stopped && len(c.pending) > 0 {
			d = c.pending[0]
			c.pending = c.pending[1:]
		}
		s.mu.Unlock()

		if d == nil {
			select {
			case <-c.wake:
				continue
			case <-c.done:
				c.exit(nil)
				return
			}
		}

		select {
		case c.out <- d:
		case <-c.done:
			c.exit(d)
			return
		}
	}
}

func (c *consumer) exit(held *messaging.Delivery) {
	s := c.conn.srv
	s.mu.Lock()
	defer s.mu.Unlock()

	tags := make([]uint64, 0, len(c.pending)+1)
	if held != nil {
		tags = append(tags, held.DeliveryTag)
	}
	for _, d := range c.pending {
		tags = append(tags, d.DeliveryTag)
	}
	c.pending = nil

	c.requeueLocked(tags, false)
	if _, alive := s.queues[c.q.def.Name]; alive {
		s.dispatch(c.q)
	}
}

// watch 在 ctx 取消时注销消费者.
func (c *consumer) watch(ctx context.Context) {
	select {
	case <-ctx.Done():
		c.cancel()
	case <-c.done:
	}
}

func (c *consumer) cancel() {
	s := c.conn.srv
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.stopped {
		return
	}
	c.stopLocked()

	if c.q.def.AutoDelete && len(c.q.consumers) == 0 {
		if current, ok := s.queues[c.q.def.Name]; ok && current == c.q {
			s.deleteQueue(c.q)
		}
	}
}

// stopLocked 从队列移除消费者并通知 loop 退出，调用方需持有 s.mu.
func (c *consumer) stopLocked() {
	if c.stopped {
		return
	}
	c.stopped = true

	q := c.q
	if idx := slices.Index(q.consumers, c); idx >= 0 {
		q.consumers = slices.Delete(q.consumers, idx, idx+1)
		if q.cursor > idx {
			q.cursor--
		}
		if len(q.consumers) == 0 || q.cursor >= len(q.consumers) {
			q.cursor = 0
		}
	}
	close(c.done)
}

// requeueLocked 将未确认消息放回队首并标记为重投.
//
// all 为 true 时归还全部未确认消息，否则只归还 tags 中仍未确认的消息.
func (c *consumer) requeueLocked(tags []uint64, all bool) {
	if all {
		tags = slices.Sorted(maps.Keys(c.unacked))
		c.pending = nil
	}

	envs := make([]*envelope, 0, len(tags))
	for _, tag := range tags {
		env, ok := c.unacked[tag]
		if !ok {
			continue
		}
		delete(c.unacked, tag)
		env.redelivered = true
		envs = append(envs, env)
	}
	if len(envs) > 0 {
		c.q.ready = append(envs, c.q.ready...)
	}
}

// Ack 确认消息.
func (c *consumer) Ack(tag uint64) error {
	s := c.conn.srv
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.conn.closed {
		return messaging.ErrChannelClosed
	}
	if _, ok := c.unacked[tag]; !ok {
		return messaging.ErrUnknownDeliveryTag
	}
	delete(c.unacked, tag)

	s.dispatch(c.q)
	return nil
}

// Nack 否定确认，requeue 为 false 时转入死信.
func (c *consumer) Nack(tag uint64, requeue bool) error {
	s := c.conn.srv
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.conn.closed {
		return messaging.ErrChannelClosed
	}
	env, ok := c.unacked[tag]
	if !ok {
		return messaging.ErrUnknownDeliveryTag
	}
	delete(c.unacked, tag)

	if requeue {
		env.redelivered = true
		c.q.ready = append([]*envelope{env}, c.q.ready...)
	} else {
		s.deadLetter(c.q, env, "rejected")
	}

	s.dispatch(c.q)
	return nil
}
