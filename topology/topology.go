// Package topology 定义订单流转所需的交换机、队列与绑定.
//
// 提供两种可选方案:
//   - per-type: 每种订单类型一个队列，路由键 order.<type>
//   - shared: 所有订单进入同一个 orders 队列，路由键 order
//
// 两种方案共享事件广播 (events.fanout)、日志主题 (logs.topic)、
// 死信 (orders.dlx -> orders.failed) 与库存 RPC 队列.
package topology

import (
	"fmt"
	"time"

	"github.com/Tsukikage7/orderflow/domain"
	"github.com/Tsukikage7/orderflow/messaging"
)

// 交换机名称.
const (
	ExchangeOrders     = "orders.direct"
	ExchangeDeadLetter = "orders.dlx"
	ExchangeEvents     = "events.fanout"
	ExchangeLogs       = "logs.topic"
)

// 队列名称.
const (
	QueueFailed        = "orders.failed"
	QueueShared        = "orders"
	QueueNotifications = "notifications"
	QueueAnalytics     = "analytics"
	QueueLogs          = "logs.all"
	QueueInventoryRPC  = "rpc.inventory"
)

// LogPattern 日志队列默认绑定的主题模式.
const LogPattern = "order.#"

// 方案名称.
const (
	VariantPerType = "per-type"
	VariantShared  = "shared"
)

// Route 订单的发布路由.
type Route struct {
	Exchange   string
	RoutingKey string
	Queue      string
}

// Topology 一套完整的拓扑定义.
type Topology struct {
	Name      string
	Exchanges []messaging.Exchange
	Queues    []messaging.Queue
	Bindings  []messaging.Binding

	routes map[domain.OrderType]Route
}

// Option 拓扑配置选项.
type Option func(*options)

type options struct {
	messageTTL time.Duration
	logPattern string
}

// WithMessageTTL 为订单队列设置消息 TTL，过期消息进入死信.
func WithMessageTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.messageTTL = ttl
	}
}

// WithLogPattern 设置日志队列的绑定模式.
func WithLogPattern(pattern string) Option {
	return func(o *options) {
		if pattern != "" {
			o.logPattern = pattern
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logPattern: LogPattern}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// PerTypeTopology 每种订单类型独立队列的方案.
func PerTypeTopology(opts ...Option) *Topology {
	o := buildOptions(opts)

	t := &Topology{
		Name:   VariantPerType,
		routes: make(map[domain.OrderType]Route),
	}
	t.addDeadLetter()

	t.Exchanges = append(t.Exchanges, messaging.Exchange{Name: ExchangeOrders, Kind: messaging.KindDirect, Durable: true})
	for _, ot := range domain.OrderTypes() {
		route := Route{
			Exchange:   ExchangeOrders,
			RoutingKey: "order." + string(ot),
			Queue:      "orders." + string(ot),
		}
		t.Queues = append(t.Queues, orderQueue(route.Queue, o))
		t.Bindings = append(t.Bindings, messaging.Binding{Queue: route.Queue, Exchange: ExchangeOrders, Pattern: route.RoutingKey})
		t.routes[ot] = route
	}

	t.addBroadcast(o)
	t.Queues = append(t.Queues, messaging.Queue{Name: QueueInventoryRPC})
	return t
}

// SharedQueueTopology 所有订单共享一个队列的方案.
func SharedQueueTopology(opts ...Option) *Topology {
	o := buildOptions(opts)

	t := &Topology{
		Name:   VariantShared,
		routes: make(map[domain.OrderType]Route),
	}
	t.addDeadLetter()

	route := Route{Exchange: ExchangeOrders, RoutingKey: "order", Queue: QueueShared}
	t.Exchanges = append(t.Exchanges, messaging.Exchange{Name: ExchangeOrders, Kind: messaging.KindDirect, Durable: true})
	t.Queues = append(t.Queues, orderQueue(QueueShared, o))
	t.Bindings = append(t.Bindings, messaging.Binding{Queue: QueueShared, Exchange: ExchangeOrders, Pattern: route.RoutingKey})
	for _, ot := range domain.OrderTypes() {
		t.routes[ot] = route
	}

	t.addBroadcast(o)
	t.Queues = append(t.Queues, messaging.Queue{Name: QueueInventoryRPC, Durable: true})
	return t
}

// ByName 按名称选择方案.
func ByName(name string, opts ...Option) (*Topology, error) {
	switch name {
	case VariantPerType, "":
		return PerTypeTopology(opts...), nil
	case VariantShared:
		return SharedQueueTopology(opts...), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
}

func orderQueue(name string, o options) messaging.Queue {
	return messaging.Queue{
		Name:               name,
		Durable:            true,
		DeadLetterExchange: ExchangeDeadLetter,
		MessageTTL:         o.messageTTL,
	}
}

func (t *Topology) addDeadLetter() {
	t.Exchanges = append(t.Exchanges, messaging.Exchange{Name: ExchangeDeadLetter, Kind: messaging.KindFanout, Durable: true})
	t.Queues = append(t.Queues, messaging.Queue{Name: QueueFailed, Durable: true})
	t.Bindings = append(t.Bindings, messaging.Binding{Queue: QueueFailed, Exchange: ExchangeDeadLetter})
}

func (t *Topology) addBroadcast(o options) {
	t.Exchanges = append(t.Exchanges,
		messaging.Exchange{Name: ExchangeEvents, Kind: messaging.KindFanout, Durable: true},
		messaging.Exchange{Name: ExchangeLogs, Kind: messaging.KindTopic, Durable: true},
	)
	t.Queues = append(t.Queues,
		messaging.Queue{Name: QueueNotifications, Durable: true},
		messaging.Queue{Name: QueueAnalytics, Durable: true},
		messaging.Queue{Name: QueueLogs, Durable: true},
	)
	t.Bindings = append(t.Bindings,
		messaging.Binding{Queue: QueueNotifications, Exchange: ExchangeEvents},
		messaging.Binding{Queue: QueueAnalytics, Exchange: ExchangeEvents},
		messaging.Binding{Queue: QueueLogs, Exchange: ExchangeLogs, Pattern: o.logPattern},
	)
}

// OrderRoute 返回订单类型的路由键与目标队列.
func (t *Topology) OrderRoute(orderType domain.OrderType) (Route, error) {
	route, ok := t.routes[orderType]
	if !ok {
		return Route{}, fmt.Errorf("%w: %q", ErrNoRoute, string(orderType))
	}
	return route, nil
}

// Queue 按名称查找队列定义.
func (t *Topology) Queue(name string) (messaging.Queue, bool) {
	for _, q := range t.Queues {
		if q.Name == name {
			return q, true
		}
	}
	return messaging.Queue{}, false
}

// Validate 离线检查整套定义: 名称、类型、冲突与依赖顺序.
func (t *Topology) Validate() error {
	reg := newRegistry()

	for _, ex := range t.Exchanges {
		if _, err := reg.checkExchange(ex); err != nil {
			return err
		}
		reg.exchanges[ex.Name] = ex
	}
	for _, q := range t.Queues {
		if _, err := reg.checkQueue(q); err != nil {
			return err
		}
		reg.queues[q.Name] = q
	}
	for _, b := range t.Bindings {
		if _, err := reg.checkBinding(b); err != nil {
			return err
		}
		reg.bindings[b] = struct{}{}
	}
	return nil
}

// QueueNames 返回全部队列名称，按声明顺序排列.
func (t *Topology) QueueNames() []string {
	names := make([]string, 0, len(t.Queues))
	for _, q := range t.Queues {
		names = append(names, q.Name)
	}
	return names
}
