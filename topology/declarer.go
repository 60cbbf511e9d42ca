package topology

import (
	"context"
	"sync"

	"github.com/Tsukikage7/orderflow/logger"
	"github.com/Tsukikage7/orderflow/messaging"
)

// Declarer 幂等地向代理声明拓扑.
//
// 本地登记已声明的实体: 重复的相同声明直接返回，属性冲突在发往代理之前
// 即返回 ErrTopologyConflict. 代理侧的冲突 (例如其他进程先行声明) 由
// messaging 映射为同一个错误.
type Declarer struct {
	broker messaging.Broker
	log    logger.Logger

	mu  sync.Mutex
	reg *registry
}

// DeclarerOption 声明器配置选项.
type DeclarerOption func(*Declarer)

// WithLogger 设置日志记录器.
func WithLogger(log logger.Logger) DeclarerOption {
	return func(d *Declarer) {
		d.log = log
	}
}

// NewDeclarer 创建声明器.
func NewDeclarer(broker messaging.Broker, opts ...DeclarerOption) *Declarer {
	d := &Declarer{
		broker: broker,
		log:    logger.Nop(),
		reg:    newRegistry(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DeclareExchange 声明交换机.
func (d *Declarer) DeclareExchange(ctx context.Context, ex messaging.Exchange) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	exists, err := d.reg.checkExchange(ex)
	if err != nil || exists {
		return err
	}
	if err := d.broker.DeclareExchange(ctx, ex); err != nil {
		return err
	}
	d.reg.exchanges[ex.Name] = ex
	d.log.Debugf("[topology] 交换机已声明: %s (%s)", ex.Name, ex.Kind)
	return nil
}

// DeclareQueue 声明队列，死信交换机必须先声明.
func (d *Declarer) DeclareQueue(ctx context.Context, q messaging.Queue) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	exists, err := d.reg.checkQueue(q)
	if err != nil || exists {
		return err
	}
	if err := d.broker.DeclareQueue(ctx, q); err != nil {
		return err
	}
	d.reg.queues[q.Name] = q
	d.log.Debugf("[topology] 队列已声明: %s", q.Name)
	return nil
}

// Bind 绑定队列到交换机，两端都必须先声明.
func (d *Declarer) Bind(ctx context.Context, b messaging.Binding) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	exists, err := d.reg.checkBinding(b)
	if err != nil || exists {
		return err
	}
	if err := d.broker.Bind(ctx, b); err != nil {
		return err
	}
	d.reg.bindings[b] = struct{}{}
	d.log.Debugf("[topology] 绑定已建立: %s -> %s (%q)", b.Exchange, b.Queue, b.Pattern)
	return nil
}

// Apply 按依赖顺序声明整套拓扑: 交换机、队列、绑定.
func (d *Declarer) Apply(ctx context.Context, t *Topology) error {
	for _, ex := range t.Exchanges {
		if err := d.DeclareExchange(ctx, ex); err != nil {
			return err
		}
	}
	for _, q := range t.Queues {
		if err := d.DeclareQueue(ctx, q); err != nil {
			return err
		}
	}
	for _, b := range t.Bindings {
		if err := d.Bind(ctx, b); err != nil {
			return err
		}
	}

	d.log.Infof("[topology] 拓扑 %s 已就绪: %d 个交换机, %d 个队列, %d 个绑定",
		t.Name, len(t.Exchanges), len(t.Queues), len(t.Bindings))
	return nil
}
