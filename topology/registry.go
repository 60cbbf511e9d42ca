package topology

import (
	"fmt"

	"github.com/Tsukikage7/orderflow/messaging"
)

// registry 记录已声明的实体，用于本地冲突与依赖检查.
type registry struct {
	exchanges map[string]messaging.Exchange
	queues    map[string]messaging.Queue
	bindings  map[messaging.Binding]struct{}
}

func newRegistry() *registry {
	return &registry{
		exchanges: make(map[string]messaging.Exchange),
		queues:    make(map[string]messaging.Queue),
		bindings:  make(map[messaging.Binding]struct{}),
	}
}

// checkExchange 返回 (已存在, 错误).
func (r *registry) checkExchange(ex messaging.Exchange) (bool, error) {
	if ex.Name == "" {
		return false, messaging.ErrEmptyName
	}
	if !ex.Kind.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidKind, ex.Kind)
	}
	existing, ok := r.exchanges[ex.Name]
	if !ok {
		return false, nil
	}
	if existing != ex {
		return true, fmt.Errorf("%w: exchange %s (%s, durable=%t) redeclared as (%s, durable=%t)",
			ErrTopologyConflict, ex.Name, existing.Kind, existing.Durable, ex.Kind, ex.Durable)
	}
	return true, nil
}

func (r *registry) checkQueue(q messaging.Queue) (bool, error) {
	if q.Name == "" {
		return false, messaging.ErrEmptyName
	}
	if q.DeadLetterExchange != "" {
		if _, ok := r.exchanges[q.DeadLetterExchange]; !ok {
			return false, fmt.Errorf("%w: queue %s references %s", ErrUndeclaredDeadLetter, q.Name, q.DeadLetterExchange)
		}
	}
	existing, ok := r.queues[q.Name]
	if !ok {
		return false, nil
	}
	if existing != q {
		return true, fmt.Errorf("%w: queue %s declared as %+v, got %+v", ErrTopologyConflict, q.Name, existing, q)
	}
	return true, nil
}

func (r *registry) checkBinding(b messaging.Binding) (bool, error) {
	if _, ok := r.exchanges[b.Exchange]; !ok {
		return false, fmt.Errorf("%w: exchange %s", ErrUndeclaredReference, b.Exchange)
	}
	if _, ok := r.queues[b.Queue]; !ok {
		return false, fmt.Errorf("%w: queue %s", ErrUndeclaredReference, b.Queue)
	}
	_, ok := r.bindings[b]
	return ok, nil
}
