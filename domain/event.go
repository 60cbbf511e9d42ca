package domain

import "fmt"

// EventType 订单事件类型.
type EventType string

const (
	EventOrderCreated    EventType = "order.created"
	EventOrderProcessing EventType = "order.processing"
	EventOrderCompleted  EventType = "order.completed"
	EventOrderFailed     EventType = "order.failed"
)

// 事件元数据键.
const (
	MetaWorkerID       = "worker_id"
	MetaProcessingTime = "processing_time"
	MetaProductID      = "product_id"
	MetaQuantity       = "quantity"
)

// Valid 判断事件类型是否已知.
func (t EventType) Valid() bool {
	switch t {
	case EventOrderCreated, EventOrderProcessing, EventOrderCompleted, EventOrderFailed:
		return true
	}
	return false
}

func (t EventType) String() string { return string(t) }

// ParseEventType 解析事件类型.
func ParseEventType(s string) (EventType, error) {
	t := EventType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidEventType, s)
	}
	return t, nil
}

// MarshalText 实现 encoding.TextMarshaler.
func (t EventType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEventType, string(t))
	}
	return []byte(t), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler.
func (t *EventType) UnmarshalText(b []byte) error {
	parsed, err := ParseEventType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Event 订单生命周期事件.
type Event struct {
	EventType EventType      `json:"event_type"`
	OrderID   string         `json:"order_id"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewEvent 创建事件.
func NewEvent(eventType EventType, orderID, message string, metadata map[string]any) Event {
	return Event{
		EventType: eventType,
		OrderID:   orderID,
		Message:   message,
		Metadata:  metadata,
	}
}

// CreatedEvent 生成订单创建事件，元数据带商品与数量.
func CreatedEvent(o Order) Event {
	return NewEvent(EventOrderCreated, o.OrderID,
		fmt.Sprintf("Order created for customer %s", o.CustomerID),
		map[string]any{MetaProductID: o.ProductID, MetaQuantity: o.Quantity})
}

// WorkerID 返回元数据中的 worker_id.
func (e Event) WorkerID() (string, bool) {
	id, ok := e.Metadata[MetaWorkerID].(string)
	return id, ok && id != ""
}

// ProcessingTime 返回元数据中的处理耗时 (秒).
func (e Event) ProcessingTime() (float64, bool) {
	switch v := e.Metadata[MetaProcessingTime].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

// LogRoutingKey 构造日志路由键 <event-type>.<order-type>.
func LogRoutingKey(eventType EventType, orderType OrderType) string {
	return string(eventType) + "." + string(orderType)
}
