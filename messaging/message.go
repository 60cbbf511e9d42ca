package messaging

import (
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ContentTypeJSON JSON 内容类型.
const ContentTypeJSON = "application/json"

// HeaderDeath 死信记录头，格式与 RabbitMQ 一致.
const HeaderDeath = "x-death"

// Message 消息信封.
//
// Body 的序列化由调用方控制.
type Message struct {
	Body        []byte
	ContentType string

	// Persistent 请求代理持久化消息，不代表投递确认.
	Persistent bool

	CorrelationID string
	ReplyTo       string
	MessageID     string
	Timestamp     time.Time
	Headers       map[string]any
}

// Acknowledger 由代理实现的确认器.
type Acknowledger interface {
	Ack(tag uint64) error
	Nack(tag uint64, requeue bool) error
}

// Delivery 代理投递给消费者的消息.
//
// 每个 Delivery 只能被 Ack 或 Nack 一次.
type Delivery struct {
	Message

	Exchange    string
	RoutingKey  string
	ConsumerTag string
	DeliveryTag uint64
	Redelivered bool

	acker    Acknowledger
	resolved atomic.Bool
}

// NewDelivery 创建投递，acker 为 nil 表示自动确认.
func NewDelivery(acker Acknowledger, tag uint64, msg Message) *Delivery {
	return &Delivery{
		Message:     msg,
		DeliveryTag: tag,
		acker:       acker,
	}
}

// Ack 确认消息，代理将其从队列移除.
func (d *Delivery) Ack() error {
	if d.resolved.Swap(true) {
		return ErrAlreadyResolved
	}
	if d.acker == nil {
		return nil
	}
	return d.acker.Ack(d.DeliveryTag)
}

// Nack 否定确认.
//
// requeue 为 false 时，配置了死信交换机的队列会把消息转发到死信交换机.
func (d *Delivery) Nack(requeue bool) error {
	if d.resolved.Swap(true) {
		return ErrAlreadyResolved
	}
	if d.acker == nil {
		return nil
	}
	return d.acker.Nack(d.DeliveryTag, requeue)
}

// Resolved 判断消息是否已被确认或否定确认.
func (d *Delivery) Resolved() bool {
	return d.resolved.Load()
}

// DeathCount 返回消息被死信转发的累计次数.
func DeathCount(headers map[string]any) int64 {
	deaths, ok := headers[HeaderDeath].([]any)
	if !ok {
		return 0
	}

	var total int64
	for _, entry := range deaths {
		var table map[string]any
		switch v := entry.(type) {
		case amqp.Table:
			table = v
		case map[string]any:
			table = v
		default:
			continue
		}
		switch n := table["count"].(type) {
		case int64:
			total += n
		case int32:
			total += int64(n)
		case int:
			total += int64(n)
		}
	}
	return total
}
