package subscriber

import (
	"context"
	"fmt"

	"github.com/Tsukikage7/orderflow/domain"
	"github.com/Tsukikage7/orderflow/logger"
	"github.com/Tsukikage7/orderflow/messaging"
)

// Notifier 客户通知发送者.
type Notifier interface {
	Notify(ctx context.Context, orderID, message string) error
}

// NotifierFunc 函数形式的通知发送者.
type NotifierFunc func(ctx context.Context, orderID, message string) error

// Notify 实现 Notifier.
func (f NotifierFunc) Notify(ctx context.Context, orderID, message string) error {
	return f(ctx, orderID, message)
}

// LogNotifier 将通知写入日志.
func LogNotifier(log logger.Logger) Notifier {
	return NotifierFunc(func(ctx context.Context, orderID, message string) error {
		log.WithContext(ctx).With(logger.String("order_id", orderID)).Info("[notification] " + message)
		return nil
	})
}

// RenderNotification 生成事件对应的客户通知文本.
func RenderNotification(e domain.Event) (string, bool) {
	switch e.EventType {
	case domain.EventOrderCreated:
		return fmt.Sprintf("Your order %s has been received!", e.OrderID), true
	case domain.EventOrderProcessing:
		return fmt.Sprintf("Your order %s is being processed.", e.OrderID), true
	case domain.EventOrderCompleted:
		return fmt.Sprintf("Your order %s is complete!", e.OrderID), true
	case domain.EventOrderFailed:
		return fmt.Sprintf("Issue with order %s. Customer service will contact you.", e.OrderID), true
	}
	return "", false
}

// NotificationHandler 通知订阅者的处理器.
type NotificationHandler struct {
	notifier Notifier
	log      logger.Logger
}

// NewNotificationHandler 创建通知处理器，notifier 为空时写日志.
func NewNotificationHandler(notifier Notifier, log logger.Logger) *NotificationHandler {
	if log == nil {
		log = logger.Nop()
	}
	if notifier == nil {
		notifier = LogNotifier(log)
	}
	return &NotificationHandler{notifier: notifier, log: log}
}

// Handle 实现 worker.Handler.
func (h *NotificationHandler) Handle(ctx context.Context, d *messaging.Delivery) error {
	event, err := domain.DecodeEvent(d.Body)
	if err != nil {
		return err
	}

	msg, ok := RenderNotification(event)
	if !ok {
		h.log.Debugf("[notification] 忽略事件: %s", event.EventType)
		return nil
	}
	if err := h.notifier.Notify(ctx, event.OrderID, msg); err != nil {
		return fmt.Errorf("发送通知 %s 失败: %w", event.OrderID, err)
	}
	return nil
}
