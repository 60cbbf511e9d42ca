// Package subscriber 实现订单事件的广播订阅者与主题订阅者.
//
// 广播订阅者 (通知、分析) 各自持有绑定到 events.fanout 的队列，
// 每个订阅者收到每条事件的独立副本. 日志订阅者绑定到 logs.topic，
// 按主题模式接收路由键.
//
// 订阅者的处理器运行在 worker 消费循环中，与订单处理共享
// 确认语义: 成功确认，失败否定确认且不重新入队.
//
// 示例:
//
//	notifications := subscriber.NewNotificationSubscriber(broker,
//	    subscriber.NewNotificationHandler(subscriber.LogNotifier(log), log),
//	    worker.WithLogger(log),
//	)
//	go notifications.Run(ctx)
package subscriber

import (
	"github.com/Tsukikage7/orderflow/messaging"
	"github.com/Tsukikage7/orderflow/topology"
	"github.com/Tsukikage7/orderflow/worker"
)

// 订阅者名称.
const (
	NameNotification = "notification"
	NameAnalytics    = "analytics"
	NameLogs         = "logs"
)

// NewNotificationSubscriber 创建消费 notifications 队列的订阅者.
func NewNotificationSubscriber(broker messaging.Broker, h *NotificationHandler, opts ...worker.Option) *worker.Worker {
	return newSubscriber(broker, topology.QueueNotifications, NameNotification, h, opts)
}

// NewAnalyticsSubscriber 创建消费 analytics 队列的订阅者.
func NewAnalyticsSubscriber(broker messaging.Broker, h *AnalyticsHandler, opts ...worker.Option) *worker.Worker {
	return newSubscriber(broker, topology.QueueAnalytics, NameAnalytics, h, opts)
}

// NewLogSubscriber 创建消费 logs.all 队列的订阅者.
func NewLogSubscriber(broker messaging.Broker, h *LogHandler, opts ...worker.Option) *worker.Worker {
	return newSubscriber(broker, topology.QueueLogs, NameLogs, h, opts)
}

func newSubscriber(broker messaging.Broker, queue, name string, h worker.Handler, opts []worker.Option) *worker.Worker {
	opts = append([]worker.Option{worker.WithName(name)}, opts...)
	return worker.New(broker, queue, h, opts...)
}
