package messaging

import "errors"

// 预定义错误.
//
// 所有错误均可通过 errors.Is 进行判断:
//
//	if errors.Is(err, messaging.ErrTopologyConflict) {
//	    // 已存在同名但属性不同的交换机或队列
//	}
var (
	// ErrTopologyConflict 重复声明的属性与已有定义冲突.
	ErrTopologyConflict = errors.New("messaging: 拓扑声明冲突")

	// ErrConnectionLost 连接或通道意外断开.
	ErrConnectionLost = errors.New("messaging: 连接已断开")

	// ErrClientClosed 客户端已关闭.
	ErrClientClosed = errors.New("messaging: 客户端已关闭")

	// ErrChannelClosed 通道已关闭.
	ErrChannelClosed = errors.New("messaging: 通道已关闭")

	// ErrExchangeNotFound 交换机不存在.
	ErrExchangeNotFound = errors.New("messaging: 交换机不存在")

	// ErrQueueNotFound 队列不存在.
	ErrQueueNotFound = errors.New("messaging: 队列不存在")

	// ErrExclusiveQueue 独占队列只能由声明它的连接访问.
	ErrExclusiveQueue = errors.New("messaging: 独占队列被其他连接占用")

	// ErrInvalidKind 不支持的交换机类型.
	ErrInvalidKind = errors.New("messaging: 不支持的交换机类型")

	// ErrEmptyName 名称为空.
	ErrEmptyName = errors.New("messaging: 名称为空")

	// ErrAlreadyResolved 消息已被确认或否定确认.
	ErrAlreadyResolved = errors.New("messaging: 消息已处理")

	// ErrUnknownDeliveryTag 未知的投递标签.
	ErrUnknownDeliveryTag = errors.New("messaging: 未知的投递标签")

	// ErrPublishNacked 代理拒绝了发布确认.
	ErrPublishNacked = errors.New("messaging: 发布未被确认")

	// ErrSendMessage 消息发送失败.
	ErrSendMessage = errors.New("messaging: 消息发送失败")

	// ErrCreateClient 创建客户端失败.
	ErrCreateClient = errors.New("messaging: 创建客户端失败")

	// ErrNoURL 未配置连接地址.
	ErrNoURL = errors.New("messaging: 未配置连接地址")
)
