package topology

import (
	"errors"

	"github.com/Tsukikage7/orderflow/messaging"
)

// 预定义错误.
var (
	// ErrTopologyConflict 同名实体以不同属性重复声明.
	ErrTopologyConflict = messaging.ErrTopologyConflict

	// ErrInvalidKind 不支持的交换机类型.
	ErrInvalidKind = messaging.ErrInvalidKind

	// ErrUndeclaredDeadLetter 队列引用的死信交换机尚未声明.
	ErrUndeclaredDeadLetter = errors.New("topology: 死信交换机未声明")

	// ErrUndeclaredReference 绑定引用的交换机或队列尚未声明.
	ErrUndeclaredReference = errors.New("topology: 绑定引用未声明")

	// ErrUnknownVariant 未知的拓扑方案.
	ErrUnknownVariant = errors.New("topology: 未知的拓扑方案")

	// ErrNoRoute 订单类型没有对应路由.
	ErrNoRoute = errors.New("topology: 订单类型没有路由")
)
