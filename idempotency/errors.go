package idempotency

import "errors"

// 预定义错误.
var (
	// ErrInProgress 同一幂等键正被其他消费者处理.
	ErrInProgress = errors.New("idempotency: 消息正在处理中")

	// ErrStore 幂等存储访问失败.
	ErrStore = errors.New("idempotency: 存储访问失败")
)
