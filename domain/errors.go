package domain

import "errors"

// 预定义错误.
var (
	// ErrInvalidOrderType 未知的订单类型.
	ErrInvalidOrderType = errors.New("domain: 未知的订单类型")

	// ErrInvalidEventType 未知的事件类型.
	ErrInvalidEventType = errors.New("domain: 未知的事件类型")

	// ErrInvalidOrder 订单字段不合法.
	ErrInvalidOrder = errors.New("domain: 订单不合法")

	// ErrInvalidRequest 库存请求不合法.
	ErrInvalidRequest = errors.New("domain: 库存请求不合法")

	// ErrDecode 消息体解码失败.
	ErrDecode = errors.New("domain: 消息解码失败")
)
