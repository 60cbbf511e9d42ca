package rpc

import (
	"errors"

	"github.com/Tsukikage7/orderflow/messaging"
)

// 预定义错误.
var (
	// ErrRPCTimeout 超时内未收到对应的响应.
	ErrRPCTimeout = errors.New("rpc: 调用超时")

	// ErrClientClosed 客户端已关闭.
	ErrClientClosed = messaging.ErrClientClosed

	// ErrNilInventory 库存服务为空.
	ErrNilInventory = errors.New("rpc: 库存服务为空")
)
