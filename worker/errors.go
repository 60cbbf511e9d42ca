package worker

import (
	"errors"
	"fmt"
)

// 预定义错误.
var (
	// ErrSimulatedFailure 模拟的处理失败.
	ErrSimulatedFailure = errors.New("worker: 模拟处理失败")

	// ErrNilHandler 处理器为空.
	ErrNilHandler = errors.New("worker: 处理器为空")
)

// ProcessingError 单条投递处理失败.
//
// 只在消费循环内部流转，最终转换为不重新入队的否定确认.
type ProcessingError struct {
	Queue       string
	DeliveryTag uint64
	MessageID   string
	Err         error
}

// Error 实现 error 接口.
func (e *ProcessingError) Error() string {
	return fmt.Sprintf("worker: 处理失败 queue=%s tag=%d: %v", e.Queue, e.DeliveryTag, e.Err)
}

// Unwrap 返回原始错误.
func (e *ProcessingError) Unwrap() error {
	return e.Err
}
