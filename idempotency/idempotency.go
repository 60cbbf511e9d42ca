// Package idempotency 保证同一条消息的处理至多完成一次.
//
// 至少一次投递意味着同一条消息可能因连接中断等原因被重投.
// 消费者以消息 ID 为幂等键，在处理前获取处理锁，成功后记录结果;
// 已完成的消息再次到达时直接确认，不再重复处理.
//
// 基本用法:
//
//	guard := idempotency.NewGuard(idempotency.NewRedisStore(client))
//	dup, err := guard.Process(ctx, delivery.MessageID, func() error {
//	    return handle(ctx, delivery)
//	})
package idempotency

import (
	"context"
	"encoding/json"
	"time"
)

// DefaultTTL 默认的完成记录保留时间.
const DefaultTTL = 24 * time.Hour

// DefaultLockTimeout 默认的处理锁超时时间.
const DefaultLockTimeout = 30 * time.Second

// Result 已完成处理的记录.
type Result struct {
	// Queue 处理该消息的队列
	Queue string `json:"queue,omitempty"`

	// Error 处理失败时的错误信息
	Error string `json:"error,omitempty"`

	// CompletedAt 完成时间
	CompletedAt time.Time `json:"completed_at"`
}

// Encode 将 Result 编码为字节数组.
func (r *Result) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeResult 从字节数组解码 Result.
func DecodeResult(data []byte) (*Result, error) {
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Store 幂等性存储接口.
type Store interface {
	// Get 获取幂等键对应的完成记录.
	// 如果键不存在，返回 nil, nil.
	Get(ctx context.Context, key string) (*Result, error)

	// Set 写入完成记录并释放处理锁.
	Set(ctx context.Context, key string, result *Result, ttl time.Duration) error

	// SetNX 获取处理锁.
	// 返回 false 表示已有完成记录或其他消费者正在处理.
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Delete 删除完成记录与处理锁.
	Delete(ctx context.Context, key string) error
}
