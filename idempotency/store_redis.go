package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore 基于 Redis 的幂等性存储.
//
// 多个消费进程共享判重状态，适用于分布式部署.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// RedisStoreOption Redis 存储配置选项.
type RedisStoreOption func(*RedisStore)

// WithKeyPrefix 设置键前缀.
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		s.keyPrefix = prefix
	}
}

// NewRedisStore 创建 Redis 存储.
func NewRedisStore(client redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		keyPrefix: "orderflow:idempotency:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) resultKey(key string) string { return s.keyPrefix + key }
func (s *RedisStore) lockKey(key string) string   { return s.keyPrefix + "lock:" + key }

// Get 获取完成记录.
func (s *RedisStore) Get(ctx context.Context, key string) (*Result, error) {
	data, err := s.client.Get(ctx, s.resultKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return DecodeResult(data)
}

// Set 写入完成记录并释放处理锁.
func (s *RedisStore) Set(ctx context.Context, key string, result *Result, ttl time.Duration) error {
	data, err := result.Encode()
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.resultKey(key), data, ttl)
		pipe.Del(ctx, s.lockKey(key))
		return nil
	})
	return err
}

// SetNX 获取处理锁.
func (s *RedisStore) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	exists, err := s.client.Exists(ctx, s.resultKey(key)).Result()
	if err != nil {
		return false, err
	}
	if exists > 0 {
		return false, nil
	}
	return s.client.SetNX(ctx, s.lockKey(key), "1", ttl).Result()
}

// Delete 删除完成记录与处理锁.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.resultKey(key), s.lockKey(key)).Err()
}
