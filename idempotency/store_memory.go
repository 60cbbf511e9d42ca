package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore 基于内存的幂等性存储.
//
// 适用于单进程部署或测试，过期条目在访问时惰性清理.
type MemoryStore struct {
	mu    sync.Mutex
	data  map[string]memoryEntry
	locks map[string]time.Time
	now   func() time.Time
}

type memoryEntry struct {
	result    *Result
	expiresAt time.Time
}

// NewMemoryStore 创建内存存储.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:  make(map[string]memoryEntry),
		locks: make(map[string]time.Time),
		now:   time.Now,
	}
}

// Get 获取完成记录.
func (s *MemoryStore) Get(_ context.Context, key string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.data, key)
		return nil, nil
	}
	return entry.result, nil
}

// Set 写入完成记录并释放处理锁.
func (s *MemoryStore) Set(_ context.Context, key string, result *Result, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = memoryEntry{result: result, expiresAt: s.now().Add(ttl)}
	delete(s.locks, key)
	return nil
}

// SetNX 获取处理锁.
func (s *MemoryStore) SetNX(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if entry, ok := s.data[key]; ok && now.Before(entry.expiresAt) {
		return false, nil
	}
	if until, ok := s.locks[key]; ok && now.Before(until) {
		return false, nil
	}

	s.locks[key] = now.Add(ttl)
	return true, nil
}

// Delete 删除完成记录与处理锁.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	delete(s.locks, key)
	return nil
}
