package idempotency

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.now = func() time.Time { return now }

	ok, err := store.SetNX(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.SetNX(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "lock held")

	now = now.Add(2 * time.Second)
	ok, err = store.SetNX(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "lock expired")

	require.NoError(t, store.Set(ctx, "k", &Result{Queue: "q", CompletedAt: now}, time.Minute))
	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "q", got.Queue)

	ok, err = store.SetNX(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "completed")

	now = now.Add(time.Hour)
	got, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGuard_ProcessOnce(t *testing.T) {
	ctx := context.Background()
	guard := NewGuard(NewMemoryStore(), WithScope("orders.express"))

	calls := 0
	fn := func() error { calls++; return nil }

	dup, err := guard.Process(ctx, "msg-1", fn)
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = guard.Process(ctx, "msg-1", fn)
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, 1, calls)
}

func TestGuard_ScopesAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	calls := 0
	fn := func() error { calls++; return nil }

	_, err := NewGuard(store, WithScope("notifications")).Process(ctx, "evt-1", fn)
	require.NoError(t, err)
	_, err = NewGuard(store, WithScope("analytics")).Process(ctx, "evt-1", fn)
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
}

func TestGuard_FailureReleasesLock(t *testing.T) {
	ctx := context.Background()
	guard := NewGuard(NewMemoryStore())
	boom := errors.New("boom")

	dup, err := guard.Process(ctx, "msg-1", func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, dup)

	calls := 0
	dup, err = guard.Process(ctx, "msg-1", func() error { calls++; return nil })
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Equal(t, 1, calls)
}

func TestGuard_InProgress(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	guard := NewGuard(store)

	ok, err := store.SetNX(ctx, "msg-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = guard.Process(ctx, "msg-1", func() error {
		t.Fatal("must not run")
		return nil
	})
	assert.ErrorIs(t, err, ErrInProgress)
}

func TestGuard_EmptyKeyAlwaysRuns(t *testing.T) {
	guard := NewGuard(NewMemoryStore())
	calls := 0

	for range 2 {
		dup, err := guard.Process(context.Background(), "", func() error { calls++; return nil })
		require.NoError(t, err)
		assert.False(t, dup)
	}
	assert.Equal(t, 2, calls)
}

type failingStore struct{ err error }

func (f failingStore) Get(context.Context, string) (*Result, error) { return nil, f.err }
func (f failingStore) Set(context.Context, string, *Result, time.Duration) error {
	return f.err
}
func (f failingStore) SetNX(context.Context, string, time.Duration) (bool, error) {
	return false, f.err
}
func (f failingStore) Delete(context.Context, string) error { return f.err }

func TestGuard_StoreErrors(t *testing.T) {
	ctx := context.Background()
	down := failingStore{err: errors.New("connection refused")}

	_, err := NewGuard(down).Process(ctx, "k", func() error { return nil })
	assert.ErrorIs(t, err, ErrStore)

	calls := 0
	_, err = NewGuard(down, WithSkipOnError(true)).Process(ctx, "k", func() error { calls++; return nil })
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestResult_Codec(t *testing.T) {
	r := &Result{Queue: "analytics", CompletedAt: time.Unix(1700000000, 0).UTC()}
	data, err := r.Encode()
	require.NoError(t, err)

	decoded, err := DecodeResult(data)
	require.NoError(t, err)
	assert.Equal(t, r.Queue, decoded.Queue)
	assert.True(t, r.CompletedAt.Equal(decoded.CompletedAt))

	_, err = DecodeResult([]byte("{"))
	assert.Error(t, err)
}

// Redis 集成测试
// 需要设置环境变量 REDIS_ADDR，例如: export REDIS_ADDR=localhost:6379

type RedisStoreTestSuite struct {
	suite.Suite
	client *redis.Client
	store  *RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping integration tests")
	}
	suite.Run(t, &RedisStoreTestSuite{client: redis.NewClient(&redis.Options{Addr: addr})})
}

func (s *RedisStoreTestSuite) SetupTest() {
	s.store = NewRedisStore(s.client, WithKeyPrefix("test:"+uuid.NewString()+":"))
}

func (s *RedisStoreTestSuite) TearDownSuite() {
	s.NoError(s.client.Close())
}

func (s *RedisStoreTestSuite) TestLifecycle() {
	ctx := context.Background()

	got, err := s.store.Get(ctx, "k")
	s.Require().NoError(err)
	s.Nil(got)

	ok, err := s.store.SetNX(ctx, "k", time.Minute)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.store.SetNX(ctx, "k", time.Minute)
	s.Require().NoError(err)
	s.False(ok)

	s.Require().NoError(s.store.Set(ctx, "k", &Result{Queue: "q", CompletedAt: time.Now()}, time.Minute))

	got, err = s.store.Get(ctx, "k")
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal("q", got.Queue)

	s.Require().NoError(s.store.Delete(ctx, "k"))
	ok, err = s.store.SetNX(ctx, "k", time.Minute)
	s.Require().NoError(err)
	s.True(ok)
}

func (s *RedisStoreTestSuite) TestGuard() {
	guard := NewGuard(s.store, WithScope("orders.standard"))
	calls := 0

	for range 2 {
		_, err := guard.Process(context.Background(), "msg", func() error { calls++; return nil })
		s.Require().NoError(err)
	}
	s.Equal(1, calls)
}
