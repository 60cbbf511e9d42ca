package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDo_Success(t *testing.T) {
	callCount := 0

	err := Do(context.Background(), func() error {
		callCount++
		return nil
	}).Run()

	assert.NoError(t, err)
	assert.Equal(t, 1, callCount)
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	callCount := 0

	err := Do(context.Background(), func() error {
		callCount++
		if callCount < 3 {
			return errors.New("连接被拒绝")
		}
		return nil
	}).WithDelay(time.Millisecond).Run()

	assert.NoError(t, err)
	assert.Equal(t, 3, callCount)
}

func TestDo_MaxAttemptsWrapsLastError(t *testing.T) {
	dialErr := errors.New("dial tcp: connection refused")
	callCount := 0

	err := Do(context.Background(), func() error {
		callCount++
		return dialErr
	}).WithMaxAttempts(3).WithDelay(time.Millisecond).Run()

	assert.ErrorIs(t, err, ErrMaxAttempts)
	assert.ErrorIs(t, err, dialErr)
	assert.Equal(t, 3, callCount)
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	callCount := 0
	err := Do(ctx, func() error {
		callCount++
		return nil
	}).Run()

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, callCount)
}

func TestDo_OnRetry(t *testing.T) {
	var attempts []int

	_ = Do(context.Background(), func() error {
		return errors.New("失败")
	}).WithMaxAttempts(3).WithDelay(time.Millisecond).OnRetry(func(attempt int, err error) {
		attempts = append(attempts, attempt)
	}).Run()

	assert.Equal(t, []int{1, 2, 3}, attempts)
}

func TestRetry_Backoff(t *testing.T) {
	r := Do(context.Background(), nil).WithBackoff(2).WithMaxDelay(300 * time.Millisecond)

	assert.Equal(t, 200*time.Millisecond, r.next(100*time.Millisecond))
	assert.Equal(t, 300*time.Millisecond, r.next(200*time.Millisecond))
}

func TestRetry_BackoffIgnoresShrinkingMultiplier(t *testing.T) {
	r := Do(context.Background(), nil).WithBackoff(0.5)

	assert.Equal(t, 100*time.Millisecond, r.next(100*time.Millisecond))
}
