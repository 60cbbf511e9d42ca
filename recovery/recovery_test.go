package recovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Tsukikage7/orderflow/logger"
)

func TestRun_NoPanic(t *testing.T) {
	sentinel := errors.New("boom")

	assert.NoError(t, Run(context.Background(), func() error { return nil }))
	assert.ErrorIs(t, Run(context.Background(), func() error { return sentinel }), sentinel)
}

func TestRun_PanicBecomesError(t *testing.T) {
	err := Run(context.Background(), func() error {
		panic("bad order")
	})

	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "bad order", pe.Value)
	assert.NotEmpty(t, pe.Stack)
	assert.Equal(t, "panic: bad order", err.Error())
}

func TestRun_PanicWithError(t *testing.T) {
	cause := errors.New("nil inventory")

	err := Run(context.Background(), func() error {
		panic(cause)
	})

	assert.ErrorIs(t, err, cause)
}

func TestRecoverer_LogsAndCounts(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	var counted []string

	r := New(
		WithLogger(logger.FromZap(zap.New(core))),
		WithOnPanic(func(component string) { counted = append(counted, component) }),
		WithStackSize(1024),
	)

	err := r.Run(context.Background(), "orders.express", func() error {
		var m map[string]int
		m["x"]++
		return nil
	})

	require.Error(t, err)
	assert.Equal(t, []string{"orders.express"}, counted)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "[recovery] panic recovered", logs.All()[0].Message)
}

func TestRecoverer_CustomHandler(t *testing.T) {
	replaced := errors.New("handled")

	r := New(WithHandler(func(_ context.Context, p any, _ []byte) error {
		return replaced
	}))

	err := r.Run(context.Background(), "q", func() error { panic(1) })
	assert.Equal(t, replaced, err)
}
