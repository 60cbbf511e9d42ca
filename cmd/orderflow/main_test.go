package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tsukikage7/orderflow/config"
	"github.com/Tsukikage7/orderflow/domain"
	"github.com/Tsukikage7/orderflow/messaging/memory"
	"github.com/Tsukikage7/orderflow/topology"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("", config.WithoutEnv())
	require.NoError(t, err)
	cfg.Logger.Level = "error"
	cfg.Worker.MinProcessing = time.Millisecond
	cfg.Worker.MaxProcessing = time.Millisecond
	cfg.RPC.Timeout = 200 * time.Millisecond
	return cfg
}

func TestRunOneShotCommandsInMemory(t *testing.T) {
	cfg := testConfig(t)

	assert.NoError(t, run(cfg, true, []string{"setup"}))
	assert.NoError(t, run(cfg, true, []string{"produce"}))
}

func TestRunUsageErrors(t *testing.T) {
	cfg := testConfig(t)

	assert.ErrorIs(t, run(cfg, true, []string{"bogus"}), errUsage)
	assert.ErrorIs(t, run(cfg, true, []string{"worker"}), errUsage)
	assert.ErrorIs(t, run(cfg, true, []string{"rpc-call"}), errUsage)
	assert.ErrorIs(t, run(cfg, true, []string{"rpc-call", "PROD-A", "many"}), errUsage)
	assert.ErrorIs(t, run(cfg, true, []string{"worker", "overnight"}), domain.ErrInvalidOrderType)
}

func TestProduceRoutesSampleOrders(t *testing.T) {
	cfg := testConfig(t)
	srv := memory.NewServer()

	e, err := newEnv(context.Background(), cfg, true)
	require.NoError(t, err)
	require.NoError(t, e.broker.Close())
	e.broker = srv.Connect()

	ctx := context.Background()
	require.NoError(t, e.oneShot(ctx, func() error { return produce(ctx, e) }))

	samples := domain.SampleOrders()
	counts := make(map[string]int)
	for _, o := range samples {
		route, err := e.topo.OrderRoute(o.OrderType)
		require.NoError(t, err)
		counts[route.Queue]++
	}
	for queue, want := range counts {
		ready, _, err := srv.Stats(queue)
		require.NoError(t, err)
		assert.Equal(t, want, ready, queue)
	}

	ready, _, err := srv.Stats(topology.QueueLogs)
	require.NoError(t, err)
	assert.Equal(t, len(samples), ready)
}
