package rpc

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Tsukikage7/orderflow/domain"
	"github.com/Tsukikage7/orderflow/logger"
	"github.com/Tsukikage7/orderflow/messaging"
	"github.com/Tsukikage7/orderflow/messaging/memory"
	"github.com/Tsukikage7/orderflow/metrics"
	"github.com/Tsukikage7/orderflow/topology"
	"github.com/Tsukikage7/orderflow/worker"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type rpcMetrics struct {
	metrics.Collector

	mu       sync.Mutex
	outcomes []string
}

func (m *rpcMetrics) RecordRPC(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *rpcMetrics) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.outcomes...)
}

type RPCTestSuite struct {
	suite.Suite
	ctx     context.Context
	srv     *memory.Server
	conn    *memory.Conn
	cconn   *memory.Conn
	client  *Client
	metrics *rpcMetrics
	log     logger.Logger
	logs    *observer.ObservedLogs
}

func TestRPCSuite(t *testing.T) {
	suite.Run(t, new(RPCTestSuite))
}

func (s *RPCTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.srv = memory.NewServer()
	s.conn = s.srv.Connect()
	s.cconn = s.srv.Connect()
	s.Require().NoError(topology.NewDeclarer(s.conn).Apply(s.ctx, topology.PerTypeTopology()))

	core, logs := observer.New(zap.DebugLevel)
	s.log = logger.FromZap(zap.New(core))
	s.logs = logs
	s.metrics = &rpcMetrics{Collector: metrics.Nop()}

	client, err := NewClient(s.ctx, s.cconn, WithClientLogger(s.log), WithClientMetrics(s.metrics))
	s.Require().NoError(err)
	s.client = client
}

func (s *RPCTestSuite) TearDownTest() {
	s.NoError(s.client.Close())
	s.NoError(s.cconn.Close())
	s.NoError(s.conn.Close())
}

func (s *RPCTestSuite) startServer(inv Inventory) func() {
	server, err := NewServer(s.conn, inv, WithServerLogger(s.log))
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(s.ctx)
	errc := make(chan error, 1)
	go func() { errc <- server.Worker(s.conn, worker.WithLogger(s.log)).Run(ctx) }()
	return func() {
		cancel()
		s.NoError(<-errc)
	}
}

func (s *RPCTestSuite) TestRoundTrip() {
	stop := s.startServer(NewStaticInventory(nil))
	defer stop()

	resp, err := s.client.CheckInventory(s.ctx, "PROD-A", 2, time.Second)
	s.Require().NoError(err)
	s.Equal(domain.InventoryResponse{ProductID: "PROD-A", Quantity: 2, Available: true, StockLevel: DefaultStockLevel}, resp)

	resp, err = s.client.CheckInventory(s.ctx, OutOfStockProduct, 1, time.Second)
	s.Require().NoError(err)
	s.False(resp.Available)
	s.Zero(resp.StockLevel)

	s.Equal([]string{metrics.OutcomeSuccess, metrics.OutcomeSuccess}, s.metrics.snapshot())
}

func (s *RPCTestSuite) TestRequestWithoutQuantity() {
	stop := s.startServer(NewStaticInventory(nil))
	defer stop()

	out, err := s.client.Call(s.ctx, []byte(`{"product_id":"PROD-A"}`), time.Second)
	s.Require().NoError(err)

	resp, err := domain.DecodeInventoryResponse(out)
	s.Require().NoError(err)
	s.Equal("PROD-A", resp.ProductID)
	s.Zero(resp.Quantity)
	s.True(resp.Available)

	resp, err = s.client.CheckInventory(s.ctx, OutOfStockProduct, 0, time.Second)
	s.Require().NoError(err)
	s.False(resp.Available)
}

func (s *RPCTestSuite) TestConcurrentCallsAreCorrelated() {
	stop := s.startServer(NewStaticInventory(map[string]int{"PROD-3": 3}))
	defer stop()

	products := []string{"PROD-1", "PROD-2", "PROD-3", "PROD-4", "PROD-5", "PROD-6"}
	var wg sync.WaitGroup
	results := make([]domain.InventoryResponse, len(products))
	errs := make([]error, len(products))
	for i, p := range products {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = s.client.CheckInventory(s.ctx, p, 1, 2*time.Second)
		}()
	}
	wg.Wait()

	for i, p := range products {
		s.Require().NoError(errs[i])
		s.Equal(p, results[i].ProductID)
	}
	s.Equal(3, results[2].StockLevel)
}

func (s *RPCTestSuite) TestTimeoutWithoutServer() {
	const timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := s.client.CheckInventory(s.ctx, "PROD-A", 1, timeout)
	elapsed := time.Since(start)

	s.ErrorIs(err, ErrRPCTimeout)
	s.GreaterOrEqual(elapsed, timeout)
	s.Less(elapsed, timeout+500*time.Millisecond)
	s.Equal([]string{metrics.OutcomeTimeout}, s.metrics.snapshot())

	depth, err := s.conn.QueueDepth(s.ctx, topology.QueueInventoryRPC)
	s.Require().NoError(err)
	s.Equal(1, depth)
}

func (s *RPCTestSuite) TestLateReplyIsIgnored() {
	_, err := s.client.CheckInventory(s.ctx, "PROD-A", 1, 20*time.Millisecond)
	s.Require().ErrorIs(err, ErrRPCTimeout)

	stop := s.startServer(NewStaticInventory(nil))
	defer stop()

	s.Eventually(func() bool {
		return s.logs.FilterMessageSnippet("忽略未知或已超时的响应").Len() == 1
	}, time.Second, 5*time.Millisecond)

	resp, err := s.client.CheckInventory(s.ctx, "PROD-B", 1, time.Second)
	s.Require().NoError(err)
	s.Equal("PROD-B", resp.ProductID)
}

func (s *RPCTestSuite) TestContextCancelled() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	_, err := s.client.Call(ctx, []byte(`{"product_id":"PROD-A","quantity":1}`), time.Second)
	s.ErrorIs(err, context.Canceled)
}

func (s *RPCTestSuite) TestCloseFailsPendingCalls() {
	errc := make(chan error, 1)
	go func() {
		_, err := s.client.CheckInventory(s.ctx, "PROD-A", 1, 5*time.Second)
		errc <- err
	}()

	s.Eventually(func() bool {
		n, err := s.conn.QueueDepth(s.ctx, topology.QueueInventoryRPC)
		return err == nil && n == 1
	}, time.Second, 5*time.Millisecond)

	s.Require().NoError(s.client.Close())
	s.ErrorIs(<-errc, ErrClientClosed)

	_, err := s.client.Call(s.ctx, nil, time.Second)
	s.ErrorIs(err, ErrClientClosed)

	_, err = s.conn.QueueDepth(s.ctx, s.client.ReplyQueue())
	s.ErrorIs(err, messaging.ErrQueueNotFound)
}

func (s *RPCTestSuite) TestConnectionLostFailsPendingCalls() {
	errc := make(chan error, 1)
	go func() {
		_, err := s.client.CheckInventory(s.ctx, "PROD-A", 1, 5*time.Second)
		errc <- err
	}()

	s.Eventually(func() bool {
		n, err := s.conn.QueueDepth(s.ctx, topology.QueueInventoryRPC)
		return err == nil && n == 1
	}, time.Second, 5*time.Millisecond)

	s.Require().NoError(s.cconn.Close())
	s.ErrorIs(<-errc, messaging.ErrConnectionLost)
}

func (s *RPCTestSuite) TestServerWithoutReplyToStillAcks() {
	stop := s.startServer(NewStaticInventory(nil))
	defer stop()

	s.Require().NoError(s.conn.Publish(s.ctx, messaging.DefaultExchange, topology.QueueInventoryRPC, messaging.Message{
		Body: []byte(`{"product_id":"PROD-A","quantity":1}`),
	}))

	s.Eventually(func() bool {
		return s.logs.FilterMessageSnippet("请求未携带回复地址").Len() == 1
	}, time.Second, 5*time.Millisecond)
	s.Eventually(func() bool {
		r, u, err := s.srv.Stats(topology.QueueInventoryRPC)
		return err == nil && r == 0 && u == 0
	}, time.Second, 5*time.Millisecond)
}

func (s *RPCTestSuite) TestMalformedRequestIsRejected() {
	stop := s.startServer(NewStaticInventory(nil))
	defer stop()

	_, err := s.client.Call(s.ctx, []byte(`{"quantity":1}`), 50*time.Millisecond)
	s.ErrorIs(err, ErrRPCTimeout)

	s.Eventually(func() bool {
		return s.logs.FilterMessage("[worker] 处理失败, 转入死信").Len() == 1
	}, time.Second, 5*time.Millisecond)
	s.Eventually(func() bool {
		r, u, err := s.srv.Stats(topology.QueueInventoryRPC)
		return err == nil && r == 0 && u == 0
	}, time.Second, 5*time.Millisecond)
}

func TestNewServer_NilInventory(t *testing.T) {
	_, err := NewServer(nil, nil)
	assert.ErrorIs(t, err, ErrNilInventory)
}

func TestStaticInventory(t *testing.T) {
	inv := NewStaticInventory(map[string]int{"PROD-A": 3})
	ctx := context.Background()

	resp, err := inv.Check(ctx, domain.InventoryRequest{ProductID: "PROD-A", Quantity: 5})
	require.NoError(t, err)
	assert.False(t, resp.Available)
	assert.Equal(t, 3, resp.StockLevel)

	resp, err = inv.Check(ctx, domain.InventoryRequest{ProductID: "PROD-Z", Quantity: 5})
	require.NoError(t, err)
	assert.True(t, resp.Available)
	assert.Equal(t, DefaultStockLevel, resp.StockLevel)

	resp, err = inv.Check(ctx, domain.InventoryRequest{ProductID: "PROD-A"})
	require.NoError(t, err)
	assert.True(t, resp.Available)
}

func TestRandomInventory(t *testing.T) {
	inv := NewRandomInventory(rand.New(rand.NewPCG(1, 2)))
	ctx := context.Background()

	available := 0
	const n = 1000
	for range n {
		resp, err := inv.Check(ctx, domain.InventoryRequest{ProductID: "PROD-A", Quantity: 1})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, resp.StockLevel, 0)
		assert.LessOrEqual(t, resp.StockLevel, 100)
		if resp.Available {
			available++
		}
	}
	assert.InDelta(t, 0.8, float64(available)/n, 0.05)
}
