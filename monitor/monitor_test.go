package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Tsukikage7/orderflow/logger"
	"github.com/Tsukikage7/orderflow/messaging"
	"github.com/Tsukikage7/orderflow/messaging/memory"
	"github.com/Tsukikage7/orderflow/metrics"
	"github.com/Tsukikage7/orderflow/topology"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type depthMetrics struct {
	metrics.Collector

	mu     sync.Mutex
	depths map[string]int
}

func (m *depthMetrics) SetQueueDepth(queue string, depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depths[queue] = depth
}

func (m *depthMetrics) get(queue string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.depths[queue]
	return n, ok
}

type MonitorTestSuite struct {
	suite.Suite
	ctx     context.Context
	conn    *memory.Conn
	topo    *topology.Topology
	metrics *depthMetrics
	log     logger.Logger
	logs    *observer.ObservedLogs
}

func TestMonitorSuite(t *testing.T) {
	suite.Run(t, new(MonitorTestSuite))
}

func (s *MonitorTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.conn = memory.NewServer().Connect()
	s.topo = topology.PerTypeTopology()
	s.Require().NoError(topology.NewDeclarer(s.conn).Apply(s.ctx, s.topo))

	core, logs := observer.New(zap.DebugLevel)
	s.log = logger.FromZap(zap.New(core))
	s.logs = logs
	s.metrics = &depthMetrics{Collector: metrics.Nop(), depths: make(map[string]int)}
}

func (s *MonitorTestSuite) TearDownTest() {
	s.NoError(s.conn.Close())
}

func (s *MonitorTestSuite) newMonitor(opts ...Option) *Monitor {
	opts = append([]Option{WithLogger(s.log), WithMetrics(s.metrics)}, opts...)
	m, err := New(s.conn, s.topo.QueueNames(), opts...)
	s.Require().NoError(err)
	return m
}

func (s *MonitorTestSuite) deadLetter() {
	s.Require().NoError(s.conn.Publish(s.ctx, topology.ExchangeDeadLetter, "order.express", messaging.Message{Body: []byte("x")}))
}

func (s *MonitorTestSuite) TestCheckRecordsDepths() {
	m := s.newMonitor()
	s.Require().NoError(s.conn.Publish(s.ctx, topology.ExchangeOrders, "order.express", messaging.Message{}))
	s.Require().NoError(s.conn.Publish(s.ctx, topology.ExchangeOrders, "order.express", messaging.Message{}))

	depths, err := m.Check(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, depths["orders.express"])
	s.Zero(depths[topology.QueueFailed])

	n, ok := s.metrics.get("orders.express")
	s.True(ok)
	s.Equal(2, n)
	s.Equal(depths, m.Depths())
	s.Equal(1, m.Checks())
	s.Zero(s.logs.FilterLevelExact(zap.WarnLevel).Len())
}

func (s *MonitorTestSuite) TestWarnsOnlyWhenDeadLettersGrow() {
	m := s.newMonitor()

	s.deadLetter()
	_, err := m.Check(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, s.logs.FilterMessageSnippet("死信队列").Len())

	_, err = m.Check(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, s.logs.FilterMessageSnippet("死信队列").Len())

	s.deadLetter()
	_, err = m.Check(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, s.logs.FilterMessageSnippet("死信队列").Len())
}

func (s *MonitorTestSuite) TestMissingQueueDoesNotStopOthers() {
	m, err := New(s.conn, []string{"orders.express", "ghost"}, WithLogger(s.log))
	s.Require().NoError(err)

	depths, err := m.Check(s.ctx)
	s.ErrorIs(err, messaging.ErrQueueNotFound)
	s.Contains(depths, "orders.express")
	s.NotContains(depths, "ghost")
}

func (s *MonitorTestSuite) TestRunChecksImmediatelyAndOnSchedule() {
	m := s.newMonitor(WithSchedule("@every 1s"))

	ctx, cancel := context.WithCancel(s.ctx)
	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx) }()

	s.Eventually(func() bool { return m.Checks() >= 1 }, time.Second, 5*time.Millisecond)
	s.Eventually(func() bool { return m.Checks() >= 2 }, 3*time.Second, 20*time.Millisecond)

	cancel()
	s.NoError(<-errc)
	s.Equal(1, s.logs.FilterMessage("[monitor] 已停止").Len())
}

func (s *MonitorTestSuite) TestRunTwiceIsRejected() {
	m := s.newMonitor(WithSchedule("@every 1s"))

	ctx, cancel := context.WithCancel(s.ctx)
	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx) }()

	s.Eventually(func() bool { return m.Checks() >= 1 }, time.Second, 5*time.Millisecond)
	s.ErrorIs(m.Run(ctx), ErrAlreadyStarted)
	s.Len(m.cron.Entries(), 1)

	cancel()
	s.NoError(<-errc)
	s.ErrorIs(m.Run(s.ctx), ErrAlreadyStarted)
}

func (s *MonitorTestSuite) TestInvalidSchedule() {
	m := s.newMonitor(WithSchedule("every now and then"))
	s.ErrorIs(m.Run(s.ctx), ErrInvalidSchedule)
}

func (s *MonitorTestSuite) TestNoQueues() {
	_, err := New(s.conn, nil)
	s.ErrorIs(err, ErrNoQueues)
}
