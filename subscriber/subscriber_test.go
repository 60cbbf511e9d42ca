package subscriber

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Tsukikage7/orderflow/database"
	"github.com/Tsukikage7/orderflow/domain"
	"github.com/Tsukikage7/orderflow/logger"
	"github.com/Tsukikage7/orderflow/messaging"
	"github.com/Tsukikage7/orderflow/messaging/memory"
	"github.com/Tsukikage7/orderflow/metrics"
	"github.com/Tsukikage7/orderflow/publisher"
	"github.com/Tsukikage7/orderflow/topology"
	"github.com/Tsukikage7/orderflow/worker"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type sentNotification struct {
	orderID string
	message string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Notify(_ context.Context, orderID, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{orderID, message})
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type customMetrics struct {
	metrics.Collector

	mu         sync.Mutex
	events     []string
	counters   map[string][]map[string]string
	histograms map[string][]float64
}

func newCustomMetrics() *customMetrics {
	return &customMetrics{
		Collector:  metrics.Nop(),
		counters:   make(map[string][]map[string]string),
		histograms: make(map[string][]float64),
	}
}

func (m *customMetrics) RecordEvent(eventType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, eventType)
}

func (m *customMetrics) Counter(name string, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] = append(m.counters[name], labels)
}

func (m *customMetrics) Histogram(name string, value float64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms[name] = append(m.histograms[name], value)
}

type SubscriberTestSuite struct {
	suite.Suite
	ctx  context.Context
	srv  *memory.Server
	conn *memory.Conn
	pub  *publisher.Publisher
	log  logger.Logger
	logs *observer.ObservedLogs
}

func TestSubscriberSuite(t *testing.T) {
	suite.Run(t, new(SubscriberTestSuite))
}

func (s *SubscriberTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.srv = memory.NewServer()
	s.conn = s.srv.Connect()

	topo := topology.PerTypeTopology()
	s.Require().NoError(topology.NewDeclarer(s.conn).Apply(s.ctx, topo))
	s.pub = publisher.New(s.conn, topo)

	core, logs := observer.New(zap.DebugLevel)
	s.log = logger.FromZap(zap.New(core))
	s.logs = logs
}

func (s *SubscriberTestSuite) TearDownTest() {
	s.NoError(s.conn.Close())
}

func (s *SubscriberTestSuite) run(w *worker.Worker) func() {
	ctx, cancel := context.WithCancel(s.ctx)
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()
	return func() {
		cancel()
		s.NoError(<-errc)
	}
}

func (s *SubscriberTestSuite) drained(queue string) func() bool {
	return func() bool {
		r, u, err := s.srv.Stats(queue)
		return err == nil && r == 0 && u == 0
	}
}

func (s *SubscriberTestSuite) TestEachBroadcastSubscriberGetsOneCopy() {
	notifier := &recordingNotifier{}
	analytics := NewAnalyticsHandler()

	// 分析订阅者先启动并确认，通知订阅者之后才开始消费.
	stopAnalytics := s.run(NewAnalyticsSubscriber(s.conn, analytics))

	order := domain.SampleOrders()[0]
	s.pub.Emit(s.ctx, domain.CreatedEvent(order), order.OrderType)

	s.Eventually(s.drained(topology.QueueAnalytics), time.Second, 5*time.Millisecond)
	stopAnalytics()

	stopNotify := s.run(NewNotificationSubscriber(s.conn, NewNotificationHandler(notifier, s.log)))
	s.Eventually(func() bool { return notifier.count() == 1 }, time.Second, 5*time.Millisecond)
	s.Eventually(s.drained(topology.QueueNotifications), time.Second, 5*time.Millisecond)
	stopNotify()

	s.Equal(1, analytics.Snapshot().Events[domain.EventOrderCreated])
	s.Equal("Your order ORD-001 has been received!", notifier.sent[0].message)
}

func (s *SubscriberTestSuite) TestNotificationDefaultsToLog() {
	stop := s.run(NewNotificationSubscriber(s.conn, NewNotificationHandler(nil, s.log)))

	s.pub.Emit(s.ctx, domain.NewEvent(domain.EventOrderFailed, "ORD-9", "Failed: boom", nil), domain.OrderStandard)
	s.Eventually(func() bool {
		return s.logs.FilterMessage("[notification] Issue with order ORD-9. Customer service will contact you.").Len() == 1
	}, time.Second, 5*time.Millisecond)
	stop()
}

func (s *SubscriberTestSuite) TestMalformedEventIsDropped() {
	notifier := &recordingNotifier{}
	stop := s.run(NewNotificationSubscriber(s.conn, NewNotificationHandler(notifier, s.log), worker.WithLogger(s.log)))

	s.Require().NoError(s.conn.Publish(s.ctx, topology.ExchangeEvents, "", messaging.Message{Body: []byte(`{"event_type":"order.shipped"}`)}))
	s.Eventually(s.drained(topology.QueueNotifications), time.Second, 5*time.Millisecond)
	stop()

	s.Zero(notifier.count())
	s.Equal(1, s.logs.FilterMessage("[worker] 处理失败, 转入死信").Len())
}

func (s *SubscriberTestSuite) TestLogSubscriberReceivesOrderKeysOnly() {
	stop := s.run(NewLogSubscriber(s.conn, NewLogHandler(s.log)))

	event := domain.NewEvent(domain.EventOrderCompleted, "ORD-3", "Completed by worker w1", nil)
	s.Require().NoError(s.pub.PublishLog(s.ctx, event, domain.OrderInternational))
	s.Require().NoError(s.pub.PublishJSON(s.ctx, topology.ExchangeLogs, "payment.completed.standard", event))

	s.Eventually(func() bool { return s.logs.FilterMessage("[logs] Completed by worker w1").Len() == 1 }, time.Second, 5*time.Millisecond)
	s.Eventually(s.drained(topology.QueueLogs), time.Second, 5*time.Millisecond)
	stop()

	entry := s.logs.FilterMessage("[logs] Completed by worker w1").All()[0].ContextMap()
	s.Equal("order", entry["category"])
	s.Equal("completed", entry["event"])
	s.Equal("international", entry["order_type"])
}

func TestRenderNotification(t *testing.T) {
	tests := []struct {
		eventType domain.EventType
		want      string
	}{
		{domain.EventOrderCreated, "Your order ORD-1 has been received!"},
		{domain.EventOrderProcessing, "Your order ORD-1 is being processed."},
		{domain.EventOrderCompleted, "Your order ORD-1 is complete!"},
		{domain.EventOrderFailed, "Issue with order ORD-1. Customer service will contact you."},
	}

	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			got, ok := RenderNotification(domain.NewEvent(tt.eventType, "ORD-1", "", nil))
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := RenderNotification(domain.Event{EventType: "order.shipped"})
	assert.False(t, ok)
}

func TestNotificationHandler_NotifierError(t *testing.T) {
	failing := NotifierFunc(func(context.Context, string, string) error { return errors.New("smtp down") })
	h := NewNotificationHandler(failing, nil)

	body, err := domain.Encode(domain.NewEvent(domain.EventOrderCreated, "ORD-1", "", nil))
	require.NoError(t, err)

	err = h.Handle(context.Background(), messaging.NewDelivery(nil, 1, messaging.Message{Body: body}))
	assert.ErrorContains(t, err, "smtp down")
}

func TestParseLogKey(t *testing.T) {
	tests := []struct {
		key  string
		want LogKey
	}{
		{"order.created.express", LogKey{"order", "created", "express"}},
		{"order.failed", LogKey{"order", "failed", "unknown"}},
		{"order", LogKey{"order", "unknown", "unknown"}},
		{"", LogKey{"unknown", "unknown", "unknown"}},
		{"order.completed.standard.eu", LogKey{"order", "completed", "standard.eu"}},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLogKey(tt.key))
		})
	}
	assert.Equal(t, "order.created", ParseLogKey("order.created.express").EventType())
}

func TestLogHandler_PatternMismatchAcked(t *testing.T) {
	m := newCustomMetrics()
	h := NewLogHandler(nil, WithPattern("order.*.express"), WithLogMetrics(m))
	assert.Equal(t, "order.*.express", h.Pattern())

	d := messaging.NewDelivery(nil, 1, messaging.Message{Body: []byte("ignored")})
	d.RoutingKey = "order.created.standard"
	assert.NoError(t, h.Handle(context.Background(), d))
	assert.Empty(t, m.counters[MetricLogEntries])

	body, err := domain.Encode(domain.NewEvent(domain.EventOrderCreated, "ORD-1", "hi", nil))
	require.NoError(t, err)
	d = messaging.NewDelivery(nil, 2, messaging.Message{Body: body})
	d.RoutingKey = "order.created.express"
	assert.NoError(t, h.Handle(context.Background(), d))
	assert.Equal(t, []map[string]string{{"event": "order.created", "order_type": "express"}}, m.counters[MetricLogEntries])
}

func eventDelivery(t *testing.T, e domain.Event) *messaging.Delivery {
	t.Helper()
	body, err := domain.Encode(e)
	require.NoError(t, err)
	return messaging.NewDelivery(nil, 1, messaging.Message{Body: body})
}

func TestAnalyticsHandler_Metrics(t *testing.T) {
	m := newCustomMetrics()
	h := NewAnalyticsHandler(WithAnalyticsMetrics(m))
	ctx := context.Background()

	require.NoError(t, h.Handle(ctx, eventDelivery(t, domain.NewEvent(domain.EventOrderProcessing, "ORD-1", "", map[string]any{domain.MetaWorkerID: "w1"}))))
	require.NoError(t, h.Handle(ctx, eventDelivery(t, domain.NewEvent(domain.EventOrderCompleted, "ORD-1", "", map[string]any{
		domain.MetaWorkerID:       "w1",
		domain.MetaProcessingTime: 1.5,
	}))))
	require.NoError(t, h.Handle(ctx, eventDelivery(t, domain.NewEvent(domain.EventOrderCompleted, "ORD-2", "", map[string]any{
		domain.MetaWorkerID:       "w2",
		domain.MetaProcessingTime: 0.5,
	}))))

	assert.Equal(t, []string{"order.processing", "order.completed", "order.completed"}, m.events)
	assert.Equal(t, []float64{1.5, 0.5}, m.histograms[MetricProcessingTime])
	assert.Equal(t, []map[string]string{{"worker": "w1"}, {"worker": "w2"}}, m.counters[MetricWorkerOrders])

	stats := h.Snapshot()
	assert.Equal(t, 2, stats.Completed)
	assert.InDelta(t, 1.0, stats.AverageProcessingTime(), 1e-9)
	assert.Equal(t, map[string]int{"w1": 1, "w2": 1}, stats.WorkerOrders)
	assert.Equal(t, 1, stats.Events[domain.EventOrderProcessing])

	assert.Zero(t, Stats{}.AverageProcessingTime())
}

func TestGormJournal(t *testing.T) {
	db, err := database.Open(&database.Config{Driver: database.DriverSQLite, DSN: ":memory:", AutoMigrate: true}, logger.Nop())
	require.NoError(t, err)
	defer db.Close()

	journal, err := NewGormJournal(db)
	require.NoError(t, err)

	h := NewAnalyticsHandler(WithJournal(journal))
	ctx := context.Background()
	for _, e := range []domain.Event{
		domain.NewEvent(domain.EventOrderCreated, "ORD-1", "Order created for customer C", nil),
		domain.NewEvent(domain.EventOrderProcessing, "ORD-1", "Processing by worker w1", map[string]any{domain.MetaWorkerID: "w1"}),
		domain.NewEvent(domain.EventOrderCompleted, "ORD-1", "Completed by worker w1", map[string]any{
			domain.MetaWorkerID:       "w1",
			domain.MetaProcessingTime: 0.75,
		}),
		domain.NewEvent(domain.EventOrderCreated, "ORD-2", "Order created for customer D", nil),
	} {
		require.NoError(t, h.Handle(ctx, eventDelivery(t, e)))
	}

	history, err := journal.History(ctx, "ORD-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "order.created", history[0].EventType)
	assert.Nil(t, history[0].ProcessingTime)
	assert.Equal(t, "w1", history[2].WorkerID)
	require.NotNil(t, history[2].ProcessingTime)
	assert.InDelta(t, 0.75, *history[2].ProcessingTime, 1e-9)

	counts, err := journal.CountByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[domain.EventOrderCreated])
	assert.Equal(t, int64(1), counts[domain.EventOrderCompleted])
}
