package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/Tsukikage7/orderflow/app"
	"github.com/Tsukikage7/orderflow/config"
	"github.com/Tsukikage7/orderflow/database"
	"github.com/Tsukikage7/orderflow/domain"
	"github.com/Tsukikage7/orderflow/monitor"
	"github.com/Tsukikage7/orderflow/rpc"
	"github.com/Tsukikage7/orderflow/subscriber"
	"github.com/Tsukikage7/orderflow/worker"
)

// errUsage 参数错误.
var errUsage = errors.New("参数错误")

func run(cfg *config.Config, inMemory bool, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := newEnv(ctx, cfg, inMemory)
	if err != nil {
		return err
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "setup":
		return e.oneShot(ctx, func() error {
			e.log.Infof("[orderflow] 拓扑 %s 已声明", e.topo.Name)
			return nil
		})
	case "produce":
		return e.oneShot(ctx, func() error { return produce(ctx, e) })
	case "rpc-call":
		return e.oneShot(ctx, func() error { return rpcCall(ctx, e, rest) })
	case "worker":
		return runWorker(e, rest)
	case "notification":
		return e.serve("notification", notificationSubscriber(e))
	case "analytics":
		return runAnalytics(e)
	case "logs":
		return e.serve("logs", logSubscriber(e))
	case "rpc-server":
		w, err := rpcServer(e)
		if err != nil {
			return errors.Join(err, e.close(ctx))
		}
		return e.serve("rpc-server", w)
	case "monitor":
		m, err := queueMonitor(e)
		if err != nil {
			return errors.Join(err, e.close(ctx))
		}
		return e.serve("monitor", m)
	case "demo":
		return runDemo(e)
	}

	_ = e.close(ctx)
	usage()
	return fmt.Errorf("%w: 未知命令 %q", errUsage, cmd)
}

// oneShot 声明拓扑后执行一次性命令.
func (e *env) oneShot(ctx context.Context, fn func() error) error {
	err := e.declare(ctx)
	if err == nil {
		err = fn()
	}
	return errors.Join(err, e.close(context.WithoutCancel(ctx)))
}

// serve 运行长驻消费者直到收到退出信号.
func (e *env) serve(name string, runners ...app.Runner) error {
	return e.application(name, nil).Use(runners...).Run()
}

func produce(ctx context.Context, e *env) error {
	pub := e.publisher()
	for _, order := range domain.SampleOrders() {
		if err := pub.Produce(ctx, order); err != nil {
			return fmt.Errorf("发布订单 %s 失败: %w", order.OrderID, err)
		}
		e.log.Infof("[produce] 已发布订单 %s (%s)", order.OrderID, order.OrderType)
	}
	return nil
}

func rpcCall(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: rpc-call <product> [qty]", errUsage)
	}
	qty := 1
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("%w: 数量 %q 不是整数", errUsage, args[1])
		}
		qty = n
	}

	client, err := rpc.NewClient(ctx, e.broker,
		rpc.WithClientLogger(e.log),
		rpc.WithClientMetrics(e.metrics),
		rpc.WithClientTracer(e.tracer),
		rpc.WithDefaultTimeout(e.cfg.RPC.Timeout),
	)
	if err != nil {
		return err
	}
	defer client.Close()

	resp, err := client.CheckInventory(ctx, args[0], qty, 0)
	if err != nil {
		return err
	}
	fmt.Printf("product=%s quantity=%d available=%t stock=%d\n",
		resp.ProductID, resp.Quantity, resp.Available, resp.StockLevel)
	return nil
}

func orderWorker(e *env, orderType domain.OrderType, id string) (*worker.Worker, error) {
	route, err := e.topo.OrderRoute(orderType)
	if err != nil {
		return nil, err
	}

	proc := worker.NewOrderProcessor(e.publisher(), id,
		worker.WithProcessingTime(e.cfg.Worker.MinProcessing, e.cfg.Worker.MaxProcessing),
		worker.WithFailureRate(e.cfg.Worker.FailureRate),
		worker.WithProcessorLogger(e.log),
	)

	opts := append(e.workerOptions(),
		worker.WithName(fmt.Sprintf("worker-%s-%s", orderType, id)),
		worker.WithProcessingTimeout(e.cfg.Worker.ProcessingTimeout),
	)
	return worker.New(e.broker, route.Queue, proc, opts...), nil
}

func runWorker(e *env, args []string) error {
	ctx := context.Background()
	if len(args) == 0 {
		_ = e.close(ctx)
		return fmt.Errorf("%w: worker <type> [id]", errUsage)
	}
	orderType, err := domain.ParseOrderType(args[0])
	if err != nil {
		_ = e.close(ctx)
		return err
	}
	id := "1"
	if len(args) > 1 {
		id = args[1]
	}

	w, err := orderWorker(e, orderType, id)
	if err != nil {
		return errors.Join(err, e.close(ctx))
	}
	return e.serve(w.Name(), w)
}

func notificationSubscriber(e *env) *worker.Worker {
	h := subscriber.NewNotificationHandler(nil, e.log)
	return subscriber.NewNotificationSubscriber(e.broker, h, e.workerOptions()...)
}

func logSubscriber(e *env) *worker.Worker {
	h := subscriber.NewLogHandler(e.log,
		subscriber.WithPattern(e.cfg.Topology.LogPattern),
		subscriber.WithLogMetrics(e.metrics),
	)
	return subscriber.NewLogSubscriber(e.broker, h, e.workerOptions()...)
}

// analyticsSubscriber 创建统计订阅者，启用事件日志表时返回数据库句柄.
func analyticsSubscriber(e *env) (*worker.Worker, *subscriber.AnalyticsHandler, database.Database, error) {
	opts := []subscriber.AnalyticsOption{
		subscriber.WithAnalyticsMetrics(e.metrics),
		subscriber.WithAnalyticsLogger(e.log),
	}

	var db database.Database
	if e.cfg.Journal.Enabled {
		var err error
		db, err = database.Open(&e.cfg.Journal.Database, e.log)
		if err != nil {
			return nil, nil, nil, err
		}
		journal, err := subscriber.NewGormJournal(db)
		if err != nil {
			return nil, nil, nil, errors.Join(err, db.Close())
		}
		opts = append(opts, subscriber.WithJournal(journal))
	}

	h := subscriber.NewAnalyticsHandler(opts...)
	return subscriber.NewAnalyticsSubscriber(e.broker, h, e.workerOptions()...), h, db, nil
}

func runAnalytics(e *env) error {
	w, h, db, err := analyticsSubscriber(e)
	if err != nil {
		return errors.Join(err, e.close(context.Background()))
	}

	var opts []app.Option
	if db != nil {
		opts = append(opts, app.RegisterCloser("journal", db, 10))
	}
	stats := func(b *app.HooksBuilder) {
		b.AfterStop(func(context.Context) error { logStats(e, h); return nil })
	}
	return e.application("analytics", stats, opts...).Use(w).Run()
}

func logStats(e *env, h *subscriber.AnalyticsHandler) {
	stats := h.Snapshot()
	e.log.Infof("[analytics] 共处理 %d 个事件, 完成 %d 单, 平均处理时间 %.2fs",
		stats.Events, stats.Completed, stats.AverageProcessingTime())
}

func rpcServer(e *env) (*worker.Worker, error) {
	var inv rpc.Inventory = rpc.NewStaticInventory(nil)
	if e.cfg.RPC.Inventory == config.InventoryRandom {
		inv = rpc.NewRandomInventory(nil)
	}

	srv, err := rpc.NewServer(e.broker, inv, rpc.WithServerLogger(e.log))
	if err != nil {
		return nil, err
	}
	return srv.Worker(e.broker, e.workerOptions()...), nil
}

func queueMonitor(e *env) (*monitor.Monitor, error) {
	return monitor.New(e.broker, e.topo.QueueNames(),
		monitor.WithSchedule(e.cfg.Monitor.Schedule),
		monitor.WithLogger(e.log),
		monitor.WithMetrics(e.metrics),
	)
}

// runDemo 在同一进程内运行所有消费者，启动后发布示例订单.
func runDemo(e *env) error {
	ctx := context.Background()
	var runners []app.Runner

	for _, ot := range domain.OrderTypes() {
		w, err := orderWorker(e, ot, "demo-"+string(ot))
		if err != nil {
			return errors.Join(err, e.close(ctx))
		}
		runners = append(runners, w)
	}

	analytics, h, db, err := analyticsSubscriber(e)
	if err != nil {
		return errors.Join(err, e.close(ctx))
	}
	server, err := rpcServer(e)
	if err != nil {
		return errors.Join(err, e.close(ctx))
	}
	m, err := queueMonitor(e)
	if err != nil {
		return errors.Join(err, e.close(ctx))
	}
	runners = append(runners, notificationSubscriber(e), analytics, logSubscriber(e), server, m)

	hooks := func(b *app.HooksBuilder) {
		b.AfterStart(func(ctx context.Context) error {
			if err := produce(ctx, e); err != nil {
				return err
			}
			return rpcCall(ctx, e, []string{"PROD-A", "2"})
		})
		b.AfterStop(func(context.Context) error { logStats(e, h); return nil })
	}

	var opts []app.Option
	if db != nil {
		opts = append(opts, app.RegisterCloser("journal", db, 10))
	}
	return e.application("demo", hooks, opts...).Use(runners...).Run()
}
