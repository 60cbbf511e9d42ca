package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Tsukikage7/orderflow/app"
	"github.com/Tsukikage7/orderflow/config"
	"github.com/Tsukikage7/orderflow/idempotency"
	"github.com/Tsukikage7/orderflow/logger"
	"github.com/Tsukikage7/orderflow/messaging"
	"github.com/Tsukikage7/orderflow/messaging/memory"
	"github.com/Tsukikage7/orderflow/metrics"
	"github.com/Tsukikage7/orderflow/publisher"
	"github.com/Tsukikage7/orderflow/topology"
	"github.com/Tsukikage7/orderflow/tracing"
	"github.com/Tsukikage7/orderflow/worker"
)

// env 一次命令执行共享的依赖.
type env struct {
	cfg      *config.Config
	log      logger.Logger
	broker   messaging.Broker
	topo     *topology.Topology
	metrics  metrics.Collector
	exposer  metrics.Exposer
	tracer   *messaging.Tracer
	provider *sdktrace.TracerProvider
	store    idempotency.Store
	redis    *redis.Client
}

func newEnv(ctx context.Context, cfg *config.Config, inMemory bool) (*env, error) {
	log, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("创建日志失败: %w", err)
	}

	e := &env{cfg: cfg, log: log, metrics: metrics.Nop()}

	e.topo, err = cfg.Topology.Build()
	if err != nil {
		return nil, err
	}

	if cfg.Metrics.Addr != "" {
		pc, err := metrics.NewMetrics(&cfg.Metrics)
		if err != nil {
			return nil, err
		}
		e.metrics, e.exposer = pc, pc
	}

	e.provider, err = tracing.NewTracer(&cfg.Tracing, cfg.Service, version)
	if err != nil {
		return nil, err
	}
	e.tracer = messaging.NewTracer(cfg.Service)

	if cfg.Idempotency.Enabled {
		switch cfg.Idempotency.Store {
		case config.StoreRedis:
			e.redis = redis.NewClient(&redis.Options{Addr: cfg.Idempotency.RedisAddr})
			if err := e.redis.Ping(ctx).Err(); err != nil {
				_ = e.redis.Close()
				return nil, fmt.Errorf("连接 redis 失败: %w", err)
			}
			e.store = idempotency.NewRedisStore(e.redis)
		default:
			e.store = idempotency.NewMemoryStore()
		}
	}

	if inMemory {
		e.broker = memory.NewServer().Connect()
		log.Info("[orderflow] 使用进程内 Broker")
	} else {
		e.broker, err = messaging.NewRabbitMQ(ctx, &cfg.Broker, messaging.WithLogger(log))
		if err != nil {
			return nil, err
		}
	}

	return e, nil
}

// declare 声明拓扑，重复执行无副作用.
func (e *env) declare(ctx context.Context) error {
	return topology.NewDeclarer(e.broker, topology.WithLogger(e.log)).Apply(ctx, e.topo)
}

func (e *env) publisher() *publisher.Publisher {
	return publisher.New(e.broker, e.topo,
		publisher.WithLogger(e.log),
		publisher.WithMetrics(e.metrics),
		publisher.WithTracer(e.tracer),
	)
}

// workerOptions 所有消费者共用的选项.
func (e *env) workerOptions() []worker.Option {
	opts := []worker.Option{
		worker.WithPrefetch(e.cfg.Worker.Prefetch),
		worker.WithLogger(e.log),
		worker.WithMetrics(e.metrics),
		worker.WithTracer(e.tracer),
	}
	if e.store != nil {
		opts = append(opts, worker.WithIdempotency(e.store,
			idempotency.WithTTL(e.cfg.Idempotency.TTL),
			idempotency.WithLogger(e.log),
		))
	}
	return opts
}

// close 释放所有外部资源.
func (e *env) close(ctx context.Context) error {
	var errs []error
	if e.broker != nil {
		errs = append(errs, e.broker.Close())
	}
	if e.redis != nil {
		errs = append(errs, e.redis.Close())
	}
	if e.provider != nil {
		errs = append(errs, e.provider.Shutdown(ctx))
	}
	_ = e.log.Sync()
	return errors.Join(errs...)
}

// application 创建带清理任务的应用，启动前声明拓扑.
func (e *env) application(name string, hooks func(*app.HooksBuilder), opts ...app.Option) *app.Application {
	hb := app.NewHooks().BeforeStart(e.declare)
	if hooks != nil {
		hooks(hb)
	}

	opts = append([]app.Option{
		app.Name(name),
		app.Version(version),
		app.Logger(e.log),
		app.GracefulTimeout(e.cfg.ShutdownTimeout),
		app.SetHooks(hb.Build()),
		app.RegisterCleanup("resources", e.close, 100),
	}, opts...)

	a := app.New(opts...)
	if e.exposer != nil {
		a.Use(e.metricsServer())
	}
	return a
}

// metricsServer 通过 HTTP 暴露 Prometheus 指标.
func (e *env) metricsServer() app.Runner {
	return app.RunnerFunc{ID: "metrics", Fn: func(ctx context.Context) error {
		mux := http.NewServeMux()
		mux.Handle(e.exposer.GetPath(), e.exposer.GetHandler())
		srv := &http.Server{
			Addr:              e.cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		errc := make(chan error, 1)
		go func() { errc <- srv.ListenAndServe() }()
		e.log.Infof("[metrics] 监听 %s%s", e.cfg.Metrics.Addr, e.exposer.GetPath())

		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
		}

		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}}
}
