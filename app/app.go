// Package app 管理进程内后台任务的生命周期.
//
// 每个 Runner 在独立 goroutine 中运行直到 ctx 取消. 收到退出信号、调用 Stop
// 或任一 Runner 返回错误时，取消所有 Runner 并在 GracefulTimeout 内等待它们退出，
// 最后按优先级执行清理任务.
//
// 示例:
//
//	a := app.New(
//	    app.Name("orderflow"),
//	    app.Logger(log),
//	    app.RegisterCloser("broker", broker, 10),
//	)
//	a.Use(w, monitor)
//	if err := a.Run(); err != nil {
//	    log.Fatal(err)
//	}
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"github.com/Tsukikage7/orderflow/logger"
)

// 预定义错误.
var (
	// ErrRunning 应用正在运行.
	ErrRunning = errors.New("app: 应用正在运行")

	// ErrShutdownTimeout 等待任务退出超时.
	ErrShutdownTimeout = errors.New("app: 等待任务退出超时")
)

// Runner 后台任务，Run 阻塞直到 ctx 取消或出错.
type Runner interface {
	Run(ctx context.Context) error
	Name() string
}

// RunnerFunc 函数形式的 Runner.
type RunnerFunc struct {
	ID string
	Fn func(ctx context.Context) error
}

// Run 实现 Runner.
func (r RunnerFunc) Run(ctx context.Context) error { return r.Fn(ctx) }

// Name 实现 Runner.
func (r RunnerFunc) Name() string { return r.ID }

// Application 应用程序，管理多个 Runner 的生命周期.
type Application struct {
	opts    *options
	runners []Runner
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	running bool
}

// New 创建应用程序.
func New(opts ...Option) *Application {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	if o.logger == nil {
		panic("app: logger is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Application{
		opts:   o,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Use 注册 Runner.
func (a *Application) Use(runners ...Runner) *Application {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runners = append(a.runners, runners...)
	return a
}

// Run 运行应用程序，返回第一个失败 Runner 的错误.
func (a *Application) Run() error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return ErrRunning
	}
	a.running = true
	runners := append([]Runner(nil), a.runners...)
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	if err := a.opts.hooks.runBeforeStart(a.ctx); err != nil {
		a.runCleanups(context.Background())
		return err
	}

	a.opts.logger.With(
		logger.String("name", a.opts.name),
		logger.String("version", a.opts.version),
		logger.Int("runners", len(runners)),
	).Info("[app] 启动")

	runCtx, stopRunners := context.WithCancel(a.ctx)
	defer stopRunners()

	errCh := make(chan error, len(runners))
	var wg sync.WaitGroup
	for _, r := range runners {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			if err := r.Run(runCtx); err != nil {
				a.opts.logger.With(
					logger.String("runner", r.Name()),
					logger.Err(err),
				).Error("[app] 任务异常退出")
				errCh <- fmt.Errorf("%s: %w", r.Name(), err)
			}
		}(r)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	if err := a.opts.hooks.runAfterStart(a.ctx); err != nil {
		a.opts.logger.With(logger.Err(err)).Error("[app] 启动后钩子失败")
	}

	runErr := a.wait(errCh, done)
	stopRunners()
	return errors.Join(runErr, a.shutdown(done))
}

// Stop 主动停止应用程序.
func (a *Application) Stop() {
	a.cancel()
}

// Context 获取应用上下文.
func (a *Application) Context() context.Context {
	return a.ctx
}

// Name 获取应用名称.
func (a *Application) Name() string {
	return a.opts.name
}

// Version 获取应用版本.
func (a *Application) Version() string {
	return a.opts.version
}

func (a *Application) wait(errCh <-chan error, done <-chan struct{}) error {
	signals := a.opts.signals
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, signals...)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		a.opts.logger.With(logger.String("signal", sig.String())).Info("[app] 收到退出信号")
	case <-a.ctx.Done():
		a.opts.logger.Info("[app] 上下文已取消")
	case err := <-errCh:
		return err
	case <-done:
		select {
		case err := <-errCh:
			return err
		default:
		}
		a.opts.logger.Info("[app] 所有任务已结束")
	}
	return nil
}

func (a *Application) shutdown(done <-chan struct{}) error {
	a.opts.logger.With(
		logger.Duration("timeout", a.opts.gracefulTimeout),
	).Info("[app] 正在关闭")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.opts.gracefulTimeout)
	defer cancel()

	if err := a.opts.hooks.runBeforeStop(shutdownCtx); err != nil {
		a.opts.logger.With(logger.Err(err)).Error("[app] 停止前钩子失败")
	}

	var err error
	select {
	case <-done:
		a.opts.logger.Info("[app] 所有任务已停止")
	case <-shutdownCtx.Done():
		a.opts.logger.Warn("[app] 等待任务退出超时")
		err = ErrShutdownTimeout
	}

	a.runCleanups(context.Background())

	if herr := a.opts.hooks.runAfterStop(context.Background()); herr != nil {
		a.opts.logger.With(logger.Err(herr)).Error("[app] 停止后钩子失败")
	}

	a.opts.logger.Info("[app] 已停止")
	return err
}

func (a *Application) runCleanups(ctx context.Context) {
	if len(a.opts.cleanups) == 0 {
		return
	}

	cleanups := make([]Cleanup, len(a.opts.cleanups))
	copy(cleanups, a.opts.cleanups)
	sort.SliceStable(cleanups, func(i, j int) bool {
		return cleanups[i].Priority < cleanups[j].Priority
	})

	for _, c := range cleanups {
		if err := c.Fn(ctx); err != nil {
			a.opts.logger.With(
				logger.String("cleanup", c.Name),
				logger.Err(err),
			).Error("[app] 清理失败")
		} else {
			a.opts.logger.With(logger.String("cleanup", c.Name)).Debug("[app] 清理完成")
		}
	}
}
