package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Tsukikage7/orderflow/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type AppTestSuite struct {
	suite.Suite
	log  logger.Logger
	logs *observer.ObservedLogs
}

func TestAppSuite(t *testing.T) {
	suite.Run(t, new(AppTestSuite))
}

func (s *AppTestSuite) SetupTest() {
	core, logs := observer.New(zap.DebugLevel)
	s.log = logger.FromZap(zap.New(core))
	s.logs = logs
}

func blocking(name string, started *sync.WaitGroup, stopped *atomic.Int32) Runner {
	started.Add(1)
	return RunnerFunc{ID: name, Fn: func(ctx context.Context) error {
		started.Done()
		<-ctx.Done()
		stopped.Add(1)
		return nil
	}}
}

func (s *AppTestSuite) TestStopCancelsRunnersAndRunsCleanups() {
	var (
		started sync.WaitGroup
		stopped atomic.Int32
		order   []string
	)
	cleanup := func(name string) CleanupFunc {
		return func(context.Context) error {
			order = append(order, name)
			return nil
		}
	}

	a := New(
		Logger(s.log),
		RegisterCleanup("broker", cleanup("broker"), 20),
		RegisterCleanup("workers", cleanup("workers"), 10),
	)
	a.Use(blocking("a", &started, &stopped), blocking("b", &started, &stopped))

	errc := make(chan error, 1)
	go func() { errc <- a.Run() }()

	started.Wait()
	a.Stop()

	s.Require().NoError(<-errc)
	s.Equal(int32(2), stopped.Load())
	s.Equal([]string{"workers", "broker"}, order)
	s.Equal(1, s.logs.FilterMessage("[app] 所有任务已停止").Len())
}

func (s *AppTestSuite) TestRunnerErrorStopsOthers() {
	var (
		started sync.WaitGroup
		stopped atomic.Int32
	)
	boom := errors.New("连接丢失")

	a := New(Logger(s.log))
	a.Use(
		blocking("worker", &started, &stopped),
		RunnerFunc{ID: "rpc", Fn: func(context.Context) error {
			started.Wait()
			return boom
		}},
	)

	err := a.Run()
	s.ErrorIs(err, boom)
	s.ErrorContains(err, "rpc")
	s.Equal(int32(1), stopped.Load())
	s.Equal(1, s.logs.FilterMessage("[app] 任务异常退出").Len())
}

func (s *AppTestSuite) TestReturnsWhenAllRunnersFinish() {
	a := New(Logger(s.log))
	a.Use(RunnerFunc{ID: "setup", Fn: func(context.Context) error { return nil }})

	s.NoError(a.Run())
	s.Equal(1, s.logs.FilterMessage("[app] 所有任务已结束").Len())
}

func (s *AppTestSuite) TestShutdownTimeout() {
	release := make(chan struct{})
	defer close(release)

	a := New(Logger(s.log), GracefulTimeout(20*time.Millisecond))
	a.Use(RunnerFunc{ID: "stuck", Fn: func(context.Context) error {
		<-release
		return nil
	}})
	a.Stop()

	s.ErrorIs(a.Run(), ErrShutdownTimeout)
}

func (s *AppTestSuite) TestHooks() {
	var calls []string
	hook := func(name string) Hook {
		return func(context.Context) error {
			calls = append(calls, name)
			return nil
		}
	}

	hooks := NewHooks().
		BeforeStart(hook("before-start")).
		AfterStart(hook("after-start")).
		BeforeStop(hook("before-stop")).
		AfterStop(hook("after-stop")).
		Build()

	a := New(Logger(s.log), SetHooks(hooks))
	s.NoError(a.Run())
	s.Equal([]string{"before-start", "after-start", "before-stop", "after-stop"}, calls)
}

func (s *AppTestSuite) TestBeforeStartFailureAborts() {
	boom := errors.New("拓扑冲突")
	var ran atomic.Bool
	cleaned := false

	a := New(
		Logger(s.log),
		SetHooks(NewHooks().BeforeStart(func(context.Context) error { return boom }).Build()),
		RegisterCloser("broker", closerFunc(func() error { cleaned = true; return nil }), 0),
	)
	a.Use(RunnerFunc{ID: "w", Fn: func(context.Context) error { ran.Store(true); return nil }})

	s.ErrorIs(a.Run(), boom)
	s.False(ran.Load())
	s.True(cleaned)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
