// Package monitor 定时巡检队列深度.
//
// 每次巡检读取各队列的待投递消息数并写入 queue_depth 指标;
// 死信队列出现新增消息时输出告警日志.
// 同一时刻只运行一次巡检，上一次未结束时跳过本次.
//
// 示例:
//
//	m, err := monitor.New(broker, topo.QueueNames(),
//	    monitor.WithSchedule("*/15 * * * * *"),
//	    monitor.WithLogger(log),
//	)
//	if err != nil {
//	    return err
//	}
//	_ = m.Run(ctx)
package monitor

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"github.com/Tsukikage7/orderflow/messaging"
)

// 预定义错误.
var (
	// ErrNoQueues 未指定巡检队列.
	ErrNoQueues = errors.New("monitor: 未指定巡检队列")

	// ErrInvalidSchedule 无效的 Cron 表达式.
	ErrInvalidSchedule = errors.New("monitor: 无效的 Cron 表达式")

	// ErrAlreadyStarted 巡检器只能运行一次.
	ErrAlreadyStarted = errors.New("monitor: 巡检器已启动")
)

// Monitor 队列深度巡检器.
type Monitor struct {
	broker messaging.Broker
	queues []string
	opts   *options
	cron   *cron.Cron

	started atomic.Bool
	busy    atomic.Bool

	mu     sync.Mutex
	depths map[string]int
	checks int
}

// New 创建巡检器.
func New(broker messaging.Broker, queues []string, opts ...Option) (*Monitor, error) {
	if len(queues) == 0 {
		return nil, ErrNoQueues
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	cronOpts := []cron.Option{cron.WithSeconds()}
	if o.location != nil {
		cronOpts = append(cronOpts, cron.WithLocation(o.location))
	}

	m := &Monitor{
		broker: broker,
		queues: queues,
		opts:   o,
		cron:   cron.New(cronOpts...),
		depths: make(map[string]int, len(queues)),
	}
	return m, nil
}

// Run 立即巡检一次，然后按周期巡检直到 ctx 取消.
//
// 每个 Monitor 只能 Run 一次，重复调用返回 ErrAlreadyStarted.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if _, err := m.cron.AddFunc(m.opts.schedule, func() { m.tick(ctx) }); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, m.opts.schedule, err)
	}

	m.tick(ctx)
	m.cron.Start()
	m.opts.logger.Infof("[monitor] 已启动, 周期 %s, 巡检 %d 个队列", m.opts.schedule, len(m.queues))

	<-ctx.Done()
	<-m.cron.Stop().Done()
	m.opts.logger.Info("[monitor] 已停止")
	return nil
}

func (m *Monitor) tick(ctx context.Context) {
	if !m.busy.CompareAndSwap(false, true) {
		m.opts.logger.Debug("[monitor] 上一次巡检未结束, 跳过")
		return
	}
	defer m.busy.Store(false)

	cctx, cancel := context.WithTimeout(ctx, m.opts.timeout)
	defer cancel()

	if _, err := m.Check(cctx); err != nil {
		m.opts.logger.Errorf("[monitor] 巡检失败: %v", err)
	}
}

// Check 巡检一次，返回各队列深度.
//
// 单个队列读取失败不影响其他队列，错误合并返回.
func (m *Monitor) Check(ctx context.Context) (map[string]int, error) {
	depths := make(map[string]int, len(m.queues))
	var errs []error

	for _, q := range m.queues {
		n, err := m.broker.QueueDepth(ctx, q)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", q, err))
			continue
		}
		depths[q] = n
		m.opts.metrics.SetQueueDepth(q, n)
	}

	m.mu.Lock()
	prev, seen := m.depths[m.opts.deadLetterQueue]
	maps.Copy(m.depths, depths)
	m.checks++
	m.mu.Unlock()

	if dlq := m.opts.deadLetterQueue; dlq != "" {
		if n, ok := depths[dlq]; ok && n > 0 && (!seen || n > prev) {
			m.opts.logger.Warnf("[monitor] 死信队列 %s 有 %d 条消息待处理", dlq, n)
		}
	}

	m.opts.logger.Debugf("[monitor] 巡检完成: %v", depths)
	return depths, errors.Join(errs...)
}

// Depths 返回最近一次巡检的队列深度.
func (m *Monitor) Depths() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.depths)
}

// Checks 返回已完成的巡检次数.
func (m *Monitor) Checks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checks
}
