package messaging

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Tsukikage7/orderflow/logger"
	"github.com/Tsukikage7/orderflow/retry"
)

// dialFunc 建立 AMQP 连接.
type dialFunc func(url string) (*amqp.Connection, error)

// rabbitMQConnection RabbitMQ 连接管理器.
//
// 连接断开后在后台按 reconnectDelay 重连，重连成功时通过 reconnectCh 通知已有消费者.
type rabbitMQConnection struct {
	url            string
	dial           dialFunc
	conn           *amqp.Connection
	mu             sync.RWMutex
	closed         atomic.Bool
	reconnectDelay time.Duration
	maxRetries     int
	logger         logger.Logger

	notifyClose chan *amqp.Error
	reconnectCh chan struct{}
	done        chan struct{}
}

func newRabbitMQConnection(ctx context.Context, cfg *Config, log logger.Logger) (*rabbitMQConnection, error) {
	c := &rabbitMQConnection{
		url:            cfg.URL,
		dial:           amqp.Dial,
		reconnectDelay: cfg.ReconnectDelay,
		maxRetries:     cfg.MaxRetries,
		logger:         log,
		reconnectCh:    make(chan struct{}, 1),
		done:           make(chan struct{}),
	}

	err := retry.Do(ctx, c.connect).
		WithMaxAttempts(cfg.DialAttempts).
		WithDelay(cfg.DialDelay).
		WithBackoff(2).
		OnRetry(func(attempt int, err error) {
			c.logger.With(logger.Int("attempt", attempt), logger.Err(err)).Warn("[rabbitmq] dial failed")
		}).
		Run()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreateClient, err)
	}

	go c.handleReconnect()

	return c, nil
}

func (c *rabbitMQConnection) connect() error {
	conn, err := c.dial(c.url)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.notifyClose = conn.NotifyClose(make(chan *amqp.Error, 1))
	c.mu.Unlock()

	c.logger.Info("[rabbitmq] connected")
	return nil
}

func (c *rabbitMQConnection) handleReconnect() {
	for {
		c.mu.RLock()
		notify := c.notifyClose
		c.mu.RUnlock()

		select {
		case <-c.done:
			return
		case amqpErr, ok := <-notify:
			if c.closed.Load() {
				return
			}
			if !ok && amqpErr == nil {
				amqpErr = amqp.ErrClosed
			}

			c.logger.With(logger.Err(amqpErr)).Warn("[rabbitmq] connection lost, reconnecting")

			if !c.reconnect() {
				return
			}

			select {
			case c.reconnectCh <- struct{}{}:
			default:
			}
		}
	}
}

func (c *rabbitMQConnection) reconnect() bool {
	for retries := 0; ; retries++ {
		if c.maxRetries > 0 && retries >= c.maxRetries {
			c.logger.Error("[rabbitmq] reconnect gave up after max retries")
			return false
		}

		select {
		case <-c.done:
			return false
		case <-time.After(c.reconnectDelay):
		}

		if err := c.connect(); err != nil {
			c.logger.With(logger.Int("attempt", retries+1), logger.Err(err)).Warn("[rabbitmq] reconnect failed")
			continue
		}
		return true
	}
}

// Channel 在当前连接上打开新通道.
func (c *rabbitMQConnection) Channel() (*amqp.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if c.conn == nil || c.conn.IsClosed() {
		return nil, ErrConnectionLost
	}

	return c.conn.Channel()
}

// ReconnectNotify 重连成功通知.
func (c *rabbitMQConnection) ReconnectNotify() <-chan struct{} {
	return c.reconnectCh
}

// Close 关闭连接并停止重连.
func (c *rabbitMQConnection) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn.Close()
	}
	return nil
}
