// Package rpc 在异步消息之上实现请求/响应调用.
//
// 客户端为每次调用生成关联 ID，并声明一个独占、自动删除的回复队列;
// 服务端处理请求后经默认交换机把响应发到请求携带的回复地址，
// 客户端按关联 ID 把响应分发给等待中的调用. 超时的调用被放弃，不自动重试.
//
// 示例:
//
//	client, err := rpc.NewClient(ctx, broker, rpc.WithClientLogger(log))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	resp, err := client.CheckInventory(ctx, "PROD-A", 2, 5*time.Second)
//	if errors.Is(err, rpc.ErrRPCTimeout) {
//	    // 服务端不可用
//	}
package rpc

import (
	"context"
	"fmt"

	"github.com/Tsukikage7/orderflow/domain"
	"github.com/Tsukikage7/orderflow/logger"
	"github.com/Tsukikage7/orderflow/messaging"
	"github.com/Tsukikage7/orderflow/topology"
	"github.com/Tsukikage7/orderflow/worker"
)

// Sender 发布消息的最小接口，messaging.Broker 与 publisher.Publisher 均满足.
type Sender interface {
	Publish(ctx context.Context, exchange, routingKey string, msg messaging.Message) error
}

// Server 库存查询服务端.
type Server struct {
	sender    Sender
	inventory Inventory
	queue     string
	log       logger.Logger
}

// ServerOption 服务端配置选项.
type ServerOption func(*Server)

// WithServerLogger 设置日志记录器.
func WithServerLogger(log logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = log
	}
}

// WithRequestQueue 设置请求队列.
func WithRequestQueue(queue string) ServerOption {
	return func(s *Server) {
		if queue != "" {
			s.queue = queue
		}
	}
}

// NewServer 创建服务端.
func NewServer(sender Sender, inventory Inventory, opts ...ServerOption) (*Server, error) {
	if inventory == nil {
		return nil, ErrNilInventory
	}
	s := &Server{
		sender:    sender,
		inventory: inventory,
		queue:     topology.QueueInventoryRPC,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Worker 返回消费请求队列的消费者.
func (s *Server) Worker(broker messaging.Broker, opts ...worker.Option) *worker.Worker {
	opts = append([]worker.Option{worker.WithName("rpc-server")}, opts...)
	return worker.New(broker, s.queue, s, opts...)
}

// Handle 实现 worker.Handler.
//
// 请求无法解析时返回错误，消息被否定确认且不重新入队.
// 请求未携带回复地址时丢弃响应，仍确认请求.
func (s *Server) Handle(ctx context.Context, d *messaging.Delivery) error {
	req, err := domain.DecodeInventoryRequest(d.Body)
	if err != nil {
		return err
	}

	resp, err := s.inventory.Check(ctx, req)
	if err != nil {
		return fmt.Errorf("查询库存 %s 失败: %w", req.ProductID, err)
	}
	s.log.Infof("[rpc] 库存查询 %s x%d: available=%t stock=%d",
		req.ProductID, req.Quantity, resp.Available, resp.StockLevel)

	if d.ReplyTo == "" {
		s.log.Warnf("[rpc] 请求未携带回复地址, 丢弃响应: correlation_id=%s", d.CorrelationID)
		return nil
	}

	body, err := domain.Encode(resp)
	if err != nil {
		return err
	}
	err = s.sender.Publish(ctx, messaging.DefaultExchange, d.ReplyTo, messaging.Message{
		Body:          body,
		ContentType:   messaging.ContentTypeJSON,
		CorrelationID: d.CorrelationID,
	})
	if err != nil {
		return fmt.Errorf("发送响应到 %s 失败: %w", d.ReplyTo, err)
	}
	return nil
}
