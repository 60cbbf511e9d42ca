// Package domain 定义订单流转中的消息负载.
//
// 所有负载以 JSON 编码，枚举值按字符串原样往返，未知枚举值视为解码错误.
package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// OrderType 订单类型.
type OrderType string

const (
	OrderStandard      OrderType = "standard"
	OrderExpress       OrderType = "express"
	OrderInternational OrderType = "international"
)

// OrderTypes 返回全部订单类型.
func OrderTypes() []OrderType {
	return []OrderType{OrderStandard, OrderExpress, OrderInternational}
}

// Valid 判断订单类型是否已知.
func (t OrderType) Valid() bool {
	switch t {
	case OrderStandard, OrderExpress, OrderInternational:
		return true
	}
	return false
}

func (t OrderType) String() string { return string(t) }

// ParseOrderType 解析订单类型.
func ParseOrderType(s string) (OrderType, error) {
	t := OrderType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidOrderType, s)
	}
	return t, nil
}

// MarshalText 实现 encoding.TextMarshaler.
func (t OrderType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOrderType, string(t))
	}
	return []byte(t), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler.
func (t *OrderType) UnmarshalText(b []byte) error {
	parsed, err := ParseOrderType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Order 客户订单.
type Order struct {
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	ProductID  string    `json:"product_id"`
	Quantity   int       `json:"quantity"`
	OrderType  OrderType `json:"order_type"`
}

// NewOrder 创建订单并生成订单号.
func NewOrder(customerID, productID string, quantity int, orderType OrderType) Order {
	return Order{
		OrderID:    NewOrderID(),
		CustomerID: customerID,
		ProductID:  productID,
		Quantity:   quantity,
		OrderType:  orderType,
	}
}

// NewOrderID 生成形如 ORD-1A2B3C4D 的订单号.
func NewOrderID() string {
	return "ORD-" + strings.ToUpper(uuid.NewString()[:8])
}

// Validate 校验订单字段.
func (o Order) Validate() error {
	switch {
	case o.OrderID == "":
		return fmt.Errorf("%w: order_id 为空", ErrInvalidOrder)
	case o.ProductID == "":
		return fmt.Errorf("%w: product_id 为空", ErrInvalidOrder)
	case o.Quantity <= 0:
		return fmt.Errorf("%w: quantity 必须大于 0", ErrInvalidOrder)
	case !o.OrderType.Valid():
		return fmt.Errorf("%w: %q", ErrInvalidOrderType, string(o.OrderType))
	}
	return nil
}

// SampleOrders 返回演示用的订单集合.
func SampleOrders() []Order {
	return []Order{
		{OrderID: "ORD-001", CustomerID: "CUST-101", ProductID: "PROD-A", Quantity: 2, OrderType: OrderStandard},
		{OrderID: "ORD-002", CustomerID: "CUST-102", ProductID: "PROD-B", Quantity: 5, OrderType: OrderExpress},
		{OrderID: "ORD-003", CustomerID: "CUST-103", ProductID: "PROD-C", Quantity: 1, OrderType: OrderInternational},
		{OrderID: "ORD-004", CustomerID: "CUST-104", ProductID: "PROD-D", Quantity: 3, OrderType: OrderStandard},
	}
}
