package rpc

import (
	"context"
	"math/rand/v2"

	"github.com/Tsukikage7/orderflow/domain"
)

// 静态库存默认值.
const (
	DefaultStockLevel = 42
	OutOfStockProduct = "PROD-999"
)

// Inventory 库存查询服务.
type Inventory interface {
	Check(ctx context.Context, req domain.InventoryRequest) (domain.InventoryResponse, error)
}

// StaticInventory 确定性的库存表.
//
// 未登记的商品按默认库存计算，OutOfStockProduct 始终缺货.
// 请求数量为 0 时有库存即可用.
type StaticInventory struct {
	Stock   map[string]int
	Default int
}

// NewStaticInventory 创建静态库存.
func NewStaticInventory(stock map[string]int) *StaticInventory {
	s := &StaticInventory{
		Stock:   map[string]int{OutOfStockProduct: 0},
		Default: DefaultStockLevel,
	}
	for id, n := range stock {
		s.Stock[id] = n
	}
	return s
}

// Check 实现 Inventory.
func (s *StaticInventory) Check(_ context.Context, req domain.InventoryRequest) (domain.InventoryResponse, error) {
	level, ok := s.Stock[req.ProductID]
	if !ok {
		level = s.Default
	}
	return domain.InventoryResponse{
		ProductID:  req.ProductID,
		Quantity:   req.Quantity,
		Available:  level > 0 && level >= req.Quantity,
		StockLevel: level,
	}, nil
}

// RandomInventory 随机应答的库存，用于演示.
//
// 约 80% 的请求可用，库存水平在 0 到 100 之间.
type RandomInventory struct {
	random func() float64
	intN   func(n int) int
}

// NewRandomInventory 创建随机库存，参数为空时使用全局随机源.
func NewRandomInventory(r *rand.Rand) *RandomInventory {
	if r == nil {
		return &RandomInventory{random: rand.Float64, intN: rand.IntN}
	}
	return &RandomInventory{random: r.Float64, intN: r.IntN}
}

// Check 实现 Inventory.
func (r *RandomInventory) Check(_ context.Context, req domain.InventoryRequest) (domain.InventoryResponse, error) {
	return domain.InventoryResponse{
		ProductID:  req.ProductID,
		Quantity:   req.Quantity,
		Available:  r.random() > 0.2,
		StockLevel: r.intN(101),
	}, nil
}
