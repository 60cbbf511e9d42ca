package domain

import "fmt"

// InventoryRequest 库存查询请求.
//
// Quantity 可省略，为 0 时只询问是否有货.
type InventoryRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Validate 校验请求.
func (r InventoryRequest) Validate() error {
	if r.ProductID == "" {
		return fmt.Errorf("%w: product_id 为空", ErrInvalidRequest)
	}
	if r.Quantity < 0 {
		return fmt.Errorf("%w: quantity 不能为负数", ErrInvalidRequest)
	}
	return nil
}

// InventoryResponse 库存查询结果.
type InventoryResponse struct {
	ProductID  string `json:"product_id"`
	Quantity   int    `json:"quantity"`
	Available  bool   `json:"available"`
	StockLevel int    `json:"stock_level"`
}
