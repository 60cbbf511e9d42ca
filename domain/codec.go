package domain

import (
	"encoding/json"
	"fmt"
)

// Encode 将负载编码为 JSON.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// DecodeOrder 解码并校验订单.
func DecodeOrder(body []byte) (Order, error) {
	var o Order
	if err := decode(body, &o); err != nil {
		return Order{}, err
	}
	if err := o.Validate(); err != nil {
		return Order{}, err
	}
	return o, nil
}

// DecodeEvent 解码事件.
func DecodeEvent(body []byte) (Event, error) {
	var e Event
	if err := decode(body, &e); err != nil {
		return Event{}, err
	}
	if !e.EventType.Valid() {
		return Event{}, fmt.Errorf("%w: event_type 缺失", ErrInvalidEventType)
	}
	return e, nil
}

// DecodeInventoryRequest 解码并校验库存请求.
func DecodeInventoryRequest(body []byte) (InventoryRequest, error) {
	var r InventoryRequest
	if err := decode(body, &r); err != nil {
		return InventoryRequest{}, err
	}
	if err := r.Validate(); err != nil {
		return InventoryRequest{}, err
	}
	return r, nil
}

// DecodeInventoryResponse 解码库存响应.
func DecodeInventoryResponse(body []byte) (InventoryResponse, error) {
	var r InventoryResponse
	if err := decode(body, &r); err != nil {
		return InventoryResponse{}, err
	}
	return r, nil
}

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return nil
}
