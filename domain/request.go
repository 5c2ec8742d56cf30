package domain

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrMissingPrice は指値・逆指値注文に価格がないことを表します。
	ErrMissingPrice = errors.New("limit and stop orders require a price")
	// ErrNotModifiable は成行注文を修正しようとしたことを表します。
	ErrNotModifiable = errors.New("market orders cannot be modified")
)

// OrderCreate は POST /orders のリクエストです。
type OrderCreate struct {
	Symbol       string           `json:"symbol" validate:"required"`
	Side         OrderSide        `json:"side" validate:"required,oneof=bid ask"`
	OrderType    OrderType        `json:"order_type" validate:"required,oneof=limit stop market"`
	Quantity     decimal.Decimal  `json:"quantity" validate:"gt=0"`
	LimitPrice   *decimal.Decimal `json:"limit_price,omitempty" validate:"omitempty,gt=0"`
	StopPrice    *decimal.Decimal `json:"stop_price,omitempty" validate:"omitempty,gt=0"`
	StrategyType string           `json:"strategy_type"`
}

// CheckPrices は注文種別に必要な価格が揃っているかを検査します。
func (r OrderCreate) CheckPrices() error {
	switch r.OrderType {
	case OrderTypeLimit:
		if r.LimitPrice == nil {
			return ErrMissingPrice
		}
	case OrderTypeStop:
		if r.StopPrice == nil {
			return ErrMissingPrice
		}
	}
	return nil
}

// OrderModify は PATCH /orders/{id} のリクエストです。
type OrderModify struct {
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty" validate:"omitempty,gt=0"`
	StopPrice  *decimal.Decimal `json:"stop_price,omitempty" validate:"omitempty,gt=0"`
}

// For は注文種別に合わない価格を落とした修正内容を返します。
func (m OrderModify) For(t OrderType) (OrderModify, error) {
	switch t {
	case OrderTypeLimit:
		if m.LimitPrice == nil {
			return m, ErrMissingPrice
		}
		return OrderModify{LimitPrice: m.LimitPrice}, nil
	case OrderTypeStop:
		if m.StopPrice == nil {
			return m, ErrMissingPrice
		}
		return OrderModify{StopPrice: m.StopPrice}, nil
	default:
		return m, ErrNotModifiable
	}
}

// InstrumentCreate は POST /instruments のリクエストです。
type InstrumentCreate struct {
	InstrumentID string          `json:"instrument_id" validate:"required"`
	Symbol       string          `json:"symbol" validate:"required"`
	TickSize     decimal.Decimal `json:"tick_size" validate:"gt=0"`
}

// Credentials は POST /auth/login のリクエストです。
type Credentials struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Registration は POST /auth/register のリクエストです。
type Registration struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}
