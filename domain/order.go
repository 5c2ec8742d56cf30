package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide は注文のサイド（買い/売り）を表します。
type OrderSide string

const (
	Bid OrderSide = "bid"
	Ask OrderSide = "ask"
)

// OrderType は注文の種類を表します。
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
	OrderTypeMarket OrderType = "market"
)

// OrderStatus は注文の状態を表します。
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusPlaced          OrderStatus = "placed"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

// OpenStatuses は「オープン注文」タブで取得するステータスの一覧です。
var OpenStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusPlaced,
	OrderStatusPartiallyFilled,
}

var (
	// ErrStaleWrite は保持している注文より古い更新を受け取ったことを表します。
	ErrStaleWrite = errors.New("stale order write")
	// ErrInvalidOrder は executed_quantity > quantity などの不正な状態を表します。
	ErrInvalidOrder = errors.New("invalid order state")
	// ErrUnknownOrder はどの一覧にもない注文への操作を表します。
	ErrUnknownOrder = errors.New("unknown order")
)

// rank はステータス遷移の順序です。filled と cancelled は同じ終端ランク。
func (s OrderStatus) rank() int {
	switch s {
	case OrderStatusPending:
		return 0
	case OrderStatusPlaced:
		return 1
	case OrderStatusPartiallyFilled:
		return 2
	case OrderStatusFilled, OrderStatusCancelled:
		return 3
	default:
		return -1
	}
}

// IsTerminal は終端ステータスかどうかを返します。
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled
}

// Valid は既知のステータスかどうかを返します。
func (s OrderStatus) Valid() bool {
	return s.rank() >= 0
}

// Order は取引注文の情報を保持するエンティティです。
type Order struct {
	OrderID          string           `json:"order_id"`
	Symbol           string           `json:"symbol"`
	Side             OrderSide        `json:"side"`
	OrderType        OrderType        `json:"order_type"`
	Quantity         decimal.Decimal  `json:"quantity"`
	ExecutedQuantity decimal.Decimal  `json:"executed_quantity"`
	LimitPrice       *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice        *decimal.Decimal `json:"stop_price,omitempty"`
	AvgFillPrice     *decimal.Decimal `json:"avg_fill_price,omitempty"`
	Status           OrderStatus      `json:"status"`
	CreatedAt        time.Time        `json:"created_at"`
	Version          int64            `json:"version,omitempty"`
}

// RemainingQuantity は未約定数量を返します。
func (o Order) RemainingQuantity() decimal.Decimal {
	return o.Quantity.Sub(o.ExecutedQuantity)
}

// Validate は注文の不変条件を検査します。
func (o Order) Validate() error {
	if o.OrderID == "" {
		return fmt.Errorf("%w: empty order_id", ErrInvalidOrder)
	}
	if o.ExecutedQuantity.GreaterThan(o.Quantity) {
		return fmt.Errorf("%w: executed_quantity %s exceeds quantity %s",
			ErrInvalidOrder, o.ExecutedQuantity, o.Quantity)
	}
	return nil
}

// OrderUpdate はイベントで届く注文の部分更新です。nil のフィールドは変更しません。
type OrderUpdate struct {
	OrderID          string           `json:"order_id"`
	Symbol           *string          `json:"symbol,omitempty"`
	Side             *OrderSide       `json:"side,omitempty"`
	OrderType        *OrderType       `json:"order_type,omitempty"`
	Quantity         *decimal.Decimal `json:"quantity,omitempty"`
	ExecutedQuantity *decimal.Decimal `json:"executed_quantity,omitempty"`
	LimitPrice       *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice        *decimal.Decimal `json:"stop_price,omitempty"`
	AvgFillPrice     *decimal.Decimal `json:"avg_fill_price,omitempty"`
	Status           *OrderStatus     `json:"status,omitempty"`
	CreatedAt        *time.Time       `json:"created_at,omitempty"`
	Version          int64            `json:"version,omitempty"`
}

// FullUpdate はスナップショットの注文を全フィールド上書きの更新に変換します。
func FullUpdate(o Order) OrderUpdate {
	u := OrderUpdate{
		OrderID:          o.OrderID,
		Symbol:           &o.Symbol,
		Side:             &o.Side,
		OrderType:        &o.OrderType,
		Quantity:         &o.Quantity,
		ExecutedQuantity: &o.ExecutedQuantity,
		LimitPrice:       o.LimitPrice,
		StopPrice:        o.StopPrice,
		AvgFillPrice:     o.AvgFillPrice,
		Status:           &o.Status,
		CreatedAt:        &o.CreatedAt,
		Version:          o.Version,
	}
	return u
}

// NewOrderFromUpdate は既存の行がない場合に更新から注文を組み立てます。
func NewOrderFromUpdate(u OrderUpdate) (Order, error) {
	o := Order{OrderID: u.OrderID, Status: OrderStatusPending}
	return o.Apply(u)
}

// Apply は更新をマージした新しい注文を返します。
// バージョンの逆行、ステータスの逆行、終端からの遷移は ErrStaleWrite になります。
func (o Order) Apply(u OrderUpdate) (Order, error) {
	if u.OrderID != "" && u.OrderID != o.OrderID {
		return o, fmt.Errorf("%w: order_id mismatch %s != %s", ErrInvalidOrder, u.OrderID, o.OrderID)
	}
	if u.Version > 0 && o.Version > 0 && u.Version < o.Version {
		return o, fmt.Errorf("%w: version %d < %d", ErrStaleWrite, u.Version, o.Version)
	}
	if u.Status != nil {
		if !u.Status.Valid() {
			return o, fmt.Errorf("%w: unknown status %q", ErrInvalidOrder, *u.Status)
		}
		if o.Status.IsTerminal() && *u.Status != o.Status {
			return o, fmt.Errorf("%w: %s is terminal", ErrStaleWrite, o.Status)
		}
		if u.Status.rank() < o.Status.rank() {
			return o, fmt.Errorf("%w: status %s after %s", ErrStaleWrite, *u.Status, o.Status)
		}
	}

	// 約定数量は減らない。終端への更新は状態だけ進め、数量は大きい方を残します。
	exec := u.ExecutedQuantity
	if exec != nil && exec.LessThan(o.ExecutedQuantity) {
		if u.Status == nil || !u.Status.IsTerminal() {
			return o, fmt.Errorf("%w: executed_quantity %s < %s", ErrStaleWrite, *exec, o.ExecutedQuantity)
		}
		exec = nil
	}

	next := o
	if u.Symbol != nil {
		next.Symbol = *u.Symbol
	}
	if u.Side != nil {
		next.Side = *u.Side
	}
	if u.OrderType != nil {
		next.OrderType = *u.OrderType
	}
	if u.Quantity != nil {
		next.Quantity = *u.Quantity
	}
	if exec != nil {
		next.ExecutedQuantity = *exec
	}
	if u.LimitPrice != nil {
		next.LimitPrice = u.LimitPrice
	}
	if u.StopPrice != nil {
		next.StopPrice = u.StopPrice
	}
	if u.AvgFillPrice != nil {
		next.AvgFillPrice = u.AvgFillPrice
	}
	if u.Status != nil {
		next.Status = *u.Status
	}
	if u.CreatedAt != nil {
		next.CreatedAt = *u.CreatedAt
	}
	if u.Version > next.Version {
		next.Version = u.Version
	}
	if err := next.Validate(); err != nil {
		return o, err
	}
	return next, nil
}

// Equal は全フィールドが等しいかどうかを返します。数量と価格は数値として比較します。
func (o Order) Equal(other Order) bool {
	return o.OrderID == other.OrderID &&
		o.Symbol == other.Symbol &&
		o.Side == other.Side &&
		o.OrderType == other.OrderType &&
		o.Quantity.Equal(other.Quantity) &&
		o.ExecutedQuantity.Equal(other.ExecutedQuantity) &&
		equalPrice(o.LimitPrice, other.LimitPrice) &&
		equalPrice(o.StopPrice, other.StopPrice) &&
		equalPrice(o.AvgFillPrice, other.AvgFillPrice) &&
		o.Status == other.Status &&
		o.CreatedAt.Equal(other.CreatedAt) &&
		o.Version == other.Version
}

func equalPrice(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
