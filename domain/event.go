package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EventType はストリームで届くメッセージの種類です。
type EventType string

const (
	EventAck   EventType = "ack"
	EventError EventType = "error"

	EventOrderPlaced          EventType = "order_placed"
	EventOrderPartiallyFilled EventType = "order_partially_filled"
	EventOrderFilled          EventType = "order_filled"
	EventOrderCancelled       EventType = "order_cancelled"
	EventOrderModified        EventType = "order_modified"
	EventOrderModifyRejected  EventType = "order_modify_rejected"
	EventOrderRejected        EventType = "order_rejected"

	EventCashBalanceIncreased  EventType = "cash_balance_increased"
	EventCashBalanceDecreased  EventType = "cash_balance_decreased"
	EventCashEscrowIncreased   EventType = "cash_escrow_increased"
	EventCashEscrowDecreased   EventType = "cash_escrow_decreased"
	EventAssetBalanceIncreased EventType = "asset_balance_increased"
	EventAssetBalanceDecreased EventType = "asset_balance_decreased"
	EventAssetEscrowIncreased  EventType = "asset_escrow_increased"
	EventAssetEscrowDecreased  EventType = "asset_escrow_decreased"
	EventAssetBalanceSnapshot  EventType = "asset_balance_snapshot"
	EventAskSettled            EventType = "ask_settled"
	EventBidSettled            EventType = "bid_settled"

	EventBarUpdate         EventType = "bar_update"
	EventNewTrade          EventType = "new_trade"
	EventOrderBookSnapshot EventType = "orderbook_snapshot"
)

// OrderEventTypes は購読する注文イベントの一覧です。
var OrderEventTypes = []EventType{
	EventOrderPlaced,
	EventOrderPartiallyFilled,
	EventOrderFilled,
	EventOrderCancelled,
	EventOrderModified,
	EventOrderModifyRejected,
	EventOrderRejected,
}

// BalanceEventTypes は購読する残高イベントの一覧です。
var BalanceEventTypes = []EventType{
	EventCashBalanceIncreased,
	EventCashBalanceDecreased,
	EventCashEscrowIncreased,
	EventCashEscrowDecreased,
	EventAssetBalanceIncreased,
	EventAssetBalanceDecreased,
	EventAssetEscrowIncreased,
	EventAssetEscrowDecreased,
	EventAskSettled,
	EventBidSettled,
}

// NormalizeEventType は "instrument_" 接頭辞付きの市場イベント名を正規化します。
func NormalizeEventType(s string) EventType {
	return EventType(strings.TrimPrefix(s, "instrument_"))
}

// Event はストリームイベントの閉じた直和型です。実装はこのパッケージ内の型に限られます。
type Event interface {
	Type() EventType
	isEvent()
}

// AckEvent はハンドシェイクや購読の確認応答です。
type AckEvent struct {
	Message string
}

// ErrorEvent はサーバーから通知されたエラーです。
type ErrorEvent struct {
	Message string
}

// OrderEvent は注文のライフサイクルイベントです。
type OrderEvent struct {
	Kind      EventType
	ID        string
	Update    OrderUpdate
	Timestamp time.Time
}

// BalanceEvent は残高の増減イベントです。Amount は正の値です。
type BalanceEvent struct {
	Kind      EventType
	ID        string
	UserID    string
	Version   int64
	Symbol    string
	Amount    decimal.Decimal
	Timestamp time.Time
}

// SettlementEvent は約定精算で、3件の残高増減をまとめて運びます。
type SettlementEvent struct {
	Kind      EventType
	ID        string
	Version   int64
	Symbol    string
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	Deltas    []BalanceEvent
	Timestamp time.Time
}

// AssetSnapshotEvent は利用可能残高の通知です。ログにのみ記録します。
type AssetSnapshotEvent struct {
	ID                    string
	Version               int64
	Symbol                string
	AvailableAssetBalance decimal.Decimal
	AvailableCashBalance  decimal.Decimal
}

// BarUpdateEvent はローソク足の更新です。
type BarUpdateEvent struct {
	Symbol    string
	Timeframe Timeframe
	Bar       Candle
}

// NewTradeEvent は新しい約定です。
type NewTradeEvent struct {
	Symbol string
	Trade  Trade
}

// OrderBookEvent は板のスナップショットです。
type OrderBookEvent struct {
	Book OrderBook
}

func (AckEvent) Type() EventType           { return EventAck }
func (ErrorEvent) Type() EventType         { return EventError }
func (e OrderEvent) Type() EventType       { return e.Kind }
func (e BalanceEvent) Type() EventType     { return e.Kind }
func (e SettlementEvent) Type() EventType  { return e.Kind }
func (AssetSnapshotEvent) Type() EventType { return EventAssetBalanceSnapshot }
func (BarUpdateEvent) Type() EventType     { return EventBarUpdate }
func (NewTradeEvent) Type() EventType      { return EventNewTrade }
func (OrderBookEvent) Type() EventType     { return EventOrderBookSnapshot }

func (AckEvent) isEvent()           {}
func (ErrorEvent) isEvent()         {}
func (OrderEvent) isEvent()         {}
func (BalanceEvent) isEvent()       {}
func (SettlementEvent) isEvent()    {}
func (AssetSnapshotEvent) isEvent() {}
func (BarUpdateEvent) isEvent()     {}
func (NewTradeEvent) isEvent()      {}
func (OrderBookEvent) isEvent()     {}

// ImpliedStatus は注文イベントが意味するステータスを返します。
// 修正系イベントはステータスを変えないため ok=false です。
func (e OrderEvent) ImpliedStatus() (OrderStatus, bool) {
	switch e.Kind {
	case EventOrderPlaced:
		return OrderStatusPlaced, true
	case EventOrderPartiallyFilled:
		return OrderStatusPartiallyFilled, true
	case EventOrderFilled:
		return OrderStatusFilled, true
	case EventOrderCancelled, EventOrderRejected:
		return OrderStatusCancelled, true
	default:
		return "", false
	}
}

// IsTerminal は注文をオープン一覧から外すイベントかどうかを返します。
func (e OrderEvent) IsTerminal() bool {
	switch e.Kind {
	case EventOrderFilled, EventOrderCancelled, EventOrderRejected:
		return true
	default:
		return false
	}
}

// Classify は残高イベントの種類と向きを返します。
func (e BalanceEvent) Classify() (class BalanceClass, increase bool, err error) {
	switch e.Kind {
	case EventCashBalanceIncreased:
		return ClassCash, true, nil
	case EventCashBalanceDecreased:
		return ClassCash, false, nil
	case EventCashEscrowIncreased:
		return ClassCashEscrow, true, nil
	case EventCashEscrowDecreased:
		return ClassCashEscrow, false, nil
	case EventAssetBalanceIncreased:
		return ClassAssetBalance, true, nil
	case EventAssetBalanceDecreased:
		return ClassAssetBalance, false, nil
	case EventAssetEscrowIncreased:
		return ClassAssetEscrow, true, nil
	case EventAssetEscrowDecreased:
		return ClassAssetEscrow, false, nil
	default:
		return 0, false, fmt.Errorf("not a balance delta: %s", e.Kind)
	}
}

// Describe はアクティビティログ用のメッセージを返します。
func Describe(ev Event) string {
	switch e := ev.(type) {
	case OrderEvent:
		return "Order ID: " + e.Update.OrderID
	case BalanceEvent:
		if e.Symbol != "" {
			return fmt.Sprintf("%s %s", e.Amount, e.Symbol)
		}
		return e.Amount.String()
	case SettlementEvent:
		return fmt.Sprintf("%s %s @ %s", e.Quantity, e.Symbol, e.Price)
	case AssetSnapshotEvent:
		return fmt.Sprintf("%s available: %s", e.Symbol, e.AvailableAssetBalance)
	case ErrorEvent:
		return e.Message
	case AckEvent:
		return e.Message
	case BarUpdateEvent:
		return fmt.Sprintf("%s %s close %s", e.Symbol, e.Timeframe, e.Bar.Close)
	case NewTradeEvent:
		return fmt.Sprintf("%s %s @ %s", e.Symbol, e.Trade.Quantity, e.Trade.Price)
	case OrderBookEvent:
		return e.Book.Symbol
	default:
		return string(ev.Type())
	}
}
