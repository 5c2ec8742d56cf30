package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FirstPage は一覧 API の最初のページ番号です。
const FirstPage = 1

// Page はページング付きレスポンスです。
type Page[T any] struct {
	Data    []T  `json:"data"`
	Page    int  `json:"page"`
	Size    int  `json:"size"`
	HasNext bool `json:"has_next"`
}

// OrderQuery は注文一覧の検索条件です。
type OrderQuery struct {
	Page     int
	Statuses []OrderStatus
	Symbols  []string
	Order    string
}

// OpenOrdersQuery は未終了の注文だけを対象とする検索条件を返します。
func OpenOrdersQuery(page int, symbol string) OrderQuery {
	q := HistoryQuery(page, symbol)
	q.Statuses = append([]OrderStatus(nil), OpenStatuses...)
	return q
}

// HistoryQuery はステータスを絞らない検索条件を返します。
func HistoryQuery(page int, symbol string) OrderQuery {
	q := OrderQuery{Page: max(page, FirstPage), Order: "desc"}
	if symbol != "" {
		q.Symbols = []string{symbol}
	}
	return q
}

// UserOverview は現金残高と銘柄評価額の概要です。
type UserOverview struct {
	CashBalance      decimal.Decimal            `json:"cash_balance"`
	CashEscrow       decimal.Decimal            `json:"cash_escrow"`
	PortfolioBalance decimal.Decimal            `json:"portfolio_balance"`
	Data             map[string]decimal.Decimal `json:"data"`
}

// UserEvent は REST で取得するユーザーイベントの一件です。
type UserEvent struct {
	EventType EventType `json:"event_type"`
	OrderID   string    `json:"order_id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Entry はアクティビティログの行に変換します。
func (e UserEvent) Entry() EventLogEntry {
	msg := e.Message
	if msg == "" && e.OrderID != "" {
		msg = "Order ID: " + e.OrderID
	}
	return EventLogEntry{EventType: e.EventType, Message: msg, At: e.CreatedAt}
}
