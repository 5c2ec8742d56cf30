package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade は約定した取引です。
type Trade struct {
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	Side       OrderSide       `json:"side"`
	ExecutedAt time.Time       `json:"executed_at"`
}

// TradeTape は直近の約定を新しい順に最大 Limit 件保持します。
type TradeTape struct {
	Limit  int     `json:"limit"`
	Trades []Trade `json:"trades"`
}

// NewTradeTape は上限付きのテープを生成します。
func NewTradeTape(limit int) TradeTape {
	if limit <= 0 {
		limit = 10
	}
	return TradeTape{Limit: limit, Trades: make([]Trade, 0, limit)}
}

// Push は約定を先頭に追加し、上限を超えた古いものを切り捨てます。
func (t *TradeTape) Push(tr Trade) {
	next := make([]Trade, 0, t.Limit)
	next = append(next, tr)
	for _, old := range t.Trades {
		if len(next) == t.Limit {
			break
		}
		next = append(next, old)
	}
	t.Trades = next
}

// Reset はスナップショットで置き換えます。入力は新しい順であることを前提とします。
func (t *TradeTape) Reset(trades []Trade) {
	if len(trades) > t.Limit {
		trades = trades[:t.Limit]
	}
	t.Trades = append(make([]Trade, 0, t.Limit), trades...)
}

// Clone はコピーを返します。
func (t TradeTape) Clone() TradeTape {
	out := t
	out.Trades = append([]Trade(nil), t.Trades...)
	return out
}
