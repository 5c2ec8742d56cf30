package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel は板の価格と数量です。
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// OrderBook は板のスナップショットです。Bids は価格の高い順、Asks は安い順。
type OrderBook struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// NewOrderBook は受け取った価格帯を並べ替えて板を組み立てます。
func NewOrderBook(symbol string, bids, asks []PriceLevel, at time.Time) OrderBook {
	b := append([]PriceLevel(nil), bids...)
	a := append([]PriceLevel(nil), asks...)
	sort.SliceStable(b, func(i, j int) bool { return b[i].Price.GreaterThan(b[j].Price) })
	sort.SliceStable(a, func(i, j int) bool { return a[i].Price.LessThan(a[j].Price) })
	return OrderBook{Symbol: symbol, Bids: b, Asks: a, UpdatedAt: at}
}

// Spread は最良売り - 最良買いを返します。どちらかが空なら ok=false。
func (ob OrderBook) Spread() (decimal.Decimal, bool) {
	if len(ob.Bids) == 0 || len(ob.Asks) == 0 {
		return decimal.Zero, false
	}
	return ob.Asks[0].Price.Sub(ob.Bids[0].Price), true
}

// Clone はコピーを返します。
func (ob OrderBook) Clone() OrderBook {
	out := ob
	out.Bids = append([]PriceLevel(nil), ob.Bids...)
	out.Asks = append([]PriceLevel(nil), ob.Asks...)
	return out
}
