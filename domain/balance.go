package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// BalanceClass は残高イベントが対象とする残高の種類です。
type BalanceClass int

const (
	ClassCash BalanceClass = iota
	ClassCashEscrow
	ClassAssetBalance
	ClassAssetEscrow
)

func (c BalanceClass) String() string {
	switch c {
	case ClassCash:
		return "cash"
	case ClassCashEscrow:
		return "cash_escrow"
	case ClassAssetBalance:
		return "asset_balance"
	case ClassAssetEscrow:
		return "asset_escrow"
	default:
		return fmt.Sprintf("BalanceClass(%d)", int(c))
	}
}

// AssetBalance は銘柄ごとの保有数量とエスクロー数量です。
type AssetBalance struct {
	Symbol        string          `json:"symbol"`
	Balance       decimal.Decimal `json:"balance"`
	EscrowBalance decimal.Decimal `json:"escrow_balance"`
}

// Available は利用可能数量（balance - escrow）を返します。
func (a AssetBalance) Available() decimal.Decimal {
	return a.Balance.Sub(a.EscrowBalance)
}

// BalanceSnapshot はユーザーの現金残高と銘柄残高を保持します。
// 利用可能残高は保持せず、常に計算で求めます。
type BalanceSnapshot struct {
	Cash       decimal.Decimal         `json:"cash_balance"`
	CashEscrow decimal.Decimal         `json:"cash_escrow"`
	Assets     map[string]AssetBalance `json:"assets"`
	// Portfolio は REST の概要で返る評価額です。差分イベントでは更新しません。
	Portfolio decimal.Decimal `json:"portfolio_balance"`
}

// NewBalanceSnapshot は空のスナップショットを生成します。
func NewBalanceSnapshot() BalanceSnapshot {
	return BalanceSnapshot{Assets: make(map[string]AssetBalance)}
}

// AvailableCash は利用可能な現金を返します。
func (b BalanceSnapshot) AvailableCash() decimal.Decimal {
	return b.Cash.Sub(b.CashEscrow)
}

// Asset は銘柄の残高を返します。未保有ならゼロ値です。
func (b BalanceSnapshot) Asset(symbol string) AssetBalance {
	if a, ok := b.Assets[symbol]; ok {
		return a
	}
	return AssetBalance{Symbol: symbol}
}

// Clone は Assets マップを含めたコピーを返します。
func (b BalanceSnapshot) Clone() BalanceSnapshot {
	out := BalanceSnapshot{
		Cash:       b.Cash,
		CashEscrow: b.CashEscrow,
		Assets:     make(map[string]AssetBalance, len(b.Assets)),
		Portfolio:  b.Portfolio,
	}
	for k, v := range b.Assets {
		out.Assets[k] = v
	}
	return out
}

// ApplyDelta は増減イベントを一件適用します。amount は符号なしで、向きは increase で決まります。
func (b *BalanceSnapshot) ApplyDelta(class BalanceClass, symbol string, amount decimal.Decimal, increase bool) error {
	if b.Assets == nil {
		b.Assets = make(map[string]AssetBalance)
	}
	signed := amount
	if !increase {
		signed = amount.Neg()
	}

	switch class {
	case ClassCash:
		b.Cash = b.Cash.Add(signed)
	case ClassCashEscrow:
		b.CashEscrow = b.CashEscrow.Add(signed)
	case ClassAssetBalance, ClassAssetEscrow:
		if symbol == "" {
			return fmt.Errorf("%s delta without symbol", class)
		}
		a := b.Asset(symbol)
		if class == ClassAssetBalance {
			a.Balance = a.Balance.Add(signed)
		} else {
			a.EscrowBalance = a.EscrowBalance.Add(signed)
		}
		b.Assets[symbol] = a
	default:
		return fmt.Errorf("unknown balance class %s", class)
	}
	return nil
}
