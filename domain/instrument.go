package domain

import "github.com/shopspring/decimal"

// Instrument は取引可能な銘柄です。
type Instrument struct {
	InstrumentID string          `json:"instrument_id"`
	Symbol       string          `json:"symbol"`
	TickSize     decimal.Decimal `json:"tick_size"`
}

// InstrumentStats は銘柄の24時間統計です。
type InstrumentStats struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Volume24h decimal.Decimal `json:"h24_volume"`
	Change24h decimal.Decimal `json:"h24_change"`
	High24h   decimal.Decimal `json:"h24_high"`
	Low24h    decimal.Decimal `json:"h24_low"`
}

// ChangePercent は24時間の変化率（%）を返します。
func (s InstrumentStats) ChangePercent() decimal.Decimal {
	prev := s.Price.Sub(s.Change24h)
	if prev.IsZero() {
		return decimal.Zero
	}
	return s.Change24h.Div(prev).Mul(decimal.NewFromInt(100))
}
