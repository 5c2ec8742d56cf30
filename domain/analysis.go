package domain

// Trend は分析で判定したトレンドの向きです。
type Trend string

const (
	TrendLong  Trend = "long"
	TrendShort Trend = "short"
)

// TrendCandidate は MACD と RSI で抽出した銘柄です。
type TrendCandidate struct {
	Symbol       string    `json:"symbol"`
	Timeframe    Timeframe `json:"timeframe"`
	Trend        Trend     `json:"trend"`
	CurrentPrice float64   `json:"current_price"`
	PrevPrice    float64   `json:"prev_price"`
	MACD         float64   `json:"macd"`
	RSI          float64   `json:"rsi"`
}

// CalculateROI は直前の足からの変化率（%）を計算します。
func (c TrendCandidate) CalculateROI() float64 {
	if c.PrevPrice == 0 {
		return 0.0
	}
	return ((c.CurrentPrice - c.PrevPrice) / c.PrevPrice) * 100
}
