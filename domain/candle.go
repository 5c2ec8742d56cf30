package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe はローソク足の時間足です。
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

var timeframeDurations = map[Timeframe]time.Duration{
	Timeframe1m:  time.Minute,
	Timeframe5m:  5 * time.Minute,
	Timeframe15m: 15 * time.Minute,
	Timeframe1h:  time.Hour,
	Timeframe4h:  4 * time.Hour,
	Timeframe1d:  24 * time.Hour,
}

// ParseTimeframe は文字列を Timeframe に変換します。
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := timeframeDurations[tf]; !ok {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

// Duration は時間足の長さを返します。未知の時間足は 0 です。
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// PeriodStart は t を含む期間の開始時刻を返します。
func (tf Timeframe) PeriodStart(t time.Time) time.Time {
	d := tf.Duration()
	if d == 0 {
		return t
	}
	return t.UTC().Truncate(d)
}

// Candle は OHLC の一本分です。Time は期間の開始時刻です。
type Candle struct {
	Time  time.Time       `json:"time"`
	Open  decimal.Decimal `json:"open"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`
}

// CandleSeries は (symbol, timeframe) に対応する表示中のローソク足列です。
type CandleSeries struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Candles   []Candle  `json:"candles"`
}

// Merge は足の更新を反映します。最後の足の期間内なら更新、期間外なら新しい足を追加します。
// 最後の足より前の更新は無視し、false を返します。
func (s *CandleSeries) Merge(update Candle) bool {
	d := s.Timeframe.Duration()
	if d == 0 {
		return false
	}
	if len(s.Candles) == 0 {
		update.Time = s.Timeframe.PeriodStart(update.Time)
		s.Candles = append(s.Candles, update)
		return true
	}

	last := &s.Candles[len(s.Candles)-1]
	switch {
	case update.Time.Before(last.Time):
		return false
	case update.Time.Before(last.Time.Add(d)):
		last.High = decimal.Max(last.High, update.High)
		last.Low = decimal.Min(last.Low, update.Low)
		last.Close = update.Close
		return true
	default:
		update.Time = s.Timeframe.PeriodStart(update.Time)
		s.Candles = append(s.Candles, update)
		return true
	}
}

// Closes は終値を float64 の列で返します。指標計算用です。
func (s CandleSeries) Closes() []float64 {
	out := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		out[i] = c.Close.InexactFloat64()
	}
	return out
}

// Clone は足の配列をコピーします。
func (s CandleSeries) Clone() CandleSeries {
	out := s
	out.Candles = append([]Candle(nil), s.Candles...)
	return out
}
