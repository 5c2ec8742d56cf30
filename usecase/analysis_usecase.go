package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/markcheno/go-talib"

	"spectuel_terminal/domain"
)

// MACD のシグナルが安定するのに必要な本数 (26 + 9 - 1) に1本足した値です。
const minBarsForAnalysis = 35

// MarketDataGateway は分析で使う市場データ API のインターフェースです。
type MarketDataGateway interface {
	ListSymbols(ctx context.Context) ([]string, error)
	GetBars(ctx context.Context, symbol string, tf domain.Timeframe) ([]domain.Candle, error)
}

// AnalysisUsecase は MACD と RSI で売買候補を抽出するユースケースを実装します。
type AnalysisUsecase struct {
	market MarketDataGateway
}

// NewAnalysisUsecase は新しい AnalysisUsecase を生成します。
func NewAnalysisUsecase(market MarketDataGateway) *AnalysisUsecase {
	return &AnalysisUsecase{market: market}
}

// AnalyzeTrends は全シンボルの足を並行して取得し、ロングとショートの候補を返します。
func (uc *AnalysisUsecase) AnalyzeTrends(ctx context.Context, tf domain.Timeframe) (long, short []domain.TrendCandidate, err error) {
	slog.Info("fetching symbols")
	symbols, err := uc.market.ListSymbols(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list symbols: %w", err)
	}
	slog.Info("found symbols", "count", len(symbols))

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, symbol := range symbols {
		wg.Add(1)
		go func(s string) {
			defer wg.Done()

			candles, err := uc.market.GetBars(ctx, s, tf)
			if err != nil {
				slog.Warn("could not get bars", "symbol", s, "error", err)
				return
			}
			series := domain.CandleSeries{Symbol: s, Timeframe: tf, Candles: candles}
			c, ok := analyze(series)
			if !ok {
				return
			}

			mu.Lock()
			defer mu.Unlock()
			switch c.Trend {
			case domain.TrendLong:
				long = append(long, c)
				slog.Info("long candidate", "symbol", s, "rsi", c.RSI)
			case domain.TrendShort:
				short = append(short, c)
				slog.Info("short candidate", "symbol", s, "rsi", c.RSI)
			}
		}(symbol)
	}
	wg.Wait()

	byROI := func(cs []domain.TrendCandidate) {
		sort.Slice(cs, func(i, j int) bool { return cs[i].CalculateROI() > cs[j].CalculateROI() })
	}
	byROI(long)
	byROI(short)
	return long, short, nil
}

// analyze は終値から MACD(12,26,9) と RSI(14) を計算し、直近の足でのクロスを判定します。
func analyze(series domain.CandleSeries) (domain.TrendCandidate, bool) {
	closes := series.Closes()
	if len(closes) < minBarsForAnalysis {
		slog.Debug("not enough bars for analysis", "symbol", series.Symbol, "bars", len(closes))
		return domain.TrendCandidate{}, false
	}

	macd, signal, _ := talib.Macd(closes, 12, 26, 9)
	rsi := talib.Rsi(closes, 14)

	n := len(closes)
	trend, ok := detectTrend(macd[n-2], signal[n-2], macd[n-1], signal[n-1], rsi[n-1])
	if !ok {
		return domain.TrendCandidate{}, false
	}
	return domain.TrendCandidate{
		Symbol:       series.Symbol,
		Timeframe:    series.Timeframe,
		Trend:        trend,
		CurrentPrice: closes[n-1],
		PrevPrice:    closes[n-2],
		MACD:         macd[n-1],
		RSI:          rsi[n-1],
	}, true
}

// detectTrend はゴールデンクロスかつ買われすぎでなければロング、
// デッドクロスかつ売られすぎでなければショートと判定します。
func detectTrend(prevMACD, prevSignal, lastMACD, lastSignal, rsi float64) (domain.Trend, bool) {
	switch {
	case prevMACD < prevSignal && lastMACD > lastSignal && rsi < 70.0:
		return domain.TrendLong, true
	case prevMACD > prevSignal && lastMACD < lastSignal && rsi > 30.0:
		return domain.TrendShort, true
	default:
		return "", false
	}
}
