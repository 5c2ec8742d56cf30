package gateway

import (
	"context"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"spectuel_terminal/domain"
)

type barSubscription struct {
	Symbol     string             `json:"symbol"`
	Timeframes []domain.Timeframe `json:"timeframes"`
}

type marketSubscription struct {
	Type       string            `json:"type"`
	Bars       []barSubscription `json:"bars"`
	Trades     []string          `json:"trades"`
	Orderbooks []string          `json:"orderbooks"`
}

// MarketStreamGateway は公開の市場データストリーム (/ws/markets) です。
// ダイヤルできた時点で接続済みとし、現在のシンボルと時間足を購読します。
type MarketStreamGateway struct {
	*stream

	mu        sync.Mutex
	symbol    string
	timeframe domain.Timeframe
}

// NewMarketStreamGateway は新しい MarketStreamGateway を生成します。
func NewMarketStreamGateway(wsBaseURL, symbol string, tf domain.Timeframe, opts StreamOptions) *MarketStreamGateway {
	g := &MarketStreamGateway{
		stream:    newStream("markets", strings.TrimSuffix(wsBaseURL, "/")+"/ws/markets", opts, DecodeMarketStream),
		symbol:    symbol,
		timeframe: tf,
	}
	g.handshake = func(ctx context.Context, _ *stream, conn *websocket.Conn) error {
		return writeJSON(ctx, conn, g.subscription())
	}
	return g
}

// OnEvent はイベントハンドラを設定します。Run の前に呼びます。
func (g *MarketStreamGateway) OnEvent(h EventHandler) { g.onEvent = h }

// OnStatus は接続状態ハンドラを設定します。Run の前に呼びます。
func (g *MarketStreamGateway) OnStatus(h StatusHandler) { g.onStatus = h }

func (g *MarketStreamGateway) subscription() marketSubscription {
	g.mu.Lock()
	defer g.mu.Unlock()
	sub := marketSubscription{Type: "subscribe", Bars: []barSubscription{}, Trades: []string{}, Orderbooks: []string{}}
	if g.symbol == "" {
		return sub
	}
	sub.Bars = append(sub.Bars, barSubscription{Symbol: g.symbol, Timeframes: []domain.Timeframe{g.timeframe}})
	sub.Trades = append(sub.Trades, g.symbol)
	sub.Orderbooks = append(sub.Orderbooks, g.symbol)
	return sub
}

// Market は購読中のシンボルと時間足を返します。
func (g *MarketStreamGateway) Market() (string, domain.Timeframe) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.symbol, g.timeframe
}

// Resubscribe は購読対象を切り替えます。未接続なら次の接続時に反映されます。
func (g *MarketStreamGateway) Resubscribe(ctx context.Context, symbol string, tf domain.Timeframe) error {
	g.mu.Lock()
	g.symbol = symbol
	g.timeframe = tf
	g.mu.Unlock()

	if g.Status() != domain.Connected {
		return nil
	}
	err := g.sendJSON(ctx, g.subscription())
	if err == ErrNotConnected {
		return nil
	}
	return err
}
