package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/coder/websocket"

	"spectuel_terminal/domain"
)

// TokenSource は接続ごとに新しい ws-token を返します。
type TokenSource func(ctx context.Context) (string, error)

type orderSubscription struct {
	Type          string             `json:"type"`
	OrderEvents   []domain.EventType `json:"order_events"`
	BalanceEvents []domain.EventType `json:"balance_events"`
}

// OrderStreamGateway はユーザー単位の注文・残高ストリーム (/ws/orders) です。
// 接続ごとにトークンを送り、ack を受けてから購読します。
type OrderStreamGateway struct {
	*stream
	token TokenSource
}

// NewOrderStreamGateway は新しい OrderStreamGateway を生成します。
func NewOrderStreamGateway(wsBaseURL string, token TokenSource, opts StreamOptions) *OrderStreamGateway {
	g := &OrderStreamGateway{
		stream: newStream("orders", strings.TrimSuffix(wsBaseURL, "/")+"/ws/orders", opts, DecodeOrderStream),
		token:  token,
	}
	g.handshake = g.authenticate
	return g
}

// OnEvent はイベントハンドラを設定します。Run の前に呼びます。
func (g *OrderStreamGateway) OnEvent(h EventHandler) { g.onEvent = h }

// OnStatus は接続状態ハンドラを設定します。Run の前に呼びます。
func (g *OrderStreamGateway) OnStatus(h StatusHandler) { g.onStatus = h }

func (g *OrderStreamGateway) authenticate(ctx context.Context, s *stream, conn *websocket.Conn) error {
	token, err := g.token(ctx)
	if err != nil {
		return fmt.Errorf("fetch ws token: %w", err)
	}
	if err := writeJSON(ctx, conn, map[string]string{"token": token}); err != nil {
		return fmt.Errorf("send token: %w", err)
	}

	for {
		data, err := s.next(ctx, conn)
		if err != nil {
			return fmt.Errorf("await ack: %w", err)
		}
		if data == nil {
			continue
		}
		ev, err := DecodeOrderStream(data)
		if err != nil {
			s.dispatch(data)
			continue
		}
		switch e := ev.(type) {
		case domain.AckEvent:
			sub := orderSubscription{
				Type:          "subscribe",
				OrderEvents:   domain.OrderEventTypes,
				BalanceEvents: domain.BalanceEventTypes,
			}
			return writeJSON(ctx, conn, sub)
		case domain.ErrorEvent:
			return fmt.Errorf("rejected: %s", e.Message)
		default:
			if s.onEvent != nil {
				s.onEvent(ev)
			}
		}
	}
}
