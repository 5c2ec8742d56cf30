package gateway

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"spectuel_terminal/domain"
)

// ErrUnknownMessage は type が既知のどれにも当たらないメッセージです。
var ErrUnknownMessage = errors.New("unknown message type")

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// body はペイロードが data にネストしていればそれを、なければメッセージ全体を返します。
func (e envelope) body(raw []byte) []byte {
	d := bytes.TrimSpace(e.Data)
	if len(d) > 0 && d[0] == '{' {
		return d
	}
	return raw
}

type eventHeader struct {
	ID        string     `json:"id"`
	Version   int64      `json:"version"`
	Timestamp *epochTime `json:"timestamp"`
}

func (h eventHeader) time() time.Time {
	if h.Timestamp == nil {
		return time.Time{}
	}
	return h.Timestamp.Time
}

// epochTime は UNIX 秒・ミリ秒・RFC3339 文字列のいずれでも受け付けます。
type epochTime struct {
	time.Time
}

func (t *epochTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if d, err := decimal.NewFromString(s); err == nil {
		n := d.IntPart()
		if n > 1_000_000_000_000 {
			t.Time = time.UnixMilli(n).UTC()
		} else {
			t.Time = time.Unix(n, 0).UTC()
		}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("timestamp %q: %w", s, err)
	}
	t.Time = parsed.UTC()
	return nil
}

// DecodeOrderStream は注文ストリームのフレームをイベントに変換します。
func DecodeOrderStream(raw []byte) (domain.Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	body := env.body(raw)
	kind := domain.EventType(env.Type)

	switch kind {
	case domain.EventAck:
		return domain.AckEvent{Message: messageOf(raw)}, nil
	case domain.EventError:
		return domain.ErrorEvent{Message: messageOf(raw)}, nil
	case domain.EventOrderPlaced, domain.EventOrderPartiallyFilled, domain.EventOrderFilled,
		domain.EventOrderCancelled, domain.EventOrderModified, domain.EventOrderModifyRejected,
		domain.EventOrderRejected:
		return decodeOrderEvent(kind, raw, body)
	case domain.EventCashBalanceIncreased, domain.EventCashBalanceDecreased,
		domain.EventCashEscrowIncreased, domain.EventCashEscrowDecreased,
		domain.EventAssetBalanceIncreased, domain.EventAssetBalanceDecreased,
		domain.EventAssetEscrowIncreased, domain.EventAssetEscrowDecreased:
		var w wireBalance
		if err := json.Unmarshal(body, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		w.Type = string(kind)
		return w.event(), nil
	case domain.EventAskSettled, domain.EventBidSettled:
		return decodeSettlement(kind, body)
	case domain.EventAssetBalanceSnapshot:
		var w struct {
			eventHeader
			Symbol                string          `json:"symbol"`
			AvailableAssetBalance decimal.Decimal `json:"available_asset_balance"`
			AvailableCashBalance  decimal.Decimal `json:"available_cash_balance"`
		}
		if err := json.Unmarshal(body, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return domain.AssetSnapshotEvent{
			ID:                    w.ID,
			Version:               w.Version,
			Symbol:                w.Symbol,
			AvailableAssetBalance: w.AvailableAssetBalance,
			AvailableCashBalance:  w.AvailableCashBalance,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}
}

func messageOf(raw []byte) string {
	var m struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Detail  string `json:"detail"`
	}
	_ = json.Unmarshal(raw, &m)
	for _, s := range []string{m.Message, m.Error, m.Detail} {
		if s != "" {
			return s
		}
	}
	return ""
}

func decodeOrderEvent(kind domain.EventType, raw, body []byte) (domain.Event, error) {
	var hdr eventHeader
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return nil, fmt.Errorf("decode %s header: %w", kind, err)
	}
	var u domain.OrderUpdate
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	if u.OrderID == "" {
		return nil, fmt.Errorf("decode %s: missing order_id", kind)
	}
	if u.Version == 0 {
		u.Version = hdr.Version
	}
	return domain.OrderEvent{Kind: kind, ID: hdr.ID, Update: u, Timestamp: hdr.time()}, nil
}

type wireBalance struct {
	eventHeader
	Type   string          `json:"type"`
	UserID string          `json:"user_id"`
	Symbol string          `json:"symbol"`
	Amount decimal.Decimal `json:"amount"`
}

func (w wireBalance) event() domain.BalanceEvent {
	return domain.BalanceEvent{
		Kind:      domain.EventType(w.Type),
		ID:        w.ID,
		UserID:    w.UserID,
		Version:   w.Version,
		Symbol:    w.Symbol,
		Amount:    w.Amount.Abs(),
		Timestamp: w.time(),
	}
}

func decodeSettlement(kind domain.EventType, body []byte) (domain.Event, error) {
	var w struct {
		eventHeader
		Symbol   string          `json:"symbol"`
		Quantity decimal.Decimal `json:"quantity"`
		Price    decimal.Decimal `json:"price"`

		AssetEscrowDecreased  *wireBalance `json:"asset_escrow_decreased"`
		AssetBalanceDecreased *wireBalance `json:"asset_balance_decreased"`
		CashBalanceIncreased  *wireBalance `json:"cash_balance_increased"`
		CashEscrowDecreased   *wireBalance `json:"cash_escrow_decreased"`
		CashBalanceDecreased  *wireBalance `json:"cash_balance_decreased"`
		AssetBalanceIncreased *wireBalance `json:"asset_balance_increased"`
	}
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}

	ev := domain.SettlementEvent{
		Kind:      kind,
		ID:        w.ID,
		Version:   w.Version,
		Symbol:    w.Symbol,
		Quantity:  w.Quantity,
		Price:     w.Price,
		Timestamp: w.time(),
	}
	nested := []struct {
		kind domain.EventType
		w    *wireBalance
	}{
		{domain.EventAssetEscrowDecreased, w.AssetEscrowDecreased},
		{domain.EventAssetBalanceDecreased, w.AssetBalanceDecreased},
		{domain.EventCashBalanceIncreased, w.CashBalanceIncreased},
		{domain.EventCashEscrowDecreased, w.CashEscrowDecreased},
		{domain.EventCashBalanceDecreased, w.CashBalanceDecreased},
		{domain.EventAssetBalanceIncreased, w.AssetBalanceIncreased},
	}
	for _, n := range nested {
		if n.w == nil {
			continue
		}
		n.w.Type = string(n.kind)
		if n.w.Symbol == "" && strings.HasPrefix(string(n.kind), "asset_") {
			n.w.Symbol = w.Symbol
		}
		ev.Deltas = append(ev.Deltas, n.w.event())
	}
	if len(ev.Deltas) == 0 {
		return nil, fmt.Errorf("decode %s: no balance deltas", kind)
	}
	return ev, nil
}

// DecodeMarketStream は市場データストリームのフレームをイベントに変換します。
func DecodeMarketStream(raw []byte) (domain.Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	body := env.body(raw)
	kind := domain.NormalizeEventType(env.Type)

	switch kind {
	case domain.EventAck:
		return domain.AckEvent{Message: messageOf(raw)}, nil
	case domain.EventError:
		return domain.ErrorEvent{Message: messageOf(raw)}, nil
	case domain.EventBarUpdate:
		var w struct {
			Symbol    string          `json:"symbol"`
			Timeframe string          `json:"timeframe"`
			Timestamp epochTime       `json:"timestamp"`
			Open      decimal.Decimal `json:"open"`
			High      decimal.Decimal `json:"high"`
			Low       decimal.Decimal `json:"low"`
			Close     decimal.Decimal `json:"close"`
		}
		if err := json.Unmarshal(body, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		tf, err := domain.ParseTimeframe(w.Timeframe)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return domain.BarUpdateEvent{
			Symbol:    w.Symbol,
			Timeframe: tf,
			Bar: domain.Candle{
				Time:  w.Timestamp.Time,
				Open:  w.Open,
				High:  w.High,
				Low:   w.Low,
				Close: w.Close,
			},
		}, nil
	case domain.EventNewTrade:
		var w struct {
			Symbol     string           `json:"symbol"`
			Price      decimal.Decimal  `json:"price"`
			Quantity   decimal.Decimal  `json:"quantity"`
			Side       domain.OrderSide `json:"side"`
			ExecutedAt epochTime        `json:"executed_at"`
		}
		if err := json.Unmarshal(body, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return domain.NewTradeEvent{
			Symbol: w.Symbol,
			Trade: domain.Trade{
				Price:      w.Price,
				Quantity:   w.Quantity,
				Side:       w.Side,
				ExecutedAt: w.ExecutedAt.Time,
			},
		}, nil
	case domain.EventOrderBookSnapshot, "snapshot":
		var w struct {
			Symbol    string     `json:"symbol"`
			Bids      wireLevels `json:"bids"`
			Asks      wireLevels `json:"asks"`
			Timestamp epochTime  `json:"timestamp"`
		}
		if err := json.Unmarshal(body, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return domain.OrderBookEvent{
			Book: domain.NewOrderBook(w.Symbol, w.Bids, w.Asks, w.Timestamp.Time),
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}
}

// wireLevels は {"price": qty} のマップ形式と [{price, quantity}] / [[price, qty]] の配列形式を受け付けます。
type wireLevels []domain.PriceLevel

func (l *wireLevels) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*l = nil
		return nil
	}

	switch b[0] {
	case '{':
		var m map[string]decimal.Decimal
		if err := json.Unmarshal(b, &m); err != nil {
			return err
		}
		out := make(wireLevels, 0, len(m))
		for p, q := range m {
			price, err := decimal.NewFromString(p)
			if err != nil {
				return fmt.Errorf("price level %q: %w", p, err)
			}
			out = append(out, domain.PriceLevel{Price: price, Quantity: q})
		}
		*l = out
		return nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		out := make(wireLevels, 0, len(items))
		for _, it := range items {
			it = bytes.TrimSpace(it)
			if len(it) > 0 && it[0] == '[' {
				var pair []decimal.Decimal
				if err := json.Unmarshal(it, &pair); err != nil {
					return err
				}
				if len(pair) != 2 {
					return fmt.Errorf("price level pair has %d items", len(pair))
				}
				out = append(out, domain.PriceLevel{Price: pair[0], Quantity: pair[1]})
				continue
			}
			var lvl domain.PriceLevel
			if err := json.Unmarshal(it, &lvl); err != nil {
				return err
			}
			out = append(out, lvl)
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("unexpected price levels %s", string(b))
	}
}
