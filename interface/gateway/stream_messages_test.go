package gateway

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spectuel_terminal/domain"
)

func TestDecodeOrderStreamOrderEvents(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{name: "flat", raw: `{"type":"order_partially_filled","id":"e1","version":3,"timestamp":1700000000,"order_id":"o1","executed_quantity":"2","status":"partially_filled"}`},
		{name: "nested data", raw: `{"type":"order_partially_filled","id":"e1","version":3,"timestamp":1700000000,"data":{"order_id":"o1","executed_quantity":"2","status":"partially_filled"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := DecodeOrderStream([]byte(tc.raw))
			require.NoError(t, err)

			oe, ok := ev.(domain.OrderEvent)
			require.True(t, ok)
			assert.Equal(t, domain.EventOrderPartiallyFilled, oe.Kind)
			assert.Equal(t, "e1", oe.ID)
			assert.Equal(t, "o1", oe.Update.OrderID)
			assert.Equal(t, int64(3), oe.Update.Version)
			require.NotNil(t, oe.Update.ExecutedQuantity)
			assert.True(t, oe.Update.ExecutedQuantity.Equal(decimal.NewFromInt(2)))
			assert.Nil(t, oe.Update.Quantity)
			assert.Equal(t, time.Unix(1700000000, 0).UTC(), oe.Timestamp)
		})
	}
}

func TestDecodeOrderStreamRejectsBadFrames(t *testing.T) {
	cases := map[string]string{
		"not json":         `ping?`,
		"unknown type":     `{"type":"mystery"}`,
		"missing order id": `{"type":"order_filled","status":"filled"}`,
		"settlement empty": `{"type":"bid_settled","symbol":"AAA"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeOrderStream([]byte(raw))
			assert.Error(t, err)
		})
	}

	_, err := DecodeOrderStream([]byte(`{"type":"mystery"}`))
	assert.True(t, errors.Is(err, ErrUnknownMessage))
}

func TestDecodeOrderStreamBalanceDelta(t *testing.T) {
	ev, err := DecodeOrderStream([]byte(`{"type":"cash_escrow_decreased","id":"b1","version":7,"user_id":"u1","amount":"-25.5"}`))
	require.NoError(t, err)

	be, ok := ev.(domain.BalanceEvent)
	require.True(t, ok)
	assert.Equal(t, int64(7), be.Version)
	assert.True(t, be.Amount.Equal(decimal.RequireFromString("25.5")))

	class, increase, err := be.Classify()
	require.NoError(t, err)
	assert.Equal(t, domain.ClassCashEscrow, class)
	assert.False(t, increase)
}

func TestDecodeOrderStreamSettlement(t *testing.T) {
	raw := `{"type":"ask_settled","id":"s1","version":9,"symbol":"AAA","quantity":"2","price":"10",
		"asset_escrow_decreased":{"amount":"2"},
		"asset_balance_decreased":{"amount":"2"},
		"cash_balance_increased":{"amount":"20"}}`
	ev, err := DecodeOrderStream([]byte(raw))
	require.NoError(t, err)

	se, ok := ev.(domain.SettlementEvent)
	require.True(t, ok)
	require.Len(t, se.Deltas, 3)
	assert.Equal(t, domain.EventAssetEscrowDecreased, se.Deltas[0].Kind)
	assert.Equal(t, "AAA", se.Deltas[0].Symbol)
	assert.Equal(t, domain.EventCashBalanceIncreased, se.Deltas[2].Kind)
	assert.Empty(t, se.Deltas[2].Symbol)
}

func TestDecodeOrderStreamAckAndError(t *testing.T) {
	ev, err := DecodeOrderStream([]byte(`{"type":"ack"}`))
	require.NoError(t, err)
	assert.IsType(t, domain.AckEvent{}, ev)

	ev, err = DecodeOrderStream([]byte(`{"type":"error","detail":"bad token"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.ErrorEvent{Message: "bad token"}, ev)
}

func TestDecodeMarketStreamBarUpdate(t *testing.T) {
	ev, err := DecodeMarketStream([]byte(`{"type":"instrument_bar_update","symbol":"AAA","timeframe":"1m","timestamp":1700000040000,"open":"1","high":"3","low":"1","close":"2"}`))
	require.NoError(t, err)

	bu, ok := ev.(domain.BarUpdateEvent)
	require.True(t, ok)
	assert.Equal(t, domain.Timeframe1m, bu.Timeframe)
	assert.Equal(t, time.UnixMilli(1700000040000).UTC(), bu.Bar.Time)

	_, err = DecodeMarketStream([]byte(`{"type":"bar_update","symbol":"AAA","timeframe":"2m","timestamp":1}`))
	assert.Error(t, err)
}

func TestDecodeMarketStreamOrderBookShapes(t *testing.T) {
	cases := map[string]string{
		"map":     `{"type":"orderbook_snapshot","symbol":"AAA","bids":{"9":"1","10":"2"},"asks":{"12":"1","11":"3"}}`,
		"objects": `{"type":"orderbook_snapshot","symbol":"AAA","bids":[{"price":"9","quantity":"1"},{"price":"10","quantity":"2"}],"asks":[{"price":"12","quantity":"1"},{"price":"11","quantity":"3"}]}`,
		"pairs":   `{"type":"snapshot","symbol":"AAA","bids":[["9","1"],["10","2"]],"asks":[["12","1"],["11","3"]]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			ev, err := DecodeMarketStream([]byte(raw))
			require.NoError(t, err)

			book := ev.(domain.OrderBookEvent).Book
			require.Len(t, book.Bids, 2)
			require.Len(t, book.Asks, 2)
			assert.True(t, book.Bids[0].Price.Equal(decimal.NewFromInt(10)))
			assert.True(t, book.Asks[0].Price.Equal(decimal.NewFromInt(11)))
		})
	}
}

func TestEpochTimeAcceptsRFC3339(t *testing.T) {
	var et epochTime
	require.NoError(t, et.UnmarshalJSON([]byte(`"2024-05-01T12:00:00Z"`)))
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), et.Time)

	assert.Error(t, et.UnmarshalJSON([]byte(`"yesterday"`)))
}
