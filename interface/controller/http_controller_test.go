package controller

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spectuel_terminal/domain"
	"spectuel_terminal/infra/metrics"
	"spectuel_terminal/interface/gateway"
	"spectuel_terminal/usecase"
)

// fakeTrading は TradingUsecase の呼び出しを記録します。
type fakeTrading struct {
	placed   []domain.OrderCreate
	placeErr error
	modified map[string]domain.OrderModify
	modErr   error
	canceled []string
	cancErr  error
	loads    int
	pages    int
	more     []bool
	market   string
	tf       domain.Timeframe

	user        *domain.User
	loginErr    error
	registered  []domain.Registration
	instruments []domain.Instrument
	created     []domain.InstrumentCreate
	createErr   error
}

func (f *fakeTrading) Login(ctx context.Context, creds domain.Credentials) (domain.User, error) {
	if f.loginErr != nil {
		return domain.User{}, f.loginErr
	}
	u := domain.User{UserID: "u1", Username: creds.Username}
	f.user = &u
	return u, nil
}

func (f *fakeTrading) Register(ctx context.Context, reg domain.Registration) error {
	f.registered = append(f.registered, reg)
	return nil
}

func (f *fakeTrading) Logout() {
	f.user = nil
}

func (f *fakeTrading) CurrentUser() (domain.User, error) {
	if f.user == nil {
		return domain.User{}, usecase.ErrNotLoggedIn
	}
	return *f.user, nil
}

func (f *fakeTrading) ListInstruments(ctx context.Context) ([]domain.Instrument, error) {
	return f.instruments, nil
}

func (f *fakeTrading) CreateInstrument(ctx context.Context, req domain.InstrumentCreate) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, req)
	return nil
}

func newFakeTrading() *fakeTrading {
	return &fakeTrading{modified: make(map[string]domain.OrderModify)}
}

func (f *fakeTrading) PlaceOrder(ctx context.Context, req domain.OrderCreate) (domain.Order, error) {
	if f.placeErr != nil {
		return domain.Order{}, f.placeErr
	}
	f.placed = append(f.placed, req)
	return domain.Order{OrderID: "o1", Symbol: req.Symbol, Status: domain.OrderStatusPending}, nil
}

func (f *fakeTrading) ModifyOrder(ctx context.Context, orderID string, req domain.OrderModify) error {
	if f.modErr != nil {
		return f.modErr
	}
	f.modified[orderID] = req
	return nil
}

func (f *fakeTrading) CancelOrder(ctx context.Context, orderID string) error {
	if f.cancErr != nil {
		return f.cancErr
	}
	f.canceled = append(f.canceled, orderID)
	return nil
}

func (f *fakeTrading) LoadOpenOrders(ctx context.Context) error {
	f.loads++
	return nil
}

func (f *fakeTrading) NextOpenOrders(ctx context.Context) (bool, error) {
	return f.next(), nil
}

func (f *fakeTrading) NextHistory(ctx context.Context) (bool, error) {
	return f.next(), nil
}

func (f *fakeTrading) next() bool {
	f.pages++
	if len(f.more) == 0 {
		return false
	}
	m := f.more[0]
	f.more = f.more[1:]
	return m
}

func (f *fakeTrading) SwitchMarket(ctx context.Context, symbol string, tf domain.Timeframe) error {
	f.market, f.tf = symbol, tf
	return nil
}

func newTestServer(t *testing.T) (*gin.Engine, *fakeTrading, *usecase.Reconciler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	trading := newFakeTrading()
	state := usecase.NewReconciler(10, 100, nil)
	m := metrics.New()
	h := NewHTTPController(trading, state, m.Handler())
	return h.Router(), trading, state
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error
}

func TestHealthzAndConnections(t *testing.T) {
	r, _, state := newTestServer(t)
	state.SetConnection(usecase.ChannelOrders, domain.Connected)

	w := do(r, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"orders":"connected"`)

	w = do(r, http.MethodGet, "/state/connections", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"orders":"connected"}`, w.Body.String())
}

func TestStateOrdersReflectReconciler(t *testing.T) {
	r, _, state := newTestServer(t)
	price := decimal.RequireFromString("10")
	state.ReplaceOpen([]domain.Order{{
		OrderID: "o1", Symbol: "AAA", Side: domain.Bid, OrderType: domain.OrderTypeLimit,
		Quantity: decimal.RequireFromString("2"), LimitPrice: &price, Status: domain.OrderStatusPlaced,
	}})

	w := do(r, http.MethodGet, "/state/orders/open", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data []domain.Order `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "o1", body.Data[0].OrderID)
	assert.Contains(t, w.Body.String(), `"remaining_quantity":"2"`)

	w = do(r, http.MethodGet, "/state/orders/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":[]}`, w.Body.String())
}

func TestPlaceOrderEndpoint(t *testing.T) {
	r, trading, _ := newTestServer(t)

	w := do(r, http.MethodPost, "/orders", `{"symbol":"AAA","side":"bid","order_type":"limit","quantity":"1","limit_price":"10"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), `"o1"`)
	require.Len(t, trading.placed, 1)
	assert.True(t, trading.placed[0].LimitPrice.Equal(decimal.RequireFromString("10")))

	w = do(r, http.MethodPost, "/orders", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		msg  string
	}{
		{"missing price", domain.ErrMissingPrice, http.StatusBadRequest, domain.ErrMissingPrice.Error()},
		{"not modifiable", domain.ErrNotModifiable, http.StatusBadRequest, domain.ErrNotModifiable.Error()},
		{"unknown order", domain.ErrUnknownOrder, http.StatusNotFound, domain.ErrUnknownOrder.Error()},
		{"not logged in", usecase.ErrNotLoggedIn, http.StatusUnauthorized, usecase.ErrNotLoggedIn.Error()},
		{"invalid request", fmt.Errorf("%w: order id is required", usecase.ErrInvalidRequest), http.StatusBadRequest, "invalid request: order id is required"},
		{"api error", &gateway.APIError{StatusCode: http.StatusConflict, Message: "Order already filled"}, http.StatusConflict, "Order already filled"},
		{"backend", assert.AnError, http.StatusBadGateway, assert.AnError.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, trading, _ := newTestServer(t)
			trading.modErr = tt.err

			w := do(r, http.MethodPatch, "/orders/o1", `{"limit_price":"11"}`)
			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, tt.msg, errorMessage(t, w))
		})
	}
}

func TestModifyAndCancelEndpoints(t *testing.T) {
	r, trading, _ := newTestServer(t)

	w := do(r, http.MethodPatch, "/orders/o1", `{"stop_price":"9"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Contains(t, trading.modified, "o1")
	assert.True(t, trading.modified["o1"].StopPrice.Equal(decimal.RequireFromString("9")))

	w = do(r, http.MethodDelete, "/orders/o2", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"o2"}, trading.canceled)
}

func TestNextPageEndpoints(t *testing.T) {
	r, trading, _ := newTestServer(t)
	trading.more = []bool{true}

	w := do(r, http.MethodPost, "/orders/open/next", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"has_next":true`)

	w = do(r, http.MethodPost, "/orders/history/next", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"has_next":false`)
	assert.Equal(t, 2, trading.pages)
}

func TestSwitchMarketEndpoint(t *testing.T) {
	r, trading, state := newTestServer(t)
	state.SetMarket("AAA", domain.Timeframe5m, nil)

	w := do(r, http.MethodPut, "/market", `{"symbol":"BBB"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "BBB", trading.market)
	assert.Equal(t, domain.Timeframe5m, trading.tf)

	w = do(r, http.MethodPut, "/market", `{"symbol":"BBB","timeframe":"7m"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := metrics.New()
	m.Reconnect(usecase.ChannelMarkets)
	r := NewHTTPController(newFakeTrading(), usecase.NewReconciler(10, 100, m), m.Handler()).Router()

	w := do(r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `spectuel_stream_reconnects_total{channel="markets"} 1`)
}

func TestAuthEndpoints(t *testing.T) {
	r, trading, _ := newTestServer(t)

	w := do(r, http.MethodGet, "/auth/me", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/auth/register", `{"username":"alice","email":"a@example.com","password":"secret123"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, trading.registered, 1)
	assert.Equal(t, "a@example.com", trading.registered[0].Email)

	w = do(r, http.MethodPost, "/auth/login", `{"username":"alice","password":"secret123"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"username":"alice"`)

	w = do(r, http.MethodGet, "/auth/me", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":"u1"`)

	w = do(r, http.MethodPost, "/auth/logout", "")
	require.Equal(t, http.StatusNoContent, w.Code)
	w = do(r, http.MethodGet, "/auth/me", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginFailureKeepsStatus(t *testing.T) {
	r, trading, _ := newTestServer(t)
	trading.loginErr = &gateway.APIError{StatusCode: http.StatusUnauthorized, Message: "Invalid credentials"}

	w := do(r, http.MethodPost, "/auth/login", `{"username":"alice","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid credentials", errorMessage(t, w))
}

func TestInstrumentEndpoints(t *testing.T) {
	r, trading, _ := newTestServer(t)
	trading.instruments = []domain.Instrument{{InstrumentID: "i1", Symbol: "AAA", TickSize: decimal.RequireFromString("0.01")}}

	w := do(r, http.MethodGet, "/instruments", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"symbol":"AAA"`)

	w = do(r, http.MethodPost, "/instruments", `{"instrument_id":"i2","symbol":"BBB","tick_size":"0.5"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, trading.created, 1)
	assert.Equal(t, "BBB", trading.created[0].Symbol)
	assert.True(t, trading.created[0].TickSize.Equal(decimal.RequireFromString("0.5")))

	trading.createErr = &gateway.APIError{StatusCode: http.StatusConflict, Message: "Instrument already exists"}
	w = do(r, http.MethodPost, "/instruments", `{"instrument_id":"i2","symbol":"BBB","tick_size":"0.5"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestMarketViewIncludesSpread(t *testing.T) {
	r, _, state := newTestServer(t)
	state.SetMarket("AAA", domain.Timeframe1m, nil)
	book := domain.NewOrderBook("AAA",
		[]domain.PriceLevel{{Price: decimal.RequireFromString("10"), Quantity: decimal.RequireFromString("1")}},
		[]domain.PriceLevel{{Price: decimal.RequireFromString("11"), Quantity: decimal.RequireFromString("1")}},
		time.Time{})
	require.NoError(t, state.Apply(domain.OrderBookEvent{Book: book}))

	w := do(r, http.MethodGet, "/state/market", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"spread":"1"`)
}
