package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spectuel_terminal/domain"
	"spectuel_terminal/infra/metrics"
)

func newTradingFixture(t *testing.T) (*TradingUsecase, *fakeExchange, *metrics.Metrics) {
	t.Helper()
	ex := newFakeExchange()
	ex.user = domain.User{UserID: "u1", Username: "alice"}
	m := metrics.New()
	session := domain.NewSession()
	session.SetUser(ex.user)
	uc := NewTradingUsecase(ex, NewReconciler(10, 100, m), session, nil, m)
	return uc, ex, m
}

func orderPage(hasNext bool, orders ...domain.Order) domain.Page[domain.Order] {
	return domain.Page[domain.Order]{Data: orders, Size: len(orders), HasNext: hasNext}
}

func TestLoginStoresUserInSession(t *testing.T) {
	ex := newFakeExchange()
	ex.user = domain.User{UserID: "u1", Username: "alice"}
	session := domain.NewSession()
	uc := NewTradingUsecase(ex, NewReconciler(10, 100, nil), session, nil, nil)

	_, err := uc.Login(context.Background(), domain.Credentials{Username: "alice"})
	assert.Error(t, err)
	assert.False(t, session.IsLoggedIn())

	user, err := uc.Login(context.Background(), domain.Credentials{Username: "alice", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "u1", user.UserID)
	assert.True(t, session.IsLoggedIn())

	ex.token = "tok"
	token, err := uc.WSToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
	assert.Equal(t, "tok", session.WSToken())

	current, err := uc.CurrentUser()
	require.NoError(t, err)
	assert.Equal(t, "alice", current.Username)

	uc.Logout()
	_, err = uc.WSToken(context.Background())
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	_, err = uc.CurrentUser()
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestOpenOrdersPagination(t *testing.T) {
	uc, ex, _ := newTradingFixture(t)
	ex.pages["open"] = []domain.Page[domain.Order]{
		orderPage(true, placedOrder("o1", "1"), placedOrder("o2", "1")),
		orderPage(false, placedOrder("o2", "1"), placedOrder("o3", "1")),
	}
	ctx := context.Background()

	require.NoError(t, uc.LoadOpenOrders(ctx))
	more, err := uc.NextOpenOrders(ctx)
	require.NoError(t, err)
	assert.False(t, more)
	more, err = uc.NextOpenOrders(ctx)
	require.NoError(t, err)
	assert.False(t, more)

	assert.Equal(t, []string{"o1", "o2", "o3"}, ids(uc.State().OpenOrders()))

	qs := ex.Queries()
	require.Len(t, qs, 2)
	assert.Equal(t, domain.FirstPage, qs[0].Page)
	assert.Equal(t, 2, qs[1].Page)
	assert.Equal(t, domain.OpenStatuses, qs[0].Statuses)
	assert.Equal(t, "desc", qs[0].Order)

	require.NoError(t, uc.LoadOpenOrders(ctx))
	assert.Equal(t, []string{"o1", "o2"}, ids(uc.State().OpenOrders()))
}

func TestHistoryQueryHasNoStatusFilter(t *testing.T) {
	uc, ex, _ := newTradingFixture(t)
	ex.pages["history"] = []domain.Page[domain.Order]{orderPage(false, placedOrder("o1", "1"))}

	require.NoError(t, uc.LoadHistory(context.Background()))

	qs := ex.Queries()
	require.Len(t, qs, 1)
	assert.Empty(t, qs[0].Statuses)
	assert.Equal(t, []string{"o1"}, ids(uc.State().History()))
}

func TestFetchFailureKeepsPreviousState(t *testing.T) {
	uc, ex, m := newTradingFixture(t)
	ex.pages["open"] = []domain.Page[domain.Order]{orderPage(false, placedOrder("o1", "1"))}
	ctx := context.Background()
	require.NoError(t, uc.LoadOpenOrders(ctx))

	ex.listErr = errBackend
	err := uc.LoadOpenOrders(ctx)
	require.ErrorIs(t, err, errBackend)

	assert.Equal(t, []string{"o1"}, ids(uc.State().OpenOrders()))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FetchErrors.WithLabelValues("open_orders")))
}

func TestPlaceOrderValidatesAndInsertsOptimistically(t *testing.T) {
	uc, ex, _ := newTradingFixture(t)
	ctx := context.Background()

	_, err := uc.PlaceOrder(ctx, domain.OrderCreate{
		Symbol: "AAA", Side: domain.Bid, OrderType: domain.OrderTypeLimit, Quantity: dec("1"),
	})
	require.ErrorIs(t, err, domain.ErrMissingPrice)

	_, err = uc.PlaceOrder(ctx, domain.OrderCreate{
		Symbol: "AAA", Side: "buy", OrderType: domain.OrderTypeMarket, Quantity: dec("1"),
	})
	require.Error(t, err)

	created := placedOrder("o7", "3")
	created.Status = domain.OrderStatusPending
	ex.created = created

	got, err := uc.PlaceOrder(ctx, domain.OrderCreate{
		Symbol: "AAA", Side: domain.Bid, OrderType: domain.OrderTypeLimit, Quantity: dec("3"), LimitPrice: ptr(dec("10")),
	})
	require.NoError(t, err)
	assert.Equal(t, "o7", got.OrderID)
	assert.Equal(t, []string{"o7"}, ids(uc.State().OpenOrders()))
	assert.Equal(t, []string{"o7"}, ids(uc.State().History()))
}

func TestModifyOrderSendsOnlyMatchingPrice(t *testing.T) {
	uc, ex, _ := newTradingFixture(t)
	stop := placedOrder("s1", "1")
	stop.OrderType = domain.OrderTypeStop
	stop.LimitPrice = nil
	stop.StopPrice = ptr(dec("8"))
	market := placedOrder("m1", "1")
	market.OrderType = domain.OrderTypeMarket
	uc.State().ReplaceOpen([]domain.Order{placedOrder("o1", "1"), stop, market})
	ctx := context.Background()

	both := domain.OrderModify{LimitPrice: ptr(dec("11")), StopPrice: ptr(dec("9"))}
	require.NoError(t, uc.ModifyOrder(ctx, "o1", both))
	require.NoError(t, uc.ModifyOrder(ctx, "s1", both))

	assert.Nil(t, ex.modified["o1"].StopPrice)
	assert.True(t, ex.modified["o1"].LimitPrice.Equal(dec("11")))
	assert.Nil(t, ex.modified["s1"].LimitPrice)
	assert.True(t, ex.modified["s1"].StopPrice.Equal(dec("9")))

	assert.ErrorIs(t, uc.ModifyOrder(ctx, "m1", both), domain.ErrNotModifiable)
	assert.ErrorIs(t, uc.ModifyOrder(ctx, "zz", both), domain.ErrUnknownOrder)
	assert.Error(t, uc.ModifyOrder(ctx, "o1", domain.OrderModify{LimitPrice: ptr(dec("-1"))}))
}

func TestCancelOrderDoesNotTouchState(t *testing.T) {
	uc, ex, _ := newTradingFixture(t)
	uc.State().ReplaceOpen([]domain.Order{placedOrder("o1", "1")})

	require.NoError(t, uc.CancelOrder(context.Background(), "o1"))
	assert.Equal(t, []string{"o1"}, ex.canceled)
	assert.Equal(t, []string{"o1"}, ids(uc.State().OpenOrders()))
	assert.Error(t, uc.CancelOrder(context.Background(), ""))
}

func TestRefreshBalancesWalksAllPages(t *testing.T) {
	uc, ex, _ := newTradingFixture(t)
	ex.overview = domain.UserOverview{CashBalance: dec("100"), CashEscrow: dec("25"), PortfolioBalance: dec("140")}
	ex.assets = []domain.Page[domain.AssetBalance]{
		{Data: []domain.AssetBalance{{Symbol: "AAA", Balance: dec("5"), EscrowBalance: dec("1")}}, HasNext: true},
		{Data: []domain.AssetBalance{{Symbol: "BBB", Balance: dec("2")}}, HasNext: false},
	}

	require.NoError(t, uc.RefreshBalances(context.Background()))

	b := uc.State().Balances()
	assert.Equal(t, "75", b.AvailableCash)
	assert.True(t, b.Portfolio.Equal(dec("140")))
	assert.Equal(t, "4", b.AvailableAssets["AAA"])
	assert.Equal(t, "2", b.AvailableAssets["BBB"])
}

func TestLoadEventsReplacesLog(t *testing.T) {
	uc, ex, _ := newTradingFixture(t)
	ex.events = []domain.UserEvent{
		{EventType: domain.EventOrderFilled, OrderID: "o2", CreatedAt: time.Unix(20, 0)},
		{EventType: domain.EventOrderPlaced, OrderID: "o1", CreatedAt: time.Unix(10, 0)},
	}

	require.NoError(t, uc.LoadEvents(context.Background()))

	entries := uc.State().Events()
	require.Len(t, entries, 2)
	assert.Equal(t, "Order ID: o2", entries[0].Message)
}

func TestSwitchMarketLoadsBarsAndResubscribes(t *testing.T) {
	ex := newFakeExchange()
	sub := &fakeSubscriber{}
	session := domain.NewSession()
	session.SetUser(domain.User{UserID: "u1"})
	uc := NewTradingUsecase(ex, NewReconciler(10, 100, nil), session, sub, nil)

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ex.bars["AAA"] = []domain.Candle{{Time: t0, Open: dec("1"), High: dec("1"), Low: dec("1"), Close: dec("1")}}
	ex.stats = domain.InstrumentStats{Price: dec("1")}
	ctx := context.Background()

	require.NoError(t, uc.SwitchMarket(ctx, "AAA", domain.Timeframe5m))

	m := uc.State().Market()
	assert.Equal(t, "AAA", m.Symbol)
	assert.Equal(t, domain.Timeframe5m, m.Timeframe)
	assert.Len(t, m.Candles, 1)
	assert.Equal(t, "AAA", m.Stats.Symbol)
	assert.Equal(t, "AAA", sub.symbol)
	assert.Equal(t, domain.Timeframe5m, sub.tf)

	qs := ex.Queries()
	require.Len(t, qs, 2)
	assert.Equal(t, []string{"AAA"}, qs[0].Symbols)

	assert.Error(t, uc.SwitchMarket(ctx, "AAA", "7m"))
	assert.Error(t, uc.SwitchMarket(ctx, "", domain.Timeframe1m))
}

func TestSwitchMarketKeepsGoingWhenBarsFail(t *testing.T) {
	uc, ex, _ := newTradingFixture(t)
	ex.barsErr = errBackend

	require.NoError(t, uc.SwitchMarket(context.Background(), "AAA", domain.Timeframe1m))
	assert.Equal(t, "AAA", uc.State().Market().Symbol)
	assert.Empty(t, uc.State().Market().Candles)
}

func TestResyncRequiresLogin(t *testing.T) {
	ex := newFakeExchange()
	uc := NewTradingUsecase(ex, NewReconciler(10, 100, nil), domain.NewSession(), nil, nil)

	uc.Resync(context.Background())
	assert.Empty(t, ex.Queries())
}

func TestReloadBarsDoesNotRevertConcurrentSwitch(t *testing.T) {
	uc, ex, _ := newTradingFixture(t)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ex.bars["AAA"] = []domain.Candle{{Time: t0, Close: dec("1")}}
	ex.bars["BBB"] = []domain.Candle{{Time: t0, Close: dec("2")}, {Time: t0.Add(5 * time.Minute), Close: dec("3")}}
	ctx := context.Background()
	require.NoError(t, uc.SwitchMarket(ctx, "AAA", domain.Timeframe1m))

	entered := make(chan struct{})
	release := make(chan struct{})
	ex.barsHook = func(symbol string) {
		if symbol == "AAA" {
			close(entered)
			<-release
		}
	}

	done := make(chan error, 1)
	go func() { done <- uc.ReloadBars(ctx) }()
	<-entered

	require.NoError(t, uc.SwitchMarket(ctx, "BBB", domain.Timeframe5m))
	close(release)
	require.NoError(t, <-done)

	m := uc.State().Market()
	assert.Equal(t, "BBB", m.Symbol)
	assert.Equal(t, domain.Timeframe5m, m.Timeframe)
	assert.Len(t, m.Candles, 2)
}

func TestReloadBarsReplacesCandlesForSameMarket(t *testing.T) {
	uc, ex, _ := newTradingFixture(t)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()
	require.NoError(t, uc.SwitchMarket(ctx, "AAA", domain.Timeframe1m))
	ex.bars["AAA"] = []domain.Candle{{Time: t0, Close: dec("1")}, {Time: t0.Add(time.Minute), Close: dec("2")}}

	require.NoError(t, uc.ReloadBars(ctx))
	assert.Len(t, uc.State().Market().Candles, 2)
}

func TestMissingInputIsInvalidRequest(t *testing.T) {
	uc, _, _ := newTradingFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, uc.SwitchMarket(ctx, "", domain.Timeframe1m), ErrInvalidRequest)
	assert.ErrorIs(t, uc.SwitchMarket(ctx, "AAA", "7m"), ErrInvalidRequest)
	assert.ErrorIs(t, uc.CancelOrder(ctx, ""), ErrInvalidRequest)
}
