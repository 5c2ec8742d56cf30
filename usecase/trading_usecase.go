package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"spectuel_terminal/domain"
	"spectuel_terminal/infra/metrics"
	"spectuel_terminal/infra/validation"
)

// maxBalancePages は残高ページを辿る上限です。
const maxBalancePages = 50

var (
	// ErrNotLoggedIn はログインが必要な操作を未ログインで呼んだことを表します。
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrInvalidRequest は必須の入力が欠けているなど、呼び出し側の誤りを表します。
	ErrInvalidRequest = errors.New("invalid request")
)

// ExchangeGateway は取引所 REST API との通信のためのインターフェースです。
type ExchangeGateway interface {
	Login(ctx context.Context, creds domain.Credentials) error
	Register(ctx context.Context, reg domain.Registration) error
	Me(ctx context.Context) (domain.User, error)
	WSToken(ctx context.Context) (string, error)

	ListInstruments(ctx context.Context) ([]domain.Instrument, error)
	CreateInstrument(ctx context.Context, req domain.InstrumentCreate) error
	GetStats(ctx context.Context, symbol string) (domain.InstrumentStats, error)
	GetBars(ctx context.Context, symbol string, tf domain.Timeframe) ([]domain.Candle, error)

	CreateOrder(ctx context.Context, req domain.OrderCreate) (domain.Order, error)
	ModifyOrder(ctx context.Context, orderID string, req domain.OrderModify) error
	CancelOrder(ctx context.Context, orderID string) error
	ListOrders(ctx context.Context, q domain.OrderQuery) (domain.Page[domain.Order], error)

	GetUserOverview(ctx context.Context) (domain.UserOverview, error)
	ListAssetBalances(ctx context.Context, page int) (domain.Page[domain.AssetBalance], error)
	ListUserEvents(ctx context.Context, page int) (domain.Page[domain.UserEvent], error)
}

// MarketSubscriber は市場データストリームの購読を切り替えます。
type MarketSubscriber interface {
	Resubscribe(ctx context.Context, symbol string, tf domain.Timeframe) error
}

// pager はタブごとのページ位置です。mu はそのタブの取得を直列にします。
type pager struct {
	mu      sync.Mutex
	page    int
	hasNext bool
}

// TradingUsecase は注文、残高、市場の切り替えなど端末の操作を実装します。
type TradingUsecase struct {
	exchange ExchangeGateway
	state    *Reconciler
	session  *domain.Session
	market   MarketSubscriber
	metrics  *metrics.Metrics

	// switchMu は市場の切り替えを直列にし、表示と購読の順序を揃えます。
	switchMu sync.Mutex

	openPager    pager
	historyPager pager
}

// NewTradingUsecase は新しい TradingUsecase を生成します。market は nil でも構いません。
func NewTradingUsecase(exchange ExchangeGateway, state *Reconciler, session *domain.Session, market MarketSubscriber, m *metrics.Metrics) *TradingUsecase {
	return &TradingUsecase{
		exchange: exchange,
		state:    state,
		session:  session,
		market:   market,
		metrics:  m,
	}
}

// State はリコンサイラを返します。
func (uc *TradingUsecase) State() *Reconciler {
	return uc.state
}

// fetchFailed は取得失敗を記録します。表示中の状態はそのまま残します。
func (uc *TradingUsecase) fetchFailed(resource string, err error) error {
	slog.Warn("fetch failed", "resource", resource, "error", err)
	uc.metrics.FetchError(resource)
	return fmt.Errorf("fetch %s: %w", resource, err)
}

// --- Auth ---

// Login はログインし、セッションにユーザーを記録します。
func (uc *TradingUsecase) Login(ctx context.Context, creds domain.Credentials) (domain.User, error) {
	if err := validation.Struct(creds); err != nil {
		return domain.User{}, err
	}
	if err := uc.exchange.Login(ctx, creds); err != nil {
		return domain.User{}, fmt.Errorf("login: %w", err)
	}
	user, err := uc.exchange.Me(ctx)
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	uc.session.SetUser(user)
	slog.Info("logged in", "username", user.Username)
	return user, nil
}

// Register はユーザーを登録します。
func (uc *TradingUsecase) Register(ctx context.Context, reg domain.Registration) error {
	if err := validation.Struct(reg); err != nil {
		return err
	}
	if err := uc.exchange.Register(ctx, reg); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	return nil
}

// CurrentUser はログイン中のユーザーを返します。
func (uc *TradingUsecase) CurrentUser() (domain.User, error) {
	user, ok := uc.session.User()
	if !ok {
		return domain.User{}, ErrNotLoggedIn
	}
	return user, nil
}

// Logout はセッションを破棄します。
func (uc *TradingUsecase) Logout() {
	uc.session.Clear()
}

// WSToken は注文ストリーム用のトークンを取得してセッションに保存します。接続ごとに呼ばれます。
func (uc *TradingUsecase) WSToken(ctx context.Context) (string, error) {
	if !uc.session.IsLoggedIn() {
		return "", ErrNotLoggedIn
	}
	token, err := uc.exchange.WSToken(ctx)
	if err != nil {
		return "", uc.fetchFailed("ws_token", err)
	}
	uc.session.SetWSToken(token)
	return token, nil
}

// --- Instruments & market ---

// ListInstruments は銘柄一覧を返します。
func (uc *TradingUsecase) ListInstruments(ctx context.Context) ([]domain.Instrument, error) {
	out, err := uc.exchange.ListInstruments(ctx)
	if err != nil {
		return nil, uc.fetchFailed("instruments", err)
	}
	return out, nil
}

// CreateInstrument は銘柄を作成します。
func (uc *TradingUsecase) CreateInstrument(ctx context.Context, req domain.InstrumentCreate) error {
	if err := validation.Struct(req); err != nil {
		return err
	}
	return uc.exchange.CreateInstrument(ctx, req)
}

// SwitchMarket は表示する銘柄と時間足を切り替えます。
// 足を取り直し、ストリームの購読と銘柄で絞った注文一覧を更新します。
func (uc *TradingUsecase) SwitchMarket(ctx context.Context, symbol string, tf domain.Timeframe) error {
	if symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidRequest)
	}
	if _, err := domain.ParseTimeframe(string(tf)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	uc.switchMu.Lock()
	defer uc.switchMu.Unlock()

	prev := uc.state.Market().Symbol

	candles, err := uc.exchange.GetBars(ctx, symbol, tf)
	if err != nil {
		_ = uc.fetchFailed("bars", err)
	}
	uc.state.SetMarket(symbol, tf, candles)
	uc.RefreshStats(ctx)

	if uc.market != nil {
		if err := uc.market.Resubscribe(ctx, symbol, tf); err != nil {
			slog.Warn("resubscribe failed", "symbol", symbol, "timeframe", tf, "error", err)
		}
	}
	if prev != symbol && uc.session.IsLoggedIn() {
		_ = uc.LoadOpenOrders(ctx)
		_ = uc.LoadHistory(ctx)
	}
	return nil
}

// ReloadBars は表示中の足を REST で取り直します。再接続中に取りこぼした足を埋めるために使います。
func (uc *TradingUsecase) ReloadBars(ctx context.Context) error {
	m := uc.state.Market()
	if m.Symbol == "" {
		return nil
	}
	candles, err := uc.exchange.GetBars(ctx, m.Symbol, m.Timeframe)
	if err != nil {
		return uc.fetchFailed("bars", err)
	}
	if !uc.state.ReplaceCandles(m.Symbol, m.Timeframe, candles) {
		slog.Debug("bar reload discarded, market switched", "symbol", m.Symbol, "timeframe", m.Timeframe)
	}
	return nil
}

// RefreshStats は表示中の銘柄の24時間統計を更新します。
func (uc *TradingUsecase) RefreshStats(ctx context.Context) {
	symbol := uc.state.Market().Symbol
	if symbol == "" {
		return
	}
	stats, err := uc.exchange.GetStats(ctx, symbol)
	if err != nil {
		_ = uc.fetchFailed("stats", err)
		return
	}
	uc.state.SetStats(stats)
}

// --- Orders ---

// LoadOpenOrders はオープン注文の最初のページで一覧を置き換えます。
func (uc *TradingUsecase) LoadOpenOrders(ctx context.Context) error {
	return uc.loadFirst(ctx, &uc.openPager, "open_orders", domain.OpenOrdersQuery, uc.state.ReplaceOpen)
}

// NextOpenOrders はオープン注文の次のページを追加します。続きがなければ false を返します。
func (uc *TradingUsecase) NextOpenOrders(ctx context.Context) (bool, error) {
	return uc.loadNext(ctx, &uc.openPager, "open_orders", domain.OpenOrdersQuery, uc.state.AppendOpen)
}

// LoadHistory は注文履歴の最初のページで一覧を置き換えます。
func (uc *TradingUsecase) LoadHistory(ctx context.Context) error {
	return uc.loadFirst(ctx, &uc.historyPager, "order_history", domain.HistoryQuery, uc.state.ReplaceHistory)
}

// NextHistory は注文履歴の次のページを追加します。
func (uc *TradingUsecase) NextHistory(ctx context.Context) (bool, error) {
	return uc.loadNext(ctx, &uc.historyPager, "order_history", domain.HistoryQuery, uc.state.AppendHistory)
}

type queryFunc func(page int, symbol string) domain.OrderQuery

func (uc *TradingUsecase) loadFirst(ctx context.Context, p *pager, resource string, query queryFunc, apply func([]domain.Order)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	page, err := uc.exchange.ListOrders(ctx, query(domain.FirstPage, uc.state.Market().Symbol))
	if err != nil {
		return uc.fetchFailed(resource, err)
	}
	apply(page.Data)
	p.page = domain.FirstPage
	p.hasNext = page.HasNext
	return nil
}

func (uc *TradingUsecase) loadNext(ctx context.Context, p *pager, resource string, query queryFunc, apply func([]domain.Order)) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.hasNext {
		return false, nil
	}
	next := p.page + 1
	page, err := uc.exchange.ListOrders(ctx, query(next, uc.state.Market().Symbol))
	if err != nil {
		return p.hasNext, uc.fetchFailed(resource, err)
	}
	apply(page.Data)
	p.page = next
	p.hasNext = page.HasNext
	return p.hasNext, nil
}

// PlaceOrder は注文を検証して発注し、受け付けられた注文を一覧に先行して反映します。
func (uc *TradingUsecase) PlaceOrder(ctx context.Context, req domain.OrderCreate) (domain.Order, error) {
	if err := validation.Struct(req); err != nil {
		return domain.Order{}, err
	}
	if err := req.CheckPrices(); err != nil {
		return domain.Order{}, err
	}

	order, err := uc.exchange.CreateOrder(ctx, req)
	if err != nil {
		return domain.Order{}, fmt.Errorf("place order: %w", err)
	}
	slog.Info("order placed", "order_id", order.OrderID, "symbol", req.Symbol, "side", req.Side, "type", req.OrderType)

	if order.OrderID != "" {
		if err := uc.state.InsertPlaced(order); err != nil {
			slog.Warn("optimistic insert skipped", "order_id", order.OrderID, "error", err)
		}
	}
	return order, nil
}

// ModifyOrder は注文種別に合う価格だけを送って注文を修正します。
func (uc *TradingUsecase) ModifyOrder(ctx context.Context, orderID string, req domain.OrderModify) error {
	if err := validation.Struct(req); err != nil {
		return err
	}
	order, err := uc.state.Order(orderID)
	if err != nil {
		return err
	}
	if order.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", domain.ErrNotModifiable, orderID, order.Status)
	}
	body, err := req.For(order.OrderType)
	if err != nil {
		return err
	}
	if err := uc.exchange.ModifyOrder(ctx, orderID, body); err != nil {
		return fmt.Errorf("modify order %s: %w", orderID, err)
	}
	slog.Info("order modify requested", "order_id", orderID)
	return nil
}

// CancelOrder は注文を取り消します。一覧の更新はストリームのイベントで行います。
func (uc *TradingUsecase) CancelOrder(ctx context.Context, orderID string) error {
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrInvalidRequest)
	}
	if err := uc.exchange.CancelOrder(ctx, orderID); err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	slog.Info("order cancel requested", "order_id", orderID)
	return nil
}

// --- Balances & events ---

// RefreshBalances は現金残高と全ページの銘柄残高を取得し、残高を置き換えます。
func (uc *TradingUsecase) RefreshBalances(ctx context.Context) error {
	overview, err := uc.exchange.GetUserOverview(ctx)
	if err != nil {
		return uc.fetchFailed("user", err)
	}

	snap := domain.NewBalanceSnapshot()
	snap.Cash = overview.CashBalance
	snap.CashEscrow = overview.CashEscrow
	snap.Portfolio = overview.PortfolioBalance

	for page := domain.FirstPage; page < domain.FirstPage+maxBalancePages; page++ {
		res, err := uc.exchange.ListAssetBalances(ctx, page)
		if err != nil {
			return uc.fetchFailed("asset_balances", err)
		}
		for _, a := range res.Data {
			snap.Assets[a.Symbol] = a
		}
		if !res.HasNext {
			break
		}
	}
	uc.state.ReplaceBalances(snap)
	return nil
}

// LoadEvents はユーザーイベントの最初のページでアクティビティログを置き換えます。
func (uc *TradingUsecase) LoadEvents(ctx context.Context) error {
	res, err := uc.exchange.ListUserEvents(ctx, domain.FirstPage)
	if err != nil {
		return uc.fetchFailed("user_events", err)
	}
	entries := make([]domain.EventLogEntry, len(res.Data))
	for i, e := range res.Data {
		entries[i] = e.Entry()
	}
	uc.state.ResetEvents(entries)
	return nil
}

// Resync は最初のページと残高を取り直します。ストリームの接続確立ごとに呼ばれ、失敗は記録して無視します。
func (uc *TradingUsecase) Resync(ctx context.Context) {
	if !uc.session.IsLoggedIn() {
		return
	}
	_ = uc.LoadOpenOrders(ctx)
	_ = uc.LoadHistory(ctx)
	_ = uc.RefreshBalances(ctx)
	_ = uc.LoadEvents(ctx)
	slog.Info("state resynced")
}
