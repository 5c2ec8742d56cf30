package usecase

import (
	"context"
	"errors"
	"sync"

	"spectuel_terminal/domain"
)

var errBackend = errors.New("backend unavailable")

// fakeExchange はテスト用のメモリ上の取引所です。
type fakeExchange struct {
	mu sync.Mutex

	user     domain.User
	loginErr error
	token    string

	// pages は "open"/"history" ごとのページ (1始まり) です。
	pages    map[string][]domain.Page[domain.Order]
	queries  []domain.OrderQuery
	listErr  error
	bars     map[string][]domain.Candle
	barsErr  error
	// barsHook は GetBars の応答前に呼ばれます。取得中の割り込みを再現するのに使います。
	barsHook func(symbol string)
	stats    domain.InstrumentStats
	symbols  []string
	overview domain.UserOverview
	assets   []domain.Page[domain.AssetBalance]
	events   []domain.UserEvent

	created  domain.Order
	modified map[string]domain.OrderModify
	canceled []string
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		pages:    make(map[string][]domain.Page[domain.Order]),
		bars:     make(map[string][]domain.Candle),
		modified: make(map[string]domain.OrderModify),
	}
}

func (f *fakeExchange) Login(ctx context.Context, creds domain.Credentials) error {
	return f.loginErr
}

func (f *fakeExchange) Register(ctx context.Context, reg domain.Registration) error {
	return nil
}

func (f *fakeExchange) Me(ctx context.Context) (domain.User, error) {
	return f.user, nil
}

func (f *fakeExchange) WSToken(ctx context.Context) (string, error) {
	return f.token, nil
}

func (f *fakeExchange) ListInstruments(ctx context.Context) ([]domain.Instrument, error) {
	return nil, nil
}

func (f *fakeExchange) CreateInstrument(ctx context.Context, req domain.InstrumentCreate) error {
	return nil
}

func (f *fakeExchange) ListSymbols(ctx context.Context) ([]string, error) {
	return f.symbols, nil
}

func (f *fakeExchange) GetStats(ctx context.Context, symbol string) (domain.InstrumentStats, error) {
	s := f.stats
	s.Symbol = symbol
	return s, nil
}

func (f *fakeExchange) GetBars(ctx context.Context, symbol string, tf domain.Timeframe) ([]domain.Candle, error) {
	if f.barsHook != nil {
		f.barsHook(symbol)
	}
	if f.barsErr != nil {
		return nil, f.barsErr
	}
	return f.bars[symbol], nil
}

func (f *fakeExchange) CreateOrder(ctx context.Context, req domain.OrderCreate) (domain.Order, error) {
	return f.created, nil
}

func (f *fakeExchange) ModifyOrder(ctx context.Context, orderID string, req domain.OrderModify) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modified[orderID] = req
	return nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, orderID)
	return nil
}

func (f *fakeExchange) ListOrders(ctx context.Context, q domain.OrderQuery) (domain.Page[domain.Order], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.listErr != nil {
		return domain.Page[domain.Order]{}, f.listErr
	}
	tab := "history"
	if len(q.Statuses) > 0 {
		tab = "open"
	}
	pages := f.pages[tab]
	if q.Page < 1 || q.Page > len(pages) {
		return domain.Page[domain.Order]{Page: q.Page}, nil
	}
	return pages[q.Page-1], nil
}

func (f *fakeExchange) GetUserOverview(ctx context.Context) (domain.UserOverview, error) {
	return f.overview, nil
}

func (f *fakeExchange) ListAssetBalances(ctx context.Context, page int) (domain.Page[domain.AssetBalance], error) {
	if page < 1 || page > len(f.assets) {
		return domain.Page[domain.AssetBalance]{}, nil
	}
	return f.assets[page-1], nil
}

func (f *fakeExchange) ListUserEvents(ctx context.Context, page int) (domain.Page[domain.UserEvent], error) {
	return domain.Page[domain.UserEvent]{Data: f.events, Page: page}, nil
}

func (f *fakeExchange) Queries() []domain.OrderQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.OrderQuery(nil), f.queries...)
}

// fakeSubscriber は Resubscribe の呼び出しを記録します。
type fakeSubscriber struct {
	symbol string
	tf     domain.Timeframe
}

func (s *fakeSubscriber) Resubscribe(ctx context.Context, symbol string, tf domain.Timeframe) error {
	s.symbol, s.tf = symbol, tf
	return nil
}
