package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"spectuel_terminal/domain"
	"spectuel_terminal/infra/metrics"
)

const seenCapacity = 4096

// errDropped は Apply の内部で、反映せずに破棄したことを表します。
var errDropped = errors.New("event dropped")

// 破棄理由のラベルです。
const (
	dropDuplicate    = "duplicate"
	dropStale        = "stale"
	dropUnknownOrder = "unknown_order"
	dropOtherMarket  = "other_market"
	dropInvalid      = "invalid"
)

// MarketView は表示中の銘柄と時間足の市場データです。
type MarketView struct {
	Symbol    string                 `json:"symbol"`
	Timeframe domain.Timeframe       `json:"timeframe"`
	Stats     domain.InstrumentStats `json:"stats"`
	// ChangePercent は24時間の変化率 (%) です。
	ChangePercent string `json:"change_percent"`
	// Spread は最良売りと最良買いの差です。どちらかが空なら空文字です。
	Spread    string           `json:"spread,omitempty"`
	Candles   []domain.Candle  `json:"candles"`
	Trades    []domain.Trade   `json:"trades"`
	OrderBook domain.OrderBook `json:"orderbook"`
}

// BalanceView は残高と計算済みの利用可能額です。
type BalanceView struct {
	domain.BalanceSnapshot
	AvailableCash   string            `json:"available_cash"`
	AvailableAssets map[string]string `json:"available_assets"`
}

// seenIDs は最近処理したイベント ID を古い順に捨てる集合です。
type seenIDs struct {
	ids   map[string]struct{}
	order []string
	limit int
}

func newSeenIDs(limit int) *seenIDs {
	return &seenIDs{ids: make(map[string]struct{}, limit), limit: limit}
}

// add は新規なら記録して true を返します。
func (s *seenIDs) add(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > s.limit {
		delete(s.ids, s.order[0])
		s.order = s.order[1:]
	}
	return true
}

// Reconciler は REST スナップショットとストリームのイベントを一つの状態にまとめます。
// すべての変更は mu の下で直列に行われ、参照系はコピーを返します。
type Reconciler struct {
	mu sync.Mutex

	open    domain.OrderList
	history domain.OrderList

	balances           domain.BalanceSnapshot
	lastBalanceVersion int64

	events domain.EventLog
	seen   *seenIDs

	series domain.CandleSeries
	stats  domain.InstrumentStats
	tape   domain.TradeTape
	book   domain.OrderBook

	connections map[string]domain.ConnectionStatus

	metrics *metrics.Metrics
	now     func() time.Time
}

// NewReconciler は空の状態を生成します。
func NewReconciler(tradeTapeSize, eventLogSize int, m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		open:        domain.OrderList{},
		history:     domain.OrderList{},
		balances:    domain.NewBalanceSnapshot(),
		events:      domain.NewEventLog(eventLogSize),
		seen:        newSeenIDs(seenCapacity),
		tape:        domain.NewTradeTape(tradeTapeSize),
		connections: make(map[string]domain.ConnectionStatus),
		metrics:     m,
		now:         time.Now,
	}
}

// Apply はストリームのイベントを一件反映します。
func (r *Reconciler) Apply(ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	switch e := ev.(type) {
	case domain.AckEvent:
		return nil
	case domain.ErrorEvent:
		r.logEvent(e.Type(), e.Message)
		return nil
	case domain.OrderEvent:
		err = r.applyOrder(e)
	case domain.BalanceEvent:
		err = r.applyBalance(e)
	case domain.SettlementEvent:
		err = r.applySettlement(e)
	case domain.AssetSnapshotEvent:
		if e.ID != "" && !r.seen.add(e.ID) {
			err = r.drop(ev, dropDuplicate)
			break
		}
		r.logEvent(e.Type(), domain.Describe(e))
	case domain.BarUpdateEvent:
		err = r.applyBar(e)
	case domain.NewTradeEvent:
		if e.Symbol != r.series.Symbol {
			err = r.drop(ev, dropOtherMarket)
			break
		}
		r.tape.Push(e.Trade)
	case domain.OrderBookEvent:
		if e.Book.Symbol != "" && e.Book.Symbol != r.series.Symbol {
			err = r.drop(ev, dropOtherMarket)
			break
		}
		r.book = e.Book.Clone()
	default:
		return fmt.Errorf("unhandled event %T", ev)
	}
	if errors.Is(err, errDropped) {
		return nil
	}
	if err != nil {
		return err
	}
	r.metrics.Applied(string(ev.Type()))
	return nil
}

// drop は破棄を記録して errDropped を返します。
func (r *Reconciler) drop(ev domain.Event, reason string) error {
	slog.Debug("event dropped", "type", ev.Type(), "reason", reason)
	r.metrics.Dropped(string(ev.Type()), reason)
	return errDropped
}

func (r *Reconciler) logEvent(t domain.EventType, msg string) {
	r.events.Add(domain.EventLogEntry{EventType: t, Message: msg, At: r.now().UTC()})
}

func (r *Reconciler) applyOrder(e domain.OrderEvent) error {
	if e.ID != "" && !r.seen.add(e.ID) {
		return r.drop(e, dropDuplicate)
	}
	if e.Kind == domain.EventOrderModifyRejected {
		r.logEvent(e.Kind, domain.Describe(e))
		return nil
	}

	u := e.Update
	if u.Status == nil {
		if st, ok := e.ImpliedStatus(); ok {
			u.Status = &st
		}
	}

	current, inOpen := r.open.Get(u.OrderID)
	if !inOpen {
		current, _ = r.history.Get(u.OrderID)
	}
	known := inOpen || r.history.Index(u.OrderID) >= 0

	var next domain.Order
	var err error
	switch {
	case known:
		next, err = current.Apply(u)
	case e.Kind == domain.EventOrderPlaced:
		next, err = domain.NewOrderFromUpdate(u)
	default:
		return r.drop(e, dropUnknownOrder)
	}
	if err != nil {
		if errors.Is(err, domain.ErrStaleWrite) {
			return r.drop(e, dropStale)
		}
		r.drop(e, dropInvalid)
		return fmt.Errorf("apply %s to %s: %w", e.Kind, u.OrderID, err)
	}
	if known && next.Equal(current) {
		return r.drop(e, dropDuplicate)
	}
	r.logEvent(e.Kind, domain.Describe(e))

	r.history = upsert(r.history, next)
	if next.Status.IsTerminal() {
		r.open, _ = r.open.Remove(next.OrderID)
	} else {
		r.open = upsert(r.open, next)
	}
	return nil
}

// upsert は行を置き換えるか、なければ先頭に追加します。
func upsert(l domain.OrderList, o domain.Order) domain.OrderList {
	if i := l.Index(o.OrderID); i >= 0 {
		out := l.Clone()
		out[i] = o
		return out
	}
	return l.Prepend(o)
}

func (r *Reconciler) balanceFresh(id string, version int64) (bool, string) {
	if version > 0 && version <= r.lastBalanceVersion {
		return false, dropStale
	}
	if id != "" && !r.seen.add(id) {
		return false, dropDuplicate
	}
	return true, ""
}

func (r *Reconciler) applyBalance(e domain.BalanceEvent) error {
	if ok, reason := r.balanceFresh(e.ID, e.Version); !ok {
		return r.drop(e, reason)
	}
	class, increase, err := e.Classify()
	if err != nil {
		return err
	}
	if err := r.balances.ApplyDelta(class, e.Symbol, e.Amount, increase); err != nil {
		r.drop(e, dropInvalid)
		return err
	}
	if e.Version > r.lastBalanceVersion {
		r.lastBalanceVersion = e.Version
	}
	r.logEvent(e.Kind, domain.Describe(e))
	return nil
}

func (r *Reconciler) applySettlement(e domain.SettlementEvent) error {
	if ok, reason := r.balanceFresh(e.ID, e.Version); !ok {
		return r.drop(e, reason)
	}

	next := r.balances.Clone()
	for _, d := range e.Deltas {
		class, increase, err := d.Classify()
		if err != nil {
			return err
		}
		if err := next.ApplyDelta(class, d.Symbol, d.Amount, increase); err != nil {
			r.drop(e, dropInvalid)
			return err
		}
	}
	r.balances = next
	if e.Version > r.lastBalanceVersion {
		r.lastBalanceVersion = e.Version
	}
	r.logEvent(e.Kind, domain.Describe(e))
	return nil
}

func (r *Reconciler) applyBar(e domain.BarUpdateEvent) error {
	if e.Symbol != r.series.Symbol || e.Timeframe != r.series.Timeframe {
		return r.drop(e, dropOtherMarket)
	}
	if !r.series.Merge(e.Bar) {
		return r.drop(e, dropStale)
	}
	return nil
}

// --- snapshots ---

// filterOpenPage はオープン一覧に入れてはいけない行を除き、既存行より古い内容は既存行で置き換えます。
func (r *Reconciler) filterOpenPage(page []domain.Order) []domain.Order {
	out := make([]domain.Order, 0, len(page))
	for _, o := range page {
		if o.Status.IsTerminal() {
			continue
		}
		if h, ok := r.history.Get(o.OrderID); ok && h.Status.IsTerminal() {
			continue
		}
		out = append(out, o)
	}
	return out
}

// merged は既存行があればページの内容をガード付きで適用した結果を返します。
func merged(existing domain.OrderList, o domain.Order) domain.Order {
	cur, ok := existing.Get(o.OrderID)
	if !ok {
		return o
	}
	next, err := cur.Apply(domain.FullUpdate(o))
	if err != nil {
		return cur
	}
	return next
}

// ReplaceOpen はオープン注文の最初のページで一覧を置き換えます。
func (r *Reconciler) ReplaceOpen(page []domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(domain.OrderList, 0, len(page))
	for _, o := range r.filterOpenPage(page) {
		if next.Index(o.OrderID) >= 0 {
			continue
		}
		next = append(next, merged(r.open, o))
	}
	r.open = next
}

// AppendOpen はオープン注文の続きのページを重複なしで追加します。
func (r *Reconciler) AppendOpen(page []domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = r.open.AppendPage(r.filterOpenPage(page))
}

// ReplaceHistory は履歴の最初のページで一覧を置き換えます。
func (r *Reconciler) ReplaceHistory(page []domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(domain.OrderList, 0, len(page))
	for _, o := range page {
		if next.Index(o.OrderID) >= 0 {
			continue
		}
		next = append(next, merged(r.history, o))
	}
	r.history = next
	r.pruneOpen()
}

// AppendHistory は履歴の続きのページを重複なしで追加します。
func (r *Reconciler) AppendHistory(page []domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = r.history.AppendPage(page)
	r.pruneOpen()
}

// pruneOpen は履歴で終端になった注文をオープン一覧から外します。
func (r *Reconciler) pruneOpen() {
	for _, h := range r.history {
		if h.Status.IsTerminal() {
			r.open, _ = r.open.Remove(h.OrderID)
		}
	}
}

// InsertPlaced は発注 API の応答を両方の一覧に先行して反映します。
func (r *Reconciler) InsertPlaced(o domain.Order) error {
	if err := o.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	next := merged(r.history, o)
	r.history = upsert(r.history, next)
	if !next.Status.IsTerminal() {
		r.open = upsert(r.open, merged(r.open, next))
	}
	return nil
}

// ReplaceBalances は残高をスナップショットで置き換えます。
func (r *Reconciler) ReplaceBalances(b domain.BalanceSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances = b.Clone()
}

// ResetEvents はアクティビティログを REST の履歴で置き換えます。
func (r *Reconciler) ResetEvents(entries []domain.EventLogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events.Reset(entries)
}

// SetMarket は表示する銘柄と時間足を切り替え、足を置き換えます。約定と板は空にします。
func (r *Reconciler) SetMarket(symbol string, tf domain.Timeframe, candles []domain.Candle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if symbol != r.series.Symbol {
		r.tape.Reset(nil)
		r.book = domain.OrderBook{Symbol: symbol}
		r.stats = domain.InstrumentStats{Symbol: symbol}
	}
	r.series = domain.CandleSeries{
		Symbol:    symbol,
		Timeframe: tf,
		Candles:   append([]domain.Candle(nil), candles...),
	}
}

// ReplaceCandles は表示中の銘柄と時間足が symbol と tf のままのときだけ足を置き換えます。
// 取得中に市場が切り替わっていれば何もせず false を返します。
func (r *Reconciler) ReplaceCandles(symbol string, tf domain.Timeframe, candles []domain.Candle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if symbol != r.series.Symbol || tf != r.series.Timeframe {
		return false
	}
	r.series.Candles = append([]domain.Candle(nil), candles...)
	return true
}

// SetStats は24時間統計を更新します。表示中の銘柄以外は無視します。
func (r *Reconciler) SetStats(s domain.InstrumentStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.Symbol == r.series.Symbol {
		r.stats = s
	}
}

// SetConnection はストリームの接続状態を記録します。
func (r *Reconciler) SetConnection(channel string, status domain.ConnectionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[channel] = status
}

// --- views ---

// OpenOrders はオープン注文のコピーを返します。
func (r *Reconciler) OpenOrders() []domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open.Clone()
}

// History は注文履歴のコピーを返します。
func (r *Reconciler) History() []domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.history.Clone()
}

// Order は order_id で注文を探します。オープン一覧を優先します。
func (r *Reconciler) Order(orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.open.Get(orderID); ok {
		return o, nil
	}
	if o, ok := r.history.Get(orderID); ok {
		return o, nil
	}
	return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrUnknownOrder, orderID)
}

// Balances は残高と利用可能額を返します。
func (r *Reconciler) Balances() BalanceView {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.balances.Clone()
	v := BalanceView{
		BalanceSnapshot: b,
		AvailableCash:   b.AvailableCash().String(),
		AvailableAssets: make(map[string]string, len(b.Assets)),
	}
	for sym, a := range b.Assets {
		v.AvailableAssets[sym] = a.Available().String()
	}
	return v
}

// Events はアクティビティログのコピーを新しい順で返します。
func (r *Reconciler) Events() []domain.EventLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events.Clone().Entries
}

// Market は表示中の市場データのコピーを返します。
func (r *Reconciler) Market() MarketView {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := MarketView{
		Symbol:        r.series.Symbol,
		Timeframe:     r.series.Timeframe,
		Stats:         r.stats,
		ChangePercent: r.stats.ChangePercent().StringFixed(2),
		Candles:       r.series.Clone().Candles,
		Trades:        r.tape.Clone().Trades,
		OrderBook:     r.book.Clone(),
	}
	if spread, ok := r.book.Spread(); ok {
		v.Spread = spread.String()
	}
	return v
}

// Connections は各ストリームの接続状態を返します。
func (r *Reconciler) Connections() map[string]domain.ConnectionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]domain.ConnectionStatus, len(r.connections))
	for k, v := range r.connections {
		out[k] = v
	}
	return out
}
