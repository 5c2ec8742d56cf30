package gateway

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"spectuel_terminal/domain"
	"spectuel_terminal/infra/client"
)

// ExchangeGateway は取引所バックエンドの REST API との通信を抽象化します。
type ExchangeGateway struct {
	httpClient *client.HTTPClient
	baseURL    string
}

// NewExchangeGateway は新しい ExchangeGateway を生成します。
func NewExchangeGateway(httpClient *client.HTTPClient, baseURL string) *ExchangeGateway {
	return &ExchangeGateway{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

// orderQueryValues は検索条件をクエリ文字列に変換します。status は繰り返しパラメータです。
func orderQueryValues(q domain.OrderQuery) url.Values {
	v := url.Values{}
	v.Set("page", strconv.Itoa(max(q.Page, domain.FirstPage)))
	for _, s := range q.Statuses {
		v.Add("status", string(s))
	}
	for _, s := range q.Symbols {
		v.Add("symbols", s)
	}
	if q.Order != "" {
		v.Set("order", q.Order)
	}
	return v
}

var jsonHeaders = map[string]string{"Content-Type": "application/json"}

func (g *ExchangeGateway) url(path string, query url.Values) string {
	u := g.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// getJSON は GET してボディを out にデコードします。
func (g *ExchangeGateway) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := g.httpClient.Get(ctx, g.url(path, query), nil)
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", path, err)
	}
	if !resp.OK() {
		return newAPIError(resp.StatusCode, resp.Body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s response: %w", path, err)
	}
	return nil
}

// sendJSON は body を JSON で送り、2xx ならレスポンスを out にデコードします。
func (g *ExchangeGateway) sendJSON(ctx context.Context, method, path string, body any, out any) error {
	var buf *bytes.Buffer
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", path, err)
		}
		buf = bytes.NewBuffer(b)
	} else {
		buf = &bytes.Buffer{}
	}

	resp, err := g.httpClient.Do(ctx, method, g.url(path, nil), jsonHeaders, buf)
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", strings.ToLower(method), path, err)
	}
	if !resp.OK() {
		return newAPIError(resp.StatusCode, resp.Body)
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s response: %w", path, err)
	}
	return nil
}

// --- Auth ---

// Login は認証し、セッションクッキーをクライアントに保存させます。
func (g *ExchangeGateway) Login(ctx context.Context, creds domain.Credentials) error {
	return g.sendJSON(ctx, "POST", "/auth/login", creds, nil)
}

// Register は新規ユーザーを登録します。
func (g *ExchangeGateway) Register(ctx context.Context, reg domain.Registration) error {
	return g.sendJSON(ctx, "POST", "/auth/register", reg, nil)
}

// Me はログイン中のユーザーを取得します。
func (g *ExchangeGateway) Me(ctx context.Context) (domain.User, error) {
	var u domain.User
	err := g.getJSON(ctx, "/auth/me", nil, &u)
	return u, err
}

// WSToken は注文ストリームのハンドシェイク用トークンを取得します。
func (g *ExchangeGateway) WSToken(ctx context.Context) (string, error) {
	var resp struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := g.getJSON(ctx, "/auth/ws-token", nil, &resp); err != nil {
		return "", err
	}
	if resp.Token != "" {
		return resp.Token, nil
	}
	if resp.AccessToken != "" {
		return resp.AccessToken, nil
	}
	return "", fmt.Errorf("ws-token response has no token")
}

// --- Instruments & markets ---

// ListInstruments は銘柄一覧を取得します。
func (g *ExchangeGateway) ListInstruments(ctx context.Context) ([]domain.Instrument, error) {
	var out []domain.Instrument
	err := g.getJSON(ctx, "/instruments", nil, &out)
	return out, err
}

// CreateInstrument は銘柄を作成します。
func (g *ExchangeGateway) CreateInstrument(ctx context.Context, req domain.InstrumentCreate) error {
	return g.sendJSON(ctx, "POST", "/instruments", req, nil)
}

// ListSymbols は取引可能なシンボル一覧を取得します。
func (g *ExchangeGateway) ListSymbols(ctx context.Context) ([]string, error) {
	var out []string
	err := g.getJSON(ctx, "/markets/symbols", nil, &out)
	return out, err
}

// GetStats はシンボルの24時間統計を取得します。
func (g *ExchangeGateway) GetStats(ctx context.Context, symbol string) (domain.InstrumentStats, error) {
	var out domain.InstrumentStats
	err := g.getJSON(ctx, "/markets/"+url.PathEscape(symbol)+"/stats", nil, &out)
	if out.Symbol == "" {
		out.Symbol = symbol
	}
	return out, err
}

type wireBar struct {
	Timestamp epochTime       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
}

func (b wireBar) candle() domain.Candle {
	return domain.Candle{
		Time:  b.Timestamp.Time,
		Open:  b.Open,
		High:  b.High,
		Low:   b.Low,
		Close: b.Close,
	}
}

// GetBars は指定した時間足のローソク足を古い順で取得します。
func (g *ExchangeGateway) GetBars(ctx context.Context, symbol string, tf domain.Timeframe) ([]domain.Candle, error) {
	var resp struct {
		Bars []wireBar `json:"bars"`
	}
	q := url.Values{"timeframe": []string{string(tf)}}
	if err := g.getJSON(ctx, "/markets/"+url.PathEscape(symbol)+"/bars", q, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Candle, len(resp.Bars))
	for i, b := range resp.Bars {
		out[i] = b.candle()
	}
	return out, nil
}

// --- Orders ---

// CreateOrder は注文を作成し、受け付けられた注文を返します。
func (g *ExchangeGateway) CreateOrder(ctx context.Context, req domain.OrderCreate) (domain.Order, error) {
	if req.StrategyType == "" {
		req.StrategyType = "single"
	}
	var resp struct {
		Order domain.Order `json:"order"`
	}
	if err := g.sendJSON(ctx, "POST", "/orders", req, &resp); err != nil {
		return domain.Order{}, err
	}
	return resp.Order, nil
}

// ModifyOrder は注文の価格を変更します。
func (g *ExchangeGateway) ModifyOrder(ctx context.Context, orderID string, req domain.OrderModify) error {
	return g.sendJSON(ctx, "PATCH", "/orders/"+url.PathEscape(orderID), req, nil)
}

// CancelOrder は注文を取り消します。
func (g *ExchangeGateway) CancelOrder(ctx context.Context, orderID string) error {
	return g.sendJSON(ctx, "DELETE", "/orders/"+url.PathEscape(orderID), nil, nil)
}

// ListOrders は注文の一ページを取得します。
func (g *ExchangeGateway) ListOrders(ctx context.Context, q domain.OrderQuery) (domain.Page[domain.Order], error) {
	var out domain.Page[domain.Order]
	err := g.getJSON(ctx, "/orders", orderQueryValues(q), &out)
	return out, err
}

// --- User ---

// GetUserOverview は現金残高と銘柄残高の概要を取得します。
func (g *ExchangeGateway) GetUserOverview(ctx context.Context) (domain.UserOverview, error) {
	var out domain.UserOverview
	err := g.getJSON(ctx, "/user", nil, &out)
	return out, err
}

// ListAssetBalances は銘柄残高の一ページを取得します。
func (g *ExchangeGateway) ListAssetBalances(ctx context.Context, page int) (domain.Page[domain.AssetBalance], error) {
	var out domain.Page[domain.AssetBalance]
	q := url.Values{"page": []string{strconv.Itoa(max(page, domain.FirstPage))}}
	err := g.getJSON(ctx, "/user/asset-balances", q, &out)
	return out, err
}

// ListUserEvents はユーザーイベントの一ページを新しい順で取得します。
func (g *ExchangeGateway) ListUserEvents(ctx context.Context, page int) (domain.Page[domain.UserEvent], error) {
	var out domain.Page[domain.UserEvent]
	q := url.Values{"page": []string{strconv.Itoa(max(page, domain.FirstPage))}}
	err := g.getJSON(ctx, "/user/events", q, &out)
	return out, err
}
