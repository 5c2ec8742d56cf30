package controller

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"spectuel_terminal/domain"
	"spectuel_terminal/interface/gateway"
	"spectuel_terminal/usecase"
)

const shutdownTimeout = 5 * time.Second

// StateView はリコンサイラの参照系です。
type StateView interface {
	OpenOrders() []domain.Order
	History() []domain.Order
	Balances() usecase.BalanceView
	Events() []domain.EventLogEntry
	Market() usecase.MarketView
	Connections() map[string]domain.ConnectionStatus
}

// HTTPController はローカルの HTTP API で状態を公開し、操作を受け付けます。
type HTTPController struct {
	trading TradingUsecase
	state   StateView
	metrics http.Handler
}

// NewHTTPController は新しい HTTPController を生成します。metrics は nil でも構いません。
func NewHTTPController(trading TradingUsecase, state StateView, metrics http.Handler) *HTTPController {
	return &HTTPController{
		trading: trading,
		state:   state,
		metrics: metrics,
	}
}

// Router はルーティング済みの gin.Engine を返します。
func (h *HTTPController) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", h.healthz)

	auth := r.Group("/auth")
	auth.POST("/login", h.login)
	auth.POST("/register", h.register)
	auth.POST("/logout", h.logout)
	auth.GET("/me", h.me)

	r.GET("/instruments", h.listInstruments)
	r.POST("/instruments", h.createInstrument)

	state := r.Group("/state")
	state.GET("/orders/open", h.openOrders)
	state.GET("/orders/history", h.orderHistory)
	state.GET("/balances", h.balances)
	state.GET("/events", h.events)
	state.GET("/market", h.market)
	state.GET("/connections", h.connections)

	r.POST("/orders", h.placeOrder)
	r.PATCH("/orders/:id", h.modifyOrder)
	r.DELETE("/orders/:id", h.cancelOrder)
	r.POST("/orders/open/next", h.nextOpenOrders)
	r.POST("/orders/history/next", h.nextHistory)
	r.PUT("/market", h.switchMarket)

	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics))
	}
	return r
}

// Run は addr で待ち受け、ctx がキャンセルされたら停止します。
func (h *HTTPController) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// writeError はエラーの種類に応じたステータスで {"error": message} を返します。
func writeError(c *gin.Context, err error) {
	var apiErr *gateway.APIError
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &apiErr):
		c.JSON(apiErr.StatusCode, gin.H{"error": apiErr.Message})
	case errors.As(err, &verrs),
		errors.Is(err, usecase.ErrInvalidRequest),
		errors.Is(err, domain.ErrMissingPrice),
		errors.Is(err, domain.ErrNotModifiable):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrUnknownOrder):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, usecase.ErrNotLoggedIn):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

func (h *HTTPController) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": h.state.Connections()})
}

// orderRow はオープン注文に未約定数量を添えた行です。
type orderRow struct {
	domain.Order
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
}

func orderRows(orders []domain.Order) []orderRow {
	out := make([]orderRow, len(orders))
	for i, o := range orders {
		out[i] = orderRow{Order: o, RemainingQuantity: o.RemainingQuantity()}
	}
	return out
}

func (h *HTTPController) login(c *gin.Context) {
	var creds domain.Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := h.trading.Login(c.Request.Context(), creds)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *HTTPController) register(c *gin.Context) {
	var reg domain.Registration
	if err := c.ShouldBindJSON(&reg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.trading.Register(c.Request.Context(), reg); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (h *HTTPController) logout(c *gin.Context) {
	h.trading.Logout()
	c.Status(http.StatusNoContent)
}

func (h *HTTPController) me(c *gin.Context) {
	user, err := h.trading.CurrentUser()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *HTTPController) listInstruments(c *gin.Context) {
	instruments, err := h.trading.ListInstruments(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": instruments})
}

func (h *HTTPController) createInstrument(c *gin.Context) {
	var req domain.InstrumentCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.trading.CreateInstrument(c.Request.Context(), req); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (h *HTTPController) openOrders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": orderRows(h.state.OpenOrders())})
}

func (h *HTTPController) orderHistory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.state.History()})
}

func (h *HTTPController) balances(c *gin.Context) {
	c.JSON(http.StatusOK, h.state.Balances())
}

func (h *HTTPController) events(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.state.Events()})
}

func (h *HTTPController) market(c *gin.Context) {
	c.JSON(http.StatusOK, h.state.Market())
}

func (h *HTTPController) connections(c *gin.Context) {
	c.JSON(http.StatusOK, h.state.Connections())
}

func (h *HTTPController) placeOrder(c *gin.Context) {
	var req domain.OrderCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	order, err := h.trading.PlaceOrder(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"order": order})
}

func (h *HTTPController) modifyOrder(c *gin.Context) {
	var req domain.OrderModify
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.trading.ModifyOrder(c.Request.Context(), c.Param("id"), req); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *HTTPController) cancelOrder(c *gin.Context) {
	if err := h.trading.CancelOrder(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *HTTPController) nextOpenOrders(c *gin.Context) {
	more, err := h.trading.NextOpenOrders(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"has_next": more, "data": orderRows(h.state.OpenOrders())})
}

func (h *HTTPController) nextHistory(c *gin.Context) {
	more, err := h.trading.NextHistory(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"has_next": more, "data": h.state.History()})
}

type marketRequest struct {
	Symbol    string           `json:"symbol"`
	Timeframe domain.Timeframe `json:"timeframe"`
}

func (h *HTTPController) switchMarket(c *gin.Context) {
	var req marketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Timeframe == "" {
		req.Timeframe = h.state.Market().Timeframe
	}
	if _, err := domain.ParseTimeframe(string(req.Timeframe)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.trading.SwitchMarket(c.Request.Context(), req.Symbol, req.Timeframe); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.state.Market())
}
