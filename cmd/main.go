package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"

	"spectuel_terminal/domain"
	"spectuel_terminal/infra/client"
	"spectuel_terminal/infra/config"
	"spectuel_terminal/infra/logging"
	"spectuel_terminal/infra/metrics"
	"spectuel_terminal/interface/controller"
	"spectuel_terminal/interface/gateway"
	"spectuel_terminal/usecase"
)

func main() {
	if err := run(); err != nil {
		slog.Error("spectuel terminal failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// コマンドラインフラグの定義
	serveMode := flag.Bool("serve", false, "Run the live terminal: streams plus the local HTTP API")
	analyzeMode := flag.Bool("analyze", false, "Scan all instruments for MACD/RSI crosses")
	listInstruments := flag.Bool("instruments", false, "List tradable instruments")
	tradeMode := flag.Bool("trade", false, "Enable trade mode")
	symbol := flag.String("symbol", "", "Instrument symbol")
	timeframe := flag.String("timeframe", "5m", "Bar timeframe (1m, 5m, 15m, 1h, 4h, 1d)")
	side := flag.String("side", "bid", "Trade side: 'bid' or 'ask'")
	orderType := flag.String("type", "limit", "Order type: 'limit', 'stop' or 'market'")
	quantity := flag.String("quantity", "1", "Order quantity")
	price := flag.String("price", "", "Limit or stop price")
	execute := flag.Bool("execute", false, "Set to true to execute the trade for real")
	cancelID := flag.String("cancel", "", "Order ID to cancel")
	modifyID := flag.String("modify", "", "Order ID to modify with -price")

	flag.Parse()

	// 環境変数の読み込み
	envLoaded := config.LoadEnv()
	logging.Setup()
	if !envLoaded {
		slog.Debug("No .env file found, using environment variables")
	}
	cfg := config.Load()

	tf, err := domain.ParseTimeframe(*timeframe)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 依存関係の注入 (DI)
	m := metrics.New()
	httpClient := client.NewHTTPClient(cfg.HTTPTimeout)
	exchange := gateway.NewExchangeGateway(httpClient, cfg.HTTPBaseURL)
	session := domain.NewSession()
	state := usecase.NewReconciler(cfg.TradeTapeSize, cfg.EventLogSize, m)

	streamOpts := gateway.StreamOptions{
		PingInterval: cfg.PingInterval,
		PongTimeout:  cfg.PongTimeout,
		BackoffMax:   cfg.BackoffMax,
		HTTPClient:   httpClient.Client(),
		Metrics:      m,
	}
	marketStream := gateway.NewMarketStreamGateway(cfg.WSBaseURL, *symbol, tf, streamOpts)
	tradingUsecase := usecase.NewTradingUsecase(exchange, state, session, marketStream, m)
	orderStream := gateway.NewOrderStreamGateway(cfg.WSBaseURL, tradingUsecase.WSToken, streamOpts)
	streamUsecase := usecase.NewStreamUsecase(state, tradingUsecase)
	analysisUsecase := usecase.NewAnalysisUsecase(exchange)
	cliController := controller.NewCLIController(tradingUsecase, analysisUsecase)

	// モードに応じて処理を分岐
	switch {
	case *analyzeMode:
		slog.Info("--- Analysis Mode ---", "timeframe", tf)
		return cliController.RunAnalysis(ctx, tf)
	case *listInstruments:
		return cliController.RunInstruments(ctx)
	}

	if cfg.Username != "" {
		if _, err := tradingUsecase.Login(ctx, domain.Credentials{Username: cfg.Username, Password: cfg.Password}); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	}

	if *symbol != "" {
		if err := tradingUsecase.SwitchMarket(ctx, *symbol, tf); err != nil {
			return fmt.Errorf("open market %s: %w", *symbol, err)
		}
	}

	switch {
	case *tradeMode:
		slog.Info("--- Trade Mode ---")
		req, err := orderRequest(*symbol, *side, *orderType, *quantity, *price)
		if err != nil {
			return fmt.Errorf("invalid order: %w", err)
		}
		_, err = cliController.RunTrade(ctx, req, *execute)
		return err
	case *cancelID != "":
		return cliController.RunCancel(ctx, *cancelID)
	case *modifyID != "":
		p, err := decimal.NewFromString(*price)
		if err != nil {
			return fmt.Errorf("invalid price: %w", err)
		}
		return cliController.RunModify(ctx, *modifyID, p)
	case *serveMode:
		slog.Info("--- Terminal Mode ---", "symbol", *symbol, "timeframe", tf)
		orderStream.OnEvent(streamUsecase.HandleEvent)
		orderStream.OnStatus(streamUsecase.StatusHandler(usecase.ChannelOrders))
		marketStream.OnEvent(streamUsecase.HandleEvent)
		marketStream.OnStatus(streamUsecase.StatusHandler(usecase.ChannelMarkets))

		tradingUsecase.Resync(ctx)

		httpController := controller.NewHTTPController(tradingUsecase, state, m.Handler())
		httpErr := make(chan error, 1)
		go func() {
			httpErr <- httpController.Run(ctx, cfg.ListenAddr)
			stop()
		}()

		// 注文ストリームは未ログインの間トークン取得に失敗し、バックオフしながらログインを待ちます。
		if err := streamUsecase.Run(ctx, marketStream, orderStream); err != nil {
			return err
		}
		if err := <-httpErr; err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	default:
		flag.Usage()
		return nil
	}
}

// orderRequest はフラグから発注リクエストを組み立てます。
func orderRequest(symbol, side, orderType, quantity, price string) (domain.OrderCreate, error) {
	qty, err := decimal.NewFromString(quantity)
	if err != nil {
		return domain.OrderCreate{}, err
	}
	req := domain.OrderCreate{
		Symbol:    symbol,
		Side:      domain.OrderSide(side),
		OrderType: domain.OrderType(orderType),
		Quantity:  qty,
	}
	if price == "" {
		return req, nil
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return domain.OrderCreate{}, err
	}
	switch req.OrderType {
	case domain.OrderTypeStop:
		req.StopPrice = &p
	default:
		req.LimitPrice = &p
	}
	return req, nil
}
