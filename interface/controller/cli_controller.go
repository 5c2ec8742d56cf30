package controller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"spectuel_terminal/domain"
)

// TradingUsecase は端末操作ユースケースのインターフェースです。
type TradingUsecase interface {
	Login(ctx context.Context, creds domain.Credentials) (domain.User, error)
	Register(ctx context.Context, reg domain.Registration) error
	Logout()
	CurrentUser() (domain.User, error)
	ListInstruments(ctx context.Context) ([]domain.Instrument, error)
	CreateInstrument(ctx context.Context, req domain.InstrumentCreate) error

	PlaceOrder(ctx context.Context, req domain.OrderCreate) (domain.Order, error)
	ModifyOrder(ctx context.Context, orderID string, req domain.OrderModify) error
	CancelOrder(ctx context.Context, orderID string) error
	LoadOpenOrders(ctx context.Context) error
	NextOpenOrders(ctx context.Context) (bool, error)
	NextHistory(ctx context.Context) (bool, error)
	SwitchMarket(ctx context.Context, symbol string, tf domain.Timeframe) error
}

// AnalysisUsecase は分析ユースケースのインターフェースです。
type AnalysisUsecase interface {
	AnalyzeTrends(ctx context.Context, tf domain.Timeframe) (long, short []domain.TrendCandidate, err error)
}

// CLIController はCLIからの入力を処理します。
type CLIController struct {
	trading  TradingUsecase
	analysis AnalysisUsecase
}

// NewCLIController は新しいCLIControllerを生成します。
func NewCLIController(trading TradingUsecase, analysis AnalysisUsecase) *CLIController {
	return &CLIController{
		trading:  trading,
		analysis: analysis,
	}
}

// RunAnalysis は分析処理を開始し、候補を標準出力に表示します。
func (c *CLIController) RunAnalysis(ctx context.Context, tf domain.Timeframe) error {
	long, short, err := c.analysis.AnalyzeTrends(ctx, tf)
	if err != nil {
		return err
	}
	printCandidates("LONG", long)
	printCandidates("SHORT", short)
	return nil
}

func printCandidates(label string, cs []domain.TrendCandidate) {
	if len(cs) == 0 {
		fmt.Printf("\n--- No %s candidates found ---\n", label)
		return
	}
	fmt.Printf("\n--- Found %d %s candidates ---\n", len(cs), label)
	for _, c := range cs {
		fmt.Printf("- %s (ROI: %.2f%%, MACD: %.4f, RSI: %.2f)\n", c.Symbol, c.CalculateROI(), c.MACD, c.RSI)
	}
}

// RunInstruments は取引可能な銘柄を一覧表示します。
func (c *CLIController) RunInstruments(ctx context.Context) error {
	instruments, err := c.trading.ListInstruments(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("\n--- %d instruments ---\n", len(instruments))
	for _, in := range instruments {
		fmt.Printf("- %s (id: %s, tick: %s)\n", in.Symbol, in.InstrumentID, in.TickSize)
	}
	return nil
}

// RunTrade は注文を組み立て、execute が true のときだけ発注します。
func (c *CLIController) RunTrade(ctx context.Context, req domain.OrderCreate, execute bool) (domain.Order, error) {
	if !execute {
		slog.Info("execute flag is not set, dry run", "symbol", req.Symbol, "side", req.Side, "type", req.OrderType, "quantity", req.Quantity)
		return domain.Order{}, nil
	}
	order, err := c.trading.PlaceOrder(ctx, req)
	if err != nil {
		return domain.Order{}, err
	}
	fmt.Printf("order accepted: %s (%s)\n", order.OrderID, order.Status)
	return order, nil
}

// RunCancel は注文を取り消します。
func (c *CLIController) RunCancel(ctx context.Context, orderID string) error {
	if err := c.trading.CancelOrder(ctx, orderID); err != nil {
		return err
	}
	fmt.Printf("cancel requested: %s\n", orderID)
	return nil
}

// RunModify はオープン注文を読み込んでから価格を変更します。
// price は注文種別に応じて指値または逆指値として送られます。
func (c *CLIController) RunModify(ctx context.Context, orderID string, price decimal.Decimal) error {
	if err := c.trading.LoadOpenOrders(ctx); err != nil {
		return err
	}
	for {
		more, err := c.trading.NextOpenOrders(ctx)
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	req := domain.OrderModify{LimitPrice: &price, StopPrice: &price}
	if err := c.trading.ModifyOrder(ctx, orderID, req); err != nil {
		return err
	}
	fmt.Printf("modify requested: %s -> %s\n", orderID, price)
	return nil
}
