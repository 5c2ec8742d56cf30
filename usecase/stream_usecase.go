package usecase

import (
	"context"
	"log/slog"
	"sync"

	"spectuel_terminal/domain"
)

// ストリームのチャネル名です。
const (
	ChannelOrders  = "orders"
	ChannelMarkets = "markets"
)

// StreamRunner は ctx がキャンセルされるまで接続を維持するストリームです。
type StreamRunner interface {
	Run(ctx context.Context) error
}

// StreamUsecase はストリームのイベントをリコンサイラへ流し、接続確立ごとに状態を取り直します。
type StreamUsecase struct {
	state   *Reconciler
	trading *TradingUsecase

	// resync は取り直し要求です。バッファ1で要求をまとめます。
	resync  chan struct{}
	reloads chan struct{}
}

// NewStreamUsecase は新しい StreamUsecase を生成します。
func NewStreamUsecase(state *Reconciler, trading *TradingUsecase) *StreamUsecase {
	return &StreamUsecase{
		state:   state,
		trading: trading,
		resync:  make(chan struct{}, 1),
		reloads: make(chan struct{}, 1),
	}
}

// HandleEvent はデコード済みのイベントを反映します。
func (uc *StreamUsecase) HandleEvent(ev domain.Event) {
	if err := uc.state.Apply(ev); err != nil {
		slog.Warn("event rejected", "type", ev.Type(), "error", err)
	}
}

// StatusHandler はチャネルの接続状態を記録するハンドラを返します。
// connected になるたびに、注文チャネルは状態の取り直し、市場チャネルは足の取り直しを要求します。
func (uc *StreamUsecase) StatusHandler(channel string) func(domain.ConnectionStatus) {
	return func(status domain.ConnectionStatus) {
		uc.state.SetConnection(channel, status)
		if status != domain.Connected {
			return
		}
		switch channel {
		case ChannelOrders:
			signal(uc.resync)
		case ChannelMarkets:
			signal(uc.reloads)
		}
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Run はストリームを起動し、ctx がキャンセルされるまで取り直し要求を処理します。
func (uc *StreamUsecase) Run(ctx context.Context, streams ...StreamRunner) error {
	var wg sync.WaitGroup
	for _, s := range streams {
		wg.Add(1)
		go func(s StreamRunner) {
			defer wg.Done()
			if err := s.Run(ctx); err != nil {
				slog.Error("stream stopped", "error", err)
			}
		}(s)
	}

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case <-uc.resync:
			uc.trading.Resync(ctx)
		case <-uc.reloads:
			if err := uc.trading.ReloadBars(ctx); err == nil {
				uc.trading.RefreshStats(ctx)
			}
		}
	}
}
