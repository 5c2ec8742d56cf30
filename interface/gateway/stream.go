package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"spectuel_terminal/domain"
	"spectuel_terminal/infra/metrics"
)

const (
	pingFrame = "ping"
	pongFrame = "pong"

	readLimit = 1 << 20
)

// ErrNotConnected はソケットが開いていない状態で送信しようとしたことを表します。
var ErrNotConnected = errors.New("stream not connected")

// StreamOptions はストリーム接続の共通設定です。
type StreamOptions struct {
	PingInterval time.Duration
	// PongTimeout を過ぎても pong が来なければ接続を閉じて再接続します。0 で無効。
	PongTimeout time.Duration
	BackoffMax  time.Duration
	// HTTPClient のクッキージャーをダイヤル時に共有します。
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
}

func (o StreamOptions) pingInterval() time.Duration {
	if o.PingInterval <= 0 {
		return time.Second
	}
	return o.PingInterval
}

func (o StreamOptions) dialClient() *http.Client {
	if o.HTTPClient == nil {
		return nil
	}
	// タイムアウトはコンテキストで管理するため、Jar と Transport だけを引き継ぎます。
	return &http.Client{Jar: o.HTTPClient.Jar, Transport: o.HTTPClient.Transport}
}

// EventHandler はデコード済みのイベントを受け取ります。
type EventHandler func(domain.Event)

// StatusHandler は接続状態の変化を受け取ります。
type StatusHandler func(domain.ConnectionStatus)

// stream はダイヤル、ハンドシェイク、ping、読み取り、再接続を受け持つ一本のソケットです。
type stream struct {
	channel string
	url     string
	opts    StreamOptions
	decode  func([]byte) (domain.Event, error)
	// handshake はダイヤル直後に呼ばれ、接続確立までのやり取りを行います。
	handshake func(ctx context.Context, s *stream, conn *websocket.Conn) error

	onEvent  EventHandler
	onStatus StatusHandler

	status   atomic.Value
	lastPong atomic.Int64

	connMu sync.Mutex
	conn   *websocket.Conn
}

func newStream(channel, url string, opts StreamOptions, decode func([]byte) (domain.Event, error)) *stream {
	s := &stream{
		channel: channel,
		url:     url,
		opts:    opts,
		decode:  decode,
	}
	s.status.Store(domain.Disconnected)
	return s
}

// Status は現在の接続状態を返します。
func (s *stream) Status() domain.ConnectionStatus {
	return s.status.Load().(domain.ConnectionStatus)
}

func (s *stream) setStatus(st domain.ConnectionStatus) {
	prev := s.status.Swap(st)
	if prev == st {
		return
	}
	slog.Info("stream status changed", "channel", s.channel, "status", st)
	if s.onStatus != nil {
		s.onStatus(st)
	}
}

// Run は ctx がキャンセルされるまで接続を維持し、切断時は指数バックオフで再接続します。
func (s *stream) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	if s.opts.BackoffMax > 0 {
		b.MaxInterval = s.opts.BackoffMax
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		established, err := s.session(ctx)
		s.setStatus(domain.Disconnected)
		if ctx.Err() != nil {
			return nil
		}
		if established {
			b.Reset()
		}
		if err != nil {
			slog.Warn("stream closed", "channel", s.channel, "error", err)
		}

		sleep := b.NextBackOff()
		s.opts.Metrics.Reconnect(s.channel)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(sleep):
		}
	}
}

// session は一回分の接続です。ハンドシェイクまで完了したかどうかを返します。
func (s *stream) session(ctx context.Context) (bool, error) {
	s.setStatus(domain.Connecting)

	conn, _, err := websocket.Dial(ctx, s.url, &websocket.DialOptions{HTTPClient: s.opts.dialClient()})
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.lastPong.Store(time.Now().UnixNano())
	s.setConn(conn)
	defer s.setConn(nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.keepAlive(sessCtx, conn)
	}()
	defer wg.Wait()
	defer cancel()

	if s.handshake != nil {
		if err := s.handshake(sessCtx, s, conn); err != nil {
			return false, fmt.Errorf("handshake: %w", err)
		}
	}
	s.setStatus(domain.Connected)

	return true, s.readLoop(sessCtx, conn)
}

// keepAlive は一定間隔で "ping" を送り、pong が途絶えたら接続を閉じます。
func (s *stream) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.opts.pingInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.opts.PongTimeout > 0 {
				since := time.Since(time.Unix(0, s.lastPong.Load()))
				if since > s.opts.PongTimeout {
					slog.Warn("pong timeout", "channel", s.channel, "since", since)
					conn.CloseNow()
					return
				}
			}
			if err := conn.Write(ctx, websocket.MessageText, []byte(pingFrame)); err != nil {
				if ctx.Err() == nil {
					slog.Debug("ping failed", "channel", s.channel, "error", err)
				}
				return
			}
		}
	}
}

// next はフレームを一つ読み、ハートビートなら処理済みとして nil を返します。
func (s *stream) next(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	typ, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if typ != websocket.MessageText {
		return nil, nil
	}
	switch string(data) {
	case pongFrame:
		s.lastPong.Store(time.Now().UnixNano())
		return nil, nil
	case pingFrame:
		return nil, conn.Write(ctx, websocket.MessageText, []byte(pongFrame))
	}
	return data, nil
}

func (s *stream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		data, err := s.next(ctx, conn)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read %s: %w", s.url, err)
		}
		if data == nil {
			continue
		}
		s.dispatch(data)
	}
}

// dispatch はフレームをデコードしてハンドラへ渡します。壊れたフレームは記録して捨て、接続は維持します。
func (s *stream) dispatch(data []byte) {
	ev, err := s.decode(data)
	if err != nil {
		slog.Warn("dropping malformed message", "channel", s.channel, "error", err)
		s.opts.Metrics.MalformedMessage(s.channel)
		return
	}
	if s.onEvent != nil {
		s.onEvent(ev)
	}
}

func (s *stream) setConn(conn *websocket.Conn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.conn = conn
}

// sendJSON は開いているソケットに JSON を送ります。
func (s *stream) sendJSON(ctx context.Context, v any) error {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return writeJSON(ctx, conn, v)
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, b)
}
