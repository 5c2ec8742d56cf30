package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics はリコンサイラとストリームのカウンタです。
type Metrics struct {
	registry *prometheus.Registry

	EventsApplied *prometheus.CounterVec
	EventsDropped *prometheus.CounterVec
	Malformed     *prometheus.CounterVec
	Reconnects    *prometheus.CounterVec
	FetchErrors   *prometheus.CounterVec
}

// New は専用レジストリにカウンタを登録します。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		EventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spectuel",
			Name:      "events_applied_total",
			Help:      "Stream events applied to local state.",
		}, []string{"type"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spectuel",
			Name:      "events_dropped_total",
			Help:      "Stream events ignored as duplicate, stale or unknown.",
		}, []string{"type", "reason"}),
		Malformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spectuel",
			Name:      "malformed_messages_total",
			Help:      "Socket frames that could not be decoded.",
		}, []string{"channel"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spectuel",
			Name:      "stream_reconnects_total",
			Help:      "Socket reconnect attempts.",
		}, []string{"channel"}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spectuel",
			Name:      "snapshot_fetch_errors_total",
			Help:      "Failed REST snapshot fetches.",
		}, []string{"resource"}),
	}
	reg.MustRegister(m.EventsApplied, m.EventsDropped, m.Malformed, m.Reconnects, m.FetchErrors)
	return m
}

// Handler は /metrics 用のハンドラを返します。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Applied はイベント適用を数えます。nil レシーバは何もしません。
func (m *Metrics) Applied(eventType string) {
	if m == nil {
		return
	}
	m.EventsApplied.WithLabelValues(eventType).Inc()
}

// Dropped は無視したイベントを理由ごとに数えます。
func (m *Metrics) Dropped(eventType, reason string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(eventType, reason).Inc()
}

// MalformedMessage はデコードできなかったフレームを数えます。
func (m *Metrics) MalformedMessage(channel string) {
	if m == nil {
		return
	}
	m.Malformed.WithLabelValues(channel).Inc()
}

// Reconnect は再接続を数えます。
func (m *Metrics) Reconnect(channel string) {
	if m == nil {
		return
	}
	m.Reconnects.WithLabelValues(channel).Inc()
}

// FetchError は REST 取得の失敗を数えます。
func (m *Metrics) FetchError(resource string) {
	if m == nil {
		return
	}
	m.FetchErrors.WithLabelValues(resource).Inc()
}
