// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/meetsprint/internal/event"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェア、サービス層、ワーカーから利用する。
type MetricsCollector interface {
	RecordHTTPRequest(method, route string, status int, duration time.Duration)
	RecordSessionEvent(kind event.Kind)
	RecordProfileFallback()
	RecordOrganizationCreated()
	RecordDashboardReadFailure(source string)
	RecordTranscriptImport(result string)
	RecordSessionsPurged(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpRequests      *prometheus.CounterVec
	httpLatency       *prometheus.HistogramVec
	sessionEvents     *prometheus.CounterVec
	profileFallbacks  prometheus.Counter
	orgsCreated       prometheus.Counter
	dashboardFailures *prometheus.CounterVec
	transcriptImports *prometheus.CounterVec
	sessionsPurged    prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetsprint_http_requests_total",
			Help: "ルート・ステータス別のHTTPリクエスト数",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meetsprint_http_request_duration_seconds",
			Help:    "ルート別のHTTPリクエスト処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetsprint_session_events_total",
			Help: "種類別のセッション変更イベント数（ログイン・ログアウト・延長）",
		}, []string{"kind"}),
		profileFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meetsprint_profile_fallback_total",
			Help: "プロフィールの保存に失敗し一時プロフィールを返した回数",
		}),
		orgsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meetsprint_organizations_created_total",
			Help: "作成された組織の合計数",
		}),
		dashboardFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetsprint_dashboard_read_failures_total",
			Help: "ダッシュボードの読み込みに失敗し空として扱った回数",
		}, []string{"source"}),
		transcriptImports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetsprint_transcript_imports_total",
			Help: "結果別の文字起こしインポート数",
		}, []string{"result"}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meetsprint_sessions_purged_total",
			Help: "クリーンアップで削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpLatency,
		c.sessionEvents,
		c.profileFallbacks,
		c.orgsCreated,
		c.dashboardFailures,
		c.transcriptImports,
		c.sessionsPurged,
	)

	return c
}

// RecordHTTPRequest はHTTPリクエストの結果と処理時間を記録する。
// routeにはchiのルートパターンを渡し、ラベルのカーディナリティを抑える。
func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordSessionEvent はセッション変更イベントを記録する。
func (c *Collector) RecordSessionEvent(kind event.Kind) {
	c.sessionEvents.WithLabelValues(string(kind)).Inc()
}

// RecordProfileFallback は一時プロフィールへのフォールバックを記録する。
func (c *Collector) RecordProfileFallback() {
	c.profileFallbacks.Inc()
}

// RecordOrganizationCreated は組織の作成を記録する。
func (c *Collector) RecordOrganizationCreated() {
	c.orgsCreated.Inc()
}

// RecordDashboardReadFailure はダッシュボードの読み込み失敗を記録する。
func (c *Collector) RecordDashboardReadFailure(source string) {
	c.dashboardFailures.WithLabelValues(source).Inc()
}

// RecordTranscriptImport は文字起こしインポートの結果を記録する。
func (c *Collector) RecordTranscriptImport(result string) {
	c.transcriptImports.WithLabelValues(result).Inc()
}

// RecordSessionsPurged は削除されたセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

// Attach はイベントバスを購読し、セッション変更イベントを記録する。
func (c *Collector) Attach(bus *event.Bus) *event.Subscription {
	return bus.Subscribe(func(ev event.SessionEvent) {
		c.RecordSessionEvent(ev.Kind)
	})
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsと/healthを提供するHTTPハンドラーを返す。
// APIサーバーを持たないworkerプロセスの監視用。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler(gatherer))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
