// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/emututor/internal/model"
)

// 取り込み結果のラベル値
const (
	ImportResultSubmitted = "submitted"
	ImportResultDuplicate = "duplicate"
	ImportResultSkipped   = "skipped"
	ImportResultFailed    = "failed"
)

// Collector はPrometheusメトリクスを収集する実装。
// サービス層・取り込みワーカー・HTTPミドルウェアから利用する。
type Collector struct {
	tutorialsCreated *prometheus.CounterVec
	tutorialViews    prometheus.Counter
	videosAttached   *prometheus.CounterVec
	searchResults    prometheus.Histogram

	importEntries      *prometheus.CounterVec
	importFetchFail    prometheus.Counter
	importFetchLatency prometheus.Histogram

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tutorialsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emututor_tutorials_created_total",
			Help: "作成されたチュートリアルの合計数（作成経路別）",
		}, []string{"origin"}),
		tutorialViews: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emututor_tutorial_views_total",
			Help: "チュートリアル閲覧の合計数",
		}),
		videosAttached: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emututor_videos_attached_total",
			Help: "添付された動画の合計数（種別別）",
		}, []string{"kind"}),
		searchResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "emututor_search_results",
			Help:    "検索1回あたりのヒット件数",
			Buckets: []float64{0, 1, 5, 10, 20, 50, 100, 200},
		}),
		importEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emututor_import_entries_total",
			Help: "取り込みワーカーが処理したフィードエントリ数（結果別）",
		}, []string{"result"}),
		importFetchFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emututor_import_fetch_fail_total",
			Help: "取り込み元フィードの取得失敗の合計数",
		}),
		importFetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "emututor_import_fetch_latency_seconds",
			Help:    "取り込み元フィード取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emututor_http_requests_total",
			Help: "HTTPリクエスト数（メソッド・ルート・ステータスコード別）",
		}, []string{"method", "route", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "emututor_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		c.tutorialsCreated,
		c.tutorialViews,
		c.videosAttached,
		c.searchResults,
		c.importEntries,
		c.importFetchFail,
		c.importFetchLatency,
		c.httpRequests,
		c.httpDuration,
	)

	return c
}

// RecordTutorialCreated はチュートリアル作成を記録する。
func (c *Collector) RecordTutorialCreated(origin string) {
	c.tutorialsCreated.WithLabelValues(origin).Inc()
}

// RecordTutorialViewed は閲覧を記録する。
func (c *Collector) RecordTutorialViewed() {
	c.tutorialViews.Inc()
}

// RecordVideoAttached は動画添付を記録する。
func (c *Collector) RecordVideoAttached(kind model.VideoKind) {
	c.videosAttached.WithLabelValues(string(kind)).Inc()
}

// RecordSearch は検索のヒット件数を記録する。
func (c *Collector) RecordSearch(results int) {
	c.searchResults.Observe(float64(results))
}

// RecordImportEntry は取り込みエントリの処理結果を記録する。
func (c *Collector) RecordImportEntry(result string) {
	c.importEntries.WithLabelValues(result).Inc()
}

// RecordImportFetch は取り込み元フィードの取得結果とレイテンシを記録する。
func (c *Collector) RecordImportFetch(duration time.Duration, err error) {
	c.importFetchLatency.Observe(duration.Seconds())
	if err != nil {
		c.importFetchFail.Inc()
	}
}

// Middleware はHTTPリクエスト数と処理時間を記録するミドルウェアを返す。
// ルートラベルにはchiのルートパターンを使い、IDごとに系列が増えないようにする。
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		c.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		c.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
