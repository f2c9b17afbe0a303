// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ジョブ実行結果のラベル値
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePanic   = "panic"
)

// MetricsCollector はメトリクス収集のインターフェース。
// スキャンスケジューラとHTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordJobRun(job, outcome string)
	RecordJobDuration(job string, duration time.Duration)
	SetExpiredMedicines(count int)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	jobRuns          *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	expiredMedicines prometheus.Gauge
	httpStatus       *prometheus.CounterVec
	requestLatency   prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medimate_scan_job_runs_total",
			Help: "スキャンジョブの実行回数（結果別）",
		}, []string{"job", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medimate_scan_job_duration_seconds",
			Help:    "スキャンジョブの実行時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		expiredMedicines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "medimate_expired_medicines",
			Help: "直近の期限切れスキャンで検出された薬の件数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medimate_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "medimate_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.jobRuns,
		c.jobDuration,
		c.expiredMedicines,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordJobRun はジョブの実行結果を記録する。
func (c *Collector) RecordJobRun(job, outcome string) {
	c.jobRuns.WithLabelValues(job, outcome).Inc()
}

// RecordJobDuration はジョブの実行時間を記録する。
func (c *Collector) RecordJobDuration(job string, duration time.Duration) {
	c.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// SetExpiredMedicines は期限切れの薬の件数を設定する。
func (c *Collector) SetExpiredMedicines(count int) {
	c.expiredMedicines.Set(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエスト処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// workerプロセスのメトリクスポートで使用する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
