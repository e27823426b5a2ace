// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層やストア、外部クライアントから利用する。
type MetricsCollector interface {
	RecordNormalization(kind, outcome string)
	RecordRemoteFailure(kind string, statusCode int)
	RecordRemoteLatency(kind string, duration time.Duration)
	RecordExtraction(outcome string)
	RecordAnalysisCreated(accuracy string)
	RecordStoreError(operation string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	normalizations  *prometheus.CounterVec
	remoteFailures  *prometheus.CounterVec
	remoteLatency   *prometheus.HistogramVec
	extractions     *prometheus.CounterVec
	analysesCreated *prometheus.CounterVec
	storeErrors     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		normalizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clarus_normalizations_total",
			Help: "応答正規化の種別・結果別の合計数",
		}, []string{"kind", "outcome"}),
		remoteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clarus_remote_failures_total",
			Help: "リモート推論サービス呼び出し失敗の合計数",
		}, []string{"kind", "status_code"}),
		remoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clarus_remote_latency_seconds",
			Help:    "リモート推論サービス呼び出しのレイテンシ（秒）",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"kind"}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clarus_extractions_total",
			Help: "URLテキスト抽出の結果別の合計数",
		}, []string{"outcome"}),
		analysesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clarus_analyses_created_total",
			Help: "判定別の分析レコード作成数",
		}, []string{"accuracy"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clarus_store_errors_total",
			Help: "ストア操作の失敗数（劣化動作に切り替えた回数）",
		}, []string{"operation"}),
	}

	reg.MustRegister(
		c.normalizations,
		c.remoteFailures,
		c.remoteLatency,
		c.extractions,
		c.analysesCreated,
		c.storeErrors,
	)

	return c
}

// RecordNormalization は正規化の結果を記録する。
func (c *Collector) RecordNormalization(kind, outcome string) {
	c.normalizations.WithLabelValues(kind, outcome).Inc()
}

// RecordRemoteFailure はリモート呼び出し失敗を記録する。
// statusCode が0の場合は通信レベルの失敗として "transport" ラベルを使う。
func (c *Collector) RecordRemoteFailure(kind string, statusCode int) {
	status := "transport"
	if statusCode != 0 {
		status = strconv.Itoa(statusCode)
	}
	c.remoteFailures.WithLabelValues(kind, status).Inc()
}

// RecordRemoteLatency はリモート呼び出しのレイテンシを記録する。
func (c *Collector) RecordRemoteLatency(kind string, duration time.Duration) {
	c.remoteLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordExtraction はURLテキスト抽出の結果を記録する。
func (c *Collector) RecordExtraction(outcome string) {
	c.extractions.WithLabelValues(outcome).Inc()
}

// RecordAnalysisCreated は分析レコードの作成を記録する。
func (c *Collector) RecordAnalysisCreated(accuracy string) {
	c.analysesCreated.WithLabelValues(accuracy).Inc()
}

// RecordStoreError はストア操作の失敗を記録する。
func (c *Collector) RecordStoreError(operation string) {
	c.storeErrors.WithLabelValues(operation).Inc()
}

// NopCollector は何も記録しない MetricsCollector。
type NopCollector struct{}

func (NopCollector) RecordNormalization(string, string)        {}
func (NopCollector) RecordRemoteFailure(string, int)           {}
func (NopCollector) RecordRemoteLatency(string, time.Duration) {}
func (NopCollector) RecordExtraction(string)                   {}
func (NopCollector) RecordAnalysisCreated(string)              {}
func (NopCollector) RecordStoreError(string)                   {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
