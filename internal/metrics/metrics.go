// Package metrics はPrometheusのメトリクスを定義する。
// 各メソッドは nil レシーバでも安全に呼び出せる。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics はサービス全体のコレクタを保持する。
type Metrics struct {
	VerificationsTotal         *prometheus.CounterVec
	VerificationWarningsTotal  prometheus.Counter
	KeySetCacheTotal           *prometheus.CounterVec
	KeySetFetchesTotal         *prometheus.CounterVec
	KeySetFetchDurationSeconds prometheus.Histogram
	StaleKeysServedTotal       prometheus.Counter
	CacheReapRunsTotal         *prometheus.CounterVec
	CacheReapEvictedTotal      prometheus.Counter
	CacheReapDurationSeconds   prometheus.Histogram
}

// New はコレクタを生成して reg に登録する。
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		VerificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shc_verifications_total",
			Help: "Total number of credential verifications by outcome",
		}, []string{"outcome"}),
		VerificationWarningsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "shc_verification_warnings_total",
			Help: "Total number of warnings attached to verified credentials",
		}),
		KeySetCacheTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shc_key_set_cache_total",
			Help: "Key set cache lookups by result",
		}, []string{"result"}),
		KeySetFetchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shc_key_set_fetches_total",
			Help: "Remote key set fetches by status",
		}, []string{"status"}),
		KeySetFetchDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "shc_key_set_fetch_duration_seconds",
			Help:    "Duration of remote key set fetches in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		StaleKeysServedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "shc_stale_keys_served_total",
			Help: "Total number of keys served from the trust store after a failed fetch",
		}),
		CacheReapRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shc_cache_reap_runs_total",
			Help: "Total number of expiring cache reaper runs",
		}, []string{"status"}),
		CacheReapEvictedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "shc_cache_reap_evicted_total",
			Help: "Total number of expired cache entries removed",
		}),
		CacheReapDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "shc_cache_reap_duration_seconds",
			Help: "Duration of reaper runs in seconds",
		}),
	}
}

func (m *Metrics) IncrementVerification(outcome string) {
	if m == nil {
		return
	}
	m.VerificationsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AddWarnings(count int) {
	if m == nil || count == 0 {
		return
	}
	m.VerificationWarningsTotal.Add(float64(count))
}

func (m *Metrics) IncrementKeySetCache(result string) {
	if m == nil {
		return
	}
	m.KeySetCacheTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveKeySetFetch(status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.KeySetFetchesTotal.WithLabelValues(status).Inc()
	m.KeySetFetchDurationSeconds.Observe(durationSeconds)
}

func (m *Metrics) IncrementStaleKeysServed() {
	if m == nil {
		return
	}
	m.StaleKeysServedTotal.Inc()
}

func (m *Metrics) ObserveCacheReap(status string, evicted int64, durationSeconds float64) {
	if m == nil {
		return
	}
	m.CacheReapRunsTotal.WithLabelValues(status).Inc()
	m.CacheReapEvictedTotal.Add(float64(evicted))
	m.CacheReapDurationSeconds.Observe(durationSeconds)
}
