// Package metrics 定义 Prometheus 指标（promauto 注册到默认 registry），由 /metrics 暴露。
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 缓存
	CacheOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropfeed_cache_ops_total",
			Help: "Cache operations by backend, op and result (hit, miss, expired, error, ok)",
		},
		[]string{"backend", "op", "result"},
	)

	CacheBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dropfeed_cache_breaker_state",
			Help: "Circuit breaker state of the primary cache backend (0=closed, 1=half-open, 2=open)",
		},
		[]string{"backend"},
	)

	// Feed
	FeedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropfeed_feed_requests_total",
			Help: "Feed requests by surface and algorithm",
		},
		[]string{"surface", "algorithm"},
	)

	FeedDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dropfeed_feed_duration_seconds",
			Help:    "End-to-end feed build duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"surface"},
	)

	FallbackItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropfeed_fallback_items_total",
			Help: "Informational fallback items served, by surface and kind",
		},
		[]string{"surface", "kind"},
	)

	PoolBuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropfeed_pool_builds_total",
			Help: "Candidate pool builds (cache misses) by surface and result",
		},
		[]string{"surface", "result"},
	)

	PoolSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dropfeed_pool_size",
			Help:    "Number of scored candidates in freshly built pools",
			Buckets: []float64{0, 10, 50, 100, 200, 400, 800},
		},
		[]string{"surface"},
	)

	SeenSetErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dropfeed_seen_set_errors_total",
			Help: "Seen-set computations degraded to an empty set",
		},
	)

	// 曝光与反馈
	ImpressionWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropfeed_impression_writes_total",
			Help: "Impression bulk inserts by result",
		},
		[]string{"result"},
	)

	FeedbackEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropfeed_feedback_events_total",
			Help: "Feedback events recorded by kind",
		},
		[]string{"kind"},
	)

	// 预热
	WarmRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropfeed_warm_runs_total",
			Help: "Pool warm runs by trigger and result",
		},
		[]string{"trigger", "result"},
	)

	// HTTP
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dropfeed_http_request_duration_seconds",
			Help:    "HTTP request duration by method, route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// RecordCache 记录一次缓存操作。
func RecordCache(backend, op, result string) {
	CacheOps.WithLabelValues(backend, op, result).Inc()
}

// RecordFeed 记录一次 Feed 请求。
func RecordFeed(surface, algorithm string, d time.Duration) {
	FeedRequests.WithLabelValues(surface, algorithm).Inc()
	FeedDuration.WithLabelValues(surface).Observe(d.Seconds())
}

// RecordPoolBuild 记录一次候选池构建。
func RecordPoolBuild(surface string, size int, err error) {
	if err != nil {
		PoolBuilds.WithLabelValues(surface, "error").Inc()
		return
	}
	PoolBuilds.WithLabelValues(surface, "ok").Inc()
	PoolSize.WithLabelValues(surface).Observe(float64(size))
}

// RecordImpressionWrite 记录一次曝光批量写入。
func RecordImpressionWrite(err error) {
	if err != nil {
		ImpressionWrites.WithLabelValues("error").Inc()
		return
	}
	ImpressionWrites.WithLabelValues("ok").Inc()
}

// RecordHTTP 记录一次 HTTP 请求。
func RecordHTTP(method, route string, status int, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
