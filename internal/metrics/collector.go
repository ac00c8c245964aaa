// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRejectionsTotal *prometheus.CounterVec
	httpTimeoutsTotal   prometheus.Counter

	// 数据库连接池指标
	dbConnectionsTotal prometheus.Gauge
	dbConnectionsIdle  prometheus.Gauge
	dbConnectionsInUse prometheus.Gauge
	dbCheckoutTimeouts prometheus.Gauge

	// 工作池指标
	workerQueueDepth    prometheus.Gauge
	workerTasksTotal    *prometheus.GaugeVec
	workerTasksRejected prometheus.Gauge

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器并注册到给定 registry
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRejectionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_rejections_total",
			Help:      "Requests rejected before dispatch",
		},
		[]string{"reason"}, // buffer_full, rate_limited, cors
	)

	c.httpTimeoutsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_timeouts_total",
			Help:      "Requests that exceeded the per-request budget",
		},
	)

	// 数据库连接池指标
	c.dbConnectionsTotal = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_total",
			Help:      "Connections currently managed by the pool",
		},
	)

	c.dbConnectionsIdle = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Idle connections in the pool",
		},
	)

	c.dbConnectionsInUse = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_in_use",
			Help:      "Connections currently checked out",
		},
	)

	c.dbCheckoutTimeouts = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_checkout_timeouts_total",
			Help:      "Checkouts that timed out waiting for a connection",
		},
	)

	// 工作池指标
	c.workerQueueDepth = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_queue_depth",
			Help:      "Tasks waiting for a worker",
		},
	)

	c.workerTasksTotal = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_tasks_total",
			Help:      "Tasks processed by the worker pool, by outcome",
		},
		[]string{"outcome"}, // completed, failed, aborted
	)

	c.workerTasksRejected = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_tasks_rejected_total",
			Help:      "Tasks rejected because the queue was full",
		},
	)

	// 缓存指标
	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRejection 记录进入处理前被拒绝的请求
func (c *Collector) RecordRejection(reason string) {
	c.httpRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordTimeout 记录超出请求预算的请求
func (c *Collector) RecordTimeout() {
	c.httpTimeoutsTotal.Inc()
}

// =============================================================================
// 🗄️ 连接池与工作池指标记录
// =============================================================================

// RecordPoolStats 以快照方式记录连接池状态,取出超时为累计值
func (c *Collector) RecordPoolStats(total, idle, inUse int, checkoutTimeouts int64) {
	c.dbConnectionsTotal.Set(float64(total))
	c.dbConnectionsIdle.Set(float64(idle))
	c.dbConnectionsInUse.Set(float64(inUse))
	c.dbCheckoutTimeouts.Set(float64(checkoutTimeouts))
}

// RecordWorkerStats 以快照方式记录工作池状态
func (c *Collector) RecordWorkerStats(queued int, completed, failed, aborted, rejected int64) {
	c.workerQueueDepth.Set(float64(queued))
	c.workerTasksTotal.WithLabelValues("completed").Set(float64(completed))
	c.workerTasksTotal.WithLabelValues("failed").Set(float64(failed))
	c.workerTasksTotal.WithLabelValues("aborted").Set(float64(aborted))
	c.workerTasksRejected.Set(float64(rejected))
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
