// Package metrics 定义排行榜服务的 Prometheus 指标。
// 所有方法对 nil *Manager 都是空操作，便于在测试中省略指标。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 投票结果标签
const (
	VoteOutcomeAccepted     = "accepted"
	VoteOutcomeAlreadyVoted = "already_voted"
	VoteOutcomeInvalid      = "invalid"
	VoteOutcomeNotFound     = "not_found"
	VoteOutcomeUnauthorized = "unauthorized"
	VoteOutcomeStorageError = "storage_error"
)

// 排行榜缓存结果标签
const (
	CacheHit    = "hit"
	CacheMiss   = "miss"
	CacheBypass = "bypass"
	CacheError  = "error"
)

// Manager 持有所有指标
type Manager struct {
	namespace string
	buckets   []float64
	registry  *prometheus.Registry

	votes        *prometheus.CounterVec
	voteDuration prometheus.Histogram
	cache        *prometheus.CounterVec
	rebuilds     prometheus.Counter
	limited      prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// Option 调整 Manager 的配置
type Option func(*Manager)

// WithNamespace 设置指标命名空间
func WithNamespace(ns string) Option {
	return func(m *Manager) {
		if ns != "" {
			m.namespace = ns
		}
	}
}

// WithHistogramBuckets 设置延迟直方图的分桶
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.buckets = buckets
		}
	}
}

// WithRegistry 使用外部提供的 Registry
func WithRegistry(reg *prometheus.Registry) Option {
	return func(m *Manager) {
		if reg != nil {
			m.registry = reg
		}
	}
}

// New 创建并注册全部指标
func New(opts ...Option) (*Manager, error) {
	m := &Manager{
		namespace: "mcbattle",
		buckets:   prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}

	m.votes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "ranking",
		Name:      "votes_total",
		Help:      "Vote submissions by outcome.",
	}, []string{"outcome"})
	m.voteDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "ranking",
		Name:      "vote_transaction_seconds",
		Help:      "Duration of the vote insert + aggregate recompute transaction.",
		Buckets:   m.buckets,
	})
	m.cache = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "ranking",
		Name:      "cache_requests_total",
		Help:      "Ranking page cache lookups by result.",
	}, []string{"result"})
	m.rebuilds = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "ranking",
		Name:      "aggregate_rebuilds_total",
		Help:      "MC aggregates recomputed by rebuild runs.",
	})
	m.limited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "ranking",
		Name:      "votes_rate_limited_total",
		Help:      "Vote submissions rejected by the per-IP limiter.",
	})
	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})
	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by method and route.",
		Buckets:   m.buckets,
	}, []string{"method", "route"})

	collectors := []prometheus.Collector{
		m.votes, m.voteDuration, m.cache, m.rebuilds, m.limited, m.httpRequests, m.httpDuration,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry 返回底层 Registry
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveVote 记录一次投票提交的结果和耗时
func (m *Manager) ObserveVote(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.votes.WithLabelValues(outcome).Inc()
	if outcome == VoteOutcomeAccepted {
		m.voteDuration.Observe(d.Seconds())
	}
}

// ObserveCache 记录一次排行榜缓存查询
func (m *Manager) ObserveCache(result string) {
	if m == nil {
		return
	}
	m.cache.WithLabelValues(result).Inc()
}

// AddRebuilds 累加重算的MC数量
func (m *Manager) AddRebuilds(n int) {
	if m == nil {
		return
	}
	m.rebuilds.Add(float64(n))
}

// IncRateLimited 记录一次被限流的投票
func (m *Manager) IncRateLimited() {
	if m == nil {
		return
	}
	m.limited.Inc()
}

// GinMiddleware 记录每个请求的路由、状态码和耗时
func (m *Manager) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler 返回 /metrics 的处理器
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
