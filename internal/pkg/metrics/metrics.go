package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// 业务指标。InitMetrics 注册后由 handler 与后台收集器更新。
var (
	// HTTPRequestsTotal 按方法/路径/状态码统计请求数。
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPRequestDuration 请求耗时分布。
	HTTPRequestDuration *prometheus.HistogramVec

	// AuthFailuresTotal 认证/鉴权失败计数 (reason: unauthenticated / forbidden)。
	AuthFailuresTotal *prometheus.CounterVec

	// LoginThrottledTotal 被限流拒绝的登录请求数。
	LoginThrottledTotal prometheus.Counter

	// SessionsRevokedTotal 被主动吊销的会话数。
	SessionsRevokedTotal prometheus.Counter

	// UsersTotal 系统用户总数（后台定时刷新）。
	UsersTotal prometheus.Gauge

	// TodosTotal 按完成状态统计任务总数（后台定时刷新，state: completed / pending）。
	TodosTotal *prometheus.GaugeVec
)

var initOnce sync.Once

// InitMetrics 注册所有 Prometheus 指标。重复调用是安全的。
func InitMetrics() {
	initOnce.Do(func() {
		HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskboard",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path and status.",
		}, []string{"method", "path", "status"})

		HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taskboard",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"})

		AuthFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskboard",
			Name:      "auth_failures_total",
			Help:      "Authentication and authorization failures.",
		}, []string{"reason"})

		LoginThrottledTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskboard",
			Name:      "login_throttled_total",
			Help:      "Login attempts rejected by the rate limiter.",
		})

		SessionsRevokedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskboard",
			Name:      "sessions_revoked_total",
			Help:      "Sessions explicitly invalidated before expiry.",
		})

		UsersTotal = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskboard",
			Name:      "users_total",
			Help:      "Registered users.",
		})

		TodosTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "taskboard",
			Name:      "todos_total",
			Help:      "Todos by completion state.",
		}, []string{"state"})

		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			AuthFailuresTotal,
			LoginThrottledTotal,
			SessionsRevokedTotal,
			UsersTotal,
			TodosTotal,
		)
	})
}
