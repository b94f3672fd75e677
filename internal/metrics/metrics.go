// Package metrics holds the process-wide Prometheus collectors and the Gin
// middleware that records HTTP traffic against them.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioskcall_http_requests_total",
			Help: "HTTP requests served by the coordination API.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kioskcall_http_request_duration_seconds",
			Help:    "Coordination API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// CallsTotal counts call lifecycle transitions by event (initiated, acknowledged, ended).
	CallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioskcall_calls_total",
			Help: "Call lifecycle transitions.",
		},
		[]string{"event"},
	)

	// PushDeliveredTotal counts frames queued to subscribers.
	PushDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioskcall_push_delivered_total",
			Help: "Push frames queued to room members.",
		},
		[]string{"event"},
	)

	// PushDroppedTotal counts frames dropped because a subscriber outbox was full.
	PushDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioskcall_push_dropped_total",
			Help: "Push frames dropped for slow subscribers.",
		},
		[]string{"event"},
	)

	PushConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kioskcall_push_connections",
		Help: "Open push channel connections.",
	})
)

// Middleware records request count and latency. The path label is the
// matched route template, so /api/call/42 and /api/call/43 share a series.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
