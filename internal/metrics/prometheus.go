// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks total HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// RequestDuration tracks HTTP request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// OrdersCreated counts orders written by intake.
	OrdersCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Total number of orders created",
		},
	)

	// WebhookNotifications counts gateway notifications by outcome
	// (applied, duplicate, ignored, invalid_request, invalid_signature, not_found, error).
	WebhookNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_notifications_total",
			Help: "Payment gateway notifications by outcome",
		},
		[]string{"outcome", "status_code"},
	)

	// Cancellations counts cancellation requests by outcome.
	Cancellations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_cancellations_total",
			Help: "Order cancellation requests by outcome",
		},
		[]string{"outcome"},
	)

	// Compensations counts compensating actions by kind and outcome.
	Compensations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compensations_total",
			Help: "Compensating actions by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
)

// PrometheusMiddleware records request count and latency per route.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		RequestsTotal.WithLabelValues(c.Request.Method, c.FullPath(), status).Inc()
		RequestDuration.WithLabelValues(c.Request.Method, c.FullPath()).Observe(duration)
	}
}
