package middlewares

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
			Name: "checkout_service_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "checkout_service_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	checkoutOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_service_checkout_operations_total",
			Help: "Total number of checkout operations",
		},
		[]string{"operation", "status"},
	)

	webhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_service_webhook_events_total",
			Help: "Processor webhook events by type and outcome",
		},
		[]string{"event_type", "outcome"},
	)
)

// PrometheusMiddleware collects request counts and latencies.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		httpRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Inc()

		httpRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Observe(duration)
	}
}

func RecordCheckoutOperation(operation string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	checkoutOperations.WithLabelValues(operation, status).Inc()
}

// RecordWebhookEvent tracks the reconciliation outcome per event type:
// applied, noop, skipped or error.
func RecordWebhookEvent(eventType, outcome string) {
	webhookEvents.WithLabelValues(eventType, outcome).Inc()
}
