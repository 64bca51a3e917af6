package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fbRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitbounty_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	fbRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fitbounty_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	fbCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitbounty_commands_total",
		Help: "Executed commands by resolved intent and response type.",
	}, []string{"intent", "response"})

	fbEscrowPollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitbounty_escrow_polls_total",
		Help: "Invoice status polls by outcome.",
	}, []string{"outcome"})

	fbRepliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitbounty_replies_total",
		Help: "Reply deliveries by success status.",
	}, []string{"status"})

	fbBridgeAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitbounty_bridge_attempts_total",
		Help: "Relay bridge delivery attempts by success status.",
	}, []string{"status"})

	fbSweepTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitbounty_sweep_transitions_total",
		Help: "Challenges moved by the evaluator sweep, by kind of transition.",
	}, []string{"transition"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		fbRequestsTotal.WithLabelValues(method, path, status).Inc()
		fbRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordCommand records an executed command.
func RecordCommand(intent, responseType string) {
	fbCommandsTotal.WithLabelValues(intent, responseType).Inc()
}

// RecordEscrowPoll records one invoice status poll.
func RecordEscrowPoll(outcome string) {
	fbEscrowPollsTotal.WithLabelValues(outcome).Inc()
}

// RecordReply records a reply delivery.
func RecordReply(success bool) {
	fbRepliesTotal.WithLabelValues(statusLabel(success)).Inc()
}

// RecordBridgeAttempt records one HTTP attempt against the relay bridge.
func RecordBridgeAttempt(success bool) {
	fbBridgeAttemptsTotal.WithLabelValues(statusLabel(success)).Inc()
}

// RecordSweep records the transitions made by one evaluator sweep.
func RecordSweep(expired, finished int) {
	fbSweepTransitionsTotal.WithLabelValues("expired").Add(float64(expired))
	fbSweepTransitionsTotal.WithLabelValues("finished").Add(float64(finished))
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
