// Package metrics provides Prometheus instrumentation for the protection
// pipeline.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inomad",
			Subsystem: "sentinel",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status bucket.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "inomad",
			Subsystem: "sentinel",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// LedgerEventsTotal counts ledger events consumed by kind.
	LedgerEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inomad",
			Subsystem: "sentinel",
			Name:      "ledger_events_total",
			Help:      "Ledger events consumed by the indexer, by kind.",
		},
		[]string{"kind"},
	)

	// SuspicionLabelsTotal counts suspicion labels emitted by type.
	SuspicionLabelsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inomad",
			Subsystem: "sentinel",
			Name:      "suspicion_labels_total",
			Help:      "Suspicion labels emitted by the pattern detector, by type.",
		},
		[]string{"type"},
	)

	// RiskScores observes the distribution of computed risk scores.
	RiskScores = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "inomad",
			Subsystem: "sentinel",
			Name:      "risk_score",
			Help:      "Distribution of computed wallet risk scores.",
			Buckets:   []float64{5, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	// AlertsTotal counts alerts created by level.
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inomad",
			Subsystem: "sentinel",
			Name:      "alerts_total",
			Help:      "Alerts created by level.",
		},
		[]string{"level"},
	)

	// GuardCallsTotal counts enforcement contract calls by operation and result.
	GuardCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inomad",
			Subsystem: "sentinel",
			Name:      "guard_calls_total",
			Help:      "Enforcement contract calls by operation and result.",
		},
		[]string{"op", "result"},
	)

	// WalletsLockedTotal counts wallets locked, by trigger.
	WalletsLockedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inomad",
			Subsystem: "sentinel",
			Name:      "wallets_locked_total",
			Help:      "Wallets locked on-chain, by trigger (auto or manual).",
		},
		[]string{"trigger"},
	)

	// AlertStreamClients tracks connected alert-stream WebSocket clients.
	AlertStreamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "inomad",
			Subsystem: "sentinel",
			Name:      "alert_stream_clients",
			Help:      "Currently connected alert-stream WebSocket clients.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		LedgerEventsTotal,
		SuspicionLabelsTotal,
		RiskScores,
		AlertsTotal,
		GuardCallsTotal,
		WalletsLockedTotal,
		AlertStreamClients,
	)
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Route pattern, not raw path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics handler for the /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
