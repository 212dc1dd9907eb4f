package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderpulse_http_requests_total",
			Help: "Total local API requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orderpulse_http_request_duration_seconds",
			Help:    "Local API request latency distribution",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5},
		},
		[]string{"method", "path"},
	)

	notificationsAdded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderpulse_notifications_added_total",
			Help: "Notifications inserted into the store by category",
		},
		[]string{"category"},
	)

	notificationsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderpulse_notifications_suppressed_total",
			Help: "Notifications rejected because the (correlation id, category) pair already existed",
		},
		[]string{"category"},
	)

	duplicateMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orderpulse_duplicate_messages_total",
			Help: "Real-time messages dropped by the de-duplication ledger",
		},
	)

	transportState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orderpulse_transport_state",
			Help: "Transport state: 0 disconnected, 1 connecting, 2 connected",
		},
	)

	transportReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orderpulse_transport_reconnects_total",
			Help: "Reconnect attempts scheduled by the transport adapter",
		},
	)

	roomSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orderpulse_room_subscriptions",
			Help: "Active room subscriptions",
		},
	)

	pollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderpulse_polls_total",
			Help: "Reconciler poll cycles by result",
		},
		[]string{"result"},
	)

	backendCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orderpulse_backend_call_duration_seconds",
			Help:    "Backend REST call latency by operation and outcome",
			Buckets: []float64{.025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation", "status"},
	)

	sinkFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderpulse_sink_failures_total",
			Help: "Best-effort notification sink failures",
		},
		[]string{"sink"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records local API request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordNotificationAdded records a successful store insertion.
func RecordNotificationAdded(category string) {
	notificationsAdded.WithLabelValues(category).Inc()
}

// RecordNotificationSuppressed records an insertion rejected as a duplicate.
func RecordNotificationSuppressed(category string) {
	notificationsSuppressed.WithLabelValues(category).Inc()
}

// RecordDuplicateMessage records a redelivered real-time message.
func RecordDuplicateMessage() {
	duplicateMessages.Inc()
}

// SetTransportState publishes the adapter state as a number.
func SetTransportState(state int) {
	transportState.Set(float64(state))
}

// RecordReconnect records a scheduled reconnect attempt.
func RecordReconnect() {
	transportReconnects.Inc()
}

// SetRoomSubscriptions sets the active room subscription count.
func SetRoomSubscriptions(count int) {
	roomSubscriptions.Set(float64(count))
}

// RecordPoll records one reconciler cycle ("ok" or "error").
func RecordPoll(result string) {
	pollsTotal.WithLabelValues(result).Inc()
}

// RecordBackendCall records backend call latency.
func RecordBackendCall(operation, status string, duration time.Duration) {
	backendCallDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// RecordSinkFailure records a swallowed sink error.
func RecordSinkFailure(sink string) {
	sinkFailures.WithLabelValues(sink).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
