package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status_code"},
	)

	httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_size_bytes",
			Help:    "HTTP request size in bytes",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000},
		},
		[]string{"method", "endpoint"},
	)

	httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
		},
		[]string{"method", "endpoint"},
	)

	// Database metrics
	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Number of active database connections",
		},
	)

	dbConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	dbQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	// Business metrics
	inquiriesSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inquiries_submitted_total",
			Help: "Total number of inquiries submitted",
		},
		[]string{"category"}, // high, medium, low
	)

	quotesCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quote_requests_created_total",
			Help: "Total number of quote requests created",
		},
		[]string{"product_category"},
	)

	quoteTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quote_transitions_total",
			Help: "Total number of quote status transitions",
		},
		[]string{"from", "to"},
	)

	notificationEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_enqueued_total",
			Help: "Total number of notification messages queued",
		},
		[]string{"template"},
	)

	notificationDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_deliveries_total",
			Help: "Total number of notification delivery attempts",
		},
		[]string{"outcome"}, // sent, retry, failed
	)

	notificationDrainsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_drains_total",
			Help: "Total number of notification queue drain triggers",
		},
		[]string{"outcome"}, // completed, skipped, error
	)

	notificationDrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notification_drain_duration_seconds",
			Help:    "Notification queue drain duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
		},
	)

	notificationQueueMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notification_queue_messages",
			Help: "Number of notification messages by status at the last sweep",
		},
		[]string{"status"}, // pending, sent, failed, dead
	)
)

// PrometheusMiddleware creates a middleware that records Prometheus metrics
func PrometheusMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Skip metrics endpoint itself
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		// Wrap response writer to capture status code and size
		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		endpoint := EndpointLabel(r.URL.Path)

		// Record request size
		if r.ContentLength > 0 {
			httpRequestSize.WithLabelValues(r.Method, endpoint).Observe(float64(r.ContentLength))
		}

		// Handle request
		next.ServeHTTP(wrapped, r)

		// Record metrics
		duration := time.Since(start).Seconds()
		statusCode := strconv.Itoa(wrapped.statusCode)

		httpRequestsTotal.WithLabelValues(r.Method, endpoint, statusCode).Inc()
		httpRequestDuration.WithLabelValues(r.Method, endpoint, statusCode).Observe(duration)
		httpResponseSize.WithLabelValues(r.Method, endpoint).Observe(float64(wrapped.size))
	})
}

// EndpointLabel replaces UUID path segments with ":id" to keep label
// cardinality bounded.
func EndpointLabel(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if _, err := uuid.Parse(seg); err == nil {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

// responseWriter wraps http.ResponseWriter to capture status code and response size
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

// RecordInquirySubmitted records a new inquiry with its score category
func RecordInquirySubmitted(category string) {
	inquiriesSubmittedTotal.WithLabelValues(category).Inc()
}

// RecordQuoteCreated records a new quote request
func RecordQuoteCreated(productCategory string) {
	quotesCreatedTotal.WithLabelValues(productCategory).Inc()
}

// RecordQuoteTransition records a committed quote status change
func RecordQuoteTransition(from, to string) {
	quoteTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordNotificationEnqueued records a queued message
func RecordNotificationEnqueued(template string) {
	if template == "" {
		template = "none"
	}
	notificationEnqueuedTotal.WithLabelValues(template).Inc()
}

// RecordNotificationDelivery records the outcome of one delivery attempt
func RecordNotificationDelivery(outcome string) {
	notificationDeliveriesTotal.WithLabelValues(outcome).Inc()
}

// RecordNotificationDrain records a drain trigger. Skipped drains have no duration.
func RecordNotificationDrain(outcome string, duration time.Duration) {
	notificationDrainsTotal.WithLabelValues(outcome).Inc()
	if outcome != "skipped" {
		notificationDrainDuration.Observe(duration.Seconds())
	}
}

// UpdateNotificationQueue sets the queue size gauges
func UpdateNotificationQueue(pending, sent, failed, dead int64) {
	notificationQueueMessages.WithLabelValues("pending").Set(float64(pending))
	notificationQueueMessages.WithLabelValues("sent").Set(float64(sent))
	notificationQueueMessages.WithLabelValues("failed").Set(float64(failed))
	notificationQueueMessages.WithLabelValues("dead").Set(float64(dead))
}

// RecordDBQuery records a database query
func RecordDBQuery(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	dbQueriesTotal.WithLabelValues(operation, status).Inc()
	dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// UpdateDBConnections updates database connection metrics
func UpdateDBConnections(active, idle int) {
	dbConnectionsActive.Set(float64(active))
	dbConnectionsIdle.Set(float64(idle))
}

