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
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Analysis pipeline metrics
	analysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyses_total",
			Help: "Total number of patient analyses by terminal outcome",
		},
		[]string{"outcome"},
	)

	analysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "analysis_duration_seconds",
			Help:    "End-to-end analysis duration in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	modelInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_invocations_total",
			Help: "Total number of foundation model invocation attempts",
		},
		[]string{"result"},
	)

	modelInvocationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "model_invocation_duration_seconds",
			Help:    "Foundation model invocation duration in seconds",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 30},
		},
	)

	modelTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_tokens_total",
			Help: "Total model tokens consumed, including failed attempts",
		},
		[]string{"direction"},
	)

	knowledgeDegradedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "knowledge_degraded_total",
			Help: "Total number of analyses that ran without knowledge-base context",
		},
	)

	// Audit metrics
	auditRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_records_total",
			Help: "Total number of audit records by write path",
		},
		[]string{"path"},
	)

	auditRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_retries_total",
			Help: "Total number of background audit write retries",
		},
	)

	auditQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "audit_queue_depth",
			Help: "Number of audit records waiting for background retry",
		},
	)

	auditWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Total number of audit writes abandoned after retry exhaustion",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath caps path cardinality; audit lookups embed a prediction id
func normalizePath(path string) string {
	if len(path) > 100 {
		return "/api/..."
	}
	return path
}

// --- Pipeline metric helpers ---

// RecordAnalysis records a completed or failed analysis with its outcome
func RecordAnalysis(outcome string, duration time.Duration) {
	analysesTotal.WithLabelValues(outcome).Inc()
	analysisDuration.Observe(duration.Seconds())
}

// RecordModelInvocation records a single model invocation attempt
func RecordModelInvocation(result string, duration time.Duration) {
	modelInvocationsTotal.WithLabelValues(result).Inc()
	modelInvocationDuration.Observe(duration.Seconds())
}

// RecordModelTokens records token usage for an attempt, failed ones included
func RecordModelTokens(input, output int) {
	modelTokensTotal.WithLabelValues("input").Add(float64(input))
	modelTokensTotal.WithLabelValues("output").Add(float64(output))
}

// RecordKnowledgeDegraded records an analysis that proceeded without references
func RecordKnowledgeDegraded() {
	knowledgeDegradedTotal.Inc()
}

// RecordAuditWrite records an audit record written on the given path
// ("sync" or "background")
func RecordAuditWrite(path string) {
	auditRecordsTotal.WithLabelValues(path).Inc()
}

// RecordAuditRetry records one background audit retry attempt
func RecordAuditRetry() {
	auditRetriesTotal.Inc()
}

// SetAuditQueueDepth tracks the background retry queue depth
func SetAuditQueueDepth(n int) {
	auditQueueDepth.Set(float64(n))
}

// RecordAuditWriteFailure records an abandoned audit write
func RecordAuditWriteFailure() {
	auditWriteFailures.Inc()
}
