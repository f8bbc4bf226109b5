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

	// Trust-core metrics
	sealsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seals_total",
			Help: "Total number of sealing operations",
		},
		[]string{"provider", "outcome"},
	)

	sealDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "seal_duration_seconds",
			Help:    "End-to-end sealing duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	tsaStampDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tsa_stamp_duration_seconds",
			Help:    "Time-stamp acquisition duration in seconds",
			Buckets: []float64{.001, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"mode"},
	)

	tsaFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tsa_dev_fallbacks_total",
			Help: "Total number of rfc3161 failures substituted with the dev TSA",
		},
	)

	auditEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_total",
			Help: "Total number of audit events appended",
		},
		[]string{"kind"},
	)

	chainVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chain_verifications_total",
			Help: "Total number of audit chain verifications",
		},
		[]string{"result"},
	)
)

// RecordSeal counts a sealing operation by provider and outcome.
func RecordSeal(provider, outcome string, duration time.Duration) {
	sealsTotal.WithLabelValues(provider, outcome).Inc()
	sealDuration.Observe(duration.Seconds())
}

// RecordTSAStamp observes the duration of a stamp call.
func RecordTSAStamp(mode string, duration time.Duration) {
	tsaStampDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordTSAFallback counts an explicit rfc3161 → dev substitution.
func RecordTSAFallback() {
	tsaFallbacksTotal.Inc()
}

// RecordAuditEvent counts an appended audit event by kind.
func RecordAuditEvent(kind string) {
	auditEventsTotal.WithLabelValues(kind).Inc()
}

// RecordChainVerification counts a verification by result ("ok"/"corrupt").
func RecordChainVerification(result string) {
	chainVerificationsTotal.WithLabelValues(result).Inc()
}

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware instruments HTTP requests.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(wrapped.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
