package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "localinfer"

var requestLabels = []string{"path", "method", "status"}

var (
	httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Subsystem: "http",
		Name: "requests_total",
		Help: "HTTP requests by route pattern, method and status.",
	}, requestLabels)

	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace, Subsystem: "http",
		Name:    "request_duration_seconds",
		Help:    "HTTP request latency; streamed completions count until the last line.",
		Buckets: prometheus.ExponentialBuckets(0.005, 4, 9),
	}, requestLabels)

	httpInflight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace, Subsystem: "http",
		Name: "inflight_requests",
		Help: "Requests currently being served.",
	}, []string{"method"})

	backpressureTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Subsystem: "http",
		Name: "backpressure_total",
		Help: "Requests rejected with 429 by the admission queue.",
	}, []string{"reason"})

	streamAbortsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Subsystem: "http",
		Name: "stream_aborts_total",
		Help: "Streamed completions that ended before the final line.",
	}, []string{"cause"})
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, httpInflight, backpressureTotal, streamAbortsTotal)
}

// statusRecorder remembers the status written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// MetricsMiddleware instruments requests for Prometheus. The path label is
// the chi route pattern, read after routing so ids in the URL do not become
// label values.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inflight := httpInflight.WithLabelValues(r.Method)
		inflight.Inc()
		defer inflight.Dec()

		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sr, r)

		labels := prometheus.Labels{
			"path":   routeLabel(r),
			"method": r.Method,
			"status": strconv.Itoa(sr.status),
		}
		httpRequestsTotal.With(labels).Inc()
		httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	})
}

func routeLabel(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// IncrementBackpressure counts a 429. An empty reason is "unspecified".
func IncrementBackpressure(reason string) {
	if reason == "" {
		reason = "unspecified"
	}
	backpressureTotal.WithLabelValues(reason).Inc()
}

// countStreamAbort records why a stream stopped early: "client",
// "shutdown" or "error".
func countStreamAbort(cause string) {
	streamAbortsTotal.WithLabelValues(cause).Inc()
}
