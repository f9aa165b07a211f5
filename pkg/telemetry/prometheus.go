package telemetry

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Hyperpolymath/consent-aware-http/pkg/policy"
)

// Metrics holds the Prometheus metrics for an enforcement point.
type Metrics struct {
	decisionsTotal *prometheus.CounterVec
	violations     *prometheus.CounterVec

	manifestLoads        *prometheus.CounterVec
	manifestLoadFailures *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	endpoints map[string]string
	registry  *prometheus.Registry
}

// NewMetrics creates a metrics set on a private registry. endpoints lists the
// request paths reported by name in HTTP metrics; every other path is
// reported as "other".
func NewMetrics(endpoints ...string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aibdp_decisions_total",
				Help: "Total number of AIBDP evaluations by action, reason and regulated purpose",
			},
			[]string{"action", "reason", "purpose"},
		),

		violations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aibdp_violations_total",
				Help: "Total number of requests answered with 430 by purpose and policy status",
			},
			[]string{"purpose", "status"},
		),

		manifestLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aibdp_manifest_loads_total",
				Help: "Total number of manifest load attempts by source and status",
			},
			[]string{"source", "status"},
		),

		manifestLoadFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aibdp_manifest_load_failures_total",
				Help: "Total number of failed manifest loads by source",
			},
			[]string{"source"},
		),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aibdp_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aibdp_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		endpoints: make(map[string]string, len(endpoints)),
		registry:  registry,
	}
	for _, path := range endpoints {
		m.endpoints[path] = path
	}

	registry.MustRegister(
		m.decisionsTotal,
		m.violations,
		m.manifestLoads,
		m.manifestLoadFailures,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)

	return m
}

// RecordDecision records an evaluated request.
func (m *Metrics) RecordDecision(d policy.Decision) {
	m.decisionsTotal.WithLabelValues(string(d.Action), string(d.Reason), regulatedPurpose(d)).Inc()
	if d.Rejected() && d.Policy != nil {
		m.violations.WithLabelValues(d.Purpose, string(d.Policy.Status)).Inc()
	}
}

// ObserveLoad records a manifest load attempt.
func (m *Metrics) ObserveLoad(source string, err error) {
	status := "success"
	if err != nil {
		status = "error"
		m.manifestLoadFailures.WithLabelValues(source).Inc()
	}
	m.manifestLoads.WithLabelValues(source, status).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MetricsMiddleware creates HTTP middleware that records request metrics
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		m.RecordHTTPRequest(r.Method, m.endpointName(r.URL.Path), strconv.Itoa(wrapped.statusCode), time.Since(start))
	})
}

func (m *Metrics) endpointName(path string) string {
	if name, ok := m.endpoints[path]; ok {
		return name
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not support http.Hijacker")
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
