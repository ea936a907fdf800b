// Package observability exposes the Prometheus surface of the service:
// HTTP metrics plus counters for permission checks, the permission
// cache and signature verification.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects application metrics on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	checksTotal       *prometheus.CounterVec
	cacheOpsTotal     *prometheus.CounterVec
	signatureFailures prometheus.Counter
	integrityFailures prometheus.Counter
}

// NewMetrics initializes the registry and core metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "warden_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	checks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_permission_checks_total",
		Help: "Permission checks by outcome (allow, deny, error).",
	}, []string{"outcome"})
	cacheOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_permission_cache_operations_total",
		Help: "Permission cache operations (hit, miss, invalidation).",
	}, []string{"op"})
	sigFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_signature_canonicalize_failures_total",
		Help: "Signing operations that fell back to a random nonce.",
	})
	integrity := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_signature_verify_failures_total",
		Help: "Stored rows whose integrity signature did not verify.",
	})
	registry.MustRegister(requests, duration, checks, cacheOps, sigFailures, integrity)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,

		checksTotal:       checks,
		cacheOpsTotal:     cacheOps,
		signatureFailures: sigFailures,
		integrityFailures: integrity,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// CheckAllowed, CheckDenied and CheckErrored count permission check
// outcomes.
func (m *Metrics) CheckAllowed() { m.check("allow") }
func (m *Metrics) CheckDenied()  { m.check("deny") }
func (m *Metrics) CheckErrored() { m.check("error") }

func (m *Metrics) check(outcome string) {
	if m != nil {
		m.checksTotal.WithLabelValues(outcome).Inc()
	}
}

// CacheHit, CacheMiss and CacheInvalidation count permission cache
// operations.
func (m *Metrics) CacheHit()          { m.cacheOp("hit") }
func (m *Metrics) CacheMiss()         { m.cacheOp("miss") }
func (m *Metrics) CacheInvalidation() { m.cacheOp("invalidation") }

func (m *Metrics) cacheOp(op string) {
	if m != nil {
		m.cacheOpsTotal.WithLabelValues(op).Inc()
	}
}

// SignatureFallback counts a signing operation that could not
// canonicalize its record.
func (m *Metrics) SignatureFallback() {
	if m != nil {
		m.signatureFailures.Inc()
	}
}

// IntegrityFailure counts a stored row that failed signature
// verification.
func (m *Metrics) IntegrityFailure() {
	if m != nil {
		m.integrityFailures.Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
