package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application. The domain
// counters satisfy the per-module metrics ports.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	salesCommitted       prometheus.Counter
	salesRolledBack      prometheus.Counter
	compensationFailures prometheus.Counter
	alertsRaised         *prometheus.CounterVec
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "galenica_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "galenica_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	salesCommitted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "galenica_sales_committed_total",
		Help: "Sales committed successfully.",
	})
	salesRolledBack := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "galenica_sales_rolled_back_total",
		Help: "Sales that failed and were fully compensated.",
	})
	compensationFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "galenica_sale_compensation_failures_total",
		Help: "Sales whose compensation left stock needing manual review.",
	})
	alertsRaised := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "galenica_alerts_raised_total",
		Help: "Inventory alerts raised by type.",
	}, []string{"type"})
	registry.MustRegister(requests, duration, salesCommitted, salesRolledBack, compensationFailures, alertsRaised)
	return &Metrics{
		registry:             registry,
		handler:              promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:        requests,
		requestDuration:      duration,
		salesCommitted:       salesCommitted,
		salesRolledBack:      salesRolledBack,
		compensationFailures: compensationFailures,
		alertsRaised:         alertsRaised,
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

// Middleware records metrics for every HTTP request.
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

// SaleCommitted counts a completed sale.
func (m *Metrics) SaleCommitted() {
	if m != nil {
		m.salesCommitted.Inc()
	}
}

// SaleRolledBack counts a compensated sale failure.
func (m *Metrics) SaleRolledBack() {
	if m != nil {
		m.salesRolledBack.Inc()
	}
}

// CompensationFailure counts an incomplete rollback.
func (m *Metrics) CompensationFailure() {
	if m != nil {
		m.compensationFailures.Inc()
	}
}

// AlertRaised counts a raised alert by type.
func (m *Metrics) AlertRaised(alertType string) {
	if m != nil {
		m.alertsRaised.WithLabelValues(alertType).Inc()
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
