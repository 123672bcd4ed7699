package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	journalPostings     *prometheus.CounterVec
	invoicesGenerated   prometheus.Counter
	recognitionEntries  prometheus.Counter
	billingPassFailures *prometheus.CounterVec
}

// NewMetrics initialises the registry and the base metric set.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerline_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledgerline_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerline_journal_postings_total",
		Help: "Journal entries posted by source module.",
	}, []string{"source"})
	invoices := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledgerline_invoices_generated_total",
		Help: "Subscription invoices created by scheduling passes.",
	})
	recognition := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledgerline_recognition_entries_total",
		Help: "Revenue schedule entries recognized.",
	})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerline_billing_pass_failures_total",
		Help: "Failed items in billing passes by pass kind.",
	}, []string{"pass"})
	registry.MustRegister(requests, duration, postings, invoices, recognition, failures)
	return &Metrics{
		registry:            registry,
		handler:             promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:       requests,
		requestDuration:     duration,
		journalPostings:     postings,
		invoicesGenerated:   invoices,
		recognitionEntries:  recognition,
		billingPassFailures: failures,
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

// JournalPosted counts one posted journal entry.
func (m *Metrics) JournalPosted(source string) {
	if m == nil {
		return
	}
	m.journalPostings.WithLabelValues(source).Inc()
}

// InvoicesGenerated counts invoices created by a scheduling pass.
func (m *Metrics) InvoicesGenerated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.invoicesGenerated.Add(float64(n))
}

// EntriesRecognized counts recognized schedule entries.
func (m *Metrics) EntriesRecognized(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recognitionEntries.Add(float64(n))
}

// PassFailures counts failed items in a billing pass.
func (m *Metrics) PassFailures(pass string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.billingPassFailures.WithLabelValues(pass).Add(float64(n))
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
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
