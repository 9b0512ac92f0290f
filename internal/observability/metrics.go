// Package observability exposes the Prometheus surface for ledgergated: the
// HTTP request collectors recorded by the router middleware, the /metrics
// endpoint the scrape config targets, and the background-job collectors from
// internal/jobs, all on one process-local registry.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ledgergate/ledgergate/internal/jobs"
)

// Metrics owns the registry and the HTTP-level collectors.
type Metrics struct {
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	durations *prometheus.HistogramVec
	jobs      *jobs.Metrics
}

// NewMetrics builds a Metrics instance with its own registry rather than the
// global default registerer, so tests construct isolated instances. The job
// collectors are registered here too and primed to zero so the known series
// export before their first run.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests partitioned by status code and chi route pattern.",
	}, []string{"code", "route"})
	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency partitioned by chi route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	registry.MustRegister(requests, durations)

	jobMetrics := jobs.NewMetrics(registry)
	for _, job := range jobs.KnownJobs() {
		jobMetrics.Prime(job)
	}

	return &Metrics{registry: registry, requests: requests, durations: durations, jobs: jobMetrics}
}

// Registerer exposes the underlying registry so additional collectors can
// join the same /metrics endpoint.
func (m *Metrics) Registerer() prometheus.Registerer {
	return m.registry
}

// JobMetrics returns the job collectors registered on this registry.
func (m *Metrics) JobMetrics() *jobs.Metrics {
	return m.jobs
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records a counter and latency observation per request, labelled
// by the chi route pattern rather than the raw path so cardinality stays
// bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.requests.WithLabelValues(strconv.Itoa(recorder.status), route).Inc()
		m.durations.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.written {
		r.written = true
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.written {
		r.written = true
	}
	return r.ResponseWriter.Write(b)
}
