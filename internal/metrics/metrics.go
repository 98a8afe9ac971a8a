// Package metrics exposes the Prometheus collectors shared by the API server
// and the narration worker.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "studybuddy"

// Metrics groups the collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry         *prometheus.Registry
	providerAttempts *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	quotaDecisions   *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	narrationJobs    *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		providerAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_attempts_total",
			Help:      "Generation attempts per provider and outcome.",
		}, []string{"provider", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_attempt_seconds",
			Help:      "Duration of a single provider attempt.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		}, []string{"provider"}),
		quotaDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_decisions_total",
			Help:      "Quota reservations by resource and decision.",
		}, []string{"resource", "decision"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code.",
		}, []string{"route", "status"}),
		narrationJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "narration_jobs_total",
			Help:      "Narration jobs finished by the worker, by status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.providerAttempts,
		m.providerLatency,
		m.quotaDecisions,
		m.httpRequests,
		m.narrationJobs,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ProviderAttempt records one attempt. outcome is "success" or a failure kind.
func (m *Metrics) ProviderAttempt(provider, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerAttempts.WithLabelValues(provider, outcome).Inc()
	m.providerLatency.WithLabelValues(provider).Observe(d.Seconds())
}

// QuotaDecision records an allow or deny for a resource.
func (m *Metrics) QuotaDecision(resource, decision string) {
	if m == nil {
		return
	}
	m.quotaDecisions.WithLabelValues(resource, decision).Inc()
}

// HTTPRequest records a served request.
func (m *Metrics) HTTPRequest(route string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// NarrationJob records a job that reached a terminal status.
func (m *Metrics) NarrationJob(status string) {
	if m == nil {
		return
	}
	m.narrationJobs.WithLabelValues(status).Inc()
}
