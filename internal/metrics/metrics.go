// Package metrics holds the prometheus collectors for the relay and the
// client-side session. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "qwirl_session"

// Refresh outcomes.
const (
	RefreshSuccess   = "success"
	RefreshTerminal  = "terminal"
	RefreshTransport = "transport"
	RefreshError     = "error"
)

// Request outcomes for the authorized request pipeline.
const (
	RequestOK         = "ok"
	RequestRetried    = "retried"
	RequestDenied     = "unauthorized"
	RequestTerminated = "terminated"
	RequestTransport  = "transport"
)

type Metrics struct {
	registry        *prometheus.Registry
	refreshAttempts *prometheus.CounterVec
	refreshShared   prometheus.Counter
	requests        *prometheus.CounterVec
	callbacks       *prometheus.CounterVec
}

// New registers a fresh set of collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		refreshAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Refresh calls made to the identity backend, by outcome.",
		}, []string{"outcome"}),
		refreshShared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_shared_total",
			Help:      "Callers that joined a refresh already in flight.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Requests sent through the authorized request pipeline, by outcome.",
		}, []string{"outcome"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oauth_callbacks_total",
			Help:      "OAuth callback results, by result code.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.refreshAttempts,
		m.refreshShared,
		m.requests,
		m.callbacks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveRefresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRefreshShared() {
	if m == nil {
		return
	}
	m.refreshShared.Inc()
}

func (m *Metrics) ObserveRequest(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCallback(result string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(result).Inc()
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
