// Package metrics exports session transitions and HTTP traffic to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"invoicely/internal/session"
)

const namespace = "invoicely"

var statuses = []session.Status{session.StatusConnected, session.StatusQR, session.StatusDisconnected}

// Metrics owns a registry with the service collectors. It implements
// session.Recorder and wraps gateway routes.
type Metrics struct {
	Registry *prometheus.Registry

	transitions *prometheus.CounterVec
	status      *prometheus.GaugeVec
	expirations prometheus.Counter

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry, plus Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "transitions_total",
				Help:      "Session lifecycle transitions by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		status: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "status",
				Help:      "1 for the current session status, 0 otherwise.",
			},
			[]string{"status"},
		),
		expirations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "pairing_expired_total",
				Help:      "Pairing phases abandoned by the watchdog.",
			},
		),
		httpInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "inflight_requests",
				Help:      "Current number of in-flight HTTP requests.",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled.",
			},
			[]string{"route", "method", "code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
			},
			[]string{"route", "method"},
		),
	}
	m.Registry.MustRegister(
		m.transitions,
		m.status,
		m.expirations,
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	m.Status(session.StatusDisconnected)
	return m
}

// Handler exposes the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Transition counts one controller transition.
func (m *Metrics) Transition(kind, outcome string) {
	m.transitions.WithLabelValues(kind, outcome).Inc()
}

// Status marks s as the current status.
func (m *Metrics) Status(s session.Status) {
	for _, st := range statuses {
		v := 0.0
		if st == s {
			v = 1
		}
		m.status.WithLabelValues(string(st)).Set(v)
	}
}

// PairingExpired counts a watchdog expiry.
func (m *Metrics) PairingExpired() {
	m.expirations.Inc()
}

// Instrument wraps next with request count, latency and in-flight metrics
// labelled by route. It matches gateway.Instrumenter.
func (m *Metrics) Instrument(route string, next http.Handler) http.Handler {
	labels := prometheus.Labels{"route": route}
	h := promhttp.InstrumentHandlerDuration(m.httpDuration.MustCurryWith(labels), next)
	h = promhttp.InstrumentHandlerCounter(m.httpRequests.MustCurryWith(labels), h)
	return promhttp.InstrumentHandlerInFlight(m.httpInFlight, h)
}
