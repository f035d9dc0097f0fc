package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "onlyfrens"

// Metrics holds the ledger counters on a private registry so tests can build as many as they like.
type Metrics struct {
	registry      *prometheus.Registry
	actions       *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	noops         *prometheus.CounterVec
	registrations prometheus.Counter
	requests      *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "actions_total",
			Help:      "Actions appended to account histories, by kind.",
		}, []string{"kind"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "rejections_total",
			Help:      "Actions refused before append, by kind and reason.",
		}, []string{"kind", "reason"}),
		noops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "noops_total",
			Help:      "Idempotent operations answered without charging, by kind.",
		}, []string{"kind"}),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accounts",
			Name:      "registered_total",
			Help:      "Accounts created.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served, by route and status code.",
		}, []string{"route", "code"}),
	}

	m.registry.MustRegister(
		m.actions,
		m.rejections,
		m.noops,
		m.registrations,
		m.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) ActionApplied(kind string) {
	m.actions.WithLabelValues(kind).Inc()
}

func (m *Metrics) ActionRejected(kind, reason string) {
	m.rejections.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) NoOp(kind string) {
	m.noops.WithLabelValues(kind).Inc()
}

func (m *Metrics) AccountRegistered() {
	m.registrations.Inc()
}

func (m *Metrics) RequestServed(route, code string) {
	m.requests.WithLabelValues(route, code).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
