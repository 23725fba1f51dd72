// Package metrics exposes Prometheus counters and gauges for the queue service.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/queueup/backend/internal/session"
)

// Sources are read at scrape time. Nil funcs are skipped.
type Sources struct {
	ActiveSessions     func() int
	Subscribers        func() int
	SnapshotsPublished func() uint64
	SnapshotsDropped   func() uint64
}

// Metrics holds Prometheus collectors on a private registry.
type Metrics struct {
	registry      *prometheus.Registry
	requestsTotal prometheus.Counter
	errorsTotal   prometheus.Counter
	commandsTotal *prometheus.CounterVec
	connections   *prometheus.CounterVec
}

// New creates and registers the collectors.
func New(src Sources) *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queueup_http_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queueup_http_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	commandsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queueup_commands_total",
		Help: "Session commands applied, by kind and result",
	}, []string{"kind", "result"})
	connections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queueup_push_connections_total",
		Help: "Push connections opened, by transport",
	}, []string{"transport"})

	registry.MustRegister(requestsTotal, errorsTotal, commandsTotal, connections)

	if src.ActiveSessions != nil {
		registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "queueup_active_sessions",
			Help: "Number of sessions in the registry",
		}, func() float64 { return float64(src.ActiveSessions()) }))
	}
	if src.Subscribers != nil {
		registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "queueup_subscribers",
			Help: "Number of open push subscriptions",
		}, func() float64 { return float64(src.Subscribers()) }))
	}
	if src.SnapshotsPublished != nil {
		registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "queueup_snapshots_published_total",
			Help: "Snapshots handed to the broker",
		}, func() float64 { return float64(src.SnapshotsPublished()) }))
	}
	if src.SnapshotsDropped != nil {
		registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "queueup_snapshots_dropped_total",
			Help: "Snapshots discarded from full subscriber buffers",
		}, func() float64 { return float64(src.SnapshotsDropped()) }))
	}

	return &Metrics{
		registry:      registry,
		requestsTotal: requestsTotal,
		errorsTotal:   errorsTotal,
		commandsTotal: commandsTotal,
		connections:   connections,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncConnections counts a push connection for the given transport.
func (m *Metrics) IncConnections(transport string) {
	m.connections.WithLabelValues(transport).Inc()
}

// CommandApplied records a command outcome. It satisfies session.Observer.
func (m *Metrics) CommandApplied(kind string, err error) {
	m.commandsTotal.WithLabelValues(kind, result(err)).Inc()
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, session.ErrSessionNotFound):
		return "not_found"
	case errors.Is(err, session.ErrInvalidCommand):
		return "invalid"
	default:
		return "error"
	}
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
