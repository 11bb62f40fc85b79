// Package metrics exposes marketplace counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uhyunpark/landmarket/pkg/events"
)

const namespace = "landmarket"

// Metrics owns its registry so several nodes (or tests) can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	events     *prometheus.CounterVec
	txApplied  *prometheus.CounterVec
	txRejected *prometheus.CounterVec
	openOrders prometheus.Gauge
	httpTotal  *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "events_total",
				Help:      "Committed marketplace events by type",
			},
			[]string{"type"},
		),
		txApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tx",
				Name:      "applied_total",
				Help:      "Signed transactions applied, by type",
			},
			[]string{"type"},
		),
		txRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tx",
				Name:      "rejected_total",
				Help:      "Signed transactions rejected, by type and reason",
			},
			[]string{"type", "reason"},
		),
		openOrders: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "open_orders",
				Help:      "Orders currently open",
			},
		),
		httpTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status",
			},
			[]string{"route", "status"},
		),
	}
	m.registry.MustRegister(
		m.events,
		m.txApplied,
		m.txRejected,
		m.openOrders,
		m.httpTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handle counts a committed event and tracks the open order gauge.
func (m *Metrics) Handle(ev events.Envelope) {
	m.events.WithLabelValues(string(ev.Type)).Inc()
	switch ev.Type {
	case events.TypeOrderCreated:
		m.openOrders.Inc()
	case events.TypeOrderSuccessful, events.TypeOrderCancelled:
		m.openOrders.Dec()
	}
}

func (m *Metrics) TxApplied(txType string) {
	m.txApplied.WithLabelValues(txType).Inc()
}

func (m *Metrics) TxRejected(txType, reason string) {
	m.txRejected.WithLabelValues(txType, reason).Inc()
}

// SetOpenOrders seeds the gauge after loading state from disk.
func (m *Metrics) SetOpenOrders(n int) {
	m.openOrders.Set(float64(n))
}

func (m *Metrics) HTTPRequest(route, status string) {
	m.httpTotal.WithLabelValues(route, status).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

var _ events.Subscriber = (*Metrics)(nil)
