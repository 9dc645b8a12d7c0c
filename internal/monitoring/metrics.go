package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tailhub"

// Metrics holds the process counters. A nil *Metrics is valid and records
// nothing, which keeps components usable without a registry in tests.
type Metrics struct {
	registry *prometheus.Registry

	recordsIngested *prometheus.CounterVec
	storeFailures   prometheus.Counter
	mirrorFailures  prometheus.Counter
	linesTailed     *prometheus.CounterVec
	linesParsed     *prometheus.CounterVec
	activeWatches   prometheus.Gauge
	clients         prometheus.Gauge
	messagesSent    prometheus.Counter
	messagesDropped prometheus.Counter
	queryDuration   *prometheus.SummaryVec
}

// NewMetrics creates the collectors on a private registry together with
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.recordsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_ingested_total",
		Help:      "Records persisted, by category and level",
	}, []string{"category", "level"})
	m.storeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_failures_total",
		Help:      "Records that could not be persisted",
	})
	m.mirrorFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mirror_failures_total",
		Help:      "Failed appends to the per-category backup files",
	})
	m.linesTailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tailer_lines_total",
		Help:      "Complete lines read from watched files, by source",
	}, []string{"source"})
	m.linesParsed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "parser_records_total",
		Help:      "Lines turned into records, by parser",
	}, []string{"parser"})
	m.activeWatches = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tailer_active_watches",
		Help:      "Files currently being tailed",
	})
	m.clients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "hub_connected_clients",
		Help:      "Live subscribers connected to the hub",
	})
	m.messagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "hub_messages_sent_total",
		Help:      "Events queued to subscribers",
	})
	m.messagesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "hub_messages_dropped_total",
		Help:      "Events dropped because a subscriber queue was full",
	})
	m.queryDuration = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace:  namespace,
		Name:       "store_operation_duration_seconds",
		Help:       "Time spent in store operations",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	}, []string{"operation"})

	m.registry.MustRegister(
		m.recordsIngested, m.storeFailures, m.mirrorFailures,
		m.linesTailed, m.linesParsed, m.activeWatches,
		m.clients, m.messagesSent, m.messagesDropped,
		m.queryDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordIngested(category, level string) {
	if m == nil {
		return
	}
	m.recordsIngested.WithLabelValues(category, level).Inc()
}

func (m *Metrics) StoreFailed() {
	if m == nil {
		return
	}
	m.storeFailures.Inc()
}

func (m *Metrics) MirrorFailed() {
	if m == nil {
		return
	}
	m.mirrorFailures.Inc()
}

func (m *Metrics) LineTailed(source string) {
	if m == nil {
		return
	}
	m.linesTailed.WithLabelValues(source).Inc()
}

func (m *Metrics) LineParsed(parser string) {
	if m == nil {
		return
	}
	m.linesParsed.WithLabelValues(parser).Inc()
}

func (m *Metrics) SetActiveWatches(n int) {
	if m == nil {
		return
	}
	m.activeWatches.Set(float64(n))
}

func (m *Metrics) SetClients(n int) {
	if m == nil {
		return
	}
	m.clients.Set(float64(n))
}

func (m *Metrics) MessageSent() {
	if m == nil {
		return
	}
	m.messagesSent.Inc()
}

func (m *Metrics) MessageDropped() {
	if m == nil {
		return
	}
	m.messagesDropped.Inc()
}

// ObserveOperation records how long a store operation took.
func (m *Metrics) ObserveOperation(op string, start time.Time) {
	if m == nil {
		return
	}
	m.queryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
