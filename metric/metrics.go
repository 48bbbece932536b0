// Package metric wraps a Prometheus registry with the counters, gauges and
// histograms kasocki's session handler-wrap and consume loop record against
// (spec.md §4.6).
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds every counter/gauge kasocki records. All labels are kept
// low-cardinality (event name, error kind) — never socket id.
type Metrics struct {
	HandlerInvocations *prometheus.CounterVec
	HandlerErrors      *prometheus.CounterVec
	HandlerDuration    *prometheus.HistogramVec

	MessagesDelivered *prometheus.CounterVec
	MessagesFiltered  *prometheus.CounterVec
	MessagesSkipped   *prometheus.CounterVec

	SessionsActive    prometheus.Gauge
	SessionsTotal     prometheus.Counter
	BrokerPollErrors  *prometheus.CounterVec
}

// New creates an unregistered Metrics instance.
func New() *Metrics {
	return &Metrics{
		HandlerInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kasocki",
			Subsystem: "handler",
			Name:      "invocations_total",
			Help:      "Total socket event handler invocations by event name.",
		}, []string{"event"}),

		HandlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kasocki",
			Subsystem: "handler",
			Name:      "errors_total",
			Help:      "Total socket event handler failures by event name and error kind.",
		}, []string{"event", "kind"}),

		HandlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kasocki",
			Subsystem: "handler",
			Name:      "duration_seconds",
			Help:      "Socket event handler duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event"}),

		MessagesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kasocki",
			Subsystem: "messages",
			Name:      "delivered_total",
			Help:      "Total messages delivered to a client, by topic.",
		}, []string{"topic"}),

		MessagesFiltered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kasocki",
			Subsystem: "messages",
			Name:      "filtered_total",
			Help:      "Total messages skipped for failing the active filter, by topic.",
		}, []string{"topic"}),

		MessagesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kasocki",
			Subsystem: "messages",
			Name:      "skipped_total",
			Help:      "Total messages skipped for a non-filter reason (deserialization failure), by reason.",
		}, []string{"reason"}),

		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kasocki",
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Number of sessions currently open.",
		}),

		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kasocki",
			Subsystem: "sessions",
			Name:      "total",
			Help:      "Total sessions created since process start.",
		}),

		BrokerPollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kasocki",
			Subsystem: "broker",
			Name:      "poll_errors_total",
			Help:      "Total broker poll errors by classification (transient/fatal).",
		}, []string{"class"}),
	}
}

// RecordHandler records one handler invocation, its outcome, and duration.
func (m *Metrics) RecordHandler(event string, errKind string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HandlerInvocations.WithLabelValues(event).Inc()
	m.HandlerDuration.WithLabelValues(event).Observe(duration.Seconds())
	if errKind != "" {
		m.HandlerErrors.WithLabelValues(event, errKind).Inc()
	}
}

// RecordDelivered increments the per-topic delivered counter.
func (m *Metrics) RecordDelivered(topic string) {
	if m == nil {
		return
	}
	m.MessagesDelivered.WithLabelValues(topic).Inc()
}

// RecordFiltered increments the per-topic filter-miss counter.
func (m *Metrics) RecordFiltered(topic string) {
	if m == nil {
		return
	}
	m.MessagesFiltered.WithLabelValues(topic).Inc()
}

// RecordSkipped increments the skip counter for a non-filter reason (e.g.
// "deserialization").
func (m *Metrics) RecordSkipped(reason string) {
	if m == nil {
		return
	}
	m.MessagesSkipped.WithLabelValues(reason).Inc()
}

// RecordSessionOpened bumps the active/total session gauges.
func (m *Metrics) RecordSessionOpened() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
	m.SessionsTotal.Inc()
}

// RecordSessionClosed decrements the active session gauge.
func (m *Metrics) RecordSessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

// RecordBrokerPollError records a poll error by its retry classification.
func (m *Metrics) RecordBrokerPollError(class string) {
	if m == nil {
		return
	}
	m.BrokerPollErrors.WithLabelValues(class).Inc()
}

// Registry wraps a dedicated Prometheus registry for kasocki's metrics,
// including the standard Go/process collectors.
type Registry struct {
	prometheusRegistry *prometheus.Registry
	metrics            *Metrics
}

// NewRegistry builds a Registry with every kasocki metric registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	m := New()

	reg.MustRegister(
		m.HandlerInvocations, m.HandlerErrors, m.HandlerDuration,
		m.MessagesDelivered, m.MessagesFiltered, m.MessagesSkipped,
		m.SessionsActive, m.SessionsTotal, m.BrokerPollErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Registry{prometheusRegistry: reg, metrics: m}
}

// Metrics returns the registered Metrics sink.
func (r *Registry) Metrics() *Metrics { return r.metrics }

// PrometheusRegistry returns the underlying Prometheus registry, for
// wiring into promhttp.HandlerFor.
func (r *Registry) PrometheusRegistry() *prometheus.Registry { return r.prometheusRegistry }
