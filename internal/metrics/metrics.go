// Package metrics exports sync engine counters to Prometheus.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "homesync"

// Write outcomes used as label values.
const (
	OutcomeOK        = "ok"
	OutcomeFailed    = "failed"
	OutcomeDiscarded = "discarded"
)

// Metrics holds the engine's collectors.
type Metrics struct {
	registry *prometheus.Registry

	updates      *prometheus.CounterVec
	writes       *prometheus.CounterVec
	writeLatency prometheus.Histogram
	coalesced    prometheus.Counter
	reverts      prometheus.Counter
	snapshots    prometheus.Counter
	errors       *prometheus.CounterVec
	connected    prometheus.Gauge
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		updates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "updates_total",
				Help:      "Optimistic updates accepted, by field group.",
			},
			[]string{"group"},
		),
		writes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "writes_total",
				Help:      "Remote writes by outcome.",
			},
			[]string{"outcome"},
		),
		writeLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "write_duration_seconds",
				Help:      "Time from issuing a remote write to its acknowledgement.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		coalesced: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "coalesced_updates_total",
				Help:      "Updates folded into a later write for the same field.",
			},
		),
		reverts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reverts_total",
				Help:      "Fields rolled back after a failed write.",
			},
		),
		snapshots: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshots_total",
				Help:      "Remote snapshots applied.",
			},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Sync errors by kind.",
			},
			[]string{"kind"},
		),
		connected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connected",
				Help:      "1 while the remote is reachable.",
			},
		),
	}

	m.registry.MustRegister(
		m.updates,
		m.writes,
		m.writeLatency,
		m.coalesced,
		m.reverts,
		m.snapshots,
		m.errors,
		m.connected,
	)
	return m
}

// Registry exposes the registry for extra collectors and for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Update counts an accepted optimistic update.
func (m *Metrics) Update(group string, coalesced bool) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(group).Inc()
	if coalesced {
		m.coalesced.Inc()
	}
}

// Write records a finished remote write.
func (m *Metrics) Write(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(outcome).Inc()
	if outcome != OutcomeDiscarded {
		m.writeLatency.Observe(took.Seconds())
	}
}

// Revert counts a rolled back field.
func (m *Metrics) Revert() {
	if m == nil {
		return
	}
	m.reverts.Inc()
}

// Snapshot counts an applied snapshot.
func (m *Metrics) Snapshot() {
	if m == nil {
		return
	}
	m.snapshots.Inc()
}

// Error counts a sync error of the given kind.
func (m *Metrics) Error(kind string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(kind).Inc()
}

// Connected sets the connectivity gauge.
func (m *Metrics) Connected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}
