// Package metrics defines the Prometheus instruments of the tracker.
// All methods are safe on a nil *Metrics so components can run without them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "people_tracker"

// Metrics holds every instrument registered by New.
type Metrics struct {
	Ticks          prometheus.Counter
	TickDuration   prometheus.Histogram
	Observations   *prometheus.CounterVec // outcome: matched, admitted, skipped
	Identities     *prometheus.GaugeVec   // state: active, lost
	Visible        prometheus.Gauge
	Candidates     prometheus.Gauge
	IdentityEvents *prometheus.CounterVec // event: created, folded, returned, lost, dropped
	PersistErrors  prometheus.Counter

	PluginRuns     *prometheus.CounterVec // plugin, status
	PluginDuration *prometheus.HistogramVec
	PluginInFlight prometheus.Gauge
	PluginSkipped  *prometheus.CounterVec // plugin, reason
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Total processed ticks",
		}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of identity resolution plus synchronous plugins per tick",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		Observations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "face_observations_total",
			Help:      "Face observations by resolution outcome",
		}, []string{"outcome"}),
		Identities: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "identities",
			Help:      "Known identities by state",
		}, []string{"state"}),
		Visible: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "visible_identities",
			Help:      "Identities visible in the last tick",
		}),
		Candidates: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "candidates",
			Help:      "Candidates waiting for confirmation",
		}),
		IdentityEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_events_total",
			Help:      "Identity lifecycle events",
		}, []string{"event"}),
		PersistErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Failed identity saves",
		}),
		PluginRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_runs_total",
			Help:      "Plugin results recorded by plugin and status",
		}, []string{"plugin", "status"}),
		PluginDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "plugin_duration_seconds",
			Help:      "Plugin execution time",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"plugin"}),
		PluginInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "plugin_requests_in_flight",
			Help:      "Outstanding asynchronous plugin requests",
		}),
		PluginSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_skipped_total",
			Help:      "Plugin invocations that returned without starting work",
		}, []string{"plugin", "reason"}),
	}
}

// ObserveTick records one finished tick.
func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.Ticks.Inc()
	m.TickDuration.Observe(d.Seconds())
}

// CountObservation records the outcome of one face observation.
func (m *Metrics) CountObservation(outcome string) {
	if m == nil {
		return
	}
	m.Observations.WithLabelValues(outcome).Inc()
}

// CountEvent records an identity lifecycle event.
func (m *Metrics) CountEvent(event string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.IdentityEvents.WithLabelValues(event).Add(float64(n))
}

// SetPopulation updates the identity and candidate gauges.
func (m *Metrics) SetPopulation(active, lost, visible, candidates int) {
	if m == nil {
		return
	}
	m.Identities.WithLabelValues("active").Set(float64(active))
	m.Identities.WithLabelValues("lost").Set(float64(lost))
	m.Visible.Set(float64(visible))
	m.Candidates.Set(float64(candidates))
}

// PersistFailed counts a failed save.
func (m *Metrics) PersistFailed() {
	if m == nil {
		return
	}
	m.PersistErrors.Inc()
}

// ObservePlugin records a completed plugin result.
func (m *Metrics) ObservePlugin(plugin, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.PluginRuns.WithLabelValues(plugin, status).Inc()
	if d > 0 {
		m.PluginDuration.WithLabelValues(plugin).Observe(d.Seconds())
	}
}

// PluginSkippedWith counts an invocation that did no work.
func (m *Metrics) PluginSkippedWith(plugin, reason string) {
	if m == nil {
		return
	}
	m.PluginSkipped.WithLabelValues(plugin, reason).Inc()
}

// InFlight adjusts the outstanding async request gauge by delta.
func (m *Metrics) InFlight(delta int) {
	if m == nil {
		return
	}
	m.PluginInFlight.Add(float64(delta))
}
