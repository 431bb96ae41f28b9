// Package metrics holds the agent's own prometheus instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Provider outcomes
const (
	OutcomeOK      = "ok"
	OutcomeFailure = "failure"
)

// Metrics is the set of collectors exported by munind
type Metrics struct {
	ConnectionsTotal  prometheus.Counter
	ConnectionsActive prometheus.Gauge
	CommandsTotal     *prometheus.CounterVec
	RefreshTotal      prometheus.Counter
	RefreshDuration   prometheus.Histogram
	ProviderRuns      *prometheus.CounterVec
	ProviderDuration  *prometheus.HistogramVec
	SnapshotGraphs    prometheus.Gauge
}

// New registers the collectors on reg. A nil reg leaves them unregistered,
// which tests use to get independent instances.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "munind_connections_total",
				Help: "Total number of accepted munin connections",
			},
		),
		ConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "munind_connections_active",
				Help: "Number of currently open munin connections",
			},
		),
		CommandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "munind_commands_total",
				Help: "Total number of protocol commands handled",
			},
			[]string{"command", "status"},
		),
		RefreshTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "munind_refresh_total",
				Help: "Total number of registry refreshes",
			},
		),
		RefreshDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "munind_refresh_duration_seconds",
				Help:    "Registry refresh duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
		),
		ProviderRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "munind_provider_runs_total",
				Help: "Total number of provider invocations by outcome",
			},
			[]string{"provider", "outcome"},
		),
		ProviderDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "munind_provider_duration_seconds",
				Help:    "Provider collection duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"provider"},
		),
		SnapshotGraphs: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "munind_snapshot_graphs",
				Help: "Number of graphs in the current snapshot",
			},
		),
	}
}

// RecordProvider records one provider invocation
func (m *Metrics) RecordProvider(name string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeFailure
	}
	m.ProviderRuns.WithLabelValues(name, outcome).Inc()
	m.ProviderDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// RecordRefresh records a completed registry refresh
func (m *Metrics) RecordRefresh(graphs int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RefreshTotal.Inc()
	m.RefreshDuration.Observe(duration.Seconds())
	m.SnapshotGraphs.Set(float64(graphs))
}

// RecordCommand records one handled protocol command
func (m *Metrics) RecordCommand(command, status string) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(command, status).Inc()
}

// ConnectionOpened records an accepted connection
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsTotal.Inc()
	m.ConnectionsActive.Inc()
}

// ConnectionClosed records a closed connection
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
}
