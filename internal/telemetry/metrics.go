// Package telemetry exposes Prometheus metrics about the engine itself.
//
// All methods are safe to call on a nil *Metrics, which records nothing.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "checkengine"

// Metrics holds the engine collectors.
type Metrics struct {
	fetchDuration *prometheus.HistogramVec
	fetchFailures *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
	checkResults  *prometheus.CounterVec
	crashes       *prometheus.CounterVec
	hostRuns      *prometheus.CounterVec
	lastRun       prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Wall clock duration of data source fetches.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"fetcher_type"},
		),
		fetchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_failures_total",
				Help:      "Count of failed data source fetches.",
			},
			[]string{"fetcher_type"},
		),
		checkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "check_duration_seconds",
				Help:      "Duration of single service evaluations.",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 20},
			},
			[]string{"plugin"},
		),
		checkResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "check_results_total",
				Help:      "Count of service results, labeled by plugin and state.",
			},
			[]string{"plugin", "state"},
		),
		crashes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plugin_crashes_total",
				Help:      "Count of check plugin crashes.",
			},
			[]string{"plugin"},
		),
		hostRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "host_runs_total",
				Help:      "Count of host check runs, labeled by resulting host status.",
			},
			[]string{"status"},
		),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last check cycle finished.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.fetchDuration, m.fetchFailures, m.checkDuration, m.checkResults, m.crashes, m.hostRuns, m.lastRun,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveFetch records one fetch.
func (m *Metrics) ObserveFetch(fetcherType string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.fetchDuration.WithLabelValues(fetcherType).Observe(d.Seconds())
	if err != nil {
		m.fetchFailures.WithLabelValues(fetcherType).Inc()
	}
}

// ObserveCheck records one service evaluation.
func (m *Metrics) ObserveCheck(plugin, state string, d time.Duration) {
	if m == nil {
		return
	}
	m.checkDuration.WithLabelValues(plugin).Observe(d.Seconds())
	m.checkResults.WithLabelValues(plugin, state).Inc()
}

// IncCrash records a plugin crash.
func (m *Metrics) IncCrash(plugin string) {
	if m == nil {
		return
	}
	m.crashes.WithLabelValues(plugin).Inc()
}

// ObserveHostRun records a finished host run.
func (m *Metrics) ObserveHostRun(status string) {
	if m == nil {
		return
	}
	m.hostRuns.WithLabelValues(status).Inc()
}

// SetLastRun records the end of a check cycle.
func (m *Metrics) SetLastRun(t time.Time) {
	if m == nil {
		return
	}
	m.lastRun.Set(float64(t.Unix()))
}
