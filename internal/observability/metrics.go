// Package observability exposes Prometheus metrics for refresh runs and
// the dataset cache.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors updated by the refresh orchestrator.
type Metrics struct {
	RunsTotal        *prometheus.CounterVec
	KeysTotal        *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	LastRunTimestamp prometheus.Gauge
	LastRunSucceeded prometheus.Gauge
	LastRunFailed    prometheus.Gauge
	CachedDatasets   prometheus.Gauge
	PrunedTotal      prometheus.Counter
}

// NewMetrics creates and registers the refresh collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "epipanel",
			Name:      "refresh_runs_total",
			Help:      "Refresh runs by outcome (ok, partial, total_failure).",
		}, []string{"outcome"}),
		KeysTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "epipanel",
			Name:      "refresh_keys_total",
			Help:      "Dataset keys processed by result (succeeded, failed, skipped).",
		}, []string{"result"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "epipanel",
			Name:      "refresh_run_duration_seconds",
			Help:      "Wall-clock duration of refresh runs.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		LastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "epipanel",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the most recent refresh run finished.",
		}),
		LastRunSucceeded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "epipanel",
			Name:      "last_run_succeeded_keys",
			Help:      "Keys refreshed successfully in the most recent run.",
		}),
		LastRunFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "epipanel",
			Name:      "last_run_failed_keys",
			Help:      "Keys that failed in the most recent run.",
		}),
		CachedDatasets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "epipanel",
			Name:      "cached_datasets",
			Help:      "Number of dataset entries currently cached.",
		}),
		PrunedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "epipanel",
			Name:      "pruned_entries_total",
			Help:      "Cache entries removed by retention pruning.",
		}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.KeysTotal,
		m.RunDuration,
		m.LastRunTimestamp,
		m.LastRunSucceeded,
		m.LastRunFailed,
		m.CachedDatasets,
		m.PrunedTotal,
	)
	return m
}
