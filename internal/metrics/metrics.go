// Package metrics exposes Prometheus metrics for sync runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nhle/azdo-connector/internal/model"
)

const namespace = "azdo_connector"

// Metrics holds the sync collectors and the registry they are registered
// with.
type Metrics struct {
	registry *prometheus.Registry

	runs        *prometheus.CounterVec
	documents   *prometheus.CounterVec
	batches     *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
}

// New creates a Metrics with its own registry, including Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Sync runs by connector, mode and status.",
		}, []string{"connector", "mode", "status"}),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_indexed_total",
			Help:      "Documents written to sinks.",
		}, []string{"connector"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Document batches written to sinks.",
		}, []string{"connector"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_run_duration_seconds",
			Help:      "Wall time of sync runs.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"connector", "mode"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}, []string{"connector"}),
	}

	m.registry.MustRegister(
		m.runs,
		m.documents,
		m.batches,
		m.runDuration,
		m.lastSuccess,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(run model.SyncRun) {
	m.runs.WithLabelValues(run.ConnectorID, string(run.Mode), string(run.Status)).Inc()
	m.documents.WithLabelValues(run.ConnectorID).Add(float64(run.Documents))
	m.batches.WithLabelValues(run.ConnectorID).Add(float64(run.Batches))
	m.runDuration.WithLabelValues(run.ConnectorID, string(run.Mode)).
		Observe(run.FinishedAt.Sub(run.StartedAt).Seconds())

	if run.Status == model.RunStatusSucceeded {
		m.lastSuccess.WithLabelValues(run.ConnectorID).Set(float64(run.FinishedAt.Unix()))
	}
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
