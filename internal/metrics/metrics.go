// Package metrics records per-run pipeline counters on a private Prometheus
// registry. A batch run writes them once, in the node-exporter textfile
// format, when it finishes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tabula"

// Step outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics holds the collectors of one run.
type Metrics struct {
	registry *prometheus.Registry

	steps     *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	cells     *prometheus.GaugeVec
	annotated *prometheus.GaugeVec
	dropped   *prometheus.CounterVec
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Pipeline steps run, by step and outcome.",
		}, []string{"step", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time of pipeline steps.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4m
		}, []string{"step"}),
		cells: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cells",
			Help:      "Cells in the last table produced for a tissue and pass.",
		}, []string{"tissue", "pass"}),
		annotated: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "annotated_cells",
			Help:      "Cells carrying an ontology class, by tissue and pass.",
		}, []string{"tissue", "pass"}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_total",
			Help:      "Cells or genes removed by quality control, by reason.",
		}, []string{"reason"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveStep records one run of step that started at start.
func (m *Metrics) ObserveStep(step string, start time.Time, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.steps.WithLabelValues(step, outcome).Inc()
	m.duration.WithLabelValues(step).Observe(time.Since(start).Seconds())
}

// SetCells records the size of a produced table.
func (m *Metrics) SetCells(tissue, pass string, n int) {
	m.cells.WithLabelValues(tissue, pass).Set(float64(n))
}

// SetAnnotated records how many cells of a table carry an ontology class.
func (m *Metrics) SetAnnotated(tissue, pass string, n int) {
	m.annotated.WithLabelValues(tissue, pass).Set(float64(n))
}

// AddDropped counts items removed by quality control.
func (m *Metrics) AddDropped(reason string, n int) {
	m.dropped.WithLabelValues(reason).Add(float64(n))
}

// WriteTextfile writes all metrics to path atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
