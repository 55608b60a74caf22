// Package metrics provides Prometheus instrumentation for the study
// pipeline.
//
// Metrics exposed:
//   - ensagg_unit_seconds: Histogram of full unit duration
//   - ensagg_fit_seconds: Histogram of per-member model fitting duration
//   - ensagg_aggregate_seconds: Histogram of aggregation duration
//   - ensagg_score_seconds: Histogram of scoring duration
//   - ensagg_units_total: Counter of finished units by status
//   - ensagg_fallbacks_total: Counter of estimation fallbacks by method
//   - ensagg_records_stored_total: Counter of persisted evaluation records
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the study pipeline.
type Metrics struct {
	UnitSeconds      prometheus.Histogram
	FitSeconds       *prometheus.HistogramVec
	AggregateSeconds *prometheus.HistogramVec
	ScoreSeconds     prometheus.Histogram
	UnitsTotal       *prometheus.CounterVec
	FallbacksTotal   *prometheus.CounterVec
	RecordsStored    prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		UnitSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ensagg_unit_seconds",
			Help:    "Time spent processing one (scenario, replicate) unit",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),

		FitSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ensagg_fit_seconds",
			Help:    "Time spent fitting one ensemble member",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"nn"}),

		AggregateSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ensagg_aggregate_seconds",
			Help:    "Time spent estimating and applying one aggregation method",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),

		ScoreSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ensagg_score_seconds",
			Help:    "Time spent scoring one forecast batch",
			Buckets: prometheus.DefBuckets,
		}),

		UnitsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ensagg_units_total",
			Help: "Finished units by status",
		}, []string{"status"}),

		FallbacksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ensagg_fallbacks_total",
			Help: "Aggregation parameter estimations that fell back to fixed parameters",
		}, []string{"method"}),

		RecordsStored: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ensagg_records_stored_total",
			Help: "Evaluation records persisted to the store",
		}),
	}
}

// RecordUnit records a finished unit.
func (m *Metrics) RecordUnit(seconds float64, failed bool) {
	m.UnitSeconds.Observe(seconds)
	status := "ok"
	if failed {
		status = "failed"
	}
	m.UnitsTotal.WithLabelValues(status).Inc()
}

// RecordFit records the time spent fitting one member.
func (m *Metrics) RecordFit(nn string, seconds float64) {
	m.FitSeconds.WithLabelValues(nn).Observe(seconds)
}

// RecordAggregate records the time spent on one aggregation method.
func (m *Metrics) RecordAggregate(method string, seconds float64) {
	m.AggregateSeconds.WithLabelValues(method).Observe(seconds)
}

// RecordScore records the time spent scoring a batch.
func (m *Metrics) RecordScore(seconds float64) {
	m.ScoreSeconds.Observe(seconds)
}

// RecordFallback counts an estimation fallback.
func (m *Metrics) RecordFallback(method string) {
	m.FallbacksTotal.WithLabelValues(method).Inc()
}

// RecordStored counts a persisted record.
func (m *Metrics) RecordStored() {
	m.RecordsStored.Inc()
}
