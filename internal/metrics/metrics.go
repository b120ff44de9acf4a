// Package metrics exposes Prometheus counters for batch ingestion, identity
// matching, and merging.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Batch outcome labels.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// Match decision labels.
const (
	DecisionExisting = "existing"
	DecisionNew      = "new"
)

var (
	BatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pyxis_batches_total",
		Help: "Processed ingestion batches by outcome",
	}, []string{"outcome"})
	BatchDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pyxis_batch_duration_seconds",
		Help:    "Wall time to process one batch",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})
	RowsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pyxis_rows_total",
		Help: "Source rows read from batches",
	})
	ObservationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pyxis_observations_total",
		Help: "Observations inserted",
	})
	MatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pyxis_matches_total",
		Help: "Identity match decisions",
	}, []string{"decision"})
	MatchScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pyxis_match_score",
		Help:    "Best combined match score per observation",
		Buckets: []float64{-20, 0, 20, 40, 60, 70, 80, 90, 100},
	})
	IdentitiesCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pyxis_identities_created_total",
		Help: "Canonical identities created on no-match",
	})
	MergesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pyxis_merges_total",
		Help: "Identity merge passes",
	})
	MergeChangesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pyxis_merge_changes_total",
		Help: "Values written by merges, by attribute",
	}, []string{"attribute"})
	GeometrySkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pyxis_geometry_skipped_total",
		Help: "Merges whose geometry step was skipped",
	})
	ConversionErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pyxis_conversion_errors_total",
		Help: "Attribute conversion failures, by target attribute",
	}, []string{"attribute"})
)

func init() {
	prometheus.MustRegister(BatchesTotal)
	prometheus.MustRegister(BatchDurationSeconds)
	prometheus.MustRegister(RowsTotal)
	prometheus.MustRegister(ObservationsTotal)
	prometheus.MustRegister(MatchesTotal)
	prometheus.MustRegister(MatchScore)
	prometheus.MustRegister(IdentitiesCreatedTotal)
	prometheus.MustRegister(MergesTotal)
	prometheus.MustRegister(MergeChangesTotal)
	prometheus.MustRegister(GeometrySkippedTotal)
	prometheus.MustRegister(ConversionErrorsTotal)
}

// Handler serves every registered metric in the Prometheus text format.
func Handler() http.Handler { return promhttp.Handler() }
