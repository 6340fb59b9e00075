// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the training pipeline:
// - Window lifecycle (counts, durations per phase)
// - Batch/example throughput
// - DuckDB query performance
// - Sink activity and circuit breaker state
// - Checkpoint and event publishing health

var (
	// Window lifecycle

	WindowsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chronorec_windows_processed_total",
			Help: "Total number of completed time windows",
		},
	)

	WindowPhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chronorec_window_phase_duration_seconds",
			Help:    "Duration of one window phase",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s .. ~3.4min
		},
		[]string{"phase"}, // "train", "eval_train", "eval"
	)

	CurrentEvalIndex = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chronorec_current_eval_index",
			Help: "Evaluation time index of the window being processed",
		},
	)

	TrainLoss = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chronorec_train_loss",
			Help: "Mean training loss of the last completed training pass",
		},
	)

	// Throughput

	BatchesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronorec_batches_processed_total",
			Help: "Total batches consumed",
		},
		[]string{"phase"},
	)

	ExamplesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronorec_examples_processed_total",
			Help: "Total valid (non-padding) prediction targets consumed",
		},
		[]string{"phase"},
	)

	// Database

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chronorec_duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"}, // "load_sessions", "item_frequencies", "record_results", "export_csv"
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronorec_duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation"},
	)

	// Sinks

	SinkRowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronorec_sink_rows_written_total",
			Help: "Rows appended to observability sinks",
		},
		[]string{"sink"}, // "predictions", "attention"
	)

	SinkFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronorec_sink_failures_total",
			Help: "Sink write failures (isolated, never abort the run)",
		},
		[]string{"sink"},
	)

	SinkBreakerOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chronorec_sink_breaker_open",
			Help: "1 when the sink circuit breaker is open, 0 otherwise",
		},
		[]string{"sink"},
	)

	// Checkpoints

	CheckpointDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chronorec_checkpoint_duration_seconds",
			Help:    "Duration of checkpoint save operations",
			Buckets: prometheus.DefBuckets,
		},
	)

	CheckpointBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chronorec_checkpoint_bytes",
			Help: "Size of the last written checkpoint in bytes",
		},
	)

	// Events

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronorec_events_published_total",
			Help: "Lifecycle events published",
		},
		[]string{"type"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronorec_events_dropped_total",
			Help: "Lifecycle events dropped (rate limit or publish failure)",
		},
		[]string{"type"},
	)
)

// ObserveDBQuery records a query duration and outcome in one call.
func ObserveDBQuery(operation string, start time.Time, err error) {
	DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation).Inc()
	}
}

// SetBreakerOpen flips the breaker gauge for a sink.
func SetBreakerOpen(sink string, open bool) {
	v := 0.0
	if open {
		v = 1.0
	}
	SinkBreakerOpen.WithLabelValues(sink).Set(v)
}
