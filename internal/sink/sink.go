// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package sink

import (
	"errors"
	"fmt"

	"github.com/chronorec/chronorec/internal/database"
	"github.com/chronorec/chronorec/internal/schema"
)

// Protocol errors.
var (
	// ErrNotOpen marks Append or Close on a sink whose schema was never
	// bound.
	ErrNotOpen = errors.New("sink: not open")

	// ErrAlreadyOpen marks a second Open. The schema is fixed for the
	// instance's lifetime; a new pass gets a new instance.
	ErrAlreadyOpen = errors.New("sink: schema already bound")

	// ErrClosed marks writes after Close.
	ErrClosed = errors.New("sink: closed")
)

// RowSchema fixes the prediction-log columns at Open time.
type RowSchema struct {
	// MetricKeys name the per-example metric_<key> columns, e.g.
	// "ndcg_10". Order is the column order and the order of Row.Metrics.
	MetricKeys []string

	// Meta lists the side features logged as metadata_<name> columns.
	// Order matches Row.Meta.
	Meta []schema.Feature
}

// validate rejects schemas that would produce duplicate columns.
func (rs RowSchema) validate() error {
	seen := make(map[string]bool, len(rs.MetricKeys)+len(rs.Meta))
	for _, key := range rs.MetricKeys {
		if key == "" {
			return errors.New("sink: empty metric key")
		}
		if seen["metric_"+key] {
			return fmt.Errorf("sink: duplicate metric key %q", key)
		}
		seen["metric_"+key] = true
	}
	for _, f := range rs.Meta {
		if f.Name == "" {
			return errors.New("sink: empty metadata feature name")
		}
		if seen["metadata_"+f.Name] {
			return fmt.Errorf("sink: duplicate metadata feature %q", f.Name)
		}
		seen["metadata_"+f.Name] = true
	}
	return nil
}

// Row is one valid prediction bound for the log.
type Row struct {
	// DatasetType is the evaluation pass this row came from: "train" for
	// the pseudo-eval over the training partition, "eval" for held-out.
	DatasetType string

	// Metrics holds the per-example metric values aligned with
	// RowSchema.MetricKeys.
	Metrics []float64

	// RelevantItem is the true next item. Persisted as a length-one list
	// column for forward compatibility with multi-label evaluation.
	RelevantItem int64

	// RecItemIDs and RecScores are the top-K recommendation, score
	// descending. The two slices are always the same length.
	RecItemIDs []int64
	RecScores  []float64

	// Meta holds the logged side-feature values aligned with
	// RowSchema.Meta.
	Meta []database.MetaValue
}

// Sink is the two-phase prediction-log protocol: Open once, Append any
// number of times, Close once.
type Sink interface {
	Open(rs RowSchema) error
	Append(rows []Row) error
	Close() error
}
