// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package ranking

import (
	"fmt"
	"sort"
)

// Aggregator accumulates streaming ranking metrics across minibatches
// within one evaluation pass.
//
// It keeps a running sum per metric key plus a shared row count, so
// Compute returns the mean over every row seen since the last Reset.
// Train-pass and eval-pass metrics must use independent accumulator
// state: either two instances or a Reset between passes.
//
// Not safe for concurrent use; callers serialize Update calls.
type Aggregator struct {
	cutoffs []int
	sums    map[string]float64
	count   float64
}

// NewAggregator creates an aggregator for the given cutoffs. Cutoffs
// are copied, sorted ascending and deduplicated; non-positive values
// are dropped. When no valid cutoff remains, DefaultCutoffs are used.
func NewAggregator(cutoffs []int) *Aggregator {
	valid := make([]int, 0, len(cutoffs))
	for _, k := range cutoffs {
		if k > 0 {
			valid = append(valid, k)
		}
	}
	if len(valid) == 0 {
		valid = append(valid, DefaultCutoffs...)
	}
	sort.Ints(valid)

	deduped := valid[:1]
	for _, k := range valid[1:] {
		if k != deduped[len(deduped)-1] {
			deduped = append(deduped, k)
		}
	}

	a := &Aggregator{cutoffs: deduped}
	a.Reset()
	return a
}

// Cutoffs returns a copy of the configured cutoffs in ascending order.
func (a *Aggregator) Cutoffs() []int {
	out := make([]int, len(a.cutoffs))
	copy(out, a.cutoffs)
	return out
}

// Update folds one batch of predicted scores (rows x vocabulary) and
// true item labels into the running accumulators. An empty batch is a
// no-op. All rows are validated before any accumulation so a bad label
// cannot leave the sums half applied.
func (a *Aggregator) Update(scores [][]float64, labels []int64) error {
	if len(scores) != len(labels) {
		return fmt.Errorf("ranking: %d score rows for %d labels", len(scores), len(labels))
	}

	for i, row := range scores {
		l := labels[i]
		if l < 0 || int(l) >= len(row) {
			return fmt.Errorf("ranking: row %d label %d outside score range [0, %d)", i, l, len(row))
		}
	}

	for i, row := range scores {
		rank := Rank(row, int(labels[i]))
		for _, k := range a.cutoffs {
			a.sums[Key(MetricNDCG, k)] += NDCGAt(rank, k)
			a.sums[Key(MetricAvgPrecision, k)] += AvgPrecisionAt(rank, k)
			a.sums[Key(MetricRecall, k)] += RecallAt(rank, k)
		}
		a.count++
	}
	return nil
}

// Compute finalizes the accumulators to a mean per metric key. A pass
// that saw no rows yields an empty map: recording hard zeros for an
// empty pass would drag every average-over-time mean down.
func (a *Aggregator) Compute() map[string]float64 {
	if a.count == 0 {
		return map[string]float64{}
	}
	out := make(map[string]float64, len(families)*len(a.cutoffs))
	for _, key := range Keys(a.cutoffs) {
		out[key] = a.sums[key] / a.count
	}
	return out
}

// Reset clears all accumulated state so the aggregator can serve a new
// evaluation pass.
func (a *Aggregator) Reset() {
	a.sums = make(map[string]float64, len(families)*len(a.cutoffs))
	a.count = 0
}

// Count returns the number of rows folded in since the last Reset.
func (a *Aggregator) Count() int64 {
	return int64(a.count)
}
