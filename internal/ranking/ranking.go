// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

// Package ranking computes top-k ranking quality metrics for next-item
// prediction.
//
// All metrics treat the ground truth as a single relevant item per row:
// the session's true next item. Scores are dense per-item arrays indexed
// by item id, and ranks are deterministic because ties are broken in
// favor of the lower item id.
//
// # Metric Families
//
//   - NDCG@k: 1/log2(rank+1) when the true item ranks within k, else 0
//   - AvgPrecision@k: 1/rank when the true item ranks within k, else 0
//   - Recall@k: 1 when the true item ranks within k, else 0
//
// Result keys follow the "<metric>_<k>" convention, for example
// "ndcg_10". This format is persisted to the results table and the
// prediction log, so it is part of the external contract.
package ranking

import (
	"fmt"
	"math"
)

// Metric family names used to build result keys.
const (
	MetricNDCG         = "ndcg"
	MetricAvgPrecision = "avg_precision"
	MetricRecall       = "recall"
)

// families lists the metric families in presentation order.
var families = []string{MetricNDCG, MetricAvgPrecision, MetricRecall}

// DefaultCutoffs are the cutoffs used when none are configured.
var DefaultCutoffs = []int{10, 20}

// Key builds the canonical result key for a metric family at a cutoff,
// for example "ndcg_10".
func Key(metric string, k int) string {
	return fmt.Sprintf("%s_%d", metric, k)
}

// Keys returns every result key for the given cutoffs in deterministic
// order: metric families first, cutoffs in the given order within each
// family.
func Keys(cutoffs []int) []string {
	keys := make([]string, 0, len(families)*len(cutoffs))
	for _, m := range families {
		for _, k := range cutoffs {
			keys = append(keys, Key(m, k))
		}
	}
	return keys
}

// Rank returns the 1-based rank of the target item under the given
// scores: one plus the number of items scoring strictly higher, plus
// the number of equal-scoring items with a lower id. The caller must
// ensure 0 <= target < len(scores).
func Rank(scores []float64, target int) int {
	rank := 1
	t := scores[target]
	for i, s := range scores {
		if s > t || (s == t && i < target) {
			rank++
		}
	}
	return rank
}

// NDCGAt returns the NDCG@k value for a single relevant item at the
// given 1-based rank. With exactly one relevant item the ideal DCG is
// 1, so the discounted gain is already normalized.
func NDCGAt(rank, k int) float64 {
	if rank > k {
		return 0
	}
	return 1 / math.Log2(float64(rank)+1)
}

// AvgPrecisionAt returns the average precision at cutoff k for a single
// relevant item at the given 1-based rank, which reduces to 1/rank.
func AvgPrecisionAt(rank, k int) float64 {
	if rank > k {
		return 0
	}
	return 1 / float64(rank)
}

// RecallAt returns 1 when the item at the given 1-based rank falls
// within the cutoff, else 0.
func RecallAt(rank, k int) float64 {
	if rank > k {
		return 0
	}
	return 1
}

// PointMetrics returns every metric key with its value for a single row
// whose true item sits at the given 1-based rank.
func PointMetrics(rank int, cutoffs []int) map[string]float64 {
	out := make(map[string]float64, len(families)*len(cutoffs))
	for _, k := range cutoffs {
		out[Key(MetricNDCG, k)] = NDCGAt(rank, k)
		out[Key(MetricAvgPrecision, k)] = AvgPrecisionAt(rank, k)
		out[Key(MetricRecall, k)] = RecallAt(rank, k)
	}
	return out
}

// TopK returns the ids and scores of the k best-scoring items in rank
// order. Ties are broken in favor of the lower item id, matching Rank.
// When k exceeds the number of items, every item is returned.
func TopK(scores []float64, k int) ([]int64, []float64) {
	if k <= 0 || len(scores) == 0 {
		return nil, nil
	}
	if k > len(scores) {
		k = len(scores)
	}

	// Insertion selection into a best-first buffer. The candidate only
	// displaces an entry it strictly outranks, so equal scores keep the
	// earlier (lower) id ahead.
	idx := make([]int, 0, k)
	for i, s := range scores {
		pos := len(idx)
		for pos > 0 {
			j := idx[pos-1]
			if scores[j] > s || (scores[j] == s && j < i) {
				break
			}
			pos--
		}
		if pos >= k {
			continue
		}
		if len(idx) < k {
			idx = append(idx, 0)
		}
		copy(idx[pos+1:], idx[pos:len(idx)-1])
		idx[pos] = i
	}

	ids := make([]int64, len(idx))
	top := make([]float64, len(idx))
	for i, j := range idx {
		ids[i] = int64(j)
		top[i] = scores[j]
	}
	return ids, top
}
