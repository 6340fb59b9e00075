// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package trainer

// Dataset type labels, shared by the evaluation passes, the results
// table prefixes and the prediction log.
const (
	datasetTrain = "train"
	datasetEval  = "eval"
)

// aodSuffix marks a run-level average-over-time key.
const aodSuffix = "_AOD"

// prefixKeys returns the metric map with every key prefixed by the
// dataset type, e.g. "ndcg_10" under "eval" becomes "eval_ndcg_10".
func prefixKeys(datasetType string, in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[datasetType+"_"+k] = v
	}
	return out
}

// mergeResults unions metric maps into one; later maps win on key
// collisions, which never happen between prefixed dataset types.
func mergeResults(maps ...map[string]float64) map[string]float64 {
	out := make(map[string]float64)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// averageOverTime reduces the results-over-time table to per-key
// arithmetic means across the recorded windows, suffixing every key
// with "_AOD". A key missing from some windows is averaged over the
// windows that recorded it.
func averageOverTime(results map[int]map[string]float64) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, row := range results {
		for k, v := range row {
			sums[k] += v
			counts[k]++
		}
	}

	avg := make(map[string]float64, len(sums))
	for k, sum := range sums {
		avg[k+aodSuffix] = sum / float64(counts[k])
	}
	return avg
}
