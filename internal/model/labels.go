// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package model

import (
	"fmt"
)

// Extracted pairs each non-padding label with its hidden state.
//
// States[i] is the hidden state whose next-item target is Labels[i];
// both are ordered row-major (row by row, left to right) over the
// source batch. Positions[i] is the flat row-major index of that pair
// in the padded batch, kept so gradients can be scattered back to the
// positions they came from.
//
// State vectors alias the input storage; they are views, not copies.
type Extracted struct {
	States    [][]float64
	Labels    []int64
	Positions []int
}

// Len returns the number of valid label/state pairs.
func (e Extracted) Len() int {
	return len(e.Labels)
}

// CountValid returns the number of positions in the label matrix that
// do not hold the padding sentinel.
func CountValid(labels [][]int64, pad int64) int {
	n := 0
	for _, row := range labels {
		for _, l := range row {
			if l != pad {
				n++
			}
		}
	}
	return n
}

// ExtractValid filters a [rows][positions][dim] hidden-state tensor and
// a [rows][positions] label matrix down to the non-padding positions,
// preserving row-major order so Labels[i] corresponds exactly to
// States[i].
//
// A batch where every position is padding yields empty outputs without
// error; downstream consumers skip metric updates for zero-length
// extractions. Mismatched shapes are a caller bug and return an error.
func ExtractValid(states [][][]float64, labels [][]int64, pad int64) (Extracted, error) {
	if len(states) != len(labels) {
		return Extracted{}, fmt.Errorf("extract: %d hidden-state rows for %d label rows", len(states), len(labels))
	}

	out := Extracted{}
	if n := CountValid(labels, pad); n > 0 {
		out.States = make([][]float64, 0, n)
		out.Labels = make([]int64, 0, n)
		out.Positions = make([]int, 0, n)
	}

	flat := 0
	for row := range labels {
		if len(states[row]) != len(labels[row]) {
			return Extracted{}, fmt.Errorf("extract: row %d has %d hidden states for %d labels", row, len(states[row]), len(labels[row]))
		}
		for pos, l := range labels[row] {
			if l != pad {
				out.States = append(out.States, states[row][pos])
				out.Labels = append(out.Labels, l)
				out.Positions = append(out.Positions, flat)
			}
			flat++
		}
	}
	return out, nil
}

// ExtractValidFlat is ExtractValid for hidden states that are already
// flattened row-major to [rows*positions][dim].
func ExtractValidFlat(states [][]float64, labels [][]int64, pad int64) (Extracted, error) {
	total := 0
	for _, row := range labels {
		total += len(row)
	}
	if len(states) != total {
		return Extracted{}, fmt.Errorf("extract: %d flat hidden states for %d label positions", len(states), total)
	}

	out := Extracted{}
	if n := CountValid(labels, pad); n > 0 {
		out.States = make([][]float64, 0, n)
		out.Labels = make([]int64, 0, n)
		out.Positions = make([]int, 0, n)
	}

	flat := 0
	for _, row := range labels {
		for _, l := range row {
			if l != pad {
				out.States = append(out.States, states[flat])
				out.Labels = append(out.Labels, l)
				out.Positions = append(out.Positions, flat)
			}
			flat++
		}
	}
	return out, nil
}
