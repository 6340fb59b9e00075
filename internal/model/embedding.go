// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package model

import (
	"fmt"
	"math/rand"
)

// EmbeddingTable maps item ids to dense vectors. It is the single owner
// of the weight matrix; the scoring head borrows the same storage when
// weight tying is enabled. Row 0 belongs to the padding id and starts
// at zero; the encoder never reads it because padding positions are
// skipped, though tied-head updates may move it.
//
// Not safe for concurrent writers. Training is single-threaded by
// construction; evaluation may read concurrently once training for the
// window has finished.
type EmbeddingTable struct {
	weights [][]float64
	dim     int
}

// NewEmbeddingTable creates a table of vocabSize rows with dim columns,
// initialized with small seeded random values.
func NewEmbeddingTable(vocabSize, dim int, seed int64) (*EmbeddingTable, error) {
	if vocabSize <= 1 {
		return nil, fmt.Errorf("embedding: vocabulary size %d, need > 1", vocabSize)
	}
	if dim <= 0 {
		return nil, fmt.Errorf("embedding: dimension %d, need > 0", dim)
	}

	//nolint:gosec // G404: math/rand is acceptable for parameter initialization (not security)
	rng := rand.New(rand.NewSource(seed))

	weights := make([][]float64, vocabSize)
	for i := range weights {
		weights[i] = make([]float64, dim)
		if i == 0 {
			continue
		}
		for j := range weights[i] {
			weights[i][j] = (rng.Float64() - 0.5) * 0.01
		}
	}
	return &EmbeddingTable{weights: weights, dim: dim}, nil
}

// VocabSize returns the number of rows, padding id included.
func (t *EmbeddingTable) VocabSize() int {
	return len(t.weights)
}

// Dim returns the vector width.
func (t *EmbeddingTable) Dim() int {
	return t.dim
}

// Row returns the backing vector for the given item id. The slice is
// shared, not copied; in-place updates are how training mutates the
// table.
func (t *EmbeddingTable) Row(id int64) []float64 {
	return t.weights[id]
}

// Weights returns the backing weight matrix. Borrowers such as the tied
// scoring head capture this directly so both sides see every update.
func (t *EmbeddingTable) Weights() [][]float64 {
	return t.weights
}

// Snapshot returns a deep copy of the weights for checkpointing.
func (t *EmbeddingTable) Snapshot() [][]float64 {
	out := make([][]float64, len(t.weights))
	for i, row := range t.weights {
		out[i] = make([]float64, len(row))
		copy(out[i], row)
	}
	return out
}

// Restore copies previously snapshotted weights back into the backing
// storage, preserving the aliasing contract with any bound head. All
// rows are validated before any copy so a bad snapshot cannot leave the
// table half restored.
func (t *EmbeddingTable) Restore(weights [][]float64) error {
	if len(weights) != len(t.weights) {
		return fmt.Errorf("embedding: restore has %d rows, table has %d", len(weights), len(t.weights))
	}
	for i, row := range weights {
		if len(row) != t.dim {
			return fmt.Errorf("embedding: restore row %d has dim %d, table has %d", i, len(row), t.dim)
		}
	}
	for i, row := range weights {
		copy(t.weights[i], row)
	}
	return nil
}
