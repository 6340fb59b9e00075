// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package model

// Encoder produces per-position hidden states for padded item
// sequences. The transformer backbone is external to this system, so
// the encoder is deliberately an interface: anything that turns a
// padded [rows][positions] item matrix into [rows][positions][dim]
// hidden states can drive the scoring head.
type Encoder interface {
	// OutputDim returns the width of each hidden-state vector.
	OutputDim() int

	// Forward returns hidden states shaped [rows][positions][dim] for
	// the padded input item matrix. Padding positions still produce a
	// state; the label extractor is responsible for dropping them.
	Forward(items [][]int64) [][][]float64
}

// SessionEncoder is the built-in causal encoder: the hidden state at
// position t is the mean of the embeddings of all non-padding items at
// positions 0..t. Positions with an empty non-padding prefix yield the
// zero vector. It is cheap, deterministic and strictly causal, which is
// all next-item training needs from a reference backbone.
type SessionEncoder struct {
	table *EmbeddingTable
}

// NewSessionEncoder creates an encoder reading from the given table.
func NewSessionEncoder(table *EmbeddingTable) *SessionEncoder {
	return &SessionEncoder{table: table}
}

// OutputDim returns the embedding dimension.
func (e *SessionEncoder) OutputDim() int {
	return e.table.Dim()
}

// Forward computes the causal prefix-mean states for the batch.
func (e *SessionEncoder) Forward(items [][]int64) [][][]float64 {
	dim := e.table.Dim()
	states := make([][][]float64, len(items))

	for row, seq := range items {
		states[row] = make([][]float64, len(seq))
		sum := make([]float64, dim)
		seen := 0

		for pos, id := range seq {
			if id != PadToken {
				emb := e.table.Row(id)
				for d := 0; d < dim; d++ {
					sum[d] += emb[d]
				}
				seen++
			}

			h := make([]float64, dim)
			if seen > 0 {
				inv := 1 / float64(seen)
				for d := 0; d < dim; d++ {
					h[d] = sum[d] * inv
				}
			}
			states[row][pos] = h
		}
	}
	return states
}

// ApplySGD distributes hidden-state gradients back onto the embedding
// rows and takes one gradient step. positions and grads come from an
// Extracted batch: positions[i] is the flat row-major index of the
// hidden state whose gradient is grads[i]. Every non-padding item in
// the causal prefix of that position shares the gradient equally, the
// exact adjoint of the prefix mean in Forward.
//
// All rows of items must have the same padded length.
func (e *SessionEncoder) ApplySGD(items [][]int64, positions []int, grads [][]float64, lr float64) {
	if len(items) == 0 || len(positions) == 0 {
		return
	}
	seqLen := len(items[0])
	dim := e.table.Dim()

	// Non-padding prefix counts per row, shared across all gradients
	// that land in the same row.
	counts := make([][]int, len(items))
	for row, seq := range items {
		counts[row] = make([]int, len(seq))
		seen := 0
		for pos, id := range seq {
			if id != PadToken {
				seen++
			}
			counts[row][pos] = seen
		}
	}

	for i, p := range positions {
		row := p / seqLen
		pos := p % seqLen
		c := counts[row][pos]
		if c == 0 {
			continue
		}

		step := lr / float64(c)
		g := grads[i]
		for s := 0; s <= pos; s++ {
			id := items[row][s]
			if id == PadToken {
				continue
			}
			emb := e.table.Row(id)
			for d := 0; d < dim; d++ {
				emb[d] -= step * g[d]
			}
		}
	}
}

var _ Encoder = (*SessionEncoder)(nil)
