// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package model

import (
	"github.com/chronorec/chronorec/internal/schema"
)

// PadToken is the padding sentinel item id. Item id 0 means "no item":
// real vocabularies start at 1 and the embedding row for 0 stays zero.
const PadToken int64 = 0

// Column holds one scalar metadata feature across all sessions in a
// batch. Exactly one of Ints or Floats is populated according to Dtype,
// with one entry per batch row.
type Column struct {
	Dtype  schema.Dtype
	Ints   []int64
	Floats []float64
}

// Len returns the number of rows in the column.
func (c Column) Len() int {
	if c.Dtype == schema.DtypeFloat64 {
		return len(c.Floats)
	}
	return len(c.Ints)
}

// Value returns the row's value as a float64 regardless of dtype.
func (c Column) Value(row int) float64 {
	if c.Dtype == schema.DtypeFloat64 {
		return c.Floats[row]
	}
	return float64(c.Ints[row])
}

// Batch is one minibatch of padded session sequences. Items holds the
// input item ids and Labels the next-item targets, both shaped
// [rows][positions] with every row padded to the same length using
// PadToken. Batches are built per step and discarded after use.
type Batch struct {
	Items  [][]int64
	Labels [][]int64

	// Meta holds per-session metadata columns keyed by feature name,
	// aligned with the batch rows. Only consumed by the prediction log.
	Meta map[string]Column
}

// Rows returns the number of sessions in the batch.
func (b *Batch) Rows() int {
	return len(b.Items)
}

// SeqLen returns the padded sequence length, 0 for an empty batch.
func (b *Batch) SeqLen() int {
	if len(b.Items) == 0 {
		return 0
	}
	return len(b.Items[0])
}
