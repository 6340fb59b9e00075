// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package trainer

import (
	"errors"

	"github.com/chronorec/chronorec/internal/database"
	"github.com/chronorec/chronorec/internal/model"
	"github.com/chronorec/chronorec/internal/schema"
)

// ErrExhausted is returned by Loader.Next once every batch has been
// handed out. A Loader never rewinds.
var ErrExhausted = errors.New("trainer: loader exhausted")

// Loader turns loaded sessions into padded next-item minibatches.
//
// A Loader is single-pass and non-restartable: Next walks the sessions
// once and then returns ErrExhausted forever. Every pass over a
// partition gets a fresh Loader over freshly loaded sessions, which is
// what keeps the pseudo-evaluation over the training partition honest
// about loader state.
type Loader struct {
	sessions  []database.Session
	meta      []schema.Feature
	batchSize int
	pos       int
}

// NewLoader creates a loader over the given sessions. meta names the
// side features carried through to the prediction log, in Session.Meta
// order; pass nil when nothing is logged.
func NewLoader(sessions []database.Session, meta []schema.Feature, batchSize int) *Loader {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Loader{
		sessions:  sessions,
		meta:      meta,
		batchSize: batchSize,
	}
}

// Len returns the total number of sessions behind the loader.
func (l *Loader) Len() int {
	return len(l.sessions)
}

// Batches returns the total number of batches the loader will yield.
func (l *Loader) Batches() int {
	return (len(l.sessions) + l.batchSize - 1) / l.batchSize
}

// Next returns the next minibatch, or ErrExhausted when the pass is
// over. Rows are padded to the longest session in the batch; labels are
// the inputs shifted left by one with the tail padded, so the last real
// position of each session never produces a training example.
func (l *Loader) Next() (*model.Batch, error) {
	if l.pos >= len(l.sessions) {
		return nil, ErrExhausted
	}

	end := l.pos + l.batchSize
	if end > len(l.sessions) {
		end = len(l.sessions)
	}
	chunk := l.sessions[l.pos:end]
	l.pos = end

	seqLen := 0
	for _, s := range chunk {
		if len(s.Items) > seqLen {
			seqLen = len(s.Items)
		}
	}

	b := &model.Batch{
		Items:  make([][]int64, len(chunk)),
		Labels: make([][]int64, len(chunk)),
	}
	for row, s := range chunk {
		items := make([]int64, seqLen)
		labels := make([]int64, seqLen)
		copy(items, s.Items)
		for t := 0; t+1 < len(s.Items); t++ {
			labels[t] = s.Items[t+1]
		}
		b.Items[row] = items
		b.Labels[row] = labels
	}

	if len(l.meta) > 0 {
		b.Meta = make(map[string]model.Column, len(l.meta))
		for fi, f := range l.meta {
			col := model.Column{Dtype: f.Dtype}
			if f.Dtype == schema.DtypeFloat64 {
				col.Floats = make([]float64, len(chunk))
			} else {
				col.Ints = make([]int64, len(chunk))
			}
			for row, s := range chunk {
				if fi >= len(s.Meta) {
					continue
				}
				if f.Dtype == schema.DtypeFloat64 {
					col.Floats[row] = s.Meta[fi].Float
				} else {
					col.Ints[row] = s.Meta[fi].Int
				}
			}
			b.Meta[f.Name] = col
		}
	}

	return b, nil
}
