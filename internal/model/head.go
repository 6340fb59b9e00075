// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// ErrNotBound is returned when a weight-tied head is used before Bind
// captured the embedding table that owns its projection weights.
var ErrNotBound = errors.New("model: head not bound to an embedding table")

// HeadConfig configures the next-item scoring head.
type HeadConfig struct {
	// VocabSize is the number of items scored, padding id included.
	// Must match the item_id feature's cardinality.
	VocabSize int

	// HiddenDim is the width of the incoming hidden-state vectors.
	HiddenDim int

	// TieWeights shares the embedding table as the projection weight.
	// The head then owns only its bias and must be bound to the table
	// before scoring.
	TieWeights bool

	// Temperature divides logits before the log-softmax. 0 disables
	// scaling, 1 is a no-op, negative values are rejected. Temperatures
	// above 1 soften the distribution, below 1 sharpen it.
	Temperature float64

	// Seed drives the projection initialization in non-tied mode.
	Seed int64
}

// NextItemHead maps hidden states to log-probabilities over the item
// vocabulary.
//
// In weight-tying mode the projection weight is the embedding table's
// backing matrix, captured by Bind and never copied; only the bias is
// owned. In non-tied mode the head owns an independent projection. The
// bias starts at zero in both modes.
type NextItemHead struct {
	cfg    HeadConfig
	weight [][]float64
	bias   []float64
	bound  bool
}

// NewNextItemHead validates the configuration and creates the head. A
// tied head starts unbound; call Bind with the embedding table before
// scoring. Dimensionality problems surface here rather than on every
// forward call.
func NewNextItemHead(cfg HeadConfig) (*NextItemHead, error) {
	if cfg.VocabSize <= 1 {
		return nil, fmt.Errorf("head: vocabulary size %d, need > 1", cfg.VocabSize)
	}
	if cfg.HiddenDim <= 0 {
		return nil, fmt.Errorf("head: hidden dimension %d, need > 0", cfg.HiddenDim)
	}
	if cfg.Temperature < 0 {
		return nil, fmt.Errorf("head: temperature %v, need >= 0 (0 disables scaling)", cfg.Temperature)
	}

	h := &NextItemHead{
		cfg:  cfg,
		bias: make([]float64, cfg.VocabSize),
	}
	if cfg.TieWeights {
		return h, nil
	}

	//nolint:gosec // G404: math/rand is acceptable for parameter initialization (not security)
	rng := rand.New(rand.NewSource(cfg.Seed))
	h.weight = make([][]float64, cfg.VocabSize)
	for v := range h.weight {
		h.weight[v] = make([]float64, cfg.HiddenDim)
		for d := range h.weight[v] {
			h.weight[v][d] = (rng.Float64() - 0.5) * 0.01
		}
	}
	h.bound = true
	return h, nil
}

// Bind captures the embedding table as the tied projection weight. It
// fails fast when the owner is missing or its shape does not match the
// head configuration. Binding a non-tied head is a caller bug.
func (h *NextItemHead) Bind(table *EmbeddingTable) error {
	if !h.cfg.TieWeights {
		return errors.New("head: Bind called on a head that owns its projection")
	}
	if table == nil {
		return errors.New("head: Bind called before the embedding table was constructed")
	}
	if table.VocabSize() != h.cfg.VocabSize {
		return fmt.Errorf("head: embedding table has %d rows, head expects %d", table.VocabSize(), h.cfg.VocabSize)
	}
	if table.Dim() != h.cfg.HiddenDim {
		return fmt.Errorf("head: embedding table has dim %d, head expects %d", table.Dim(), h.cfg.HiddenDim)
	}

	// Alias, never copy: both sides must see every weight update.
	h.weight = table.Weights()
	h.bound = true
	return nil
}

// Bound reports whether the head is ready to score.
func (h *NextItemHead) Bound() bool {
	return h.bound
}

// Bias returns the owned bias vector.
func (h *NextItemHead) Bias() []float64 {
	return h.bias
}

// SetBias copies a previously snapshotted bias back in.
func (h *NextItemHead) SetBias(bias []float64) error {
	if len(bias) != len(h.bias) {
		return fmt.Errorf("head: bias has %d entries, head expects %d", len(bias), len(h.bias))
	}
	copy(h.bias, bias)
	return nil
}

// Weight returns the projection matrix. For a tied head this is the
// embedding table's backing storage.
func (h *NextItemHead) Weight() [][]float64 {
	return h.weight
}

// temperature returns the effective logit divisor, 1 when disabled.
func (h *NextItemHead) temperature() float64 {
	if h.cfg.Temperature > 0 {
		return h.cfg.Temperature
	}
	return 1
}

// logits computes the temperature-scaled logits for one hidden state.
func (h *NextItemHead) logits(state []float64, out []float64) {
	tau := h.temperature()
	for v := range h.weight {
		w := h.weight[v]
		z := h.bias[v]
		for d, x := range state {
			z += w[d] * x
		}
		out[v] = z / tau
	}
}

// logSoftmax normalizes logits in place with the max-subtraction trick.
func logSoftmax(z []float64) {
	m := z[0]
	for _, v := range z[1:] {
		if v > m {
			m = v
		}
	}
	var sum float64
	for _, v := range z {
		sum += math.Exp(v - m)
	}
	lse := m + math.Log(sum)
	for i := range z {
		z[i] -= lse
	}
}

// Scores returns log-probabilities shaped [rows][vocab] for the given
// hidden states. Temperature scaling happens before the log-softmax,
// so each output row sums to 1 in probability space regardless of the
// configured temperature. An empty input yields an empty output.
func (h *NextItemHead) Scores(states [][]float64) ([][]float64, error) {
	if !h.bound {
		return nil, ErrNotBound
	}
	if len(states) == 0 {
		return nil, nil
	}
	if len(states[0]) != h.cfg.HiddenDim {
		return nil, fmt.Errorf("head: hidden states have dim %d, head expects %d", len(states[0]), h.cfg.HiddenDim)
	}

	out := make([][]float64, len(states))
	for i, s := range states {
		row := make([]float64, h.cfg.VocabSize)
		h.logits(s, row)
		logSoftmax(row)
		out[i] = row
	}
	return out, nil
}

// NLLLoss returns the mean negative log-likelihood of the labels under
// the given log-probability rows. An empty batch has zero loss.
func NLLLoss(logProbs [][]float64, labels []int64) (float64, error) {
	if len(logProbs) != len(labels) {
		return 0, fmt.Errorf("loss: %d score rows for %d labels", len(logProbs), len(labels))
	}
	if len(labels) == 0 {
		return 0, nil
	}

	var sum float64
	for i, l := range labels {
		if l < 0 || int(l) >= len(logProbs[i]) {
			return 0, fmt.Errorf("loss: row %d label %d outside vocabulary [0, %d)", i, l, len(logProbs[i]))
		}
		sum -= logProbs[i][l]
	}
	return sum / float64(len(labels)), nil
}

// SGDStep performs one stochastic gradient step on the head parameters
// for a minibatch of extracted states and labels, and returns the batch
// loss together with the loss gradient with respect to each input
// state.
//
// The state gradients are computed against the pre-update projection,
// so with tied weights the encoder-side update that follows sees the
// same gradient a joint update would. An empty batch returns zero loss
// and no gradients.
func (h *NextItemHead) SGDStep(states [][]float64, labels []int64, lr float64) (float64, [][]float64, error) {
	if !h.bound {
		return 0, nil, ErrNotBound
	}
	if len(states) != len(labels) {
		return 0, nil, fmt.Errorf("head: %d states for %d labels", len(states), len(labels))
	}
	if len(states) == 0 {
		return 0, nil, nil
	}
	if len(states[0]) != h.cfg.HiddenDim {
		return 0, nil, fmt.Errorf("head: hidden states have dim %d, head expects %d", len(states[0]), h.cfg.HiddenDim)
	}

	n := len(states)
	vocab := h.cfg.VocabSize
	dim := h.cfg.HiddenDim

	// d(loss)/d(raw logit) carries the 1/temperature factor from the
	// scaling applied before the softmax.
	scale := 1 / (float64(n) * h.temperature())

	gradW := make([][]float64, vocab)
	for v := range gradW {
		gradW[v] = make([]float64, dim)
	}
	gradB := make([]float64, vocab)
	gradStates := make([][]float64, n)

	var loss float64
	row := make([]float64, vocab)
	for i, s := range states {
		l := labels[i]
		if l < 0 || int(l) >= vocab {
			return 0, nil, fmt.Errorf("head: row %d label %d outside vocabulary [0, %d)", i, l, vocab)
		}

		h.logits(s, row)
		logSoftmax(row)
		loss -= row[l] / float64(n)

		gh := make([]float64, dim)
		for v := 0; v < vocab; v++ {
			g := math.Exp(row[v]) * scale
			if int64(v) == l {
				g -= scale
			}
			w := h.weight[v]
			for d := 0; d < dim; d++ {
				gh[d] += g * w[d]
				gradW[v][d] += g * s[d]
			}
			gradB[v] += g
		}
		gradStates[i] = gh
	}

	for v := 0; v < vocab; v++ {
		w := h.weight[v]
		for d := 0; d < dim; d++ {
			w[d] -= lr * gradW[v][d]
		}
		h.bias[v] -= lr * gradB[v]
	}

	return loss, gradStates, nil
}

// SGDStepSampled is SGDStep over a restricted candidate vocabulary: the
// softmax runs over the candidate ids only and only their projection
// rows are touched. Candidates must be unique, inside the vocabulary,
// and cover every label in the batch; the caller builds the set from
// the batch's positives plus sampled negatives.
func (h *NextItemHead) SGDStepSampled(states [][]float64, labels []int64, candidates []int64, lr float64) (float64, [][]float64, error) {
	if !h.bound {
		return 0, nil, ErrNotBound
	}
	if len(states) != len(labels) {
		return 0, nil, fmt.Errorf("head: %d states for %d labels", len(states), len(labels))
	}
	if len(states) == 0 {
		return 0, nil, nil
	}
	if len(states[0]) != h.cfg.HiddenDim {
		return 0, nil, fmt.Errorf("head: hidden states have dim %d, head expects %d", len(states[0]), h.cfg.HiddenDim)
	}
	if len(candidates) < 2 {
		return 0, nil, fmt.Errorf("head: %d candidates, need >= 2", len(candidates))
	}

	slot := make(map[int64]int, len(candidates))
	for j, c := range candidates {
		if c < 0 || int(c) >= h.cfg.VocabSize {
			return 0, nil, fmt.Errorf("head: candidate %d outside vocabulary [0, %d)", c, h.cfg.VocabSize)
		}
		if _, dup := slot[c]; dup {
			return 0, nil, fmt.Errorf("head: duplicate candidate %d", c)
		}
		slot[c] = j
	}

	n := len(states)
	nc := len(candidates)
	dim := h.cfg.HiddenDim
	tau := h.temperature()
	scale := 1 / (float64(n) * tau)

	gradW := make([][]float64, nc)
	for j := range gradW {
		gradW[j] = make([]float64, dim)
	}
	gradB := make([]float64, nc)
	gradStates := make([][]float64, n)

	var loss float64
	row := make([]float64, nc)
	for i, s := range states {
		target, ok := slot[labels[i]]
		if !ok {
			return 0, nil, fmt.Errorf("head: row %d label %d not in candidate set", i, labels[i])
		}

		for j, c := range candidates {
			w := h.weight[c]
			z := h.bias[c]
			for d, x := range s {
				z += w[d] * x
			}
			row[j] = z / tau
		}
		logSoftmax(row)
		loss -= row[target] / float64(n)

		gh := make([]float64, dim)
		for j, c := range candidates {
			g := math.Exp(row[j]) * scale
			if j == target {
				g -= scale
			}
			w := h.weight[c]
			for d := 0; d < dim; d++ {
				gh[d] += g * w[d]
				gradW[j][d] += g * s[d]
			}
			gradB[j] += g
		}
		gradStates[i] = gh
	}

	for j, c := range candidates {
		w := h.weight[c]
		for d := 0; d < dim; d++ {
			w[d] -= lr * gradW[j][d]
		}
		h.bias[c] -= lr * gradB[j]
	}

	return loss, gradStates, nil
}
