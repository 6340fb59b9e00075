// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package model

import (
	"errors"
	"math"
	"testing"
)

const headTolerance = 1e-9

func TestNewNextItemHeadValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     HeadConfig
		wantErr bool
	}{
		{
			name: "valid untied",
			cfg:  HeadConfig{VocabSize: 10, HiddenDim: 4, Seed: 1},
		},
		{
			name: "valid tied",
			cfg:  HeadConfig{VocabSize: 10, HiddenDim: 4, TieWeights: true},
		},
		{
			name: "valid with temperature",
			cfg:  HeadConfig{VocabSize: 10, HiddenDim: 4, Temperature: 2},
		},
		{
			name:    "vocabulary too small",
			cfg:     HeadConfig{VocabSize: 1, HiddenDim: 4},
			wantErr: true,
		},
		{
			name:    "zero hidden dim",
			cfg:     HeadConfig{VocabSize: 10, HiddenDim: 0},
			wantErr: true,
		},
		{
			name:    "negative temperature",
			cfg:     HeadConfig{VocabSize: 10, HiddenDim: 4, Temperature: -0.5},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			head, err := NewNextItemHead(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("NewNextItemHead() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewNextItemHead() error = %v", err)
			}
			if tt.cfg.TieWeights && head.Bound() {
				t.Error("tied head reports bound before Bind")
			}
			if !tt.cfg.TieWeights && !head.Bound() {
				t.Error("untied head reports unbound")
			}
		})
	}
}

func TestHeadScoresUnbound(t *testing.T) {
	t.Parallel()

	head, err := NewNextItemHead(HeadConfig{VocabSize: 5, HiddenDim: 2, TieWeights: true})
	if err != nil {
		t.Fatalf("NewNextItemHead() error = %v", err)
	}

	if _, err := head.Scores([][]float64{{1, 2}}); !errors.Is(err, ErrNotBound) {
		t.Errorf("Scores() error = %v, want ErrNotBound", err)
	}
	if _, _, err := head.SGDStep([][]float64{{1, 2}}, []int64{1}, 0.1); !errors.Is(err, ErrNotBound) {
		t.Errorf("SGDStep() error = %v, want ErrNotBound", err)
	}
}

func TestHeadBindErrors(t *testing.T) {
	t.Parallel()

	table, err := NewEmbeddingTable(5, 2, 1)
	if err != nil {
		t.Fatalf("NewEmbeddingTable() error = %v", err)
	}

	tests := []struct {
		name  string
		cfg   HeadConfig
		table *EmbeddingTable
	}{
		{
			name:  "nil owner",
			cfg:   HeadConfig{VocabSize: 5, HiddenDim: 2, TieWeights: true},
			table: nil,
		},
		{
			name:  "vocabulary mismatch",
			cfg:   HeadConfig{VocabSize: 6, HiddenDim: 2, TieWeights: true},
			table: table,
		},
		{
			name:  "dimension mismatch",
			cfg:   HeadConfig{VocabSize: 5, HiddenDim: 3, TieWeights: true},
			table: table,
		},
		{
			name:  "bind on owning head",
			cfg:   HeadConfig{VocabSize: 5, HiddenDim: 2},
			table: table,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			head, err := NewNextItemHead(tt.cfg)
			if err != nil {
				t.Fatalf("NewNextItemHead() error = %v", err)
			}
			if err := head.Bind(tt.table); err == nil {
				t.Error("Bind() error = nil, want error")
			}
		})
	}
}

func TestHeadTiedAliasing(t *testing.T) {
	t.Parallel()

	table, err := NewEmbeddingTable(4, 2, 42)
	if err != nil {
		t.Fatalf("NewEmbeddingTable() error = %v", err)
	}
	head, err := NewNextItemHead(HeadConfig{VocabSize: 4, HiddenDim: 2, TieWeights: true})
	if err != nil {
		t.Fatalf("NewNextItemHead() error = %v", err)
	}
	if err := head.Bind(table); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	// Reference identity, not equality: the head scores through the
	// table's own storage.
	if &head.Weight()[1][0] != &table.Weights()[1][0] {
		t.Fatal("tied head copied the embedding matrix instead of aliasing it")
	}

	state := [][]float64{{1, 0}}
	before, err := head.Scores(state)
	if err != nil {
		t.Fatalf("Scores() error = %v", err)
	}

	table.Row(2)[0] += 3

	after, err := head.Scores(state)
	if err != nil {
		t.Fatalf("Scores() error = %v", err)
	}
	if before[0][2] == after[0][2] {
		t.Error("table update not visible through the tied head")
	}

	// The aliasing must survive training steps.
	if _, _, err := head.SGDStep([][]float64{{0.5, 0.5}}, []int64{1}, 0.1); err != nil {
		t.Fatalf("SGDStep() error = %v", err)
	}
	if &head.Weight()[1][0] != &table.Weights()[1][0] {
		t.Error("SGDStep broke the aliasing between head and table")
	}
}

func TestHeadScoresSumToOne(t *testing.T) {
	t.Parallel()

	head, err := NewNextItemHead(HeadConfig{VocabSize: 7, HiddenDim: 3, Seed: 42})
	if err != nil {
		t.Fatalf("NewNextItemHead() error = %v", err)
	}

	states := [][]float64{{0.2, -0.5, 1.0}, {0, 0, 0}, {3, 3, 3}}
	scores, err := head.Scores(states)
	if err != nil {
		t.Fatalf("Scores() error = %v", err)
	}

	for i, row := range scores {
		var sum float64
		for _, lp := range row {
			sum += math.Exp(lp)
		}
		if math.Abs(sum-1) > 1e-6 {
			t.Errorf("row %d probabilities sum to %v, want 1", i, sum)
		}
	}
}

// tinyTiedHead builds a vocab-3, dim-1 tied head with handcrafted
// weights so logits are exactly [0, 1, 2] for a unit hidden state.
func tinyTiedHead(t *testing.T, temperature float64) *NextItemHead {
	t.Helper()

	table, err := NewEmbeddingTable(3, 1, 1)
	if err != nil {
		t.Fatalf("NewEmbeddingTable() error = %v", err)
	}
	table.Row(0)[0] = 0
	table.Row(1)[0] = 1
	table.Row(2)[0] = 2

	head, err := NewNextItemHead(HeadConfig{VocabSize: 3, HiddenDim: 1, TieWeights: true, Temperature: temperature})
	if err != nil {
		t.Fatalf("NewNextItemHead() error = %v", err)
	}
	if err := head.Bind(table); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	return head
}

func TestHeadTemperatureScalesBeforeNormalization(t *testing.T) {
	t.Parallel()

	state := [][]float64{{1}}

	scaled, err := tinyTiedHead(t, 2).Scores(state)
	if err != nil {
		t.Fatalf("Scores() error = %v", err)
	}

	// Logits [0, 1, 2] divided by 2 then log-softmaxed.
	z := []float64{0, 0.5, 1}
	var sum float64
	for _, v := range z {
		sum += math.Exp(v - 1)
	}
	lse := 1 + math.Log(sum)
	for v := range z {
		want := z[v] - lse
		if math.Abs(scaled[0][v]-want) > headTolerance {
			t.Errorf("log-prob[%d] = %v, want %v", v, scaled[0][v], want)
		}
	}
}

func TestHeadTemperatureSentinels(t *testing.T) {
	t.Parallel()

	state := [][]float64{{1}}

	disabled, err := tinyTiedHead(t, 0).Scores(state)
	if err != nil {
		t.Fatalf("Scores() error = %v", err)
	}
	unit, err := tinyTiedHead(t, 1).Scores(state)
	if err != nil {
		t.Fatalf("Scores() error = %v", err)
	}
	soft, err := tinyTiedHead(t, 2).Scores(state)
	if err != nil {
		t.Fatalf("Scores() error = %v", err)
	}

	for v := range disabled[0] {
		if math.Abs(disabled[0][v]-unit[0][v]) > headTolerance {
			t.Errorf("temperature 0 and 1 disagree at item %d: %v vs %v", v, disabled[0][v], unit[0][v])
		}
	}

	same := true
	for v := range disabled[0] {
		if math.Abs(disabled[0][v]-soft[0][v]) > headTolerance {
			same = false
		}
	}
	if same {
		t.Error("temperature 2 produced the same distribution as disabled scaling")
	}
}

func TestHeadScoresDimMismatch(t *testing.T) {
	t.Parallel()

	head, err := NewNextItemHead(HeadConfig{VocabSize: 5, HiddenDim: 3, Seed: 1})
	if err != nil {
		t.Fatalf("NewNextItemHead() error = %v", err)
	}

	if _, err := head.Scores([][]float64{{1, 2}}); err == nil {
		t.Error("Scores() error = nil, want dimension error")
	}
}

func TestHeadScoresEmpty(t *testing.T) {
	t.Parallel()

	head, err := NewNextItemHead(HeadConfig{VocabSize: 5, HiddenDim: 3, Seed: 1})
	if err != nil {
		t.Fatalf("NewNextItemHead() error = %v", err)
	}

	scores, err := head.Scores(nil)
	if err != nil {
		t.Fatalf("Scores() error = %v", err)
	}
	if len(scores) != 0 {
		t.Errorf("Scores(nil) returned %d rows, want 0", len(scores))
	}
}

func TestNLLLoss(t *testing.T) {
	t.Parallel()

	logProbs := [][]float64{
		{math.Log(0.7), math.Log(0.2), math.Log(0.1)},
		{math.Log(0.1), math.Log(0.8), math.Log(0.1)},
	}

	loss, err := NLLLoss(logProbs, []int64{0, 1})
	if err != nil {
		t.Fatalf("NLLLoss() error = %v", err)
	}
	want := -(math.Log(0.7) + math.Log(0.8)) / 2
	if math.Abs(loss-want) > headTolerance {
		t.Errorf("NLLLoss() = %v, want %v", loss, want)
	}

	empty, err := NLLLoss(nil, nil)
	if err != nil {
		t.Fatalf("NLLLoss() on empty batch error = %v", err)
	}
	if empty != 0 {
		t.Errorf("NLLLoss() on empty batch = %v, want 0", empty)
	}

	if _, err := NLLLoss(logProbs, []int64{0}); err == nil {
		t.Error("NLLLoss() with mismatched rows: error = nil, want error")
	}
	if _, err := NLLLoss(logProbs, []int64{0, 9}); err == nil {
		t.Error("NLLLoss() with out-of-range label: error = nil, want error")
	}
}

func TestHeadSGDStepReducesLoss(t *testing.T) {
	t.Parallel()

	head, err := NewNextItemHead(HeadConfig{VocabSize: 4, HiddenDim: 2, Seed: 42})
	if err != nil {
		t.Fatalf("NewNextItemHead() error = %v", err)
	}

	states := [][]float64{{1, 0}, {0, 1}}
	labels := []int64{1, 2}

	first, _, err := head.SGDStep(states, labels, 0.5)
	if err != nil {
		t.Fatalf("SGDStep() error = %v", err)
	}

	var last float64
	for i := 0; i < 50; i++ {
		last, _, err = head.SGDStep(states, labels, 0.5)
		if err != nil {
			t.Fatalf("SGDStep() error = %v", err)
		}
	}

	if last >= first {
		t.Errorf("loss did not decrease: first = %v, last = %v", first, last)
	}
}

func TestHeadSGDStepGradients(t *testing.T) {
	t.Parallel()

	head, err := NewNextItemHead(HeadConfig{VocabSize: 4, HiddenDim: 2, Seed: 42})
	if err != nil {
		t.Fatalf("NewNextItemHead() error = %v", err)
	}

	states := [][]float64{{1, 0}, {0, 1}, {0.5, 0.5}}
	labels := []int64{1, 2, 3}

	loss, grads, err := head.SGDStep(states, labels, 0.1)
	if err != nil {
		t.Fatalf("SGDStep() error = %v", err)
	}
	if loss <= 0 {
		t.Errorf("loss = %v, want > 0 for an untrained head", loss)
	}
	if len(grads) != len(states) {
		t.Fatalf("got %d state gradients, want %d", len(grads), len(states))
	}
	for i, g := range grads {
		if len(g) != 2 {
			t.Errorf("gradient %d has dim %d, want 2", i, len(g))
		}
	}
}

func TestHeadSGDStepEmptyBatch(t *testing.T) {
	t.Parallel()

	head, err := NewNextItemHead(HeadConfig{VocabSize: 4, HiddenDim: 2, Seed: 42})
	if err != nil {
		t.Fatalf("NewNextItemHead() error = %v", err)
	}

	loss, grads, err := head.SGDStep(nil, nil, 0.1)
	if err != nil {
		t.Fatalf("SGDStep() error = %v", err)
	}
	if loss != 0 || grads != nil {
		t.Errorf("SGDStep() on empty batch = (%v, %v), want (0, nil)", loss, grads)
	}
}

func TestHeadSGDStepLabelOutOfRange(t *testing.T) {
	t.Parallel()

	head, err := NewNextItemHead(HeadConfig{VocabSize: 4, HiddenDim: 2, Seed: 42})
	if err != nil {
		t.Fatalf("NewNextItemHead() error = %v", err)
	}

	if _, _, err := head.SGDStep([][]float64{{1, 0}}, []int64{9}, 0.1); err == nil {
		t.Error("SGDStep() error = nil, want out-of-range error")
	}
}

func TestHeadBias(t *testing.T) {
	t.Parallel()

	head, err := NewNextItemHead(HeadConfig{VocabSize: 3, HiddenDim: 2, Seed: 1})
	if err != nil {
		t.Fatalf("NewNextItemHead() error = %v", err)
	}

	for v, b := range head.Bias() {
		if b != 0 {
			t.Errorf("initial bias[%d] = %v, want 0", v, b)
		}
	}

	if err := head.SetBias([]float64{0.1, 0.2, 0.3}); err != nil {
		t.Fatalf("SetBias() error = %v", err)
	}
	if head.Bias()[2] != 0.3 {
		t.Errorf("bias[2] = %v, want 0.3", head.Bias()[2])
	}

	if err := head.SetBias([]float64{1}); err == nil {
		t.Error("SetBias() with wrong length: error = nil, want error")
	}
}
