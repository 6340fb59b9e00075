// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/chronorec/chronorec/internal/ranking"
	"github.com/chronorec/chronorec/internal/schema"
)

// Targets carries the ground truth for one task step. Which field is
// populated depends on the task family: Items for next-item ranking,
// Values for binary classification and regression.
type Targets struct {
	Items  []int64
	Values []float64
}

// PredictionTask is the shared lifecycle of every prediction head:
// build against the schema, forward hidden states to outputs, score
// outputs against targets. Concrete tasks are next-item ranking,
// binary classification and regression; the shared driver lives in
// EvalStep rather than in a base type.
type PredictionTask interface {
	// Name identifies the task in logs and metric prefixes.
	Name() string

	// Build validates the task against the feature schema and the
	// encoder output width, allocating parameters where needed. Must be
	// called once before Forward.
	Build(s *schema.Schema, inputDim int) error

	// Forward maps hidden states to task outputs, one row per state.
	Forward(states [][]float64) ([][]float64, error)

	// ComputeLoss scores outputs against targets.
	ComputeLoss(outputs [][]float64, targets Targets) (float64, error)

	// CalculateMetrics computes the task's quality metrics for one
	// batch of outputs.
	CalculateMetrics(outputs [][]float64, targets Targets) (map[string]float64, error)
}

// EvalStep runs the shared forward/loss/metrics lifecycle for one batch
// through any prediction task.
func EvalStep(task PredictionTask, states [][]float64, targets Targets) (float64, map[string]float64, error) {
	outputs, err := task.Forward(states)
	if err != nil {
		return 0, nil, fmt.Errorf("task %s: forward: %w", task.Name(), err)
	}
	loss, err := task.ComputeLoss(outputs, targets)
	if err != nil {
		return 0, nil, fmt.Errorf("task %s: loss: %w", task.Name(), err)
	}
	metrics, err := task.CalculateMetrics(outputs, targets)
	if err != nil {
		return 0, nil, fmt.Errorf("task %s: metrics: %w", task.Name(), err)
	}
	return loss, metrics, nil
}

// NextItemTask wraps the scoring head as a prediction task: outputs are
// log-probabilities over the vocabulary, the loss is negative
// log-likelihood and the metrics are the configured ranking cutoffs.
type NextItemTask struct {
	head    *NextItemHead
	cutoffs []int
}

// NewNextItemTask creates the task around an existing head.
func NewNextItemTask(head *NextItemHead, cutoffs []int) *NextItemTask {
	return &NextItemTask{head: head, cutoffs: cutoffs}
}

// Name returns "next_item".
func (t *NextItemTask) Name() string {
	return "next_item"
}

// Build checks that the schema's item vocabulary and the encoder output
// width line up with the head configuration.
func (t *NextItemTask) Build(s *schema.Schema, inputDim int) error {
	vocab, err := s.VocabSize()
	if err != nil {
		return fmt.Errorf("next_item: %w", err)
	}
	if vocab != t.head.cfg.VocabSize {
		return fmt.Errorf("next_item: schema vocabulary %d, head expects %d", vocab, t.head.cfg.VocabSize)
	}
	if inputDim != t.head.cfg.HiddenDim {
		return fmt.Errorf("next_item: encoder output dim %d, head expects %d", inputDim, t.head.cfg.HiddenDim)
	}
	if !t.head.Bound() {
		return ErrNotBound
	}
	return nil
}

// Forward scores the states against the vocabulary.
func (t *NextItemTask) Forward(states [][]float64) ([][]float64, error) {
	return t.head.Scores(states)
}

// ComputeLoss returns the mean negative log-likelihood of the item
// targets.
func (t *NextItemTask) ComputeLoss(outputs [][]float64, targets Targets) (float64, error) {
	if targets.Items == nil && len(outputs) > 0 {
		return 0, fmt.Errorf("next_item: targets carry no item ids")
	}
	return NLLLoss(outputs, targets.Items)
}

// CalculateMetrics returns the ranking metrics for one batch.
func (t *NextItemTask) CalculateMetrics(outputs [][]float64, targets Targets) (map[string]float64, error) {
	agg := ranking.NewAggregator(t.cutoffs)
	if err := agg.Update(outputs, targets.Items); err != nil {
		return nil, fmt.Errorf("next_item: %w", err)
	}
	return agg.Compute(), nil
}

// BinaryClassificationTask predicts a probability per row from the
// hidden state through a single logistic unit.
type BinaryClassificationTask struct {
	seed   int64
	weight []float64
	bias   float64
	built  bool
}

// NewBinaryClassificationTask creates an unbuilt binary task.
func NewBinaryClassificationTask(seed int64) *BinaryClassificationTask {
	return &BinaryClassificationTask{seed: seed}
}

// Name returns "binary_classification".
func (t *BinaryClassificationTask) Name() string {
	return "binary_classification"
}

// Build allocates the logistic unit for the encoder output width.
func (t *BinaryClassificationTask) Build(s *schema.Schema, inputDim int) error {
	if inputDim <= 0 {
		return fmt.Errorf("binary_classification: input dim %d, need > 0", inputDim)
	}

	//nolint:gosec // G404: math/rand is acceptable for parameter initialization (not security)
	rng := rand.New(rand.NewSource(t.seed))
	t.weight = make([]float64, inputDim)
	for d := range t.weight {
		t.weight[d] = (rng.Float64() - 0.5) * 0.01
	}
	t.bias = 0
	t.built = true
	return nil
}

// Forward returns one probability per row.
func (t *BinaryClassificationTask) Forward(states [][]float64) ([][]float64, error) {
	if !t.built {
		return nil, fmt.Errorf("binary_classification: Forward before Build")
	}

	out := make([][]float64, len(states))
	for i, s := range states {
		if len(s) != len(t.weight) {
			return nil, fmt.Errorf("binary_classification: state dim %d, task expects %d", len(s), len(t.weight))
		}
		z := t.bias
		for d, x := range s {
			z += t.weight[d] * x
		}
		out[i] = []float64{1 / (1 + math.Exp(-z))}
	}
	return out, nil
}

// ComputeLoss returns the mean binary cross-entropy against the value
// targets, which must lie in [0, 1].
func (t *BinaryClassificationTask) ComputeLoss(outputs [][]float64, targets Targets) (float64, error) {
	if len(outputs) != len(targets.Values) {
		return 0, fmt.Errorf("binary_classification: %d outputs for %d targets", len(outputs), len(targets.Values))
	}
	if len(outputs) == 0 {
		return 0, nil
	}

	const eps = 1e-12
	var sum float64
	for i, row := range outputs {
		y := targets.Values[i]
		if y < 0 || y > 1 {
			return 0, fmt.Errorf("binary_classification: target %v at row %d outside [0, 1]", y, i)
		}
		p := math.Min(math.Max(row[0], eps), 1-eps)
		sum -= y*math.Log(p) + (1-y)*math.Log(1-p)
	}
	return sum / float64(len(outputs)), nil
}

// CalculateMetrics returns accuracy, precision and recall at a 0.5
// decision threshold.
func (t *BinaryClassificationTask) CalculateMetrics(outputs [][]float64, targets Targets) (map[string]float64, error) {
	if len(outputs) != len(targets.Values) {
		return nil, fmt.Errorf("binary_classification: %d outputs for %d targets", len(outputs), len(targets.Values))
	}

	var tp, fp, fn, correct float64
	for i, row := range outputs {
		pred := row[0] >= 0.5
		truth := targets.Values[i] >= 0.5
		switch {
		case pred && truth:
			tp++
			correct++
		case pred && !truth:
			fp++
		case !pred && truth:
			fn++
		default:
			correct++
		}
	}

	out := map[string]float64{"accuracy": 0, "precision": 0, "recall": 0}
	if n := float64(len(outputs)); n > 0 {
		out["accuracy"] = correct / n
	}
	if tp+fp > 0 {
		out["precision"] = tp / (tp + fp)
	}
	if tp+fn > 0 {
		out["recall"] = tp / (tp + fn)
	}
	return out, nil
}

// RegressionTask predicts a scalar per row through a linear unit.
type RegressionTask struct {
	seed   int64
	weight []float64
	bias   float64
	built  bool
}

// NewRegressionTask creates an unbuilt regression task.
func NewRegressionTask(seed int64) *RegressionTask {
	return &RegressionTask{seed: seed}
}

// Name returns "regression".
func (t *RegressionTask) Name() string {
	return "regression"
}

// Build allocates the linear unit for the encoder output width.
func (t *RegressionTask) Build(s *schema.Schema, inputDim int) error {
	if inputDim <= 0 {
		return fmt.Errorf("regression: input dim %d, need > 0", inputDim)
	}

	//nolint:gosec // G404: math/rand is acceptable for parameter initialization (not security)
	rng := rand.New(rand.NewSource(t.seed))
	t.weight = make([]float64, inputDim)
	for d := range t.weight {
		t.weight[d] = (rng.Float64() - 0.5) * 0.01
	}
	t.bias = 0
	t.built = true
	return nil
}

// Forward returns one prediction per row.
func (t *RegressionTask) Forward(states [][]float64) ([][]float64, error) {
	if !t.built {
		return nil, fmt.Errorf("regression: Forward before Build")
	}

	out := make([][]float64, len(states))
	for i, s := range states {
		if len(s) != len(t.weight) {
			return nil, fmt.Errorf("regression: state dim %d, task expects %d", len(s), len(t.weight))
		}
		z := t.bias
		for d, x := range s {
			z += t.weight[d] * x
		}
		out[i] = []float64{z}
	}
	return out, nil
}

// ComputeLoss returns the mean squared error against the value targets.
func (t *RegressionTask) ComputeLoss(outputs [][]float64, targets Targets) (float64, error) {
	if len(outputs) != len(targets.Values) {
		return 0, fmt.Errorf("regression: %d outputs for %d targets", len(outputs), len(targets.Values))
	}
	if len(outputs) == 0 {
		return 0, nil
	}

	var sum float64
	for i, row := range outputs {
		d := row[0] - targets.Values[i]
		sum += d * d
	}
	return sum / float64(len(outputs)), nil
}

// CalculateMetrics returns mse and rmse for one batch.
func (t *RegressionTask) CalculateMetrics(outputs [][]float64, targets Targets) (map[string]float64, error) {
	mse, err := t.ComputeLoss(outputs, targets)
	if err != nil {
		return nil, err
	}
	return map[string]float64{"mse": mse, "rmse": math.Sqrt(mse)}, nil
}

// Interface compliance.
var (
	_ PredictionTask = (*NextItemTask)(nil)
	_ PredictionTask = (*BinaryClassificationTask)(nil)
	_ PredictionTask = (*RegressionTask)(nil)
)
