// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package trainer

import (
	"fmt"

	"github.com/chronorec/chronorec/internal/config"
)

// Window is one step of the run: the time indices trained on and the
// held-out index evaluated afterwards. EvalIndex is always the index
// immediately after the training span.
type Window struct {
	TrainIndices []int
	EvalIndex    int
}

// Policy enumerates the windows of a run. The policy, span size and
// index range are fixed at construction; both policies terminate when
// the evaluation index would exceed the final index.
type Policy struct {
	name  string
	size  int
	start int
	final int
}

// NewPolicy validates the window configuration and builds the policy.
// The incremental policy always has span 1 regardless of the configured
// size.
func NewPolicy(cfg config.WindowConfig) (*Policy, error) {
	size := cfg.Size
	switch cfg.Policy {
	case config.PolicyIncremental:
		size = 1
	case config.PolicySliding:
		if size < 1 {
			return nil, fmt.Errorf("trainer: sliding window size %d, need >= 1", size)
		}
	default:
		return nil, fmt.Errorf("trainer: unknown window policy %q", cfg.Policy)
	}
	if cfg.FinalIndex < cfg.StartIndex+size {
		return nil, fmt.Errorf("trainer: window span [%d, %d] leaves no index to evaluate (final %d)",
			cfg.StartIndex, cfg.StartIndex+size-1, cfg.FinalIndex)
	}

	return &Policy{
		name:  cfg.Policy,
		size:  size,
		start: cfg.StartIndex,
		final: cfg.FinalIndex,
	}, nil
}

// Name returns the policy name ("incremental" or "sliding").
func (p *Policy) Name() string {
	return p.name
}

// Size returns the training span size.
func (p *Policy) Size() int {
	return p.size
}

// Windows returns every window of the run in order. The first window
// starts at the configured start index; the last one evaluates exactly
// the final index.
func (p *Policy) Windows() []Window {
	var windows []Window
	for start := p.start; start+p.size <= p.final; start++ {
		w := Window{
			TrainIndices: make([]int, p.size),
			EvalIndex:    start + p.size,
		}
		for i := range w.TrainIndices {
			w.TrainIndices[i] = start + i
		}
		windows = append(windows, w)
	}
	return windows
}

// EvalIndices returns the evaluation index of every window in order.
func (p *Policy) EvalIndices() []int {
	windows := p.Windows()
	indices := make([]int, len(windows))
	for i, w := range windows {
		indices[i] = w.EvalIndex
	}
	return indices
}
