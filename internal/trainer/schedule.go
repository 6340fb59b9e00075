// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package trainer

import (
	"github.com/chronorec/chronorec/internal/config"
)

// Schedule computes the learning rate for each optimizer step.
//
// Both schedules ramp linearly from zero over the warmup steps. After
// warmup the constant schedule holds the base rate; the linear schedule
// decays toward zero at the horizon, which the controller sets to the
// total steps planned so far. The cursor survives checkpoints so a
// resumed run continues exactly where the schedule left off.
type Schedule struct {
	kind    string
	base    float64
	warmup  int64
	horizon int64
	step    int64
}

// NewSchedule builds the schedule from the training configuration.
func NewSchedule(cfg config.TrainingConfig) *Schedule {
	return &Schedule{
		kind:   cfg.Schedule,
		base:   cfg.LearningRate,
		warmup: int64(cfg.WarmupSteps),
	}
}

// Next returns the learning rate for the next step and advances the
// cursor.
func (s *Schedule) Next() float64 {
	lr := s.at(s.step)
	s.step++
	return lr
}

// at computes the rate for a zero-based step without moving the cursor.
func (s *Schedule) at(step int64) float64 {
	if s.warmup > 0 && step < s.warmup {
		return s.base * float64(step+1) / float64(s.warmup)
	}
	if s.kind != "linear" || s.horizon <= s.warmup {
		return s.base
	}
	remaining := s.horizon - step
	if remaining < 0 {
		remaining = 0
	}
	return s.base * float64(remaining) / float64(s.horizon-s.warmup)
}

// SetHorizon fixes the decay endpoint for the linear schedule, in total
// optimizer steps from the cursor origin. The constant schedule ignores
// it.
func (s *Schedule) SetHorizon(steps int64) {
	s.horizon = steps
}

// Reset rewinds the cursor to zero, restoring the initial rate. The
// horizon is left for the caller to re-fix.
func (s *Schedule) Reset() {
	s.step = 0
}

// Step returns the cursor, persisted in checkpoints and trainer state.
func (s *Schedule) Step() int64 {
	return s.step
}

// SetStep restores a cursor from a checkpoint.
func (s *Schedule) SetStep(step int64) {
	s.step = step
}
