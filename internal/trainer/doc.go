// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

// Package trainer drives the incremental time-window loop.
//
// # Overview
//
// A run walks the partitioned interaction log one window at a time. For
// each window the controller trains the model on the window's indices,
// evaluates on the training partition and on the held-out next index,
// records both metric sets under the evaluation index, checkpoints, and
// moves on. After the last window it averages the per-window results
// over time and writes the run artifacts.
//
// # Architecture
//
// The package is organized into domain-specific files:
//
//   - policy.go: window enumeration for the incremental and sliding
//     policies
//   - loader.go: single-pass minibatch construction from loaded sessions
//   - schedule.go: learning-rate schedules with an explicit cursor
//   - sampler.go: popularity-proportional negative sampling
//   - train.go: the per-window SGD pass
//   - eval.go: the per-pass ranking evaluation with bounded fan-out
//   - results.go: results-over-time bookkeeping and averages
//   - artifacts.go: text tables, trainer state and the JSON-lines run log
//   - controller.go: the window loop itself, pre-flight, resume and
//     finalization
//
// # Concurrency
//
// The controller is strictly sequential across windows. Inside one
// evaluation pass, batch scoring fans out over a bounded errgroup while
// metric aggregation stays on the collecting side. Model parameters take
// the usual train/predict RWMutex discipline so the debug listener can
// read status while a pass is running.
package trainer
