// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

// Package model implements the next-item prediction model: the item
// embedding table, the session encoder, the masking-aware label
// extractor and the scoring head that maps hidden states to
// log-probabilities over the item vocabulary.
//
// # Data Flow
//
// A padded Batch of item sequences flows through an Encoder to produce
// per-position hidden states. ExtractValid drops every padding position
// and pairs the surviving hidden states 1:1 with their next-item
// labels. The NextItemHead scores those states against the vocabulary,
// optionally sharing its projection weights with the embedding table
// (weight tying) and optionally temperature-scaling logits before the
// log-softmax.
//
// # Weight Tying
//
// When tying is enabled the head never copies the embedding matrix: it
// aliases the table's backing storage, captured at Bind time. The table
// is the single owner; the head is a borrower and must not outlive it.
// Binding fails fast when the owner has not been constructed.
//
// # Determinism
//
// All parameter initialization is driven by a seeded RNG, so two runs
// with the same seed and data produce identical models.
package model
