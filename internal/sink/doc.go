// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

// Package sink persists per-example predictions and attention weights for
// offline inspection.
//
// # Overview
//
// Two side channels hang off the evaluation loop. The prediction sink
// stages one row per valid prediction in DuckDB and copies each
// evaluation pass out as its own parquet partition. The attention sink
// writes one JSON object per caller-supplied description. Neither is
// load-bearing: the guarded wrappers swallow failures behind a circuit
// breaker so observability I/O can never change a run's numerics or
// abort it.
//
// # Protocol
//
// Prediction sinks follow an explicit two-phase protocol: Open binds the
// column schema for the instance's lifetime, Append adds rows matching
// that schema, Close flushes the partition. Appending before Open,
// re-opening, or touching a closed sink is an error. One instance serves
// exactly one evaluation pass.
//
// # Isolation
//
// GuardedPredictionSink and GuardedAttentionSink wrap the raw writers in
// a sony/gobreaker circuit breaker. Errors log a warning and count into
// chronorec_sink_failures_total; after the configured consecutive-failure
// threshold the breaker opens and writes become no-ops until the recovery
// timeout. Guarded methods return nothing, and a nil guarded sink is a
// safe no-op, so callers need no conditional plumbing when a sink is
// disabled.
package sink
