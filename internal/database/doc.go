// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

// Package database provides the DuckDB data layer for Chronorec.
//
// # Overview
//
// Interaction logs arrive as time-partitioned parquet files, one directory
// per time index. This package reads them, aggregates item frequencies for
// the negative sampler, and persists per-window evaluation results for the
// end-of-run export. It also hands out the raw connection so the prediction
// sink can stage and COPY its own parquet partitions through the same
// database.
//
// # Architecture
//
// The package is organized into domain-specific files:
//
//   - database.go: lifecycle (open, pool configuration, checkpoint, close)
//   - partitions.go: time index to parquet path resolution and pre-flight
//     existence checks
//   - sessions.go: session loading via read_parquet with list columns
//     exploded to scalar rows (unnest + generate_subscripts)
//   - frequencies.go: corpus-wide item interaction counts, ascending
//   - results.go: the window_results table, idempotent per-window inserts
//     and the pivoted CSV export via COPY
//   - errors.go: sentinel errors and close helpers
//   - query/: identifier and literal quoting for statements that cannot
//     bind every fragment
//
// # Database Technology
//
// The store is embedded DuckDB (github.com/duckdb/duckdb-go/v2), an
// OLAP engine with native parquet scans, list types, PIVOT, and
// COPY ... TO for parquet/CSV output. Extension auto-install and
// auto-load are disabled; nothing here needs an extension.
//
// # Concurrency
//
// The *sql.DB pool is safe for concurrent use. Chronorec's controller is
// sequential, so contention only comes from the debug listener and the
// prediction sink, both of which are read-mostly or staged.
package database
