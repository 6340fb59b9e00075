// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

// Package query provides SQL construction utilities for the database package.
//
// DuckDB table functions such as read_parquet take file paths where the
// driver cannot always bind placeholders, and the interaction-log column
// names come from the feature schema rather than from source code. This
// package centralizes the quoting rules so every caller escapes identifiers
// and literals the same way.
//
// # Overview
//
//	query.Ident("item_ids")                  // "item_ids"
//	query.Literal("data/0001/train.parquet") // 'data/0001/train.parquet'
//	query.PathList([]string{"a", "b"})       // ['a', 'b']
//	query.Placeholders(3)                    // ?, ?, ?
//
// Identifiers are double-quoted with embedded quotes doubled; string
// literals are single-quoted the same way. PathList renders a DuckDB list
// literal for multi-file read_parquet scans. Values always bind through
// placeholders; only identifiers and file paths are rendered inline.
package query
