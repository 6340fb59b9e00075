// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package database

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/chronorec/chronorec/internal/metrics"
)

// createResultsTable prepares the narrow results-over-time table. Metric
// names carry their phase prefix (train_loss, eval_ndcg_10, ...), so one
// eval index holds the whole window's merged result set.
func (db *DB) createResultsTable(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS window_results (
			eval_index  INTEGER NOT NULL,
			metric      VARCHAR NOT NULL,
			value       DOUBLE NOT NULL,
			recorded_at TIMESTAMP NOT NULL DEFAULT current_timestamp
		)`

	if _, err := db.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create window_results: %w", err)
	}
	return nil
}

// RecordResults stores one window's merged metrics under its evaluation
// index. Re-recording an index replaces its rows, so a resumed run that
// repeats its last window does not double-count in the export.
func (db *DB) RecordResults(ctx context.Context, evalIndex int, results map[string]float64) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveDBQuery("record_results", start, err) }()

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record results: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM window_results WHERE eval_index = ?", evalIndex); err != nil {
		return fmt.Errorf("clear eval index %d: %w", evalIndex, err)
	}

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err = tx.ExecContext(ctx,
			"INSERT INTO window_results (eval_index, metric, value) VALUES (?, ?, ?)",
			evalIndex, name, results[name]); err != nil {
			return fmt.Errorf("insert result %s@%d: %w", name, evalIndex, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit record results: %w", err)
	}
	return nil
}

// Results reads the whole results-over-time table back, keyed by eval
// index then metric name.
func (db *DB) Results(ctx context.Context) (map[int]map[string]float64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		"SELECT eval_index, metric, value FROM window_results ORDER BY eval_index, metric")
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer closeWithLog(rows, "result rows")

	out := make(map[int]map[string]float64)
	for rows.Next() {
		var (
			evalIndex int
			metric    string
			value     float64
		)
		if err := rows.Scan(&evalIndex, &metric, &value); err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		if out[evalIndex] == nil {
			out[evalIndex] = make(map[string]float64)
		}
		out[evalIndex][metric] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}

	return out, nil
}

// ExportResultsCSV pivots the results table to one row per eval index and
// one column per metric, then copies it out as CSV with a header row.
func (db *DB) ExportResultsCSV(ctx context.Context, path string) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveDBQuery("export_csv", start, err) }()

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	const q = `
		COPY (
			SELECT * FROM (
				PIVOT window_results ON metric USING first(value) GROUP BY eval_index
			)
			ORDER BY eval_index
		) TO ? (FORMAT CSV, HEADER)`

	if _, err = db.conn.ExecContext(ctx, q, path); err != nil {
		return fmt.Errorf("export results to %s: %w", path, err)
	}
	return nil
}
