// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/chronorec/chronorec/internal/database/query"
	"github.com/chronorec/chronorec/internal/metrics"
	"github.com/chronorec/chronorec/internal/schema"
)

// ItemFrequency pairs an item id with its interaction count.
type ItemFrequency struct {
	ItemID int64
	Count  int64
}

// ItemFrequencies counts item interactions across the given partition
// files, ordered by ascending count with ties broken by ascending id.
// The popularity sampler consumes the list as-is and relies on the
// ascending order.
//
// The same session filters as LoadSessions apply (minimum length,
// truncation), so the sampling distribution matches what training
// actually sees.
func (db *DB) ItemFrequencies(ctx context.Context, paths []string, sch *schema.Schema) (freqs []ItemFrequency, err error) {
	start := time.Now()
	defer func() { metrics.ObserveDBQuery("item_frequencies", start, err) }()

	if len(paths) == 0 {
		return nil, fmt.Errorf("item frequencies: no partition files")
	}

	item, err := sch.ItemID()
	if err != nil {
		return nil, fmt.Errorf("item frequencies: %w", err)
	}
	if !item.HasTag(schema.TagList) {
		return nil, fmt.Errorf("item frequencies: item feature %q is not a list column", item.Name)
	}

	ctx, cancel := db.scanContext(ctx)
	defer cancel()

	q := fmt.Sprintf(`
		SELECT item, count(*) AS freq
		FROM (
			SELECT
				generate_subscripts(items, 1) AS pos,
				unnest(items) AS item
			FROM (
				SELECT CAST(%[1]s AS BIGINT[]) AS items
				FROM read_parquet(%[2]s)
				WHERE len(%[1]s) >= ?
			)
		)
		WHERE pos <= ?
		GROUP BY item
		ORDER BY freq ASC, item ASC
	`, query.Ident(item.Name), query.PathList(paths))

	rows, err := db.conn.QueryContext(ctx, q, db.cfg.MinSessionLen, db.cfg.MaxSequenceLen)
	if err != nil {
		return nil, fmt.Errorf("query item frequencies: %w", err)
	}
	defer closeWithLog(rows, "frequency rows")

	for rows.Next() {
		var f ItemFrequency
		if err := rows.Scan(&f.ItemID, &f.Count); err != nil {
			return nil, fmt.Errorf("scan item frequency: %w", err)
		}
		freqs = append(freqs, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item frequencies: %w", err)
	}

	return freqs, nil
}
