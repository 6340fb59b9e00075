// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/chronorec/chronorec/internal/database/query"
	"github.com/chronorec/chronorec/internal/metrics"
	"github.com/chronorec/chronorec/internal/schema"
)

// Session is one interaction sequence read from a partition, already
// filtered and truncated per the data configuration.
type Session struct {
	// Items holds the clicked item ids in session order, at most
	// MaxSequenceLen of them.
	Items []int64

	// Meta holds one logged side-feature value per feature requested from
	// LoadSessions, in request order. Never used in numerics.
	Meta []MetaValue
}

// MetaValue is one side-feature value. Exactly one of Int/Float is
// meaningful, per the feature's declared dtype. A NULL in the source
// data leaves the zero value.
type MetaValue struct {
	Int   int64
	Float float64
}

// LoadSessions reads every session from one partition parquet file.
//
// The item feature must be a list column; each source row is one session.
// Sessions shorter than MinSessionLen are dropped and the rest truncated
// to MaxSequenceLen, both inside DuckDB. For each meta feature the first
// value of the session is captured (list features take element one,
// scalar features the column itself).
//
// Every call is a full scan. Callers wanting a second pass over the same
// partition load it again; sessions are never cached here.
func (db *DB) LoadSessions(ctx context.Context, path string, sch *schema.Schema, meta []schema.Feature) (sessions []Session, err error) {
	start := time.Now()
	defer func() { metrics.ObserveDBQuery("load_sessions", start, err) }()

	item, err := sch.ItemID()
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	if !item.HasTag(schema.TagList) {
		return nil, fmt.Errorf("load sessions: item feature %q is not a list column", item.Name)
	}

	ctx, cancel := db.scanContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, sessionQuery(path, item, meta),
		db.cfg.MinSessionLen, db.cfg.MaxSequenceLen)
	if err != nil {
		return nil, fmt.Errorf("query sessions %s: %w", path, err)
	}
	defer closeWithLog(rows, "session rows")

	var (
		rid, itemID int64
		metaInts    = make([]sql.NullInt64, len(meta))
		metaFloats  = make([]sql.NullFloat64, len(meta))
	)
	dests := make([]any, 0, 2+len(meta))
	dests = append(dests, &rid, &itemID)
	for i, f := range meta {
		if f.Dtype == schema.DtypeFloat64 {
			dests = append(dests, &metaFloats[i])
		} else {
			dests = append(dests, &metaInts[i])
		}
	}

	last := int64(-1)
	for rows.Next() {
		if err := rows.Scan(dests...); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}

		if rid != last {
			values := make([]MetaValue, len(meta))
			for i, f := range meta {
				if f.Dtype == schema.DtypeFloat64 {
					values[i] = MetaValue{Float: metaFloats[i].Float64}
				} else {
					values[i] = MetaValue{Int: metaInts[i].Int64}
				}
			}
			sessions = append(sessions, Session{Meta: values})
			last = rid
		}

		s := &sessions[len(sessions)-1]
		s.Items = append(s.Items, itemID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions %s: %w", path, err)
	}

	return sessions, nil
}

// sessionQuery builds the scalar-only scan for one partition. Lists are
// exploded with unnest/generate_subscripts so the driver only ever sees
// BIGINT and DOUBLE columns. Placeholders: min session length, max
// sequence length.
func sessionQuery(path string, item schema.Feature, meta []schema.Feature) string {
	var metaSelect strings.Builder
	for i, f := range meta {
		fmt.Fprintf(&metaSelect, ",\n\t\t\t%s AS meta_%d", metaExpr(f), i)
	}
	metaCols := ""
	for i := range meta {
		metaCols += fmt.Sprintf(", meta_%d", i)
	}

	return fmt.Sprintf(`
		WITH sessions AS (
			SELECT
				row_number() OVER () AS rid,
				CAST(%[1]s AS BIGINT[]) AS items%[2]s
			FROM read_parquet(%[3]s)
			WHERE len(%[1]s) >= ?
		)
		SELECT rid, item%[4]s
		FROM (
			SELECT
				rid,
				generate_subscripts(items, 1) AS pos,
				unnest(items) AS item%[4]s
			FROM sessions
		)
		WHERE pos <= ?
		ORDER BY rid, pos
	`,
		query.Ident(item.Name), metaSelect.String(), query.Literal(path), metaCols)
}

// metaExpr renders the first-value expression for one side feature, cast
// to the scan type its dtype maps to.
func metaExpr(f schema.Feature) string {
	expr := query.Ident(f.Name)
	if f.HasTag(schema.TagList) {
		expr += "[1]"
	}
	if f.Dtype == schema.DtypeFloat64 {
		return fmt.Sprintf("CAST(%s AS DOUBLE)", expr)
	}
	return fmt.Sprintf("CAST(%s AS BIGINT)", expr)
}
