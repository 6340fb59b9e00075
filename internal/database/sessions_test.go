// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/chronorec/chronorec/internal/database/query"
	"github.com/chronorec/chronorec/internal/schema"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()

	s := &schema.Schema{Features: []schema.Feature{
		{Name: "item_ids", Dtype: schema.DtypeInt64, Cardinality: 100, Tags: []string{schema.TagItemID, schema.TagList}},
		{Name: "day_idx", Dtype: schema.DtypeInt64},
		{Name: "prices", Dtype: schema.DtypeFloat64, Tags: []string{schema.TagList}},
	}}
	if err := s.Validate(); err != nil {
		t.Fatalf("test schema invalid: %v", err)
	}
	return s
}

// writeSessionsParquet writes the standard three-session fixture through
// DuckDB itself: a seven-item session (truncation case), a two-item
// session, and a one-item session the minimum-length filter must drop.
func writeSessionsParquet(t *testing.T, db *DB, path string) {
	t.Helper()

	q := fmt.Sprintf(`COPY (
		SELECT * FROM (VALUES
			([10, 11, 12, 13, 14, 15, 16]::BIGINT[], 3::BIGINT, [1.5, 2.5]::DOUBLE[]),
			([20, 21]::BIGINT[], 4::BIGINT, [3.5]::DOUBLE[]),
			([30]::BIGINT[], 5::BIGINT, [9.9]::DOUBLE[])
		) AS t(item_ids, day_idx, prices)
	) TO %s (FORMAT PARQUET)`, query.Literal(path))

	if _, err := db.Conn().Exec(q); err != nil {
		t.Fatalf("write fixture parquet: %v", err)
	}
}

func TestLoadSessions(t *testing.T) {
	db := setupTestDB(t)
	sch := testSchema(t)

	path := filepath.Join(t.TempDir(), "train.parquet")
	writeSessionsParquet(t, db, path)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	meta := []schema.Feature{sch.Features[1], sch.Features[2]}
	sessions, err := db.LoadSessions(ctx, path, sch, meta)
	if err != nil {
		t.Fatalf("LoadSessions() error = %v", err)
	}

	want := []Session{
		{
			Items: []int64{10, 11, 12, 13, 14},
			Meta:  []MetaValue{{Int: 3}, {Float: 1.5}},
		},
		{
			Items: []int64{20, 21},
			Meta:  []MetaValue{{Int: 4}, {Float: 3.5}},
		},
	}
	if !reflect.DeepEqual(sessions, want) {
		t.Errorf("LoadSessions() = %+v, want %+v", sessions, want)
	}
}

func TestLoadSessionsNoMeta(t *testing.T) {
	db := setupTestDB(t)
	sch := testSchema(t)

	path := filepath.Join(t.TempDir(), "train.parquet")
	writeSessionsParquet(t, db, path)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sessions, err := db.LoadSessions(ctx, path, sch, nil)
	if err != nil {
		t.Fatalf("LoadSessions() error = %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("LoadSessions() returned %d sessions, want 2", len(sessions))
	}
	for i, s := range sessions {
		if len(s.Meta) != 0 {
			t.Errorf("session %d Meta = %v, want empty", i, s.Meta)
		}
	}
}

func TestLoadSessionsMissingItemTag(t *testing.T) {
	db := setupTestDB(t)

	// Deliberately unvalidated: no feature carries the item_id tag.
	sch := &schema.Schema{Features: []schema.Feature{
		{Name: "day_idx", Dtype: schema.DtypeInt64},
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := db.LoadSessions(ctx, "unused.parquet", sch, nil)
	if !errors.Is(err, schema.ErrNoItemID) {
		t.Fatalf("LoadSessions() without item feature = %v, want ErrNoItemID", err)
	}
}

func TestLoadSessionsScalarItemColumn(t *testing.T) {
	db := setupTestDB(t)

	sch := &schema.Schema{Features: []schema.Feature{
		{Name: "item_ids", Dtype: schema.DtypeInt64, Cardinality: 100, Tags: []string{schema.TagItemID}},
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := db.LoadSessions(ctx, "unused.parquet", sch, nil)
	if err == nil {
		t.Fatal("LoadSessions() accepted a non-list item feature")
	}
}

func TestItemFrequencies(t *testing.T) {
	db := setupTestDB(t)
	sch := testSchema(t)

	dir := t.TempDir()
	first := filepath.Join(dir, "0000.parquet")
	writeSessionsParquet(t, db, first)

	second := filepath.Join(dir, "0001.parquet")
	q := fmt.Sprintf(`COPY (
		SELECT * FROM (VALUES
			([10, 10, 20]::BIGINT[], 6::BIGINT, [0.0]::DOUBLE[])
		) AS t(item_ids, day_idx, prices)
	) TO %s (FORMAT PARQUET)`, query.Literal(second))
	if _, err := db.Conn().Exec(q); err != nil {
		t.Fatalf("write second fixture: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	freqs, err := db.ItemFrequencies(ctx, []string{first, second}, sch)
	if err != nil {
		t.Fatalf("ItemFrequencies() error = %v", err)
	}

	// First file contributes 10..14 (truncated), 20, 21; the one-item
	// session is dropped. Second file adds 10 twice and 20 once.
	want := []ItemFrequency{
		{ItemID: 11, Count: 1},
		{ItemID: 12, Count: 1},
		{ItemID: 13, Count: 1},
		{ItemID: 14, Count: 1},
		{ItemID: 21, Count: 1},
		{ItemID: 20, Count: 2},
		{ItemID: 10, Count: 3},
	}
	if !reflect.DeepEqual(freqs, want) {
		t.Errorf("ItemFrequencies() = %+v, want %+v", freqs, want)
	}
}

func TestItemFrequenciesNoPaths(t *testing.T) {
	db := setupTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := db.ItemFrequencies(ctx, nil, testSchema(t)); err == nil {
		t.Fatal("ItemFrequencies() accepted an empty path list")
	}
}
