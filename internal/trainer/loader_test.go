// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package trainer

import (
	"errors"
	"reflect"
	"testing"

	"github.com/chronorec/chronorec/internal/database"
	"github.com/chronorec/chronorec/internal/schema"
)

func TestLoaderBatchShape(t *testing.T) {
	t.Parallel()

	sessions := []database.Session{
		{Items: []int64{1, 2, 3, 4}},
		{Items: []int64{5, 6}},
		{Items: []int64{7, 8, 9}},
	}
	l := NewLoader(sessions, nil, 2)

	if got := l.Batches(); got != 2 {
		t.Fatalf("Batches() = %d, want 2", got)
	}

	first, err := l.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}

	// Rows pad to the longest session in the batch; labels shift the
	// items left by one and pad the tail.
	wantItems := [][]int64{{1, 2, 3, 4}, {5, 6, 0, 0}}
	wantLabels := [][]int64{{2, 3, 4, 0}, {6, 0, 0, 0}}
	if !reflect.DeepEqual(first.Items, wantItems) {
		t.Errorf("Items = %v, want %v", first.Items, wantItems)
	}
	if !reflect.DeepEqual(first.Labels, wantLabels) {
		t.Errorf("Labels = %v, want %v", first.Labels, wantLabels)
	}

	second, err := l.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if second.Rows() != 1 || second.SeqLen() != 3 {
		t.Errorf("second batch %dx%d, want 1x3", second.Rows(), second.SeqLen())
	}
}

func TestLoaderSinglePass(t *testing.T) {
	t.Parallel()

	l := NewLoader([]database.Session{{Items: []int64{1, 2}}}, nil, 4)

	if _, err := l.Next(); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := l.Next(); !errors.Is(err, ErrExhausted) {
			t.Fatalf("Next() after exhaustion error = %v, want ErrExhausted", err)
		}
	}
}

func TestLoaderEmpty(t *testing.T) {
	t.Parallel()

	l := NewLoader(nil, nil, 8)
	if got := l.Batches(); got != 0 {
		t.Errorf("Batches() = %d, want 0", got)
	}
	if _, err := l.Next(); !errors.Is(err, ErrExhausted) {
		t.Errorf("Next() error = %v, want ErrExhausted", err)
	}
}

func TestLoaderMetaColumns(t *testing.T) {
	t.Parallel()

	meta := []schema.Feature{
		{Name: "day_idx", Dtype: schema.DtypeInt64},
		{Name: "price", Dtype: schema.DtypeFloat64},
	}
	sessions := []database.Session{
		{Items: []int64{1, 2}, Meta: []database.MetaValue{{Int: 3}, {Float: 1.5}}},
		{Items: []int64{4, 5}, Meta: []database.MetaValue{{Int: 9}, {Float: 2.5}}},
	}

	b, err := NewLoader(sessions, meta, 2).Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}

	days, ok := b.Meta["day_idx"]
	if !ok {
		t.Fatal("day_idx column missing")
	}
	if !reflect.DeepEqual(days.Ints, []int64{3, 9}) {
		t.Errorf("day_idx = %v, want [3 9]", days.Ints)
	}

	prices, ok := b.Meta["price"]
	if !ok {
		t.Fatal("price column missing")
	}
	if !reflect.DeepEqual(prices.Floats, []float64{1.5, 2.5}) {
		t.Errorf("price = %v, want [1.5 2.5]", prices.Floats)
	}
}

func TestLoaderLabelAlignment(t *testing.T) {
	t.Parallel()

	// Every input position t must be labeled with the item at t+1: the
	// last real position never yields an example.
	b, err := NewLoader([]database.Session{{Items: []int64{10, 20, 30}}}, nil, 1).Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}

	for pos := 0; pos < 2; pos++ {
		if b.Labels[0][pos] != b.Items[0][pos+1] {
			t.Errorf("label at %d = %d, want %d", pos, b.Labels[0][pos], b.Items[0][pos+1])
		}
	}
	if b.Labels[0][2] != 0 {
		t.Errorf("final label = %d, want padding", b.Labels[0][2])
	}
}
