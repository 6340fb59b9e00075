// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package sink

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	json "github.com/goccy/go-json"
)

func TestAttentionSinkWritesJSON(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "attention_weights")
	s := NewAttentionSink(dir)

	// Directory creation is lazy: nothing exists before the first write.
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("attention directory exists before first Log: %v", err)
	}

	inputs := [][]int64{{10, 11, 0}, {20, 0, 0}}
	weights := [][]float64{{0.5, 0.5, 0.0}, {1.0, 0.0, 0.0}}
	if err := s.Log("eval step 3", inputs, weights); err != nil {
		t.Fatalf("Log() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "eval_step_3.json")) //nolint:gosec // test-owned temp path
	if err != nil {
		t.Fatalf("read attention record: %v", err)
	}

	var got AttentionRecord
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal attention record: %v", err)
	}

	want := AttentionRecord{
		Description: "eval step 3",
		Inputs:      inputs,
		Weights:     weights,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round-tripped record = %+v, want %+v", got, want)
	}
}

func TestAttentionSinkCollisionSuffix(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := NewAttentionSink(dir)

	for i := 0; i < 3; i++ {
		if err := s.Log("heads", [][]int64{{int64(i)}}, [][]float64{{1}}); err != nil {
			t.Fatalf("Log() %d error = %v", i, err)
		}
	}

	for _, name := range []string{"heads.json", "heads_2.json", "heads_3.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}

	// The third write must not have clobbered the first.
	data, err := os.ReadFile(filepath.Join(dir, "heads.json")) //nolint:gosec // test-owned temp path
	if err != nil {
		t.Fatalf("read first record: %v", err)
	}
	var first AttentionRecord
	if err := json.Unmarshal(data, &first); err != nil {
		t.Fatalf("unmarshal first record: %v", err)
	}
	if first.Inputs[0][0] != 0 {
		t.Errorf("first record inputs = %v, want the first write's payload", first.Inputs)
	}
}

func TestSanitizeDescription(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "spaces and slashes", input: "layer 0/head:1", want: "layer_0_head_1"},
		{name: "kept characters", input: "block-2.attn_out", want: "block-2.attn_out"},
		{name: "empty", input: "", want: "attention"},
		{name: "only separators", input: "@#$", want: "attention"},
		{name: "trimmed edges", input: ".hidden.", want: "hidden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := sanitizeDescription(tt.input); got != tt.want {
				t.Errorf("sanitizeDescription(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
