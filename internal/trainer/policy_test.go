// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package trainer

import (
	"reflect"
	"testing"

	"github.com/chronorec/chronorec/internal/config"
)

func TestNewPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     config.WindowConfig
		wantErr bool
	}{
		{
			name: "incremental",
			cfg:  config.WindowConfig{Policy: config.PolicyIncremental, StartIndex: 0, FinalIndex: 3},
		},
		{
			name: "sliding",
			cfg:  config.WindowConfig{Policy: config.PolicySliding, Size: 2, StartIndex: 0, FinalIndex: 4},
		},
		{
			name:    "unknown policy",
			cfg:     config.WindowConfig{Policy: "rolling", StartIndex: 0, FinalIndex: 3},
			wantErr: true,
		},
		{
			name:    "no index to evaluate",
			cfg:     config.WindowConfig{Policy: config.PolicySliding, Size: 4, StartIndex: 0, FinalIndex: 3},
			wantErr: true,
		},
		{
			name:    "final equals start",
			cfg:     config.WindowConfig{Policy: config.PolicyIncremental, StartIndex: 2, FinalIndex: 2},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewPolicy(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewPolicy() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPolicyWindowsIncremental(t *testing.T) {
	t.Parallel()

	p, err := NewPolicy(config.WindowConfig{
		Policy:     config.PolicyIncremental,
		Size:       5, // ignored by the incremental policy
		StartIndex: 0,
		FinalIndex: 3,
	})
	if err != nil {
		t.Fatalf("NewPolicy() error = %v", err)
	}

	want := []Window{
		{TrainIndices: []int{0}, EvalIndex: 1},
		{TrainIndices: []int{1}, EvalIndex: 2},
		{TrainIndices: []int{2}, EvalIndex: 3},
	}
	if got := p.Windows(); !reflect.DeepEqual(got, want) {
		t.Errorf("Windows() = %v, want %v", got, want)
	}
	if p.Size() != 1 {
		t.Errorf("Size() = %d, want 1", p.Size())
	}
}

func TestPolicyWindowsSliding(t *testing.T) {
	t.Parallel()

	p, err := NewPolicy(config.WindowConfig{
		Policy:     config.PolicySliding,
		Size:       2,
		StartIndex: 0,
		FinalIndex: 4,
	})
	if err != nil {
		t.Fatalf("NewPolicy() error = %v", err)
	}

	// The last window must evaluate exactly the final index; a window
	// whose evaluation index would overshoot is never produced.
	want := []Window{
		{TrainIndices: []int{0, 1}, EvalIndex: 2},
		{TrainIndices: []int{1, 2}, EvalIndex: 3},
		{TrainIndices: []int{2, 3}, EvalIndex: 4},
	}
	if got := p.Windows(); !reflect.DeepEqual(got, want) {
		t.Errorf("Windows() = %v, want %v", got, want)
	}
}

func TestPolicyEvalIndices(t *testing.T) {
	t.Parallel()

	p, err := NewPolicy(config.WindowConfig{
		Policy:     config.PolicyIncremental,
		StartIndex: 2,
		FinalIndex: 5,
	})
	if err != nil {
		t.Fatalf("NewPolicy() error = %v", err)
	}

	want := []int{3, 4, 5}
	if got := p.EvalIndices(); !reflect.DeepEqual(got, want) {
		t.Errorf("EvalIndices() = %v, want %v", got, want)
	}
}
