// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package sink

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// stubSink counts calls and fails on demand.
type stubSink struct {
	openErr   error
	appendErr error
	closeErr  error

	opens   int
	appends int
	closes  int
}

func (s *stubSink) Open(RowSchema) error {
	s.opens++
	return s.openErr
}

func (s *stubSink) Append([]Row) error {
	s.appends++
	return s.appendErr
}

func (s *stubSink) Close() error {
	s.closes++
	return s.closeErr
}

var _ Sink = (*stubSink)(nil)

func TestGuardedPredictionSinkPassesThrough(t *testing.T) {
	t.Parallel()

	stub := &stubSink{}
	g := NewGuardedPredictionSink(stub, 3, time.Minute)

	g.Open(RowSchema{MetricKeys: []string{"ndcg_10"}})
	g.Append([]Row{{DatasetType: "eval"}})
	g.Close()

	if stub.opens != 1 || stub.appends != 1 || stub.closes != 1 {
		t.Errorf("calls = open %d append %d close %d, want 1/1/1",
			stub.opens, stub.appends, stub.closes)
	}
	if got := g.State(); got != "closed" {
		t.Errorf("State() = %q, want closed", got)
	}
}

func TestGuardedPredictionSinkSkipsEmptyAppend(t *testing.T) {
	t.Parallel()

	stub := &stubSink{}
	g := NewGuardedPredictionSink(stub, 3, time.Minute)

	g.Append(nil)
	g.Append([]Row{})

	if stub.appends != 0 {
		t.Errorf("empty appends reached the inner sink %d times", stub.appends)
	}
}

func TestGuardedPredictionSinkOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	stub := &stubSink{appendErr: errors.New("disk full")}
	g := NewGuardedPredictionSink(stub, 3, time.Minute)

	rows := []Row{{DatasetType: "eval"}}
	for i := 0; i < 3; i++ {
		g.Append(rows)
	}
	if got := g.State(); got != "open" {
		t.Fatalf("State() after 3 failures = %q, want open", got)
	}

	// Open breaker short-circuits: the inner sink sees nothing more.
	g.Append(rows)
	g.Append(rows)
	if stub.appends != 3 {
		t.Errorf("inner sink saw %d appends after breaker opened, want 3", stub.appends)
	}
}

func TestGuardedPredictionSinkRecovers(t *testing.T) {
	t.Parallel()

	stub := &stubSink{appendErr: errors.New("transient")}
	g := NewGuardedPredictionSink(stub, 2, 50*time.Millisecond)

	rows := []Row{{DatasetType: "eval"}}
	g.Append(rows)
	g.Append(rows)
	if got := g.State(); got != "open" {
		t.Fatalf("State() = %q, want open", got)
	}

	stub.appendErr = nil
	time.Sleep(80 * time.Millisecond)

	g.Append(rows)
	if got := g.State(); got != "closed" {
		t.Errorf("State() after successful trial = %q, want closed", got)
	}
	if stub.appends != 3 {
		t.Errorf("inner sink saw %d appends, want 3", stub.appends)
	}
}

func TestGuardedSinksNilReceivers(t *testing.T) {
	t.Parallel()

	var p *GuardedPredictionSink
	p.Open(RowSchema{})
	p.Append([]Row{{}})
	p.Close()
	if got := p.State(); got != "closed" {
		t.Errorf("nil prediction sink State() = %q, want closed", got)
	}
	if p.Enabled() {
		t.Error("nil prediction sink Enabled() = true, want false")
	}

	var a *GuardedAttentionSink
	a.Log("anything", nil, nil)
	if got := a.State(); got != "closed" {
		t.Errorf("nil attention sink State() = %q, want closed", got)
	}
	if a.Enabled() {
		t.Error("nil attention sink Enabled() = true, want false")
	}

	if !NewGuardedPredictionSink(nil, 3, time.Second).Enabled() {
		t.Error("wrapped prediction sink Enabled() = false, want true")
	}
	if !NewGuardedAttentionSink(nil, 3, time.Second).Enabled() {
		t.Error("wrapped attention sink Enabled() = false, want true")
	}
}

func TestGuardedAttentionSinkIsolatesFailures(t *testing.T) {
	t.Parallel()

	// Point the sink's directory at a regular file so MkdirAll fails.
	base := t.TempDir()
	blocker := filepath.Join(base, "not_a_dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	g := NewGuardedAttentionSink(NewAttentionSink(filepath.Join(blocker, "attn")), 2, time.Minute)

	g.Log("a", nil, nil)
	g.Log("b", nil, nil)
	if got := g.State(); got != "open" {
		t.Errorf("State() after repeated failures = %q, want open", got)
	}

	// Still a no-op, never a panic or an abort.
	g.Log("c", nil, nil)
}
