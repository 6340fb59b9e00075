// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/chronorec/chronorec/internal/metrics"
)

// AttentionRecord is one (inputs, attention-weights) pair captured during
// a forward pass.
type AttentionRecord struct {
	Description string      `json:"description"`
	Inputs      [][]int64   `json:"inputs"`
	Weights     [][]float64 `json:"weights"`
}

// AttentionSink writes one JSON object per logged description under a
// fixed directory. The directory is created lazily on the first write.
// Not safe for concurrent use.
type AttentionSink struct {
	dir     string
	created bool
	used    map[string]int
}

// NewAttentionSink prepares a sink rooted at dir, conventionally
// <output>/attention_weights.
func NewAttentionSink(dir string) *AttentionSink {
	return &AttentionSink{
		dir:  dir,
		used: make(map[string]int),
	}
}

// Log persists one record. The file name is the sanitized description; a
// repeated description gets a numeric suffix so earlier steps are never
// overwritten.
func (s *AttentionSink) Log(description string, inputs [][]int64, weights [][]float64) error {
	if !s.created {
		if err := os.MkdirAll(s.dir, 0o750); err != nil {
			return fmt.Errorf("sink: create attention directory %s: %w", s.dir, err)
		}
		s.created = true
	}

	name := sanitizeDescription(description)
	s.used[name]++
	if n := s.used[name]; n > 1 {
		name = fmt.Sprintf("%s_%d", name, n)
		s.used[name]++ // reserve the suffixed stem as well
	}

	record := AttentionRecord{
		Description: description,
		Inputs:      inputs,
		Weights:     weights,
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("sink: marshal attention record %q: %w", description, err)
	}

	path := filepath.Join(s.dir, name+".json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("sink: write attention record %s: %w", path, err)
	}

	metrics.SinkRowsWritten.WithLabelValues("attention").Inc()
	return nil
}

// sanitizeDescription maps an arbitrary description to a safe file stem.
// Anything outside [A-Za-z0-9._-] becomes an underscore; an empty result
// falls back to "attention".
func sanitizeDescription(description string) string {
	var b strings.Builder
	b.Grow(len(description))
	for _, r := range description {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.Trim(b.String(), "._")
	if name == "" {
		return "attention"
	}
	return name
}
