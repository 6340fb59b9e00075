// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package trainer

import (
	"errors"
	"math/rand"
	"sort"

	"github.com/chronorec/chronorec/internal/database"
)

// ErrNoFrequencies is returned when the sampler is asked to draw before
// any distribution has been set.
var ErrNoFrequencies = errors.New("trainer: sampler has no item frequencies")

// Sampler draws negative item ids proportionally to interaction
// frequency. The distribution is refreshed per window from the current
// training span, so sampling popularity tracks the data the model is
// actually fitting.
type Sampler struct {
	ids []int64
	cum []int64
	rng *rand.Rand
}

// NewSampler creates a sampler seeded for reproducible draws. No
// distribution is loaded yet; call SetFrequencies before Sample.
func NewSampler(seed int64) *Sampler {
	//nolint:gosec // G404: math/rand is acceptable for negative sampling (not security)
	return &Sampler{rng: rand.New(rand.NewSource(seed))}
}

// SetFrequencies replaces the sampling distribution. freqs comes from
// database.ItemFrequencies in ascending count order; entries with
// non-positive counts are skipped. An empty input clears the
// distribution.
func (s *Sampler) SetFrequencies(freqs []database.ItemFrequency) {
	s.ids = s.ids[:0]
	s.cum = s.cum[:0]

	var total int64
	for _, f := range freqs {
		if f.Count <= 0 {
			continue
		}
		total += f.Count
		s.ids = append(s.ids, f.ItemID)
		s.cum = append(s.cum, total)
	}
}

// Ready reports whether a non-empty distribution is loaded.
func (s *Sampler) Ready() bool {
	return len(s.ids) > 0
}

// Sample draws n item ids with replacement. Duplicates are expected;
// callers building a candidate set dedup on their side.
func (s *Sampler) Sample(n int) ([]int64, error) {
	if !s.Ready() {
		return nil, ErrNoFrequencies
	}
	if n <= 0 {
		return nil, nil
	}

	total := s.cum[len(s.cum)-1]
	out := make([]int64, n)
	for i := range out {
		r := s.rng.Int63n(total)
		// First cumulative bucket strictly above r owns the draw.
		j := sort.Search(len(s.cum), func(k int) bool { return s.cum[k] > r })
		out[i] = s.ids[j]
	}
	return out, nil
}
