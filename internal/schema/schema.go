// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

// Package schema describes the features present in the interaction logs.
//
// A schema is a declarative mapping from feature name to dtype, cardinality
// and tags. The feature tagged "item_id" is the label feature for next-item
// prediction; its cardinality defines the scoring vocabulary size. Schemas
// are typically loaded from a YAML file next to the dataset:
//
//	features:
//	  - name: item_id_seq
//	    dtype: int64
//	    cardinality: 52742
//	    tags: [item_id, list]
//	  - name: category_seq
//	    dtype: int64
//	    cardinality: 336
//	    tags: [list]
//	  - name: device_type
//	    dtype: int64
//	    cardinality: 5
package schema

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Dtype identifies the storage type of a feature.
type Dtype string

const (
	// DtypeInt64 is used for categorical and id-like features.
	DtypeInt64 Dtype = "int64"
	// DtypeFloat64 is used for continuous features.
	DtypeFloat64 Dtype = "float64"
)

// Reserved tags.
const (
	// TagItemID marks the label feature for next-item prediction.
	// Exactly one feature per schema must carry it.
	TagItemID = "item_id"
	// TagList marks per-session sequence features (one list per row).
	TagList = "list"
)

// ErrNoItemID is returned when a schema has no feature tagged item_id.
var ErrNoItemID = errors.New("schema: no feature tagged item_id")

// Feature describes a single column of the interaction logs.
type Feature struct {
	// Name is the column name in the source files.
	Name string `yaml:"name"`

	// Dtype is the storage type: int64 or float64.
	Dtype Dtype `yaml:"dtype"`

	// Cardinality is the number of distinct values for categorical
	// features, including the padding id 0. Zero for continuous features.
	Cardinality int64 `yaml:"cardinality"`

	// Tags carries feature roles (item_id, list, ...).
	Tags []string `yaml:"tags"`
}

// HasTag reports whether the feature carries the given tag.
func (f Feature) HasTag(tag string) bool {
	for _, t := range f.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Schema is an ordered set of feature descriptions.
type Schema struct {
	Features []Feature `yaml:"features"`
}

// Load reads and validates a schema from a YAML file.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("read schema file %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse schema file %s: %w", path, err)
	}
	return s, nil
}

// Parse parses and validates a schema from YAML bytes.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks structural invariants: at least one feature, unique
// names, known dtypes, positive cardinality on the item_id feature, and
// exactly one item_id tag.
func (s *Schema) Validate() error {
	if len(s.Features) == 0 {
		return errors.New("schema: no features defined")
	}

	seen := make(map[string]bool, len(s.Features))
	itemIDCount := 0
	for i, f := range s.Features {
		if f.Name == "" {
			return fmt.Errorf("schema: feature %d has empty name", i)
		}
		if seen[f.Name] {
			return fmt.Errorf("schema: duplicate feature name %q", f.Name)
		}
		seen[f.Name] = true

		switch f.Dtype {
		case DtypeInt64, DtypeFloat64:
		default:
			return fmt.Errorf("schema: feature %q has unknown dtype %q", f.Name, f.Dtype)
		}

		if f.HasTag(TagItemID) {
			itemIDCount++
			if f.Dtype != DtypeInt64 {
				return fmt.Errorf("schema: item_id feature %q must be int64, got %s", f.Name, f.Dtype)
			}
			if f.Cardinality <= 1 {
				return fmt.Errorf("schema: item_id feature %q needs cardinality > 1, got %d", f.Name, f.Cardinality)
			}
		}
	}

	if itemIDCount == 0 {
		return ErrNoItemID
	}
	if itemIDCount > 1 {
		return fmt.Errorf("schema: %d features tagged item_id, want exactly 1", itemIDCount)
	}
	return nil
}

// Feature returns the feature with the given name.
func (s *Schema) Feature(name string) (Feature, bool) {
	for _, f := range s.Features {
		if f.Name == name {
			return f, true
		}
	}
	return Feature{}, false
}

// ItemID returns the feature tagged item_id.
func (s *Schema) ItemID() (Feature, error) {
	for _, f := range s.Features {
		if f.HasTag(TagItemID) {
			return f, nil
		}
	}
	return Feature{}, ErrNoItemID
}

// VocabSize returns the scoring vocabulary size: the cardinality of the
// item_id feature (padding id 0 included).
func (s *Schema) VocabSize() (int, error) {
	f, err := s.ItemID()
	if err != nil {
		return 0, err
	}
	return int(f.Cardinality), nil
}
