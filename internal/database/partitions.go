// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package database

import (
	"fmt"
	"os"
	"path/filepath"
)

// PartitionPath resolves the parquet file for one time index. The pattern
// is a fmt verb receiving the index, e.g. "%04d/train.parquet" resolves
// index 3 under root "data" to "data/0003/train.parquet".
func PartitionPath(root, pattern string, index int) string {
	return filepath.Join(root, fmt.Sprintf(pattern, index))
}

// CheckPartitions verifies that every resolved partition file exists and is
// a regular file. The first failure wraps ErrPartitionMissing with the
// offending index and path, so callers can abort before any window work.
func CheckPartitions(root, pattern string, indices []int) error {
	for _, index := range indices {
		path := PartitionPath(root, pattern, index)
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("time index %d: %w: %s", index, ErrPartitionMissing, path)
		}
		if info.IsDir() {
			return fmt.Errorf("time index %d: %w: %s is a directory", index, ErrPartitionMissing, path)
		}
	}
	return nil
}
