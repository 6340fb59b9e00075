// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

// Package checkpoint persists model state between windows in a BadgerDB
// store. Each snapshot is goccy-JSON encoded and prefixed with a
// BLAKE2b-256 sum; Load verifies the sum before trusting the payload, so
// a torn or bit-rotted checkpoint surfaces as ErrChecksumMismatch rather
// than silently corrupt weights.
package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"
	"golang.org/x/crypto/blake2b"

	"github.com/chronorec/chronorec/internal/metrics"
)

// keyPrefix namespaces checkpoint entries. The zero-padded index keeps
// lexicographic key order equal to numeric order, which is what Latest
// relies on.
const keyPrefix = "ckpt/"

var (
	// ErrNoCheckpoint means the store has no snapshot to return.
	ErrNoCheckpoint = errors.New("checkpoint: none stored")

	// ErrChecksumMismatch means a stored snapshot failed integrity
	// verification and must not be restored.
	ErrChecksumMismatch = errors.New("checkpoint: checksum mismatch")
)

// Snapshot is the restorable model state for one completed window.
type Snapshot struct {
	// EvalIndex is the evaluation index of the window that produced this
	// state. Resume fast-forwards past it.
	EvalIndex int `json:"eval_index"`

	// GlobalStep counts optimizer steps across the whole run.
	GlobalStep int64 `json:"global_step"`

	// ScheduleStep is the learning-rate schedule cursor.
	ScheduleStep int64 `json:"schedule_step"`

	// Weights is the item embedding table. Under weight tying this is
	// also the scoring head's projection.
	Weights [][]float64 `json:"weights"`

	// HeadWeights is the scoring head's own projection when weight
	// tying is off. Empty for tied runs.
	HeadWeights [][]float64 `json:"head_weights,omitempty"`

	// Bias is the scoring head's output bias.
	Bias []float64 `json:"bias"`

	SavedAt time.Time `json:"saved_at"`
}

// Store is a BadgerDB-backed checkpoint store rooted at one directory.
type Store struct {
	db *badger.DB
}

// Open creates or opens the store at dir. With syncWrites every Save
// fsyncs before returning.
func Open(dir string, syncWrites bool) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.SyncWrites = syncWrites
	opts.Logger = nil // Suppress BadgerDB logs

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func key(evalIndex int) []byte {
	return []byte(fmt.Sprintf("%s%06d", keyPrefix, evalIndex))
}

// Save stores snap under its evaluation index, replacing any previous
// snapshot for that index.
func (s *Store) Save(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap == nil {
		return errors.New("checkpoint: nil snapshot")
	}
	if snap.EvalIndex < 0 {
		return fmt.Errorf("checkpoint: negative eval index %d", snap.EvalIndex)
	}

	start := time.Now()

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal snapshot %d: %w", snap.EvalIndex, err)
	}

	sum := blake2b.Sum256(payload)
	value := make([]byte, 0, len(sum)+len(payload))
	value = append(value, sum[:]...)
	value = append(value, payload...)

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(snap.EvalIndex), value)
	})
	if err != nil {
		return fmt.Errorf("checkpoint: save %d: %w", snap.EvalIndex, err)
	}

	metrics.CheckpointDuration.Observe(time.Since(start).Seconds())
	metrics.CheckpointBytes.Set(float64(len(value)))
	return nil
}

// Load returns the snapshot stored for evalIndex after verifying its
// checksum.
func (s *Store) Load(ctx context.Context, evalIndex int) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var snap *Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(evalIndex))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w for eval index %d", ErrNoCheckpoint, evalIndex)
		}
		if err != nil {
			return fmt.Errorf("get checkpoint %d: %w", evalIndex, err)
		}
		return item.Value(func(val []byte) error {
			decoded, derr := decode(val, evalIndex)
			if derr != nil {
				return derr
			}
			snap = decoded
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Latest returns the snapshot with the highest evaluation index, or
// ErrNoCheckpoint on an empty store.
func (s *Store) Latest(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var snap *Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts past the last possible key.
		it.Seek([]byte(keyPrefix + "\xff"))
		if !it.ValidForPrefix([]byte(keyPrefix)) {
			return ErrNoCheckpoint
		}

		item := it.Item()
		index, perr := parseKey(item.Key())
		if perr != nil {
			return perr
		}
		return item.Value(func(val []byte) error {
			decoded, derr := decode(val, index)
			if derr != nil {
				return derr
			}
			snap = decoded
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func parseKey(k []byte) (int, error) {
	var index int
	if _, err := fmt.Sscanf(string(k), keyPrefix+"%06d", &index); err != nil {
		return 0, fmt.Errorf("checkpoint: malformed key %q: %w", k, err)
	}
	return index, nil
}

// decode verifies the leading BLAKE2b-256 sum and unmarshals the payload.
func decode(value []byte, evalIndex int) (*Snapshot, error) {
	if len(value) < blake2b.Size256 {
		return nil, fmt.Errorf("%w for eval index %d: truncated value", ErrChecksumMismatch, evalIndex)
	}

	payload := value[blake2b.Size256:]
	sum := blake2b.Sum256(payload)
	if !bytes.Equal(sum[:], value[:blake2b.Size256]) {
		return nil, fmt.Errorf("%w for eval index %d", ErrChecksumMismatch, evalIndex)
	}

	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("checkpoint: unmarshal snapshot %d: %w", evalIndex, err)
	}
	return &snap, nil
}
