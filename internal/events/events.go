// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package events

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// SchemaVersion is the current event schema version. Increment on
// breaking changes to Event.
const SchemaVersion = 1

// Event types, also the final segment of the published topic.
const (
	TypeRunStarted      = "run.started"
	TypeTrainProgress   = "train.progress"
	TypeWindowCompleted = "window.completed"
	TypeRunCompleted    = "run.completed"
)

// Event is the envelope shared by every lifecycle notification. The
// identity fields are always set; the payload fields depend on Type and
// are omitted when empty.
type Event struct {
	SchemaVersion int       `json:"schema_version"`
	EventID       string    `json:"event_id"`
	Type          string    `json:"type"`
	RunID         string    `json:"run_id,omitempty"`
	At            time.Time `json:"at"`

	// run.started
	Policy     string `json:"policy,omitempty"`
	StartIndex int    `json:"start_index,omitempty"`
	FinalIndex int    `json:"final_index,omitempty"`

	// train.progress
	Epoch      int     `json:"epoch,omitempty"`
	GlobalStep int64   `json:"global_step,omitempty"`
	Loss       float64 `json:"loss,omitempty"`

	// window.completed; EvalIndex is also set on train.progress
	EvalIndex int                `json:"eval_index,omitempty"`
	Results   map[string]float64 `json:"results,omitempty"`

	// run.completed
	Summary map[string]float64 `json:"summary,omitempty"`
}

// Validate checks the identity fields every consumer relies on.
func (e *Event) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("events: event has no id")
	}
	if e.Type == "" {
		return fmt.Errorf("events: event %s has no type", e.EventID)
	}
	return nil
}

// Serialize encodes an event for the wire.
func Serialize(e *Event) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("events: marshal %s: %w", e.Type, err)
	}
	return data, nil
}

// Deserialize decodes a wire message back into an event.
func Deserialize(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("events: unmarshal event: %w", err)
	}
	return &e, nil
}
