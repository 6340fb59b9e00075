// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	streamMaxAge          = 7 * 24 * time.Hour
	streamDuplicateWindow = 2 * time.Minute
	provisionTimeout      = 10 * time.Second
)

// StreamName derives the JetStream stream name from the topic prefix,
// e.g. "chronorec" becomes "CHRONOREC".
func StreamName(prefix string) string {
	return strings.ToUpper(strings.ReplaceAll(prefix, ".", "_"))
}

// ensureStream creates or updates the lifecycle event stream so the
// publisher never depends on per-subject auto-provisioning. The stream
// captures every subject under the topic prefix with file storage and a
// deduplication window matching the message-id tracking on publish.
func ensureStream(ctx context.Context, url, prefix string) error {
	nc, err := natsgo.Connect(url)
	if err != nil {
		return fmt.Errorf("events: connect for stream provisioning: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("events: create jetstream context: %w", err)
	}

	cfg := jetstream.StreamConfig{
		Name:        StreamName(prefix),
		Subjects:    []string{prefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		Storage:     jetstream.FileStorage,
		MaxAge:      streamMaxAge,
		Duplicates:  streamDuplicateWindow,
		Discard:     jetstream.DiscardOld,
		AllowDirect: true,
	}

	ctx, cancel := context.WithTimeout(ctx, provisionTimeout)
	defer cancel()

	if _, err := js.Stream(ctx, cfg.Name); err == nil {
		if _, err := js.UpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("events: update stream %s: %w", cfg.Name, err)
		}
		return nil
	}

	if _, err := js.CreateStream(ctx, cfg); err != nil {
		return fmt.Errorf("events: create stream %s: %w", cfg.Name, err)
	}
	return nil
}
