// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

// Package events publishes run lifecycle notifications over Watermill.
//
// The publisher emits run.started, train.progress, window.completed and
// run.completed envelopes as JSON messages. Two transports are supported:
// the in-process gochannel pub/sub (default, also used by tests) and NATS
// JetStream, optionally against an embedded nats-server for standalone
// deployments.
//
// Publishing is strictly best-effort. The trainer never blocks on the
// event stream: failures are logged and counted, high-frequency progress
// events pass through a rate limiter, and a consumer that falls behind
// loses messages rather than stalling a window.
package events
