// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package sink

import (
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/chronorec/chronorec/internal/logging"
	"github.com/chronorec/chronorec/internal/metrics"
)

// newBreaker builds the shared breaker configuration: trip after the
// given number of consecutive failures, allow one trial request after the
// recovery timeout.
//
// The breaker uses real time (via sony/gobreaker) for its timeout; that
// timing only decides when to retry observability I/O, never data
// integrity.
func newBreaker(name string, failureThreshold uint32, recoveryTimeout time.Duration) *gobreaker.CircuitBreaker[interface{}] {
	metrics.SetBreakerOpen(name, false)

	return gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     recoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("sink", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Sink circuit breaker state transition")
			metrics.SetBreakerOpen(name, to == gobreaker.StateOpen)
		},
	})
}

// guard runs one sink operation through the breaker and converts its
// outcome into telemetry. Rejections while the breaker is open are
// expected and only logged at debug level.
func guard(cb *gobreaker.CircuitBreaker[interface{}], name, op string, fn func() error) {
	_, err := cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err == nil {
		return
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		logging.Debug().Str("sink", name).Str("op", op).Msg("Sink write skipped, breaker open")
		return
	}

	metrics.SinkFailures.WithLabelValues(name).Inc()
	logging.Warn().Err(err).Str("sink", name).Str("op", op).Msg("Sink write failed, run continues")
}

// GuardedPredictionSink isolates a prediction sink behind a circuit
// breaker. Its methods never fail and a nil receiver is a no-op, so a
// disabled or broken sink needs no special handling at call sites.
type GuardedPredictionSink struct {
	inner Sink
	cb    *gobreaker.CircuitBreaker[interface{}]
}

// NewGuardedPredictionSink wraps inner. The breaker opens after
// failureThreshold consecutive failures and retries one request after
// recoveryTimeout.
func NewGuardedPredictionSink(inner Sink, failureThreshold uint32, recoveryTimeout time.Duration) *GuardedPredictionSink {
	return &GuardedPredictionSink{
		inner: inner,
		cb:    newBreaker("predictions", failureThreshold, recoveryTimeout),
	}
}

// Enabled reports whether a sink is wrapped at all. Callers use it to
// skip building rows whose destination is a nil no-op.
func (g *GuardedPredictionSink) Enabled() bool {
	return g != nil
}

// Open binds the schema on the wrapped sink.
func (g *GuardedPredictionSink) Open(rs RowSchema) {
	if g == nil {
		return
	}
	guard(g.cb, "predictions", "open", func() error { return g.inner.Open(rs) })
}

// Append stages rows on the wrapped sink.
func (g *GuardedPredictionSink) Append(rows []Row) {
	if g == nil || len(rows) == 0 {
		return
	}
	guard(g.cb, "predictions", "append", func() error { return g.inner.Append(rows) })
}

// Close flushes the wrapped sink's partition.
func (g *GuardedPredictionSink) Close() {
	if g == nil {
		return
	}
	guard(g.cb, "predictions", "close", func() error { return g.inner.Close() })
}

// State reports the breaker state as a string for logs and tests.
func (g *GuardedPredictionSink) State() string {
	if g == nil {
		return gobreaker.StateClosed.String()
	}
	return g.cb.State().String()
}

// GuardedAttentionSink isolates an attention sink the same way.
type GuardedAttentionSink struct {
	inner *AttentionSink
	cb    *gobreaker.CircuitBreaker[interface{}]
}

// NewGuardedAttentionSink wraps inner with the shared breaker settings.
func NewGuardedAttentionSink(inner *AttentionSink, failureThreshold uint32, recoveryTimeout time.Duration) *GuardedAttentionSink {
	return &GuardedAttentionSink{
		inner: inner,
		cb:    newBreaker("attention", failureThreshold, recoveryTimeout),
	}
}

// Enabled reports whether a sink is wrapped at all.
func (g *GuardedAttentionSink) Enabled() bool {
	return g != nil
}

// Log writes one record through the breaker.
func (g *GuardedAttentionSink) Log(description string, inputs [][]int64, weights [][]float64) {
	if g == nil {
		return
	}
	guard(g.cb, "attention", "log", func() error { return g.inner.Log(description, inputs, weights) })
}

// State reports the breaker state as a string for logs and tests.
func (g *GuardedAttentionSink) State() string {
	if g == nil {
		return gobreaker.StateClosed.String()
	}
	return g.cb.State().String()
}
