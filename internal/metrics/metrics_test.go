// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

// getCounterValue extracts the value from a Prometheus counter.
func getCounterValue(counter prometheus.Counter) float64 {
	var m io_prometheus_client.Metric
	if err := counter.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// getGaugeValue extracts the value from a Prometheus gauge.
func getGaugeValue(gauge prometheus.Gauge) float64 {
	var m io_prometheus_client.Metric
	if err := gauge.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

func TestObserveDBQuery(t *testing.T) {
	t.Run("successful query leaves error counter unchanged", func(t *testing.T) {
		before := getCounterValue(DBQueryErrors.WithLabelValues("load_sessions"))

		ObserveDBQuery("load_sessions", time.Now().Add(-5*time.Millisecond), nil)

		after := getCounterValue(DBQueryErrors.WithLabelValues("load_sessions"))
		if after != before {
			t.Errorf("error counter moved on success: %v -> %v", before, after)
		}
	})

	t.Run("failed query increments error counter", func(t *testing.T) {
		before := getCounterValue(DBQueryErrors.WithLabelValues("item_frequencies"))

		ObserveDBQuery("item_frequencies", time.Now(), errors.New("boom"))

		after := getCounterValue(DBQueryErrors.WithLabelValues("item_frequencies"))
		if after != before+1 {
			t.Errorf("error counter = %v, want %v", after, before+1)
		}
	})
}

func TestSetBreakerOpen(t *testing.T) {
	SetBreakerOpen("predictions", true)
	if got := getGaugeValue(SinkBreakerOpen.WithLabelValues("predictions")); got != 1 {
		t.Errorf("breaker gauge = %v, want 1", got)
	}

	SetBreakerOpen("predictions", false)
	if got := getGaugeValue(SinkBreakerOpen.WithLabelValues("predictions")); got != 0 {
		t.Errorf("breaker gauge = %v, want 0", got)
	}
}

func TestSinkCounters(t *testing.T) {
	before := getCounterValue(SinkRowsWritten.WithLabelValues("attention"))

	SinkRowsWritten.WithLabelValues("attention").Add(3)

	after := getCounterValue(SinkRowsWritten.WithLabelValues("attention"))
	if after != before+3 {
		t.Errorf("rows written = %v, want %v", after, before+3)
	}
}
