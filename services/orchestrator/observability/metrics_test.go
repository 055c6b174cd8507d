// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestMetrics creates an EngineMetrics instance against an isolated
// registry so tests never collide with the global one.
func newTestMetrics(t *testing.T) *EngineMetrics {
	t.Helper()

	reg := prometheus.NewRegistry()

	m := &EngineMetrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "requests_total",
				Help:      "Total number of query requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		CacheEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "cache_events_total",
				Help:      "Response cache events by kind (hit, miss, eviction)",
			},
			[]string{"event"},
		),
		TokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "tokens_total",
				Help:      "Total streamed tokens by model",
			},
			[]string{"model"},
		),
		PhaseDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "phase_duration_seconds",
				Help:      "Query latency per phase",
				Buckets:   []float64{0.1, 1, 10},
			},
			[]string{"phase"},
		),
		ActiveStreams: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently active streaming responses",
			},
			[]string{"endpoint"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "errors_total",
				Help:      "Total errors by endpoint and error code",
			},
			[]string{"endpoint", "error_code"},
		),
		ClientDisconnectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
			[]string{"endpoint"},
		),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.CacheEventsTotal,
		m.TokensTotal,
		m.PhaseDurationSeconds,
		m.ActiveStreams,
		m.ErrorsTotal,
		m.ClientDisconnectsTotal,
	)
	return m
}

func TestRecordRequest(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRequest(EndpointQuery, true)
	m.RecordRequest(EndpointQuery, true)
	m.RecordRequest(EndpointQuery, false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("query", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("query", "failure")))
}

func TestRecordCacheEvent(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordCacheEvent("hit")
	m.RecordCacheEvent("miss")
	m.RecordCacheEvent("hit")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheEventsTotal.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheEventsTotal.WithLabelValues("miss")))
}

func TestRecordTokens(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordTokens(5, "mixtral-8x7b-32768")
	m.RecordTokens(3, "mixtral-8x7b-32768")

	assert.Equal(t, 8.0, testutil.ToFloat64(m.TokensTotal.WithLabelValues("mixtral-8x7b-32768")))
}

func TestStreamGauge(t *testing.T) {
	m := newTestMetrics(t)

	m.StreamStarted(EndpointQueryStream)
	m.StreamStarted(EndpointQueryStream)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveStreams.WithLabelValues("query_stream")))

	m.StreamEnded(EndpointQueryStream)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveStreams.WithLabelValues("query_stream")))
}

func TestRecordErrorAndDisconnect(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordError(EndpointQuery, ErrorCodeTimeout)
	m.RecordClientDisconnect(EndpointQueryStream)

	require.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("query", "timeout")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ClientDisconnectsTotal.WithLabelValues("query_stream")))
}
