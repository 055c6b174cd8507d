// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the query engine.
//
// Metrics cover request outcomes, cache effectiveness, per-phase latency,
// token throughput, and active stream counts. All metrics live under the
// cosmos_engine namespace.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "cosmos"
	engineSubsystem  = "engine"
)

// EngineMetrics bundles the engine's Prometheus collectors.
type EngineMetrics struct {
	// RequestsTotal counts completed requests by endpoint and status.
	RequestsTotal *prometheus.CounterVec

	// CacheEventsTotal counts response cache hits, misses, and evictions.
	CacheEventsTotal *prometheus.CounterVec

	// TokensTotal counts streamed tokens by model.
	TokensTotal *prometheus.CounterVec

	// PhaseDurationSeconds observes per-phase query latency.
	PhaseDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently open streaming responses.
	ActiveStreams *prometheus.GaugeVec

	// ErrorsTotal counts errors by endpoint and code.
	ErrorsTotal *prometheus.CounterVec

	// ClientDisconnectsTotal counts mid-stream client disconnections.
	ClientDisconnectsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance. Initialized by InitMetrics().
var DefaultMetrics *EngineMetrics

// InitMetrics creates and registers all engine metrics against the default
// registry. Call once at startup; a second call panics on duplicate
// registration.
func InitMetrics() *EngineMetrics {
	DefaultMetrics = &EngineMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "requests_total",
				Help:      "Total number of query requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		CacheEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "cache_events_total",
				Help:      "Response cache events by kind (hit, miss, eviction)",
			},
			[]string{"event"},
		),

		TokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "tokens_total",
				Help:      "Total streamed tokens by model",
			},
			[]string{"model"},
		),

		PhaseDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "phase_duration_seconds",
				Help:      "Query latency per phase (retrieval, context_format, generation, total)",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"phase"},
		),

		ActiveStreams: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently active streaming responses",
			},
			[]string{"endpoint"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "errors_total",
				Help:      "Total errors by endpoint and error code",
			},
			[]string{"endpoint", "error_code"},
		),

		ClientDisconnectsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
			[]string{"endpoint"},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	// ErrorCodeValidation indicates request validation failure.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeMalformedFilter indicates an unusable source filter.
	ErrorCodeMalformedFilter ErrorCode = "malformed_filter"

	// ErrorCodeTimeout indicates a retrieval or upsert timeout.
	ErrorCodeTimeout ErrorCode = "timeout"

	// ErrorCodeBackend indicates a retrieval or generation backend failure.
	ErrorCodeBackend ErrorCode = "backend"

	// ErrorCodePersistence indicates a transcript store failure.
	ErrorCodePersistence ErrorCode = "persistence"

	// ErrorCodeInternal indicates an internal server error.
	ErrorCodeInternal ErrorCode = "internal"

	// ErrorCodeClientDisconnect indicates the client disconnected.
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
)

// =============================================================================
// Label Values
// =============================================================================

// Cache event labels for RecordCacheEvent.
const (
	CacheEventHit      = "hit"
	CacheEventMiss     = "miss"
	CacheEventStore    = "store"
	CacheEventEviction = "eviction"
)

// Phase labels for ObservePhase.
const (
	PhaseRetrieval     = "retrieval"
	PhaseContextFormat = "context_format"
	PhaseGeneration    = "generation"
	PhaseTotal         = "total"
)

// =============================================================================
// Endpoint Names
// =============================================================================

// Endpoint labels metrics per API surface.
type Endpoint string

const (
	// EndpointQuery is the blocking query endpoint.
	EndpointQuery Endpoint = "query"

	// EndpointQueryStream is the SSE streaming query endpoint.
	EndpointQueryStream Endpoint = "query_stream"

	// EndpointIngest is the document ingest endpoint.
	EndpointIngest Endpoint = "ingest"
)

// =============================================================================
// Helper Methods
// =============================================================================

// All helpers tolerate a nil receiver so code paths exercised in tests
// work without InitMetrics.

// RecordRequest records a completed request.
func (m *EngineMetrics) RecordRequest(endpoint Endpoint, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), status).Inc()
}

// RecordError records a categorized error.
func (m *EngineMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// RecordCacheEvent records a cache hit, miss, store, or eviction.
func (m *EngineMetrics) RecordCacheEvent(event string) {
	if m == nil {
		return
	}
	m.CacheEventsTotal.WithLabelValues(event).Inc()
}

// RecordTokens adds streamed token counts for a model.
func (m *EngineMetrics) RecordTokens(count int, model string) {
	if m == nil {
		return
	}
	m.TokensTotal.WithLabelValues(model).Add(float64(count))
}

// ObservePhase records one phase duration in seconds.
func (m *EngineMetrics) ObservePhase(phase string, seconds float64) {
	if m == nil {
		return
	}
	m.PhaseDurationSeconds.WithLabelValues(phase).Observe(seconds)
}

// StreamStarted increments the active stream gauge.
func (m *EngineMetrics) StreamStarted(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active stream gauge.
func (m *EngineMetrics) StreamEnded(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordClientDisconnect records a mid-stream disconnection.
func (m *EngineMetrics) RecordClientDisconnect(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}
