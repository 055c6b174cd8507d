// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/abdullah-a8/cosmos-engine/pkg/timeout"
	"github.com/abdullah-a8/cosmos-engine/services/llm"
	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/accumulator"
	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/assembler"
	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/cache"
	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/datatypes"
	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/memory"
	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/observability"
	"github.com/abdullah-a8/cosmos-engine/services/retrieval"
)

var engineTracer = otel.Tracer("cosmos.orchestrator.engine")

const (
	// DefaultRetrievalTimeout bounds one vector store search.
	DefaultRetrievalTimeout = 30 * time.Second

	// DefaultUpsertTimeout bounds one ingestion batch.
	DefaultUpsertTimeout = 60 * time.Second
)

// Degraded answers returned with Success=false. The timeout wording is
// load-bearing: clients surface it verbatim.
const (
	timeoutAnswer = "I'm sorry, but the search operation timed out. " +
		"This might be due to temporary service issues. Please try again in a moment."
	retrievalFailedAnswer = "I'm sorry, but the knowledge base is currently unreachable. " +
		"Please try again in a moment."
	generationFailedAnswer = "I'm sorry, but the language model backend is currently unavailable. " +
		"Please try again in a moment."
)

// Config carries the tunable knobs of the query engine.
type Config struct {
	RetrievalTimeout time.Duration
	UpsertTimeout    time.Duration
	TopK             int
}

func (c Config) withDefaults() Config {
	if c.RetrievalTimeout <= 0 {
		c.RetrievalTimeout = DefaultRetrievalTimeout
	}
	if c.UpsertTimeout <= 0 {
		c.UpsertTimeout = DefaultUpsertTimeout
	}
	if c.TopK <= 0 {
		c.TopK = retrieval.DefaultTopK
	}
	return c
}

// QueryEngine coordinates one question through cache lookup, memory
// selection, retrieval, context assembly, generation, and persistence.
//
// Expected runtime failures (timeouts, unreachable backends) come back
// inside the QueryResult with Success=false; the error return is reserved
// for caller mistakes such as malformed filters.
type QueryEngine struct {
	llmClient llm.Client
	retriever retrieval.VectorRetriever
	respCache *cache.ResponseCache
	memory    *memory.Manager
	cfg       Config
}

// NewQueryEngine wires the engine. All dependencies are required.
func NewQueryEngine(
	llmClient llm.Client,
	retriever retrieval.VectorRetriever,
	respCache *cache.ResponseCache,
	mem *memory.Manager,
	cfg Config,
) *QueryEngine {
	if llmClient == nil {
		panic("llmClient is required")
	}
	if retriever == nil {
		panic("retriever is required")
	}
	if respCache == nil {
		panic("respCache is required")
	}
	if mem == nil {
		panic("memory manager is required")
	}
	return &QueryEngine{
		llmClient: llmClient,
		retriever: retriever,
		respCache: respCache,
		memory:    mem,
		cfg:       cfg.withDefaults(),
	}
}

// =============================================================================
// Blocking Query
// =============================================================================

// Query answers one question end to end and caches successful answers.
//
// # Inputs
//   - ctx: Request context. Cancellation aborts in-flight phases.
//   - req: The question plus model, temperature, filters, and session.
//
// # Outputs
//   - *datatypes.QueryResult: Always non-nil on nil error. Success=false
//     carries a human-readable degraded answer.
//   - error: Validation or malformed-filter errors only.
func (e *QueryEngine) Query(ctx context.Context, req *datatypes.QueryRequest) (*datatypes.QueryResult, error) {
	ctx, span := engineTracer.Start(ctx, "engine.query")
	defer span.End()

	start := time.Now()

	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		observability.DefaultMetrics.RecordError(observability.EndpointQuery, observability.ErrorCodeValidation)
		return nil, err
	}
	req.EnsureDefaults()
	span.SetAttributes(
		attribute.String("model", req.ModelName),
		attribute.String("session_id", req.SessionID),
	)

	// Filters are validated up front so a bad request never reaches the
	// cache or the vector store.
	if _, err := retrieval.IncludedSourceTypes(req.SourceFilters); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed filter")
		observability.DefaultMetrics.RecordError(observability.EndpointQuery, observability.ErrorCodeMalformedFilter)
		return nil, err
	}

	if req.IsSystemMessage {
		return e.handleSystemMessage(ctx, req, observability.EndpointQuery), nil
	}

	key := cache.Key(req.Query, req.ModelName, req.EffectiveTemperature(), req.SourceFilters)
	if cached, ok := e.respCache.Get(key); ok {
		if result, ok := cached.(*datatypes.QueryResult); ok {
			observability.DefaultMetrics.RecordCacheEvent(observability.CacheEventHit)
			observability.DefaultMetrics.RecordRequest(observability.EndpointQuery, true)
			span.SetAttributes(attribute.Bool("cache_hit", true))
			slog.Debug("Response cache hit", "session_id", req.SessionID)
			return result, nil
		}
	}
	observability.DefaultMetrics.RecordCacheEvent(observability.CacheEventMiss)

	prompt, timing, failed := e.preparePrompt(ctx, req, observability.EndpointQuery)
	if failed != nil {
		observability.DefaultMetrics.RecordRequest(observability.EndpointQuery, false)
		return failed, nil
	}

	genStart := time.Now()
	answer, err := e.llmClient.Generate(ctx, prompt, e.generationParams(req))
	timing.Generation = time.Since(genStart).Seconds()
	timing.Total = time.Since(start).Seconds()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		observability.DefaultMetrics.RecordError(observability.EndpointQuery, observability.ErrorCodeBackend)
		observability.DefaultMetrics.RecordRequest(observability.EndpointQuery, false)
		slog.Error("Generation failed", "error", err, "model", req.ModelName)
		result := datatypes.NewQueryResult(generationFailedAnswer, false, req.SessionID)
		result.Timing = *timing
		return result, nil
	}
	observability.DefaultMetrics.ObservePhase(observability.PhaseGeneration, timing.Generation)
	observability.DefaultMetrics.ObservePhase(observability.PhaseTotal, timing.Total)

	// The stored question is the one the user asked, not the augmented
	// prompt sent to the model.
	e.persistExchange(ctx, req.SessionID, req.Query, answer, observability.EndpointQuery)

	result := datatypes.NewQueryResult(answer, true, req.SessionID)
	result.Timing = *timing
	e.respCache.Set(key, result)
	observability.DefaultMetrics.RecordCacheEvent(observability.CacheEventStore)
	observability.DefaultMetrics.RecordRequest(observability.EndpointQuery, true)

	slog.Info("Query answered",
		"session_id", req.SessionID,
		"model", req.ModelName,
		"total_seconds", timing.Total)
	return result, nil
}

// =============================================================================
// Streaming Query
// =============================================================================

// StreamQuery answers one question as a token stream via emit.
//
// Streamed answers are never cached. The accumulated answer is persisted
// to conversation memory only when at least one token arrived and the
// stream did not end in a backend error. A consumer that stops the stream
// early still gets the partial answer persisted best-effort.
func (e *QueryEngine) StreamQuery(ctx context.Context, req *datatypes.QueryRequest, emit llm.StreamCallback) (*datatypes.QueryResult, error) {
	ctx, span := engineTracer.Start(ctx, "engine.query_stream")
	defer span.End()

	if emit == nil {
		panic("emit callback is required")
	}

	start := time.Now()

	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		observability.DefaultMetrics.RecordError(observability.EndpointQueryStream, observability.ErrorCodeValidation)
		return nil, err
	}
	req.EnsureDefaults()
	span.SetAttributes(
		attribute.String("model", req.ModelName),
		attribute.String("session_id", req.SessionID),
	)

	if _, err := retrieval.IncludedSourceTypes(req.SourceFilters); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed filter")
		observability.DefaultMetrics.RecordError(observability.EndpointQueryStream, observability.ErrorCodeMalformedFilter)
		return nil, err
	}

	observability.DefaultMetrics.StreamStarted(observability.EndpointQueryStream)
	defer observability.DefaultMetrics.StreamEnded(observability.EndpointQueryStream)

	if req.IsSystemMessage {
		result := e.handleSystemMessage(ctx, req, observability.EndpointQueryStream)
		_ = emit(llm.StreamEvent{Type: llm.StreamEventDone})
		return result, nil
	}

	prompt, timing, failed := e.preparePrompt(ctx, req, observability.EndpointQueryStream)
	if failed != nil {
		_ = emit(llm.StreamEvent{Type: llm.StreamEventError, Content: failed.Answer})
		observability.DefaultMetrics.RecordRequest(observability.EndpointQueryStream, false)
		return failed, nil
	}

	acc, err := accumulator.New()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "accumulator init failed")
		observability.DefaultMetrics.RecordError(observability.EndpointQueryStream, observability.ErrorCodeInternal)
		observability.DefaultMetrics.RecordRequest(observability.EndpointQueryStream, false)
		return nil, fmt.Errorf("failed to create token accumulator: %w", err)
	}
	defer acc.Destroy()

	var (
		tokens       int
		streamFailed bool
		consumerDone bool
	)

	genStart := time.Now()
	streamErr := e.llmClient.GenerateStream(ctx, prompt, e.generationParams(req), func(ev llm.StreamEvent) error {
		switch ev.Type {
		case llm.StreamEventToken:
			tokens++
			if werr := acc.Write(ev.Content); werr != nil {
				slog.Warn("Token accumulation failed", "error", werr, "accumulator_id", acc.ID())
			}
			if cerr := emit(ev); cerr != nil {
				consumerDone = true
				return cerr
			}
		case llm.StreamEventError:
			streamFailed = true
			_ = emit(ev)
		case llm.StreamEventDone:
			_ = emit(ev)
		}
		return nil
	})
	timing.Generation = time.Since(genStart).Seconds()
	timing.Total = time.Since(start).Seconds()
	observability.DefaultMetrics.RecordTokens(tokens, req.ModelName)

	answer, answerHash, finErr := acc.Finalize()
	if finErr != nil {
		slog.Warn("Accumulator finalize failed", "error", finErr, "accumulator_id", acc.ID())
	}

	if streamErr != nil && !consumerDone {
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, "stream generation failed")
		observability.DefaultMetrics.RecordError(observability.EndpointQueryStream, observability.ErrorCodeBackend)
		streamFailed = true
	}
	if consumerDone {
		observability.DefaultMetrics.RecordClientDisconnect(observability.EndpointQueryStream)
		slog.Info("Stream consumer disconnected", "session_id", req.SessionID, "tokens", tokens)
	}

	// Persist whatever was accumulated, even a partial answer after a
	// disconnect, unless the stream itself failed or produced nothing.
	if answer != "" && !streamFailed && !strings.HasPrefix(answer, "Error:") {
		e.persistExchange(ctx, req.SessionID, req.Query, answer, observability.EndpointQueryStream)
		slog.Debug("Streamed answer persisted",
			"session_id", req.SessionID,
			"answer_sha256", answerHash,
			"tokens", tokens)
	}

	success := !streamFailed
	if streamFailed && answer == "" {
		answer = generationFailedAnswer
	}
	observability.DefaultMetrics.RecordRequest(observability.EndpointQueryStream, success)
	observability.DefaultMetrics.ObservePhase(observability.PhaseGeneration, timing.Generation)
	observability.DefaultMetrics.ObservePhase(observability.PhaseTotal, timing.Total)

	result := datatypes.NewQueryResult(answer, success, req.SessionID)
	result.Timing = *timing
	return result, nil
}

// =============================================================================
// Shared Phases
// =============================================================================

// handleSystemMessage persists a topic-reset marker and acknowledges
// without touching the cache or the vector store.
func (e *QueryEngine) handleSystemMessage(ctx context.Context, req *datatypes.QueryRequest, endpoint observability.Endpoint) *datatypes.QueryResult {
	if err := e.memory.AppendSystemMarker(ctx, req.SessionID, req.Query, true); err != nil {
		slog.Warn("Failed to persist system marker", "error", err, "session_id", req.SessionID)
	}
	observability.DefaultMetrics.RecordRequest(endpoint, true)
	return datatypes.NewQueryResult(systemAckAnswer, true, req.SessionID)
}

// preparePrompt runs memory selection, retrieval under timeout, and
// context assembly. A non-nil third return is a complete degraded result
// the caller should hand back as-is.
func (e *QueryEngine) preparePrompt(ctx context.Context, req *datatypes.QueryRequest, endpoint observability.Endpoint) (string, *datatypes.Timing, *datatypes.QueryResult) {
	ctx, span := engineTracer.Start(ctx, "engine.prepare_prompt")
	defer span.End()

	timing := &datatypes.Timing{}
	history := e.memory.SelectContext(ctx, req.SessionID, req.Query)

	// Retrieval always sees the question as asked. Conversation history
	// only augments the prompt handed to the model.
	retrStart := time.Now()
	passages, err := timeout.Run(ctx, "retrieval", e.cfg.RetrievalTimeout,
		func(ctx context.Context) ([]datatypes.RetrievedPassage, error) {
			return e.retriever.Search(ctx, req.Query, req.SourceFilters, e.cfg.TopK)
		})
	timing.Retrieval = time.Since(retrStart).Seconds()

	if err != nil {
		span.RecordError(err)
		var result *datatypes.QueryResult
		if timeout.IsTimeout(err) {
			span.SetStatus(codes.Error, "retrieval timed out")
			observability.DefaultMetrics.RecordError(endpoint, observability.ErrorCodeTimeout)
			slog.Warn("Retrieval timed out",
				"session_id", req.SessionID,
				"timeout_seconds", e.cfg.RetrievalTimeout.Seconds())
			result = datatypes.NewQueryResult(timeoutAnswer, false, req.SessionID)
			// Report the configured bound, not the measured wall time.
			timing.Retrieval = e.cfg.RetrievalTimeout.Seconds()
		} else {
			span.SetStatus(codes.Error, "retrieval failed")
			observability.DefaultMetrics.RecordError(endpoint, observability.ErrorCodeBackend)
			slog.Error("Retrieval failed", "error", err, "session_id", req.SessionID)
			result = datatypes.NewQueryResult(retrievalFailedAnswer, false, req.SessionID)
		}
		result.Timing = *timing
		return "", nil, result
	}
	observability.DefaultMetrics.ObservePhase(observability.PhaseRetrieval, timing.Retrieval)
	span.SetAttributes(attribute.Int("passages", len(passages)))

	fmtStart := time.Now()
	contextBlock := assembler.Assemble(passages)
	question := WithLatexHint(AugmentQuery(req.Query, history))
	prompt := BuildPrompt(contextBlock, question)
	timing.ContextFormat = time.Since(fmtStart).Seconds()
	observability.DefaultMetrics.ObservePhase(observability.PhaseContextFormat, timing.ContextFormat)

	return prompt, timing, nil
}

// persistExchange appends the user/assistant pair, swallowing persistence
// failures so a memory outage never fails an answered query.
func (e *QueryEngine) persistExchange(ctx context.Context, sessionID, question, answer string, endpoint observability.Endpoint) {
	if err := e.memory.AppendExchange(ctx, sessionID, question, answer); err != nil {
		observability.DefaultMetrics.RecordError(endpoint, observability.ErrorCodePersistence)
		slog.Warn("Failed to persist exchange", "error", err, "session_id", sessionID)
	}
}

func (e *QueryEngine) generationParams(req *datatypes.QueryRequest) llm.GenerationParams {
	temp := req.EffectiveTemperature()
	return llm.GenerationParams{
		Model:       req.ModelName,
		Temperature: &temp,
	}
}

// ClearCache drops all cached responses and reports how many were removed.
func (e *QueryEngine) ClearCache() int {
	n := e.respCache.Clear()
	slog.Info("Response cache cleared", "entries_removed", n)
	return n
}

// CacheStats exposes the response cache counters.
func (e *QueryEngine) CacheStats() cache.Stats {
	return e.respCache.Snapshot()
}
