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

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/abdullah-a8/cosmos-engine/pkg/timeout"
	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/datatypes"
	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/observability"
	"github.com/abdullah-a8/cosmos-engine/services/retrieval"
)

const (
	// chunkSize is the target chunk length in characters.
	chunkSize = 1000

	// chunkOverlap keeps adjacent chunks sharing a sliver of text so
	// retrieval never loses a sentence split across a boundary.
	chunkOverlap = 200

	// upsertBatchSize bounds one concurrent upsert call.
	upsertBatchSize = 50

	// upsertConcurrency bounds in-flight upsert batches.
	upsertConcurrency = 4
)

// Ingest splits the request content into chunks and stores them in the
// vector store under the configured upsert timeout.
//
// # Inputs
//   - ctx: Request context.
//   - req: Content plus source metadata. Validated before any work.
//
// # Outputs
//   - *datatypes.IngestResult: Non-nil on nil error. Success=false means
//     the upsert timed out or the store was unreachable.
//   - error: Validation errors only.
func (e *QueryEngine) Ingest(ctx context.Context, req *datatypes.IngestRequest) (*datatypes.IngestResult, error) {
	ctx, span := engineTracer.Start(ctx, "engine.ingest")
	defer span.End()

	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		observability.DefaultMetrics.RecordError(observability.EndpointIngest, observability.ErrorCodeValidation)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("source_type", req.SourceType),
		attribute.String("source_id", req.SourceID),
	)

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)
	pieces, err := splitter.SplitText(req.Content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "split failed")
		observability.DefaultMetrics.RecordError(observability.EndpointIngest, observability.ErrorCodeInternal)
		observability.DefaultMetrics.RecordRequest(observability.EndpointIngest, false)
		return &datatypes.IngestResult{
			Success: false,
			Message: fmt.Sprintf("failed to split content: %v", err),
		}, nil
	}
	if len(pieces) == 0 {
		observability.DefaultMetrics.RecordRequest(observability.EndpointIngest, false)
		return &datatypes.IngestResult{
			Success: false,
			Message: "content produced no chunks",
		}, nil
	}

	documentID := uuid.New().String()
	chunks := make([]retrieval.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = retrieval.Chunk{
			Content:     piece,
			SourceType:  req.SourceType,
			DisplayName: req.DisplayName,
			SourceID:    req.SourceID,
			DocumentID:  documentID,
			ChunkIndex:  i,
			Extra:       req.Extra,
		}
	}

	_, err = timeout.Run(ctx, "upsert", e.cfg.UpsertTimeout,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, e.upsertBatches(ctx, chunks)
		})
	if err != nil {
		span.RecordError(err)
		if timeout.IsTimeout(err) {
			span.SetStatus(codes.Error, "upsert timed out")
			observability.DefaultMetrics.RecordError(observability.EndpointIngest, observability.ErrorCodeTimeout)
		} else {
			span.SetStatus(codes.Error, "upsert failed")
			observability.DefaultMetrics.RecordError(observability.EndpointIngest, observability.ErrorCodeBackend)
		}
		observability.DefaultMetrics.RecordRequest(observability.EndpointIngest, false)
		slog.Error("Ingestion failed",
			"error", err,
			"source_id", req.SourceID,
			"chunks", len(chunks))
		return &datatypes.IngestResult{
			DocumentID: documentID,
			Chunks:     len(chunks),
			Success:    false,
			Message:    fmt.Sprintf("ingestion failed: %v", err),
		}, nil
	}

	observability.DefaultMetrics.RecordRequest(observability.EndpointIngest, true)
	slog.Info("Content ingested",
		"document_id", documentID,
		"source_type", req.SourceType,
		"chunks", len(chunks))
	return &datatypes.IngestResult{
		DocumentID: documentID,
		Chunks:     len(chunks),
		Success:    true,
		Message:    fmt.Sprintf("ingested %d chunks", len(chunks)),
	}, nil
}

// upsertBatches stores chunks in bounded-concurrency batches. The first
// failing batch cancels the rest.
func (e *QueryEngine) upsertBatches(ctx context.Context, chunks []retrieval.Chunk) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(upsertConcurrency)

	for start := 0; start < len(chunks); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		g.Go(func() error {
			return e.retriever.Upsert(ctx, batch)
		})
	}
	return g.Wait()
}
