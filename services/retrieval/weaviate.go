// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/datatypes"
)

var retrievalTracer = otel.Tracer("cosmos.retrieval")

// WeaviateRetriever serves passage search and upsert against the Passage
// class using BM25 ranking. The class is declared with vectorizer "none",
// so relevance comes from keyword scoring rather than embeddings; the
// interface stays the same if a vectorized deployment swaps in nearText.
type WeaviateRetriever struct {
	client *weaviate.Client
}

var _ VectorRetriever = (*WeaviateRetriever)(nil)

// NewWeaviateRetriever creates a retriever over the given client.
// Panics if client is nil.
func NewWeaviateRetriever(client *weaviate.Client) *WeaviateRetriever {
	if client == nil {
		panic("retrieval: weaviate client is required")
	}
	return &WeaviateRetriever{client: client}
}

// Search returns up to topK passages ranked by relevance to query.
func (r *WeaviateRetriever) Search(ctx context.Context, query string, sourceFilters map[string]bool, topK int) ([]datatypes.RetrievedPassage, error) {
	ctx, span := retrievalTracer.Start(ctx, "WeaviateRetriever.Search")
	defer span.End()

	if topK <= 0 {
		topK = DefaultTopK
	}

	included, err := IncludedSourceTypes(sourceFilters)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed filter")
		return nil, err
	}
	// An all-false filter excludes every source; nothing to search.
	if included != nil && len(included) == 0 {
		slog.Debug("All source types filtered out, skipping search")
		return []datatypes.RetrievedPassage{}, nil
	}

	span.SetAttributes(
		attribute.Int("retrieval.top_k", topK),
		attribute.StringSlice("retrieval.source_types", included),
	)

	builder := r.client.GraphQL().Get().
		WithClassName(datatypes.PassageClass).
		WithBM25((&graphql.BM25ArgumentBuilder{}).WithQuery(query)).
		WithFields(
			graphql.Field{Name: "content"},
			graphql.Field{Name: "source_type"},
			graphql.Field{Name: "display_name"},
			graphql.Field{Name: "source_id"},
			graphql.Field{Name: "extra"},
		).
		WithLimit(topK)

	if len(included) > 0 {
		builder = builder.WithWhere(filters.Where().
			WithPath([]string{"source_type"}).
			WithOperator(filters.ContainsAny).
			WithValueText(included...))
	}

	resp, err := builder.Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, &BackendUnavailableError{Backend: "weaviate", Err: err}
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.PassageQueryResponse](resp)
	if err != nil {
		span.RecordError(err)
		return nil, &BackendUnavailableError{Backend: "weaviate", Err: err}
	}

	passages := make([]datatypes.RetrievedPassage, 0, len(parsed.Get.Passage))
	for _, p := range parsed.Get.Passage {
		passages = append(passages, toPassage(p))
	}

	slog.Debug("Passage search completed",
		"query_len", len(query),
		"results", len(passages))
	return passages, nil
}

// toPassage converts a raw query result into the immutable passage value
// handed to context assembly.
func toPassage(p datatypes.PassageResult) datatypes.RetrievedPassage {
	sourceType := datatypes.SourceType(p.SourceType)
	if !datatypes.IsKnownSourceType(p.SourceType) {
		sourceType = datatypes.SourceUnknown
	}

	displayName := p.DisplayName
	if displayName == "" {
		displayName = "Unknown source"
	}

	var extra map[string]string
	if p.Extra != "" {
		if err := json.Unmarshal([]byte(p.Extra), &extra); err != nil {
			slog.Warn("Ignoring unparseable passage extra metadata",
				"source_id", p.SourceID,
				"error", err)
			extra = nil
		}
	}

	return datatypes.RetrievedPassage{
		Content:     p.Content,
		SourceType:  sourceType,
		DisplayName: displayName,
		SourceID:    p.SourceID,
		Extra:       extra,
	}
}

// Upsert writes chunks to the Passage class in one batch.
func (r *WeaviateRetriever) Upsert(ctx context.Context, chunks []Chunk) error {
	ctx, span := retrievalTracer.Start(ctx, "WeaviateRetriever.Upsert")
	defer span.End()

	if len(chunks) == 0 {
		return nil
	}

	now := time.Now().UnixMilli()
	batcher := r.client.Batch().ObjectsBatcher()
	for _, c := range chunks {
		extraJSON := ""
		if len(c.Extra) > 0 {
			b, err := json.Marshal(c.Extra)
			if err != nil {
				return fmt.Errorf("failed to encode chunk extra metadata: %w", err)
			}
			extraJSON = string(b)
		}

		props := datatypes.PassageProperties{
			Content:     c.Content,
			SourceType:  c.SourceType,
			DisplayName: c.DisplayName,
			SourceID:    c.SourceID,
			DocumentID:  c.DocumentID,
			ChunkIndex:  c.ChunkIndex,
			Extra:       extraJSON,
			IngestedAt:  now,
		}
		batcher = batcher.WithObjects(&models.Object{
			Class:      datatypes.PassageClass,
			Properties: props.ToMap(),
		})
	}

	span.SetAttributes(attribute.Int("upsert.chunks", len(chunks)))

	resp, err := batcher.Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		return &BackendUnavailableError{Backend: "weaviate", Err: err}
	}
	for _, obj := range resp {
		if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
			return &BackendUnavailableError{
				Backend: "weaviate",
				Err:     fmt.Errorf("batch object rejected: %s", obj.Result.Errors.Error[0].Message),
			}
		}
	}

	slog.Info("Upserted passage chunks", "count", len(chunks))
	return nil
}
