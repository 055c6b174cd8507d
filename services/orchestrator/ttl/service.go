// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ttl

import (
	"context"
	"fmt"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("cosmos.orchestrator.ttl")

// findLimit bounds one sweep so a large backlog drains over several runs
// instead of one huge query.
const findLimit = 500

// ExpiredObject identifies one store object past its retention window.
type ExpiredObject struct {
	Class      string
	WeaviateID string
}

// SweepResult summarizes one retention sweep.
type SweepResult struct {
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	Found     int           `json:"found"`
	Deleted   int           `json:"deleted"`
	Errors    []string      `json:"errors,omitempty"`
}

// RetentionService finds and deletes expired objects.
type RetentionService interface {
	// FindExpired returns objects of class whose field (a unix-ms
	// number) is older than cutoff, up to findLimit.
	FindExpired(ctx context.Context, class, field string, cutoff time.Time) ([]ExpiredObject, error)

	// Delete removes the objects one by one. Already-deleted objects
	// are not errors.
	Delete(ctx context.Context, objects []ExpiredObject) (deleted int, errs []string)
}

// =============================================================================
// Weaviate Implementation
// =============================================================================

type weaviateRetention struct {
	client *weaviate.Client
}

// NewRetentionService creates a retention service over the vector store.
func NewRetentionService(client *weaviate.Client) RetentionService {
	if client == nil {
		panic("ttl: weaviate client is required")
	}
	return &weaviateRetention{client: client}
}

// idOnlyResponse carries just the object IDs out of a retention query.
type idOnlyResponse struct {
	Get map[string][]struct {
		Additional struct {
			ID string `json:"id"`
		} `json:"_additional"`
	} `json:"Get"`
}

func (s *weaviateRetention) FindExpired(ctx context.Context, class, field string, cutoff time.Time) ([]ExpiredObject, error) {
	ctx, span := tracer.Start(ctx, "ttl.find_expired")
	defer span.End()
	span.SetAttributes(attribute.String("class", class))

	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{field}).
				WithOperator(filters.GreaterThan).
				WithValueNumber(0),
			filters.Where().
				WithPath([]string{field}).
				WithOperator(filters.LessThan).
				WithValueNumber(float64(cutoff.UnixMilli())),
		})

	resp, err := s.client.GraphQL().Get().
		WithClassName(class).
		WithWhere(where).
		WithLimit(findLimit).
		WithFields(graphql.Field{Name: "_additional { id }"}).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query expired %s objects: %w", class, err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[idOnlyResponse](resp)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to parse expired %s response: %w", class, err)
	}

	var out []ExpiredObject
	for _, obj := range parsed.Get[class] {
		if obj.Additional.ID != "" {
			out = append(out, ExpiredObject{Class: class, WeaviateID: obj.Additional.ID})
		}
	}
	span.SetAttributes(attribute.Int("found", len(out)))
	return out, nil
}

func (s *weaviateRetention) Delete(ctx context.Context, objects []ExpiredObject) (int, []string) {
	ctx, span := tracer.Start(ctx, "ttl.delete")
	defer span.End()

	deleted := 0
	var errs []string
	for _, obj := range objects {
		err := s.client.Data().Deleter().
			WithClassName(obj.Class).
			WithID(obj.WeaviateID).
			Do(ctx)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s/%s: %v", obj.Class, obj.WeaviateID, err))
			continue
		}
		deleted++
	}
	span.SetAttributes(attribute.Int("deleted", deleted))
	return deleted, errs
}

var _ RetentionService = (*weaviateRetention)(nil)
