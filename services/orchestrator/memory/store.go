// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package memory persists conversation transcripts and computes the bounded
// history window used to augment queries.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"

	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/datatypes"
)

var memTracer = otel.Tracer("cosmos.orchestrator.memory")

// loadAllLimit bounds a transcript read. A chat session never legitimately
// reaches this many turns.
const loadAllLimit = 10000

// PersistenceError wraps a transcript store failure. Callers treat it as
// recoverable: memory degrades to "no history", it never fails a request.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("conversation store %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// MessageStore is the durable transcript backend.
//
// Implementations must preserve insertion order per session: LoadAll
// returns turns in the order AppendTurns wrote them.
type MessageStore interface {
	// AppendTurns writes turns to the session transcript in order. The
	// write is all-or-nothing per call.
	AppendTurns(ctx context.Context, sessionID string, turns []datatypes.ConversationTurn) error

	// LoadAll returns the full session transcript in insertion order.
	LoadAll(ctx context.Context, sessionID string) ([]datatypes.ConversationTurn, error)

	// EnsureSchema creates backing storage if it does not exist yet.
	EnsureSchema(ctx context.Context) error
}

// =============================================================================
// Weaviate Message Store
// =============================================================================

// WeaviateMessageStore persists ChatTurn objects in Weaviate.
//
// Turn ordering is carried by an explicit turn_index property rather than
// by timestamps alone, so two turns written in the same millisecond still
// sort deterministically.
type WeaviateMessageStore struct {
	client *weaviate.Client
}

var _ MessageStore = (*WeaviateMessageStore)(nil)

// NewWeaviateMessageStore creates a store backed by the given client.
// Panics if client is nil: the store is a required dependency and a nil
// client is a wiring bug, not a runtime condition.
func NewWeaviateMessageStore(client *weaviate.Client) *WeaviateMessageStore {
	if client == nil {
		panic("memory: weaviate client is required")
	}
	return &WeaviateMessageStore{client: client}
}

// EnsureSchema creates the ChatTurn class when absent.
func (s *WeaviateMessageStore) EnsureSchema(ctx context.Context) error {
	_, err := s.client.Schema().ClassGetter().
		WithClassName(datatypes.ChatTurnClass).
		Do(ctx)
	if err == nil {
		return nil
	}

	slog.Info("Chat turn schema not found, creating it...", "class", datatypes.ChatTurnClass)
	if err := s.client.Schema().ClassCreator().
		WithClass(datatypes.GetChatTurnSchema()).
		Do(ctx); err != nil {
		return &PersistenceError{Op: "ensure_schema", Err: err}
	}
	return nil
}

// AppendTurns writes the turns with consecutive indexes after the current
// transcript tail.
func (s *WeaviateMessageStore) AppendTurns(ctx context.Context, sessionID string, turns []datatypes.ConversationTurn) error {
	ctx, span := memTracer.Start(ctx, "WeaviateMessageStore.AppendTurns")
	defer span.End()

	if len(turns) == 0 {
		return nil
	}

	nextIndex, err := s.nextTurnIndex(ctx, sessionID)
	if err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	batcher := s.client.Batch().ObjectsBatcher()
	for i, turn := range turns {
		props := datatypes.ChatTurnProperties{
			SessionID:  sessionID,
			Role:       string(turn.Role),
			Content:    turn.Content,
			TopicReset: turn.TopicReset,
			TurnIndex:  nextIndex + i,
			Timestamp:  now,
		}
		batcher = batcher.WithObjects(&models.Object{
			Class:      datatypes.ChatTurnClass,
			Properties: props.ToMap(),
		})
	}

	resp, err := batcher.Do(ctx)
	if err != nil {
		return &PersistenceError{Op: "append", Err: err}
	}
	for _, obj := range resp {
		if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
			return &PersistenceError{
				Op:  "append",
				Err: fmt.Errorf("batch object rejected: %s", obj.Result.Errors.Error[0].Message),
			}
		}
	}

	slog.Debug("Appended conversation turns",
		"sessionId", sessionID,
		"count", len(turns),
		"firstIndex", nextIndex)
	return nil
}

// nextTurnIndex returns 1 + the highest stored turn_index for the session.
func (s *WeaviateMessageStore) nextTurnIndex(ctx context.Context, sessionID string) (int, error) {
	where := filters.Where().
		WithPath([]string{"session_id"}).
		WithOperator(filters.Equal).
		WithValueString(sessionID)

	resp, err := s.client.GraphQL().Get().
		WithClassName(datatypes.ChatTurnClass).
		WithWhere(where).
		WithFields(graphql.Field{Name: "turn_index"}).
		WithSort(graphql.Sort{Path: []string{"turn_index"}, Order: graphql.Desc}).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return 0, &PersistenceError{Op: "next_index", Err: err}
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ChatTurnQueryResponse](resp)
	if err != nil {
		return 0, &PersistenceError{Op: "next_index", Err: err}
	}

	if len(parsed.Get.ChatTurn) == 0 || parsed.Get.ChatTurn[0].TurnIndex == nil {
		return 1, nil
	}
	return *parsed.Get.ChatTurn[0].TurnIndex + 1, nil
}

// LoadAll returns the session transcript ordered by turn_index.
func (s *WeaviateMessageStore) LoadAll(ctx context.Context, sessionID string) ([]datatypes.ConversationTurn, error) {
	ctx, span := memTracer.Start(ctx, "WeaviateMessageStore.LoadAll")
	defer span.End()

	where := filters.Where().
		WithPath([]string{"session_id"}).
		WithOperator(filters.Equal).
		WithValueString(sessionID)

	fieldNames := []graphql.Field{
		{Name: "role"},
		{Name: "content"},
		{Name: "topic_reset"},
		{Name: "turn_index"},
	}

	resp, err := s.client.GraphQL().Get().
		WithClassName(datatypes.ChatTurnClass).
		WithWhere(where).
		WithFields(fieldNames...).
		WithSort(graphql.Sort{Path: []string{"turn_index"}, Order: graphql.Asc}).
		WithLimit(loadAllLimit).
		Do(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "load_all", Err: err}
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ChatTurnQueryResponse](resp)
	if err != nil {
		return nil, &PersistenceError{Op: "load_all", Err: err}
	}

	turns := make([]datatypes.ConversationTurn, 0, len(parsed.Get.ChatTurn))
	for _, t := range parsed.Get.ChatTurn {
		turns = append(turns, datatypes.ConversationTurn{
			Role:       datatypes.Role(t.Role),
			Content:    t.Content,
			TopicReset: t.TopicReset,
		})
	}
	return turns, nil
}
