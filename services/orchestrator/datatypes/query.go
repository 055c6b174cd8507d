// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the query engine.
//
// This file contains the request and response types for the RAG query
// endpoints (blocking and streaming). Weaviate-facing types live in
// weaviate_schemas.go and weaviate_query.go.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxQueryBytes is the maximum size of a single query text.
	// Oversized payloads are rejected at validation time.
	MaxQueryBytes = 32 * 1024 // 32KB

	// DefaultModelName is used when a request does not name a model.
	// Carried from the legacy deployment's default Groq model.
	DefaultModelName = "mixtral-8x7b-32768"

	// DefaultTemperature is used when a request does not set one.
	DefaultTemperature = 0.7
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// queryValidate is the validator instance for query datatypes.
var queryValidate *validator.Validate

func init() {
	queryValidate = validator.New()
	_ = queryValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length (not rune count) so large multi-byte
// payloads cannot slip past a rune-based limit.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxQueryBytes
}

// =============================================================================
// Query Request
// =============================================================================

// QueryRequest is the single entry point payload for the query engine.
//
// # Description
//
// QueryRequest carries the user's question plus the knobs that shape
// retrieval and generation. The same type serves the blocking and the
// streaming endpoint.
//
// # Fields
//
//   - Query: Required. The user's question. Limited to 32KB.
//   - ModelName: Optional. Generation model; DefaultModelName if empty.
//   - Temperature: Optional. Generation temperature; nil means default.
//   - SourceFilters: Optional. Map of source type -> include flag. Only
//     types mapped to true are searched. Key order is irrelevant: the
//     cache canonicalizes filters before hashing.
//   - SessionID: Optional. Conversation session for memory persistence.
//     Deliberately excluded from the cache key so identical questions
//     across sessions can share a cache hit.
//   - IsSystemMessage: Optional. Marks a topic-reset system message. System
//     messages bypass caching and retrieval entirely.
//
// # Validation
//
//   - Query: required, max 32KB
//   - Temperature: 0.0-2.0 when set
type QueryRequest struct {
	Query           string          `json:"query" validate:"required,maxbytes"`
	ModelName       string          `json:"model_name"`
	Temperature     *float32        `json:"temperature" validate:"omitempty,gte=0,lte=2"`
	SourceFilters   map[string]bool `json:"source_filters,omitempty"`
	SessionID       string          `json:"session_id,omitempty"`
	IsSystemMessage bool            `json:"is_system_message,omitempty"`
}

// Validate validates the QueryRequest fields after JSON binding.
func (r *QueryRequest) Validate() error {
	return queryValidate.Struct(r)
}

// EnsureDefaults populates the model name and temperature when the client
// left them unset.
func (r *QueryRequest) EnsureDefaults() {
	if r.ModelName == "" {
		r.ModelName = DefaultModelName
	}
	if r.Temperature == nil {
		t := float32(DefaultTemperature)
		r.Temperature = &t
	}
}

// EffectiveTemperature returns the request temperature or the default.
func (r *QueryRequest) EffectiveTemperature() float32 {
	if r.Temperature != nil {
		return *r.Temperature
	}
	return DefaultTemperature
}

// =============================================================================
// Query Result
// =============================================================================

// Timing is the per-phase latency breakdown of a query, in seconds.
//
// Retrieval is pinned to the configured timeout value when the retrieval
// call timed out, so callers can distinguish a slow success from a
// deadline failure.
type Timing struct {
	Retrieval     float64 `json:"retrieval"`
	ContextFormat float64 `json:"context_format"`
	Generation    float64 `json:"generation"`
	Total         float64 `json:"total"`
}

// QueryResult is the engine's answer to a single query.
//
// # Description
//
// Every execution path produces a well-formed QueryResult, including the
// failure paths: expected failures (retrieval timeout, generation backend
// unavailable) set Success to false and put a human-readable explanation in
// Answer rather than surfacing a transport-level error.
//
// # Fields
//
//   - ID: Server-generated UUID for audit correlation.
//   - Answer: Generated answer text, or a degradation message on failure.
//   - Success: False when retrieval or generation terminally failed.
//   - Timing: Per-phase latency breakdown.
//   - SessionID: Echo of the request session, if any.
//   - CreatedAt: Unix milliseconds when the result was built.
type QueryResult struct {
	ID        string `json:"id"`
	Answer    string `json:"answer"`
	Success   bool   `json:"success"`
	Timing    Timing `json:"timing"`
	SessionID string `json:"session_id,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// NewQueryResult creates a QueryResult with a fresh ID and timestamp.
func NewQueryResult(answer string, success bool, sessionID string) *QueryResult {
	return &QueryResult{
		ID:        uuid.New().String(),
		Answer:    answer,
		Success:   success,
		SessionID: sessionID,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// =============================================================================
// Retrieved Passages
// =============================================================================

// SourceType classifies where a retrieved passage originally came from.
type SourceType string

const (
	SourceWeb      SourceType = "web"
	SourceVideo    SourceType = "video"
	SourceDocument SourceType = "document"
	SourceImage    SourceType = "image"
	SourceUnknown  SourceType = "unknown"
)

// KnownSourceTypes lists every source type a filter may name.
var KnownSourceTypes = []SourceType{
	SourceWeb, SourceVideo, SourceDocument, SourceImage, SourceUnknown,
}

// IsKnownSourceType reports whether s names a recognized source type.
func IsKnownSourceType(s string) bool {
	for _, t := range KnownSourceTypes {
		if string(t) == s {
			return true
		}
	}
	return false
}

// RetrievedPassage is an immutable text fragment returned by the vector
// index, together with its citation metadata.
//
// Passages are owned by the query that retrieved them and are never
// mutated after context assembly.
type RetrievedPassage struct {
	Content     string            `json:"content"`
	SourceType  SourceType        `json:"source_type"`
	DisplayName string            `json:"display_name"`
	SourceID    string            `json:"source_id"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// =============================================================================
// Conversation Turns
// =============================================================================

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ConversationTurn is one persisted message of a session transcript.
//
// Turns are written once and never mutated; the memory windowing algorithm
// only selects subsequences of the stored transcript.
type ConversationTurn struct {
	Role       Role   `json:"role"`
	Content    string `json:"content"`
	TopicReset bool   `json:"topic_reset,omitempty"`
}
