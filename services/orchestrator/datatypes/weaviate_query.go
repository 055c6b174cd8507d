// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// This generic function encapsulates the marshal/unmarshal pattern required to
// convert Weaviate's dynamic response (map[string]models.JSONObject) into a
// strongly-typed Go struct. The target type T must have json tags matching
// the expected response shape.
//
// # Type Parameters
//
//   - T: The target struct type with json tags matching the response shape.
//
// # Inputs
//
//   - resp: The GraphQL response from Weaviate client's Do() method.
//
// # Outputs
//
//   - *T: Pointer to the parsed struct.
//   - error: Non-nil if response is nil or parsing fails.
//
// # Example
//
//	resp, err := client.GraphQL().Get().WithClassName("Passage").Do(ctx)
//	if err != nil { ... }
//
//	parsed, err := ParseGraphQLResponse[PassageQueryResponse](resp)
//	if err != nil { ... }
//
//	for _, p := range parsed.Get.Passage {
//	    fmt.Println(p.Content)
//	}
//
// # Limitations
//
//   - Requires the target type to exactly match the expected response structure.
//   - Type mismatches will result in zero values, not errors.
//
// # Assumptions
//
//   - The response Data field is JSON-marshalable.
//   - The target type T has correct json tags.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// Common Weaviate Response Types
// =============================================================================

// PassageQueryResponse represents the response from querying the Passage class.
type PassageQueryResponse struct {
	Get struct {
		Passage []PassageResult `json:"Passage"`
	} `json:"Get"`
}

// PassageResult represents a single retrieved passage from a query.
type PassageResult struct {
	Content     string `json:"content"`
	SourceType  string `json:"source_type"`
	DisplayName string `json:"display_name"`
	SourceID    string `json:"source_id"`
	DocumentID  string `json:"document_id"`
	ChunkIndex  *int   `json:"chunk_index"`
	Extra       string `json:"extra"`
	IngestedAt  int64  `json:"ingested_at"`
	Additional  struct {
		ID        string   `json:"id"`
		Distance  *float32 `json:"distance"`
		Certainty *float32 `json:"certainty"`
	} `json:"_additional"`
}

// ChatTurnQueryResponse represents the response from querying the ChatTurn class.
type ChatTurnQueryResponse struct {
	Get struct {
		ChatTurn []ChatTurnResult `json:"ChatTurn"`
	} `json:"Get"`
}

// ChatTurnResult represents a single conversation turn from a query.
type ChatTurnResult struct {
	SessionID  string `json:"session_id"`
	Role       string `json:"role"`
	Content    string `json:"content"`
	TopicReset bool   `json:"topic_reset"`
	TurnIndex  *int   `json:"turn_index"`
	Timestamp  int64  `json:"timestamp"`
}

// =============================================================================
// Property Structs for Object Creation
// =============================================================================

// PassageProperties represents the properties for creating a Passage object.
type PassageProperties struct {
	Content     string `json:"content"`
	SourceType  string `json:"source_type"`
	DisplayName string `json:"display_name"`
	SourceID    string `json:"source_id"`
	DocumentID  string `json:"document_id"`
	ChunkIndex  int    `json:"chunk_index"`
	Extra       string `json:"extra"`
	IngestedAt  int64  `json:"ingested_at"`
}

// ToMap converts PassageProperties to map[string]interface{} for Weaviate.
func (p *PassageProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"content":      p.Content,
		"source_type":  p.SourceType,
		"display_name": p.DisplayName,
		"source_id":    p.SourceID,
		"document_id":  p.DocumentID,
		"chunk_index":  p.ChunkIndex,
		"extra":        p.Extra,
		"ingested_at":  p.IngestedAt,
	}
}

// ChatTurnProperties represents the properties for creating a ChatTurn object.
type ChatTurnProperties struct {
	SessionID  string `json:"session_id"`
	Role       string `json:"role"`
	Content    string `json:"content"`
	TopicReset bool   `json:"topic_reset"`
	TurnIndex  int    `json:"turn_index"`
	Timestamp  int64  `json:"timestamp"`
}

// ToMap converts ChatTurnProperties to map[string]interface{} for Weaviate.
func (p *ChatTurnProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"session_id":  p.SessionID,
		"role":        p.Role,
		"content":     p.Content,
		"topic_reset": p.TopicReset,
		"turn_index":  p.TurnIndex,
		"timestamp":   p.Timestamp,
	}
}
