// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retrieval finds passages relevant to a query in the vector index.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/datatypes"
)

// DefaultTopK is how many passages a search returns when the caller does
// not override it.
const DefaultTopK = 4

// MalformedFilterError indicates a source filter that cannot be applied,
// for example one naming an unrecognized source type. It is a caller
// error and terminal for the request.
type MalformedFilterError struct {
	Field  string
	Reason string
}

func (e *MalformedFilterError) Error() string {
	return fmt.Sprintf("malformed retrieval filter on %q: %s", e.Field, e.Reason)
}

// IsMalformedFilter checks if an error is a MalformedFilterError.
func IsMalformedFilter(err error) bool {
	var mf *MalformedFilterError
	return errors.As(err, &mf)
}

// BackendUnavailableError indicates the index could not be reached or
// rejected the operation.
type BackendUnavailableError struct {
	Backend string
	Err     error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("retrieval backend %s unavailable: %v", e.Backend, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error { return e.Err }

// IsBackendUnavailable checks if an error is a BackendUnavailableError.
func IsBackendUnavailable(err error) bool {
	var bu *BackendUnavailableError
	return errors.As(err, &bu)
}

// Chunk is one unit of text to upsert, already split from its document.
type Chunk struct {
	Content     string
	SourceType  string
	DisplayName string
	SourceID    string
	DocumentID  string
	ChunkIndex  int
	Extra       map[string]string
}

// VectorRetriever searches and populates the passage index.
//
// Search honors sourceFilters as an in-set match on the passage's source
// type: only types mapped to true are searched, a nil or empty map means
// no restriction, and a filter naming an unknown type fails with
// MalformedFilterError before any network call.
type VectorRetriever interface {
	Search(ctx context.Context, query string, sourceFilters map[string]bool, topK int) ([]datatypes.RetrievedPassage, error)
	Upsert(ctx context.Context, chunks []Chunk) error
}

// IncludedSourceTypes resolves a filter map to the list of source types to
// search, validating every named type.
//
// # Outputs
//
//   - []string: Types mapped to true, or nil when the map is nil or empty
//     (meaning "search everything").
//   - error: MalformedFilterError when the map names an unknown type.
//
// # Edge Cases
//
//   - A map where every type is false returns an empty non-nil slice; the
//     caller should treat that as "search nothing" and skip the backend.
func IncludedSourceTypes(sourceFilters map[string]bool) ([]string, error) {
	if len(sourceFilters) == 0 {
		return nil, nil
	}

	included := make([]string, 0, len(sourceFilters))
	for name, include := range sourceFilters {
		if !datatypes.IsKnownSourceType(name) {
			return nil, &MalformedFilterError{
				Field:  name,
				Reason: "unknown source type",
			}
		}
		if include {
			included = append(included, name)
		}
	}
	sort.Strings(included)
	return included, nil
}
