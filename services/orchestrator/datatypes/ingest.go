// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "github.com/go-playground/validator/v10"

// ingestValidate is the validator instance for ingest datatypes.
var ingestValidate = validator.New()

// IngestRequest is the payload for adding a document to the vector index.
//
// # Description
//
// The engine chunks Content and upserts the chunks as Passage objects.
// The whole upsert runs under the configured upsert timeout.
//
// # Fields
//
//   - Content: Required. The raw document text.
//   - SourceType: Required. One of web, video, document, image, unknown.
//   - DisplayName: Required. Human-readable citation name (domain, title,
//     filename).
//   - SourceID: Required. Stable identifier of the source (URL, video id,
//     document id).
//   - Extra: Optional. Per-type citation metadata (url, format).
type IngestRequest struct {
	Content     string            `json:"content" validate:"required"`
	SourceType  string            `json:"source_type" validate:"required,oneof=web video document image unknown"`
	DisplayName string            `json:"display_name" validate:"required"`
	SourceID    string            `json:"source_id" validate:"required"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Validate validates the IngestRequest fields after JSON binding.
func (r *IngestRequest) Validate() error {
	return ingestValidate.Struct(r)
}

// IngestResult reports the outcome of a document ingest.
type IngestResult struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
}
