// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// StreamEvent is one Server-Sent Event on the streaming query endpoint.
//
// # Description
//
// Events carry integrity metadata so a client can verify the stream was
// not tampered with or reordered:
//
//   - Id: UUID v4 for ordering and deduplication.
//   - CreatedAt: Unix timestamp in milliseconds.
//   - Hash: SHA-256 of the event content.
//   - PrevHash: Hash of the previous event, forming a chain.
//
// Event types are "status", "token", "error", and "done".
type StreamEvent struct {
	Id        string `json:"id,omitempty"`
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	SessionId string `json:"session_id,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
	Hash      string `json:"hash,omitempty"`
	PrevHash  string `json:"prev_hash,omitempty"`
}
