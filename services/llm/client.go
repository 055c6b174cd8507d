// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm wraps the generation backends behind one client interface.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// GenerationParams carries the per-request generation knobs. Nil pointer
// fields mean "use the backend default".
type GenerationParams struct {
	Model       string   `json:"model"`
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// StreamEventType tags a streamed event.
type StreamEventType string

const (
	// StreamEventToken carries one generated text fragment.
	StreamEventToken StreamEventType = "token"
	// StreamEventDone marks the end of a successful stream.
	StreamEventDone StreamEventType = "done"
	// StreamEventError marks a mid-stream backend failure; Content holds
	// the error description. The stream ends after this event.
	StreamEventError StreamEventType = "error"
)

// StreamEvent is one unit of a streamed generation.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Content string          `json:"content,omitempty"`
}

// StreamCallback consumes stream events as they arrive. Returning a
// non-nil error stops consumption; the backend call is then abandoned
// best-effort via context cancellation.
type StreamCallback func(event StreamEvent) error

// Client is the standard interface for any generation backend.
type Client interface {
	// Generate produces the full completion for prompt, blocking until the
	// backend finishes.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// GenerateStream produces the completion incrementally, invoking
	// callback for every fragment and a final done or error event.
	GenerateStream(ctx context.Context, prompt string, params GenerationParams, callback StreamCallback) error
}

// BackendUnavailableError indicates the generation backend could not be
// reached or rejected the request.
type BackendUnavailableError struct {
	Backend string
	Err     error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("generation backend %s unavailable: %v", e.Backend, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error { return e.Err }

// IsBackendUnavailable checks if an error is a BackendUnavailableError.
func IsBackendUnavailable(err error) bool {
	var bu *BackendUnavailableError
	return errors.As(err, &bu)
}
