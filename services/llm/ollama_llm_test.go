// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOllamaClient(baseURL, model string) *OllamaClient {
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      model,
	}
}

func TestOllamaGenerate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"model":"test-model","response":"hello world","done":true}`)
	}))
	defer server.Close()

	client := newTestOllamaClient(server.URL, "test-model")
	got, err := client.Generate(context.Background(), "say hello", GenerationParams{})

	require.NoError(t, err)
	assert.Equal(t, "hello world", got)
}

func TestOllamaGenerate_ServerErrorIsBackendUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"boom"}`)
	}))
	defer server.Close()

	client := newTestOllamaClient(server.URL, "test-model")
	_, err := client.Generate(context.Background(), "q", GenerationParams{})

	require.Error(t, err)
	assert.True(t, IsBackendUnavailable(err))
}

func TestOllamaGenerate_ModelNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model 'missing' not found"}`)
	}))
	defer server.Close()

	client := newTestOllamaClient(server.URL, "missing")
	_, err := client.Generate(context.Background(), "q", GenerationParams{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama pull")
}

func TestOllamaGenerateStream_TokensThenDone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"response":"Hel","done":false}`)
		fmt.Fprintln(w, `{"response":"lo","done":false}`)
		fmt.Fprintln(w, `{"response":"","done":true}`)
	}))
	defer server.Close()

	client := newTestOllamaClient(server.URL, "test-model")

	var events []StreamEvent
	err := client.GenerateStream(context.Background(), "q", GenerationParams{}, func(e StreamEvent) error {
		events = append(events, e)
		return nil
	})

	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, StreamEventToken, events[0].Type)
	assert.Equal(t, "Hel", events[0].Content)
	assert.Equal(t, "lo", events[1].Content)
	assert.Equal(t, StreamEventDone, events[2].Type)
}

func TestOllamaGenerateStream_CallbackStopAbortsStream(t *testing.T) {
	stop := errors.New("consumer gone")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 100; i++ {
			fmt.Fprintln(w, `{"response":"tok","done":false}`)
			flusher.Flush()
		}
		fmt.Fprintln(w, `{"response":"","done":true}`)
	}))
	defer server.Close()

	client := newTestOllamaClient(server.URL, "test-model")

	seen := 0
	err := client.GenerateStream(context.Background(), "q", GenerationParams{}, func(e StreamEvent) error {
		seen++
		if seen >= 3 {
			return stop
		}
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 3, seen, "no events may be delivered after the consumer stops")
}

func TestOllamaGenerateStream_MissingDoneStillCompletes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"only","done":false}`)
	}))
	defer server.Close()

	client := newTestOllamaClient(server.URL, "test-model")

	var last StreamEvent
	err := client.GenerateStream(context.Background(), "q", GenerationParams{}, func(e StreamEvent) error {
		last = e
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, StreamEventDone, last.Type, "a truncated body closes the stream cleanly")
}

func TestResolveModel(t *testing.T) {
	client := newTestOllamaClient("http://localhost:11434", "default-model")
	assert.Equal(t, "default-model", client.resolveModel(GenerationParams{}))
	assert.Equal(t, "override", client.resolveModel(GenerationParams{Model: "override"}))
}
