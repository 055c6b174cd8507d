// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdullah-a8/cosmos-engine/services/llm"
	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/cache"
	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/datatypes"
	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/memory"
	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/services"
	"github.com/abdullah-a8/cosmos-engine/services/retrieval"
)

// =============================================================================
// Test Doubles
// =============================================================================

type fakeLLM struct {
	answer string
	tokens []string
}

func (f *fakeLLM) Generate(context.Context, string, llm.GenerationParams) (string, error) {
	return f.answer, nil
}

func (f *fakeLLM) GenerateStream(_ context.Context, _ string, _ llm.GenerationParams, cb llm.StreamCallback) error {
	for _, tok := range f.tokens {
		if err := cb(llm.StreamEvent{Type: llm.StreamEventToken, Content: tok}); err != nil {
			return err
		}
	}
	return cb(llm.StreamEvent{Type: llm.StreamEventDone})
}

type fakeRetriever struct {
	upserts int
}

func (f *fakeRetriever) Search(context.Context, string, map[string]bool, int) ([]datatypes.RetrievedPassage, error) {
	return nil, nil
}

func (f *fakeRetriever) Upsert(_ context.Context, _ []retrieval.Chunk) error {
	f.upserts++
	return nil
}

type memStore struct {
	turns map[string][]datatypes.ConversationTurn
}

func (s *memStore) AppendTurns(_ context.Context, id string, turns []datatypes.ConversationTurn) error {
	s.turns[id] = append(s.turns[id], turns...)
	return nil
}

func (s *memStore) LoadAll(_ context.Context, id string) ([]datatypes.ConversationTurn, error) {
	return s.turns[id], nil
}

func (s *memStore) EnsureSchema(context.Context) error { return nil }

func testRouter(t *testing.T) (*gin.Engine, *fakeRetriever) {
	t.Helper()
	t.Setenv("COSMOS_INSECURE_MEMORY", "true")
	gin.SetMode(gin.TestMode)

	retr := &fakeRetriever{}
	engine := services.NewQueryEngine(
		&fakeLLM{answer: "Answer.", tokens: []string{"An", "swer."}},
		retr,
		cache.NewResponseCache(0, 0),
		memory.NewManager(&memStore{turns: map[string][]datatypes.ConversationTurn{}}, 0),
		services.Config{},
	)

	router := gin.New()
	router.GET("/health", HealthCheck)
	v1 := router.Group("/v1")
	v1.POST("/query", HandleQuery(engine))
	v1.POST("/query/stream", HandleQueryStream(engine))
	v1.POST("/documents", HandleIngest(engine))
	v1.POST("/cache/clear", HandleCacheClear(engine))
	v1.GET("/cache/stats", HandleCacheStats(engine))
	return router, retr
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// =============================================================================
// Tests
// =============================================================================

func TestHandleQuery_Success(t *testing.T) {
	router, _ := testRouter(t)

	rec := doJSON(router, http.MethodPost, "/v1/query", `{"query":"hello","session_id":"s1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result datatypes.QueryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, "Answer.", result.Answer)
	assert.Equal(t, "s1", result.SessionID)
}

func TestHandleQuery_BadJSON(t *testing.T) {
	router, _ := testRouter(t)

	rec := doJSON(router, http.MethodPost, "/v1/query", `{"query":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleQuery_EmptyQuery(t *testing.T) {
	router, _ := testRouter(t)

	rec := doJSON(router, http.MethodPost, "/v1/query", `{"query":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleQuery_MalformedFilter(t *testing.T) {
	router, _ := testRouter(t)

	rec := doJSON(router, http.MethodPost, "/v1/query",
		`{"query":"q","source_filters":{"podcast":true}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "podcast")
}

func TestHandleQuery_BadSessionID(t *testing.T) {
	router, _ := testRouter(t)

	rec := doJSON(router, http.MethodPost, "/v1/query",
		`{"query":"q","session_id":"has space"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleQueryStream_EmitsTokensAndDone(t *testing.T) {
	router, _ := testRouter(t)

	rec := doJSON(router, http.MethodPost, "/v1/query/stream", `{"query":"hello","session_id":"s1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := parseEvents(t, rec.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, "status", events[0].Type)

	var streamed strings.Builder
	sawDone := false
	for _, ev := range events {
		switch ev.Type {
		case "token":
			streamed.WriteString(ev.Content)
		case "done":
			sawDone = true
			assert.Equal(t, "s1", ev.SessionId)
		}
	}
	assert.Equal(t, "Answer.", streamed.String())
	assert.True(t, sawDone)
}

func TestHandleIngest_Created(t *testing.T) {
	router, retr := testRouter(t)

	rec := doJSON(router, http.MethodPost, "/v1/documents",
		`{"content":"some text to index","source_type":"document","display_name":"notes.txt","source_id":"d1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var result datatypes.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.DocumentID)
	assert.Positive(t, retr.upserts)
}

func TestHandleIngest_ValidationError(t *testing.T) {
	router, _ := testRouter(t)

	rec := doJSON(router, http.MethodPost, "/v1/documents",
		`{"content":"text","source_type":"podcast","display_name":"x","source_id":"d1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCacheEndpoints(t *testing.T) {
	router, _ := testRouter(t)

	// Prime the cache with one answered query.
	rec := doJSON(router, http.MethodPost, "/v1/query", `{"query":"warm"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(router, http.MethodGet, "/v1/cache/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "size")

	rec = doJSON(router, http.MethodPost, "/v1/cache/clear", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cleared":1`)
}

func TestHealthCheck(t *testing.T) {
	router, _ := testRouter(t)

	rec := doJSON(router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}
