// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"context"
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

type stubLLM struct{}

func (stubLLM) Generate(context.Context, string, llm.GenerationParams) (string, error) {
	return "ok", nil
}

func (stubLLM) GenerateStream(_ context.Context, _ string, _ llm.GenerationParams, cb llm.StreamCallback) error {
	return cb(llm.StreamEvent{Type: llm.StreamEventDone})
}

type stubRetriever struct{}

func (stubRetriever) Search(context.Context, string, map[string]bool, int) ([]datatypes.RetrievedPassage, error) {
	return nil, nil
}

func (stubRetriever) Upsert(context.Context, []retrieval.Chunk) error { return nil }

type stubStore struct{}

func (stubStore) AppendTurns(context.Context, string, []datatypes.ConversationTurn) error {
	return nil
}

func (stubStore) LoadAll(context.Context, string) ([]datatypes.ConversationTurn, error) {
	return nil, nil
}

func (stubStore) EnsureSchema(context.Context) error { return nil }

func newTestRouter(apiKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := services.NewQueryEngine(
		stubLLM{}, stubRetriever{},
		cache.NewResponseCache(0, 0),
		memory.NewManager(stubStore{}, 0),
		services.Config{},
	)
	router := gin.New()
	SetupRoutes(router, engine, apiKey)
	return router
}

func TestRoutes_Registered(t *testing.T) {
	router := newTestRouter("")

	cases := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodPost, "/v1/query", `{"query":"q"}`, http.StatusOK},
		{http.MethodPost, "/v1/cache/clear", "", http.StatusOK},
		{http.MethodGet, "/v1/cache/stats", "", http.StatusOK},
		{http.MethodPost, "/v1/documents", `{}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, tc.want, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestRoutes_AuthProtectsAPIButNotProbes(t *testing.T) {
	router := newTestRouter("k3y")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query":"q"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query":"q"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer k3y")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
