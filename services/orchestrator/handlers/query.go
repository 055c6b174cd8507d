// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers provides the HTTP handlers of the query engine.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/abdullah-a8/cosmos-engine/pkg/validation"
	"github.com/abdullah-a8/cosmos-engine/services/llm"
	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/datatypes"
	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/services"
	"github.com/abdullah-a8/cosmos-engine/services/retrieval"
)

var tracer = otel.Tracer("cosmos.orchestrator.handlers")

// keepAliveInterval paces SSE comments during quiet stretches. Load
// balancers commonly cut idle connections at 60 seconds.
const keepAliveInterval = 15 * time.Second

// HandleQuery returns the handler for POST /v1/query.
//
// # Description
//
// Binds a QueryRequest, runs it through the engine, and returns the
// QueryResult as JSON. Expected runtime failures (timeouts, unreachable
// backends) come back as 200 with success=false; only caller errors
// produce 4xx.
func HandleQuery(engine *services.QueryEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "handlers.query")
		defer span.End()

		var req datatypes.QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.SetStatus(codes.Error, "bind failed")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		if err := validation.ValidateSessionID(req.SessionID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := engine.Query(ctx, &req)
		if err != nil {
			span.RecordError(err)
			// The engine only errors on caller mistakes: validation
			// failures and malformed filters.
			status := http.StatusBadRequest
			if !retrieval.IsMalformedFilter(err) && ctx.Err() != nil {
				status = http.StatusRequestTimeout
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

// HandleQueryStream returns the handler for POST /v1/query/stream.
//
// # Description
//
// Streams the answer as Server-Sent Events: a status event, token events,
// then done with the session ID. Failures mid-stream emit an error event
// before the stream closes. A keepalive comment goes out every 15 seconds
// while the engine is quiet.
//
// Client disconnection is detected through the request context. The
// engine persists whatever was streamed before the drop.
func HandleQueryStream(engine *services.QueryEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "handlers.query_stream")
		defer span.End()

		var req datatypes.QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.SetStatus(codes.Error, "bind failed")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		if err := validation.ValidateSessionID(req.SessionID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		SetSSEHeaders(c.Writer)
		writer, err := NewSSEWriter(c.Writer)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
			return
		}

		if err := writer.WriteStatus("Searching knowledge base..."); err != nil {
			return
		}

		// Keepalives run until the stream finishes.
		quiet := make(chan struct{})
		go func() {
			ticker := time.NewTicker(keepAliveInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := writer.WriteKeepAlive(); err != nil {
						return
					}
				case <-quiet:
					return
				}
			}
		}()
		defer close(quiet)

		result, err := engine.StreamQuery(ctx, &req, func(ev llm.StreamEvent) error {
			// A dropped client surfaces as a context error; stop
			// pulling tokens so the engine can flush what it has.
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			switch ev.Type {
			case llm.StreamEventToken:
				return writer.WriteToken(ev.Content)
			case llm.StreamEventError:
				return writer.WriteError(ev.Content)
			case llm.StreamEventDone:
				return nil
			}
			return nil
		})
		if err != nil {
			span.RecordError(err)
			_ = writer.WriteError(err.Error())
			return
		}

		if result.Success {
			_ = writer.WriteDone(result.SessionID)
		}
		slog.Debug("Stream finished",
			"session_id", result.SessionID,
			"success", result.Success)
	}
}

// HandleCacheClear returns the handler for POST /v1/cache/clear.
func HandleCacheClear(engine *services.QueryEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		removed := engine.ClearCache()
		c.JSON(http.StatusOK, gin.H{"cleared": removed})
	}
}

// HandleCacheStats returns the handler for GET /v1/cache/stats.
func HandleCacheStats(engine *services.QueryEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, engine.CacheStats())
	}
}

// HealthCheck responds to GET /health for container orchestration probes.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "cosmos-engine"})
}
