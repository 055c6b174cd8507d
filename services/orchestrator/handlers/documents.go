// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"

	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/datatypes"
	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/services"
)

// HandleIngest returns the handler for POST /v1/documents.
//
// # Description
//
// Binds an IngestRequest, chunks and upserts the content through the
// engine, and returns the IngestResult. A failed upsert (timeout or
// unreachable store) returns 200 with success=false; validation errors
// return 400.
func HandleIngest(engine *services.QueryEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "handlers.ingest")
		defer span.End()

		var req datatypes.IngestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.SetStatus(codes.Error, "bind failed")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		result, err := engine.Ingest(ctx, &req)
		if err != nil {
			span.RecordError(err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		status := http.StatusOK
		if result.Success {
			status = http.StatusCreated
		}
		c.JSON(status, result)
	}
}
