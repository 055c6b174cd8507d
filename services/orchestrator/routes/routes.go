// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/handlers"
	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/middleware"
	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/services"
)

// SetupRoutes registers all HTTP routes on the router.
//
// Health and metrics stay outside the authenticated group so probes and
// scrapers work without credentials.
func SetupRoutes(router *gin.Engine, engine *services.QueryEngine, apiKey string) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(middleware.APIKeyAuth(apiKey))
	{
		v1.POST("/query", handlers.HandleQuery(engine))
		v1.POST("/query/stream", handlers.HandleQueryStream(engine))
		v1.POST("/documents", handlers.HandleIngest(engine))

		cacheAdmin := v1.Group("/cache")
		{
			cacheAdmin.POST("/clear", handlers.HandleCacheClear(engine))
			cacheAdmin.GET("/stats", handlers.HandleCacheStats(engine))
		}
	}
}
