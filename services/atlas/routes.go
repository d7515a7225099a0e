// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package atlas

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes registers the atlas API under rg.
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	atlas := rg.Group("/atlas")
	{
		atlas.GET("/query", handlers.HandleQuery)
		atlas.GET("/records/:id", handlers.HandleRecord)
		atlas.GET("/tags", handlers.HandleTags)
		atlas.GET("/years", handlers.HandleYears)

		atlas.POST("/rebuild", handlers.HandleRebuild)

		atlas.GET("/health", handlers.HandleHealth)
		atlas.GET("/ready", handlers.HandleReady)
	}
}

// NewRouter builds the engine: recovery, otel tracing, /metrics and /v1.
func NewRouter(handlers *Handlers, serviceName string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	RegisterRoutes(router.Group("/v1"), handlers)
	return router
}
