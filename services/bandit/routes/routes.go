// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianBandit/services/bandit/handlers"
	"github.com/AleutianAI/AleutianBandit/services/bandit/middleware"
)

// Limits configures rate limiting of write endpoints.
type Limits struct {
	WriteRPS   float64
	WriteBurst int
}

// SetupRoutes registers every bandit endpoint on router.
func SetupRoutes(router *gin.Engine, d *handlers.Deps, limits Limits) {
	router.GET("/", handlers.Root)
	router.GET("/health", handlers.HealthCheck)

	router.POST("/data", middleware.RateLimit(limits.WriteRPS, limits.WriteBurst), handlers.PostData(d))
	router.GET("/allocation", handlers.GetAllocation(d))
	router.GET("/metrics", handlers.GetMetrics(d))
	router.GET("/experiments", handlers.ListExperiments(d))

	if d.Metrics != nil {
		internal := router.Group("/internal")
		{
			internal.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
		}
	}
}
