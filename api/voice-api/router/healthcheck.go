// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

package voice_routers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codevamp-f2fintech/ai-server/pkg/commons"
)

// HealthCheckRoutes registers liveness and readiness probes.
func HealthCheckRoutes(engine *gin.Engine, logger commons.Logger, deps Deps) {
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":       "ok",
			"active_calls": deps.Engine.ActiveCalls(),
		})
	})
	engine.GET("/readiness", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
}
