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

// Call transport selectors.
const (
	TransportSIP    = "sip"
	TransportHosted = "hosted"
)

type startCallRequest struct {
	AgentID        string `json:"agentId" binding:"required"`
	CustomerNumber string `json:"customerNumber" binding:"required"`
	// Transport selects the outbound leg: "sip" dials the trunk directly,
	// "hosted" asks the carrier to call back into /media-stream.
	Transport string `json:"transport"`
}

// CallRoutes registers call control: start, inspect, hang up.
func CallRoutes(engine *gin.Engine, logger commons.Logger, deps Deps) {
	apiv1 := engine.Group("/api/v1")

	apiv1.POST("/calls", func(c *gin.Context) {
		var req startCallRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Transport == "" {
			req.Transport = TransportSIP
		}

		switch req.Transport {
		case TransportSIP:
			if !deps.SIPEnabled {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "SIP trunk is not configured"})
				return
			}
			callID, err := deps.Engine.StartOutboundCall(c.Request.Context(), req.AgentID, req.CustomerNumber)
			if err != nil {
				logger.Error("Failed to start outbound call", "agent_id", req.AgentID, "error", err)
				c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusCreated, gin.H{"callId": callID, "transport": TransportSIP})

		case TransportHosted:
			if deps.Originator == nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "hosted telephony is not configured"})
				return
			}
			callSID, err := deps.Originator.StartCall(req.AgentID, req.CustomerNumber)
			if err != nil {
				logger.Error("Failed to originate hosted call", "agent_id", req.AgentID, "error", err)
				c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusCreated, gin.H{"callId": callSID, "transport": TransportHosted})

		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown transport: " + req.Transport})
		}
	})

	apiv1.GET("/calls/:id", func(c *gin.Context) {
		rec, err := deps.Store.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"call":       rec,
			"transcript": rec.Transcript(),
		})
	})

	apiv1.POST("/calls/:id/hangup", func(c *gin.Context) {
		callID := c.Param("id")
		if err := deps.Engine.EndCall(callID); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"callId": callID, "status": "ending"})
	})
}
