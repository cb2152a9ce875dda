// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

// Package voice_routers exposes the engine's HTTP surface: call control,
// the hosted media-stream WebSocket, and health probes.
package voice_routers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	internal_store "github.com/codevamp-f2fintech/ai-server/api/voice-api/internal/store"
	"github.com/codevamp-f2fintech/ai-server/pkg/commons"
)

// CallEngine is the bridge surface the routes drive.
type CallEngine interface {
	StartOutboundCall(ctx context.Context, agentID, customerNumber string) (string, error)
	EndCall(callID string) error
	ActiveCalls() int
	ServeMediaStream(conn *websocket.Conn)
}

// Originator places calls through the hosted carrier. Nil when hosted
// origination is not configured.
type Originator interface {
	StartCall(agentID, toNumber string) (string, error)
}

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Engine     CallEngine
	Store      internal_store.CallStore
	Originator Originator
	SIPEnabled bool
}

// New assembles the gin engine with all voice-api routes registered.
func New(logger commons.Logger, deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	HealthCheckRoutes(engine, logger, deps)
	CallRoutes(engine, logger, deps)
	MediaStreamRoutes(engine, logger, deps)
	return engine
}
