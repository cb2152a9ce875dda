// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

package voice_routers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/codevamp-f2fintech/ai-server/pkg/commons"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The carrier's media gateway sends no Origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

// MediaStreamRoutes registers the hosted telephony WebSocket endpoint.
func MediaStreamRoutes(engine *gin.Engine, logger commons.Logger, deps Deps) {
	engine.GET("/media-stream", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("Media stream upgrade failed", "remote", c.ClientIP(), "error", err)
			return
		}
		defer conn.Close()
		deps.Engine.ServeMediaStream(conn)
	})
}
