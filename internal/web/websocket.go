package web

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Served on the local network, same policy as the CORS middleware.
		return true
	},
}

// handleWebSocket upgrades the connection and subscribes it to the
// realtime event channel. When an auth token is configured the client
// must present it as ?token= or a bearer Authorization header.
func (s *Server) handleWebSocket(c *gin.Context) {
	if !s.authorized(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.LogWarn("WebSocket upgrade failed", "error", err, "client_ip", c.ClientIP())
		return
	}

	s.hub.Register(conn)
	s.LogDebug("WebSocket client connected", "client_ip", c.ClientIP())

	// Inbound messages are ignored; the read loop only detects
	// disconnects.
	go func() {
		defer func() {
			s.hub.Unregister(conn)
			conn.Close()
			s.LogDebug("WebSocket client disconnected", "client_ip", c.ClientIP())
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// authMiddleware enforces the static API token when one is configured.
// The health endpoint stays open for probes.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.FullPath() == "/api/health" || s.authorized(c) {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
	}
}

func (s *Server) authorized(c *gin.Context) bool {
	if s.config.AuthToken == "" {
		return true
	}
	if c.Query("token") == s.config.AuthToken {
		return true
	}
	auth := c.GetHeader("Authorization")
	return strings.TrimPrefix(auth, "Bearer ") == s.config.AuthToken && auth != ""
}
