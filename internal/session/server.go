package session

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Server is the HTTP surface of one session server process: the websocket
// endpoint scoped by room id, a liveness probe, and Prometheus metrics.
type Server struct {
	Hub *Hub

	// Allow guards which room ids this process serves: the standalone
	// server accepts exactly its own id, a cluster worker accepts every
	// room assigned to it.
	Allow func(roomID string) bool

	// Path is the advertised websocket path, reported by /health.
	Path string
}

func (s *Server) Router(ctx context.Context, mode string) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(s.Hub.metrics.Handler()))

	ctl := &Controller{Hub: s.Hub}
	r.GET("/rooms/:roomId/ws", func(c *gin.Context) {
		roomID := c.Param("roomId")
		if s.Allow != nil && !s.Allow(roomID) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown room"})
			return
		}
		ctl.HandleWS(ctx, c)
	})

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.Hub == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "unhealthy",
			"error":  "hub not running",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"path":        s.Path,
		"connections": s.Hub.ConnectionCount(),
		"uptime":      fmt.Sprintf("%.0fs", s.Hub.Uptime().Seconds()),
	})
}
