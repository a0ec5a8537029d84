// Package http exposes the Room Manager over a REST API.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/manager"
	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/rooms"
)

func SetupRouter(mode string, mgr *manager.Manager) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	api := r.Group("/api")

	// POST /api/rooms — create a room
	api.POST("/rooms", func(c *gin.Context) {
		var opts rooms.Options
		if c.Request.ContentLength > 0 {
			if err := c.BindJSON(&opts); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid options"})
				return
			}
		}
		info, err := mgr.CreateRoom(c.Request.Context(), opts)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, info)
	})

	// GET /api/rooms — list all rooms
	api.GET("/rooms", func(c *gin.Context) {
		list, err := mgr.ListRooms(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"rooms": list})
	})

	// GET /api/rooms/:id — room status
	api.GET("/rooms/:id", func(c *gin.Context) {
		info, err := mgr.GetRoomStatus(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if info == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, info)
	})

	// DELETE /api/rooms/:id — tear a room down
	api.DELETE("/rooms/:id", func(c *gin.Context) {
		if err := mgr.DeleteRoom(c.Request.Context(), c.Param("id")); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	return r
}
