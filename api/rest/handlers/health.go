package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/customeros/mailobserver/interfaces"
)

// HealthCheck provides a simple health check endpoint
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Status returns the connection and sync state of the watched mailbox
func Status(watcher interfaces.WatcherService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, watcher.Status())
	}
}
