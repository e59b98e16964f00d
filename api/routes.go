package api

import (
	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailobserver/api/middleware"
	"github.com/customeros/mailobserver/api/rest/handlers"
	"github.com/customeros/mailobserver/interfaces"
	"github.com/customeros/mailobserver/internal/tracing"
)

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(r *gin.Engine, watcher interfaces.WatcherService) {
	if watcher == nil {
		panic("Watcher cannot be nil")
	}

	r.Use(gin.Recovery())
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer()))

	r.GET("/health", handlers.HealthCheck)

	status := r.Group("/")
	status.Use(middleware.TracingMiddleware())
	status.GET("/status", handlers.Status(watcher))
}
