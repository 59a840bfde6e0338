package routes

import (
	"github.com/gin-gonic/gin"

	"task-manager/internal/cache"
	"task-manager/internal/controller"
	"task-manager/internal/middleware"
)

// Deps are the handlers and probes the router mounts.
type Deps struct {
	Tasks     *controller.TaskController
	Cache     *cache.Gateway
	Readiness map[string]controller.Pinger
	// JWTSecret enables bearer auth on mutating routes when non-empty.
	JWTSecret string
}

func Router(d Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.AccessLog())

	// Health for load balancers and K8s probes
	router.GET("/health", controller.Health)
	router.GET("/ready", controller.Ready(d.Readiness))
	router.GET("/cache/stats", controller.CacheStats(d.Cache))

	mount(router.Group(""), d)
	mount(router.Group("/api"), d)
	return router
}

func mount(g *gin.RouterGroup, d Deps) {
	// Public reads
	g.GET("/tasks", d.Tasks.List)
	g.GET("/tasks/:id", d.Tasks.Show)

	writes := g.Group("")
	if d.JWTSecret != "" {
		writes.Use(middleware.AuthMiddleware(d.JWTSecret))
	}
	writes.POST("/tasks", d.Tasks.Create)
	writes.PUT("/tasks/:id", d.Tasks.Update)
	writes.PATCH("/tasks/:id", d.Tasks.Update)
	writes.DELETE("/tasks/:id", d.Tasks.Delete)
	writes.PATCH("/tasks/:id/toggle", d.Tasks.Toggle)
	writes.DELETE("/tasks/:id/purge", d.Tasks.Purge)
}
