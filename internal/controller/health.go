package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"task-manager/internal/cache"
)

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health returns 200 if the process is alive. Used by load balancers.
func Health(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// Ready returns 200 when every dependency answers a ping within 2s.
func Ready(deps map[string]Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		for name, dep := range deps {
			if err := dep.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": name + " unavailable", "error": err.Error()})
				return
			}
		}
		c.String(http.StatusOK, "OK")
	}
}

// CacheStats reports gateway counters.
func CacheStats(gw *cache.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gw.Stats())
	}
}
