package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ReadinessChecker reports whether a dependency is usable
type ReadinessChecker interface {
	CheckReady(ctx context.Context) (status string, message string)
}

type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthLive handles GET /health/live
func HealthLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "qbo-sync-worker",
	})
}

// HealthReady handles GET /health/ready
func HealthReady(db ReadinessChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, message := "fail", "not configured"
		if db != nil {
			status, message = db.CheckReady(c.Request.Context())
		}

		code := http.StatusOK
		if status != "ok" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":    status,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"checks": gin.H{
				"postgresql": healthCheckResult{Status: status, Message: message},
			},
		})
	}
}
