package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

func (h *Handler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	services := map[string]string{
		"api":      "healthy",
		"database": "unknown",
		"redis":    "unknown",
	}

	// Check Redis connection
	if err := h.redisClient.Ping(ctx).Err(); err != nil {
		services["redis"] = "unhealthy"
	} else {
		services["redis"] = "healthy"
	}

	// Check MongoDB connection
	if err := h.mongoClient.Ping(ctx); err != nil {
		services["database"] = "unhealthy"
	} else {
		services["database"] = "healthy"
	}

	overallStatus := "healthy"
	for _, status := range services {
		if status == "unhealthy" {
			overallStatus = "degraded"
			break
		}
	}

	code := http.StatusOK
	if overallStatus != "healthy" {
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now().Format(time.RFC3339),
		Services:  services,
	})
}
