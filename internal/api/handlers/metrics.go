package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/halovoice/voice-caller/pkg/metrics"
)

// GetMetrics returns service metrics as JSON: GET /metrics
func (h *Handler) GetMetrics(c *gin.Context) {
	m := metrics.GetMetrics()
	m["active_registry_sessions"] = h.manager.Registry().Len()
	c.JSON(http.StatusOK, m)
}

// GetPrometheusMetrics returns metrics in Prometheus text format:
// GET /metrics/prometheus
func (h *Handler) GetPrometheusMetrics(c *gin.Context) {
	c.Data(http.StatusOK, "text/plain; version=0.0.4", []byte(metrics.GetPrometheusMetrics()))
}
