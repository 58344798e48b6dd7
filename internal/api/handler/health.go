package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/vidtalker/internal/domain"
)

// IndexStatter reports the similarity index state.
type IndexStatter interface {
	Stats(ctx context.Context) (*domain.IndexStats, error)
}

// HealthHandler handles liveness, readiness and index stats endpoints.
type HealthHandler struct {
	index IndexStatter
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(index IndexStatter) *HealthHandler {
	return &HealthHandler{index: index}
}

// Health handles GET /health.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Ready handles GET /health/ready. It fails until the index accepts searches.
func (h *HealthHandler) Ready(c *gin.Context) {
	stats, err := h.index.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "message": err.Error()})
		return
	}
	if stats.State != domain.IndexStateReady {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "index": stats})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "index": stats})
}

// IndexStats handles GET /api/v1/index/stats.
func (h *HealthHandler) IndexStats(c *gin.Context) {
	stats, err := h.index.Stats(c.Request.Context())
	if err != nil {
		writeError(c, domain.E(domain.KindIndexNotReady, "api.IndexStats", err))
		return
	}
	c.JSON(http.StatusOK, stats)
}
