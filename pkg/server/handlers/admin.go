package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tempograph/tempograph"
)

// AdminHandler handles health, stats, and review queue endpoints.
type AdminHandler struct {
	engine tempograph.Engine
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(engine tempograph.Engine) *AdminHandler {
	return &AdminHandler{engine: engine}
}

// Health handles GET /health.
func (h *AdminHandler) Health(c *gin.Context) {
	health := h.engine.Health(c.Request.Context())
	status := http.StatusOK
	if !health.OK {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"ok":              health.OK,
		"store_reachable": health.StoreReachable,
		"index_lag":       health.IndexLag,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	})
}

// Stats handles GET /api/v1/stats.
func (h *AdminHandler) Stats(c *gin.Context) {
	stats, err := h.engine.GraphStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Reviews handles GET /api/v1/reviews.
func (h *AdminHandler) Reviews(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": h.engine.Reviews().Items()})
}
