package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tempograph/tempograph"
	"github.com/tempograph/tempograph/pkg/server/dto"
	"github.com/tempograph/tempograph/pkg/types"
)

// EpisodeHandler handles episode submission and status queries.
type EpisodeHandler struct {
	engine tempograph.Engine
}

// NewEpisodeHandler creates an episode handler.
func NewEpisodeHandler(engine tempograph.Engine) *EpisodeHandler {
	return &EpisodeHandler{engine: engine}
}

// Add handles POST /api/v1/episodes.
func (h *EpisodeHandler) Add(c *gin.Context) {
	var req dto.AddEpisodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		respondError(c, err)
		return
	}

	episodeID, err := h.engine.AddEpisode(c.Request.Context(), tempograph.AddEpisodeRequest{
		Content:   req.Content,
		Source:    req.Source,
		Name:      req.Name,
		Type:      types.EpisodeType(req.Type),
		Reference: req.Reference,
		Metadata:  req.Metadata,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.AddEpisodeResponse{EpisodeID: episodeID})
}

// Get handles GET /api/v1/episodes/:id.
func (h *EpisodeHandler) Get(c *gin.Context) {
	episode, err := h.engine.GetEpisode(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.EpisodeStatusResponse{
		EpisodeID:    episode.ID,
		Name:         episode.Name,
		Source:       episode.Source,
		Type:         string(episode.Type),
		Reference:    episode.Reference,
		CreatedAt:    episode.CreatedAt,
		Status:       string(episode.Status),
		StatusReason: episode.StatusReason,
	})
}
