package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tempograph/tempograph"
	"github.com/tempograph/tempograph/pkg/search"
	"github.com/tempograph/tempograph/pkg/server/dto"
)

// SearchHandler handles retrieval queries.
type SearchHandler struct {
	engine tempograph.Engine
}

// NewSearchHandler creates a search handler.
func NewSearchHandler(engine tempograph.Engine) *SearchHandler {
	return &SearchHandler{engine: engine}
}

// Search handles POST /api/v1/search.
func (h *SearchHandler) Search(c *gin.Context) {
	var req dto.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	opts := search.Options{Limit: req.Limit, NumHops: req.NumHops}
	if req.AsOf != nil {
		opts.AsOf = req.AsOf.UTC()
	} else {
		opts.AsOf = time.Now().UTC()
	}

	results, err := h.engine.Search(c.Request.Context(), req.Query, opts)
	if err != nil {
		respondError(c, err)
		return
	}

	hits := make([]dto.SearchHit, len(results))
	for i, r := range results {
		hits[i] = dto.SearchHit{Node: r.Node, Edge: r.Edge, Score: r.Score}
	}
	c.JSON(http.StatusOK, dto.SearchResponse{Results: hits})
}
