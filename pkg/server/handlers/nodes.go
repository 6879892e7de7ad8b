package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tempograph/tempograph"
	"github.com/tempograph/tempograph/pkg/server/dto"
	"github.com/tempograph/tempograph/pkg/store"
	"github.com/tempograph/tempograph/pkg/types"
)

// NodeHandler handles direct node and relationship CRUD.
type NodeHandler struct {
	engine tempograph.Engine
}

// NewNodeHandler creates a node handler.
func NewNodeHandler(engine tempograph.Engine) *NodeHandler {
	return &NodeHandler{engine: engine}
}

// Add handles POST /api/v1/nodes.
func (h *NodeHandler) Add(c *gin.Context) {
	var req dto.AddNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	node := &types.Node{
		Name:       req.Name,
		Type:       req.Type,
		Aliases:    req.Aliases,
		Summary:    req.Summary,
		Attributes: req.Attributes,
	}
	nodeID, err := h.engine.AddNode(c.Request.Context(), node)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"node_id": nodeID})
}

// Get handles GET /api/v1/nodes/:id.
func (h *NodeHandler) Get(c *gin.Context) {
	node, err := h.engine.GetNode(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, node)
}

// Update handles PATCH /api/v1/nodes/:id.
func (h *NodeHandler) Update(c *gin.Context) {
	var req dto.UpdateNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	node, err := h.engine.UpdateNode(c.Request.Context(), c.Param("id"), store.NodePatch{
		Name:       req.Name,
		Type:       req.Type,
		Summary:    req.Summary,
		AddAliases: req.AddAliases,
		Attributes: req.Attributes,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, node)
}

// Delete handles DELETE /api/v1/nodes/:id. The node's validity closes; pass
// ?hard=true to physically remove it and its incident edges.
func (h *NodeHandler) Delete(c *gin.Context) {
	var err error
	if c.Query("hard") == "true" {
		err = h.engine.HardDeleteNode(c.Request.Context(), c.Param("id"))
	} else {
		err = h.engine.DeleteNode(c.Request.Context(), c.Param("id"))
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// AddRelationship handles POST /api/v1/relationships.
func (h *NodeHandler) AddRelationship(c *gin.Context) {
	var req dto.AddRelationshipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	edgeID, err := h.engine.AddRelationship(c.Request.Context(), tempograph.AddRelationshipRequest{
		SourceID:  req.SourceID,
		TargetID:  req.TargetID,
		Label:     req.Label,
		Fact:      req.Fact,
		Reference: req.Reference,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"edge_id": edgeID})
}
