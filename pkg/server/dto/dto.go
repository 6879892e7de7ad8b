// Package dto defines the HTTP request and response shapes.
package dto

import (
	"strings"
	"time"

	"github.com/tempograph/tempograph/pkg/types"
)

// MaxContentLength caps episode content accepted over HTTP.
const MaxContentLength = 1 << 20

// AddEpisodeRequest is the body of POST /api/v1/episodes.
type AddEpisodeRequest struct {
	Content   string                 `json:"content" binding:"required"`
	Source    string                 `json:"source"`
	Name      string                 `json:"name"`
	Type      string                 `json:"type"`
	Reference time.Time              `json:"reference_time" binding:"required"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// Validate performs validation beyond binding tags.
func (r *AddEpisodeRequest) Validate() error {
	if strings.TrimSpace(r.Content) == "" {
		return types.ErrEmptyContent
	}
	if len(r.Content) > MaxContentLength {
		return types.ErrValidation
	}
	switch types.EpisodeType(r.Type) {
	case "", types.MessageEpisode, types.EventEpisode, types.DocumentEpisode:
		return nil
	}
	return types.ErrValidation
}

// AddEpisodeResponse is the body returned by POST /api/v1/episodes.
type AddEpisodeResponse struct {
	EpisodeID string `json:"episode_id"`
}

// EpisodeStatusResponse is the body of GET /api/v1/episodes/:id.
type EpisodeStatusResponse struct {
	EpisodeID    string    `json:"episode_id"`
	Name         string    `json:"name,omitempty"`
	Source       string    `json:"source,omitempty"`
	Type         string    `json:"type"`
	Reference    time.Time `json:"reference_time"`
	CreatedAt    time.Time `json:"created_at"`
	Status       string    `json:"status"`
	StatusReason string    `json:"status_reason,omitempty"`
}

// SearchRequest is the body of POST /api/v1/search.
type SearchRequest struct {
	Query   string     `json:"query" binding:"required"`
	Limit   int        `json:"limit"`
	NumHops int        `json:"num_hops"`
	AsOf    *time.Time `json:"as_of"`
}

// SearchHit is one ranked result.
type SearchHit struct {
	Node  *types.Node `json:"node,omitempty"`
	Edge  *types.Edge `json:"edge,omitempty"`
	Score float64     `json:"score"`
}

// SearchResponse is the body returned by POST /api/v1/search.
type SearchResponse struct {
	Results []SearchHit `json:"results"`
}

// AddNodeRequest is the body of POST /api/v1/nodes.
type AddNodeRequest struct {
	Name       string                 `json:"name" binding:"required"`
	Type       string                 `json:"type"`
	Aliases    []string               `json:"aliases"`
	Summary    string                 `json:"summary"`
	Attributes map[string]interface{} `json:"attributes"`
}

// UpdateNodeRequest is the body of PATCH /api/v1/nodes/:id. Nil fields are
// left untouched.
type UpdateNodeRequest struct {
	Name       *string                `json:"name"`
	Type       *string                `json:"type"`
	Summary    *string                `json:"summary"`
	AddAliases []string               `json:"add_aliases"`
	Attributes map[string]interface{} `json:"attributes"`
}

// AddRelationshipRequest is the body of POST /api/v1/relationships.
type AddRelationshipRequest struct {
	SourceID  string    `json:"source_id" binding:"required"`
	TargetID  string    `json:"target_id" binding:"required"`
	Label     string    `json:"label" binding:"required"`
	Fact      string    `json:"fact"`
	Reference time.Time `json:"reference_time"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
