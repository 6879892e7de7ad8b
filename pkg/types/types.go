package types

import (
	"time"
)

// Node represents a resolved, de-duplicated entity in the knowledge graph.
type Node struct {
	ID         string                 `json:"id" mapstructure:"id"`
	Name       string                 `json:"name" mapstructure:"name"`
	Type       string                 `json:"type,omitempty" mapstructure:"type"`
	Aliases    []string               `json:"aliases,omitempty" mapstructure:"aliases"`
	Summary    string                 `json:"summary,omitempty" mapstructure:"summary"`
	Embedding  []float32              `json:"embedding,omitempty" mapstructure:"embedding"`
	Attributes map[string]interface{} `json:"attributes,omitempty" mapstructure:"attributes"`
	CreatedAt  time.Time              `json:"created_at" mapstructure:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at" mapstructure:"updated_at"`

	// ValidUntil is set when the node is soft-deleted. A nil value means the
	// node is current.
	ValidUntil *time.Time `json:"valid_until,omitempty" mapstructure:"valid_until"`
}

// Validate checks if the Node has all required fields set.
func (n *Node) Validate() error {
	if n.Name == "" {
		return ErrEmptyName
	}
	return nil
}

// ValidateForCreate checks if the Node has all required fields for creation.
func (n *Node) ValidateForCreate() error {
	if n.ID == "" {
		return ErrEmptyID
	}
	return n.Validate()
}

// Current reports whether the node is valid at the given instant.
func (n *Node) Current(at time.Time) bool {
	if n.CreatedAt.After(at) {
		return false
	}
	return n.ValidUntil == nil || n.ValidUntil.After(at)
}

// HasName reports whether name matches the canonical name or any alias.
func (n *Node) HasName(name string) bool {
	if n.Name == name {
		return true
	}
	for _, alias := range n.Aliases {
		if alias == name {
			return true
		}
	}
	return false
}

// Edge represents a timestamped relationship between two nodes. Edges are
// versioned rather than overwritten: a superseded edge keeps its history and
// is closed by setting ValidUntil.
type Edge struct {
	ID       string `json:"id" mapstructure:"id"`
	SourceID string `json:"source_id" mapstructure:"source_id"`
	TargetID string `json:"target_id" mapstructure:"target_id"`
	Label    string `json:"label" mapstructure:"label"`

	// Fact is the natural-language statement supporting the edge.
	Fact       string    `json:"fact,omitempty" mapstructure:"fact"`
	Confidence float64   `json:"confidence,omitempty" mapstructure:"confidence"`
	Embedding  []float32 `json:"embedding,omitempty" mapstructure:"embedding"`

	// Bitemporal interval. ValidFrom/ValidUntil bound when the fact held in
	// the world; RecordedAt is when the system learned it.
	ValidFrom  time.Time  `json:"valid_from" mapstructure:"valid_from"`
	ValidUntil *time.Time `json:"valid_until,omitempty" mapstructure:"valid_until"`
	RecordedAt time.Time  `json:"recorded_at" mapstructure:"recorded_at"`

	// EpisodeID is the originating episode, kept for provenance.
	EpisodeID string `json:"episode_id,omitempty" mapstructure:"episode_id"`
}

// Validate checks if the Edge has all required fields set.
func (e *Edge) Validate() error {
	if e.SourceID == "" || e.TargetID == "" {
		return ErrMissingEndpoint
	}
	if e.Label == "" {
		return ErrEmptyLabel
	}
	if e.ValidUntil != nil && e.ValidUntil.Before(e.ValidFrom) {
		return ErrInvalidInterval
	}
	return nil
}

// Current reports whether the edge is valid at the given instant.
func (e *Edge) Current(at time.Time) bool {
	if e.ValidFrom.After(at) {
		return false
	}
	return e.ValidUntil == nil || e.ValidUntil.After(at)
}

// TemporalKey identifies the (source, target, label) tuple that temporal
// supersession operates on. Among currently valid edges the key is unique.
type TemporalKey struct {
	SourceID string
	TargetID string
	Label    string
}

// Key returns the edge's temporal key.
func (e *Edge) Key() TemporalKey {
	return TemporalKey{SourceID: e.SourceID, TargetID: e.TargetID, Label: e.Label}
}

// EpisodeType classifies the shape of an episode's content.
type EpisodeType string

const (
	// MessageEpisode for conversational messages.
	MessageEpisode EpisodeType = "message"
	// EventEpisode for events or actions.
	EventEpisode EpisodeType = "event"
	// DocumentEpisode for document content.
	DocumentEpisode EpisodeType = "document"
)

// EpisodeStatus tracks an episode through the ingestion pipeline.
type EpisodeStatus string

const (
	// EpisodeReceived means the episode is persisted but not yet processed.
	EpisodeReceived EpisodeStatus = "received"
	// EpisodeExtracting means the extraction collaborator is being consulted.
	EpisodeExtracting EpisodeStatus = "extracting"
	// EpisodeMerged means resolved nodes and edges are committed to the store.
	EpisodeMerged EpisodeStatus = "merged"
	// EpisodeIndexed means the indices reflect the episode's commit.
	EpisodeIndexed EpisodeStatus = "indexed"
	// EpisodeNeedsReview means the resolver parked a candidate for manual review.
	EpisodeNeedsReview EpisodeStatus = "needs_review"
	// EpisodeFailed means the retry budget is exhausted; re-submission retries.
	EpisodeFailed EpisodeStatus = "failed"
)

// Episode is one unit of raw input text with provenance and a reference time.
// Episodes are immutable once stored; only their status advances.
type Episode struct {
	ID        string                 `json:"id" mapstructure:"id"`
	Name      string                 `json:"name,omitempty" mapstructure:"name"`
	Content   string                 `json:"content" mapstructure:"content"`
	Source    string                 `json:"source" mapstructure:"source"`
	Type      EpisodeType            `json:"type" mapstructure:"type"`
	Reference time.Time              `json:"reference" mapstructure:"reference"`
	CreatedAt time.Time              `json:"created_at" mapstructure:"created_at"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" mapstructure:"metadata"`

	Status EpisodeStatus `json:"status" mapstructure:"status"`
	// StatusReason carries the failure or review reason for terminal states.
	StatusReason string `json:"status_reason,omitempty" mapstructure:"status_reason"`
}

// Validate checks if the Episode has all required fields set.
func (e *Episode) Validate() error {
	if e.Content == "" {
		return ErrEmptyContent
	}
	if e.Reference.IsZero() {
		return ErrInvalidReference
	}
	return nil
}

// ValidateForCreate checks if the Episode has all required fields for creation.
func (e *Episode) ValidateForCreate() error {
	if e.ID == "" {
		return ErrEmptyID
	}
	return e.Validate()
}

// GraphStats summarizes the stored graph.
type GraphStats struct {
	NodeCount      int       `json:"node_count"`
	EdgeCount      int       `json:"edge_count"`
	EpisodeCount   int       `json:"episode_count"`
	EntityTypes    []string  `json:"entity_types,omitempty"`
	RelationLabels []string  `json:"relation_labels,omitempty"`
	LastUpdated    time.Time `json:"last_updated"`
}

// Health reports engine liveness and the store/index consistency signal.
type Health struct {
	OK             bool `json:"ok"`
	StoreReachable bool `json:"store_reachable"`

	// IndexLag is the number of committed batches the retrieval indices have
	// not yet applied. Zero means indices are caught up with the store.
	IndexLag int `json:"index_lag"`
}
