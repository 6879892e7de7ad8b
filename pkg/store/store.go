package store

import (
	"context"
	"time"

	"github.com/tempograph/tempograph/pkg/types"
)

// Provider identifies a graph store backend.
type Provider string

const (
	ProviderMemory Provider = "memory"
	ProviderBadger Provider = "badger"
	ProviderNeo4j  Provider = "neo4j"
)

// NodePatch describes an in-place node update. Nil fields are left untouched.
type NodePatch struct {
	Name       *string
	Type       *string
	Summary    *string
	AddAliases []string
	Embedding  []float32
	Attributes map[string]interface{}
}

// EdgeInvalidation closes an edge's validity interval at a given instant.
type EdgeInvalidation struct {
	EdgeID string
	At     time.Time
}

// Batch is one episode's worth of graph mutations. A batch commits atomically:
// either every upsert, edge, and invalidation lands, or none do.
type Batch struct {
	EpisodeID       string
	UpsertNodes     []*types.Node
	AddEdges        []*types.Edge
	InvalidateEdges []EdgeInvalidation
}

// Empty reports whether the batch carries no mutations.
func (b *Batch) Empty() bool {
	return len(b.UpsertNodes) == 0 && len(b.AddEdges) == 0 && len(b.InvalidateEdges) == 0
}

// NodeStore provides operations for managing nodes.
type NodeStore interface {
	// AddNode persists a new node.
	AddNode(ctx context.Context, node *types.Node) error

	// GetNode retrieves a node by id, whether or not it is still current.
	GetNode(ctx context.Context, id string) (*types.Node, error)

	// UpdateNode applies a patch to an existing node and returns the result.
	UpdateNode(ctx context.Context, id string, patch NodePatch) (*types.Node, error)

	// SoftDeleteNode closes the node's validity at the given instant,
	// keeping history.
	SoftDeleteNode(ctx context.Context, id string, at time.Time) error

	// DeleteNode is the administrative hard delete: the node and its
	// incident edges are physically removed.
	DeleteNode(ctx context.Context, id string) error

	// ListNodes returns all nodes valid at asOf.
	ListNodes(ctx context.Context, asOf time.Time) ([]*types.Node, error)
}

// EdgeStore provides operations for managing bitemporal edges.
type EdgeStore interface {
	// AddEdge persists a new edge. Both endpoints must exist at creation time.
	AddEdge(ctx context.Context, edge *types.Edge) error

	// GetEdge retrieves an edge by id, current or not.
	GetEdge(ctx context.Context, id string) (*types.Edge, error)

	// GetEdgesBetween returns edges between two nodes, in either direction,
	// valid at asOf.
	GetEdgesBetween(ctx context.Context, nodeA, nodeB string, asOf time.Time) ([]*types.Edge, error)

	// CurrentEdgeForKey returns the edge currently valid for the temporal
	// key at asOf, or types.ErrEdgeNotFound.
	CurrentEdgeForKey(ctx context.Context, key types.TemporalKey, asOf time.Time) (*types.Edge, error)

	// EdgeHistory returns every edge ever recorded for the key, including
	// invalidated ones, ordered by RecordedAt ascending.
	EdgeHistory(ctx context.Context, key types.TemporalKey) ([]*types.Edge, error)

	// InvalidateEdge closes the edge's validity at the given instant. This
	// is supersession, not deletion; the edge stays queryable via history.
	InvalidateEdge(ctx context.Context, id string, at time.Time) error

	// EdgesFrom returns edges incident to the node (either direction) valid
	// at asOf. Traversal expands the graph through this.
	EdgesFrom(ctx context.Context, nodeID string, asOf time.Time) ([]*types.Edge, error)
}

// EpisodeStore provides operations for episode provenance records.
type EpisodeStore interface {
	// AddEpisode persists a new episode record.
	AddEpisode(ctx context.Context, episode *types.Episode) error

	// GetEpisode retrieves an episode by id.
	GetEpisode(ctx context.Context, id string) (*types.Episode, error)

	// SetEpisodeStatus advances the episode's pipeline status.
	SetEpisodeStatus(ctx context.Context, id string, status types.EpisodeStatus, reason string) error
}

// Admin provides maintenance and introspection operations.
type Admin interface {
	// Stats summarizes the stored graph.
	Stats(ctx context.Context) (*types.GraphStats, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Provider returns the backend identifier.
	Provider() Provider

	// Close releases all resources held by the store.
	Close() error
}

// BatchCommitter applies one episode's mutations atomically.
type BatchCommitter interface {
	// CommitBatch validates and applies the batch. On any failure the store
	// is left exactly as it was before the call.
	CommitBatch(ctx context.Context, batch *Batch) error
}

// GraphStore is the full temporal graph store contract. Consumers should
// depend on the smallest of the interfaces above that meets their needs.
type GraphStore interface {
	NodeStore
	EdgeStore
	EpisodeStore
	BatchCommitter
	Admin
}
