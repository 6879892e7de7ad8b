// Package tempograph is a temporally-aware knowledge graph engine. Episodes
// of raw text are ingested, distilled into entities and relationships by an
// extraction collaborator, reconciled against the existing graph, and stored
// with bitemporal versioning so no fact is ever overwritten, only superseded.
// Hybrid retrieval fuses embedding similarity, keyword relevance, and graph
// traversal.
package tempograph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tempograph/tempograph/pkg/embedder"
	"github.com/tempograph/tempograph/pkg/extract"
	"github.com/tempograph/tempograph/pkg/index"
	"github.com/tempograph/tempograph/pkg/ingest"
	"github.com/tempograph/tempograph/pkg/resolver"
	"github.com/tempograph/tempograph/pkg/search"
	"github.com/tempograph/tempograph/pkg/store"
	"github.com/tempograph/tempograph/pkg/types"
)

// Engine is the transport-agnostic surface of the knowledge graph engine.
type Engine interface {
	// AddEpisode validates and persists an episode, then drives it through
	// extraction, resolution, commit, and indexing in the background. The
	// returned id is immediately usable for status queries.
	AddEpisode(ctx context.Context, req AddEpisodeRequest) (string, error)

	// GetEpisode returns an episode with its current pipeline status.
	GetEpisode(ctx context.Context, id string) (*types.Episode, error)

	// Search runs hybrid retrieval over the graph.
	Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error)

	// AddNode creates an entity node directly, bypassing extraction.
	AddNode(ctx context.Context, node *types.Node) (string, error)

	// GetNode retrieves a node by id.
	GetNode(ctx context.Context, id string) (*types.Node, error)

	// UpdateNode applies a patch to a node.
	UpdateNode(ctx context.Context, id string, patch store.NodePatch) (*types.Node, error)

	// DeleteNode soft-deletes a node: validity closes, history remains.
	DeleteNode(ctx context.Context, id string) error

	// HardDeleteNode physically removes a node and its incident edges.
	// Administrative escape hatch; normal deletion is DeleteNode.
	HardDeleteNode(ctx context.Context, id string) error

	// AddRelationship creates an edge directly, superseding any currently
	// valid edge with the same (source, target, label) key.
	AddRelationship(ctx context.Context, req AddRelationshipRequest) (string, error)

	// GraphStats summarizes the stored graph.
	GraphStats(ctx context.Context) (*types.GraphStats, error)

	// Health reports liveness, store reachability, and index lag.
	Health(ctx context.Context) *types.Health

	// Reviews exposes the manual-review queue for ambiguous merges.
	Reviews() *ingest.ReviewQueue

	// Close flushes in-flight work and releases all resources.
	Close() error
}

// AddEpisodeRequest carries one episode submission.
type AddEpisodeRequest struct {
	Content   string
	Source    string
	Name      string
	Type      types.EpisodeType
	Reference time.Time
	Metadata  map[string]interface{}
}

// AddRelationshipRequest carries a direct edge insertion.
type AddRelationshipRequest struct {
	SourceID  string
	TargetID  string
	Label     string
	Fact      string
	Reference time.Time
}

// Client is the standard Engine implementation.
type Client struct {
	store     store.GraphStore
	indices   *index.Indices
	projector *index.Projector
	embedder  embedder.Client
	extractor extract.Client
	resolver  *resolver.Resolver
	ingestor  *ingest.Ingestor
	planner   *search.Planner
	logger    *slog.Logger
}

// Options assembles a Client from its collaborators. Store, Extractor, and
// Embedder are required; the rest default.
type Options struct {
	Store     store.GraphStore
	Extractor extract.Client
	Embedder  embedder.Client
	Resolver  resolver.Config
	Ingest    ingest.Config
	Logger    *slog.Logger
}

// NewClient creates an engine client.
func NewClient(opts Options) (*Client, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: store is required", types.ErrValidation)
	}
	if opts.Extractor == nil {
		return nil, fmt.Errorf("%w: extractor is required", types.ErrValidation)
	}
	if opts.Embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", types.ErrValidation)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Resolver.MergeThreshold == 0 {
		opts.Resolver = resolver.DefaultConfig()
	}
	if opts.Ingest.MaxConcurrent == 0 {
		opts.Ingest = ingest.DefaultConfig()
	}

	indices := index.NewIndices()
	projector := index.NewProjector(indices, 0, logger)
	res := resolver.New(opts.Store, indices, opts.Embedder, opts.Resolver, logger)
	ingestor := ingest.New(opts.Store, opts.Extractor, res, projector, opts.Ingest, logger)

	return &Client{
		store:     opts.Store,
		indices:   indices,
		projector: projector,
		embedder:  opts.Embedder,
		extractor: opts.Extractor,
		resolver:  res,
		ingestor:  ingestor,
		planner:   search.NewPlanner(opts.Store, indices, opts.Embedder),
		logger:    logger,
	}, nil
}

// AddEpisode implements Engine.
func (c *Client) AddEpisode(ctx context.Context, req AddEpisodeRequest) (string, error) {
	episode := &types.Episode{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Content:   req.Content,
		Source:    req.Source,
		Type:      req.Type,
		Reference: req.Reference.UTC(),
		CreatedAt: time.Now().UTC(),
		Metadata:  req.Metadata,
	}
	if episode.Type == "" {
		episode.Type = types.MessageEpisode
	}
	if err := episode.Validate(); err != nil {
		return "", err
	}
	if err := c.ingestor.Submit(ctx, episode); err != nil {
		return "", err
	}
	return episode.ID, nil
}

// GetEpisode implements Engine.
func (c *Client) GetEpisode(ctx context.Context, id string) (*types.Episode, error) {
	return c.store.GetEpisode(ctx, id)
}

// Search implements Engine.
func (c *Client) Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	return c.planner.Search(ctx, query, opts)
}

// AddNode implements Engine.
func (c *Client) AddNode(ctx context.Context, node *types.Node) (string, error) {
	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	if len(node.Embedding) == 0 && node.Name != "" {
		embedding, err := c.embedder.EmbedSingle(ctx, node.Name+" "+node.Summary)
		if err != nil {
			return "", fmt.Errorf("embedding node: %w", err)
		}
		node.Embedding = embedding
	}
	if err := c.store.AddNode(ctx, node); err != nil {
		return "", err
	}
	c.indices.IndexNode(node)
	return node.ID, nil
}

// GetNode implements Engine.
func (c *Client) GetNode(ctx context.Context, id string) (*types.Node, error) {
	return c.store.GetNode(ctx, id)
}

// UpdateNode implements Engine.
func (c *Client) UpdateNode(ctx context.Context, id string, patch store.NodePatch) (*types.Node, error) {
	node, err := c.store.UpdateNode(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	c.indices.IndexNode(node)
	return node, nil
}

// DeleteNode implements Engine.
func (c *Client) DeleteNode(ctx context.Context, id string) error {
	if err := c.store.SoftDeleteNode(ctx, id, time.Now().UTC()); err != nil {
		return err
	}
	c.indices.RemoveNode(id)
	return nil
}

// HardDeleteNode implements Engine.
func (c *Client) HardDeleteNode(ctx context.Context, id string) error {
	if err := c.store.DeleteNode(ctx, id); err != nil {
		return err
	}
	c.indices.RemoveNode(id)
	return nil
}

// AddRelationship implements Engine.
func (c *Client) AddRelationship(ctx context.Context, req AddRelationshipRequest) (string, error) {
	reference := req.Reference
	if reference.IsZero() {
		reference = time.Now()
	}
	now := time.Now().UTC()

	edge := &types.Edge{
		ID:         uuid.NewString(),
		SourceID:   req.SourceID,
		TargetID:   req.TargetID,
		Label:      req.Label,
		Fact:       req.Fact,
		Confidence: 1,
		ValidFrom:  reference.UTC(),
		RecordedAt: now,
	}
	if err := edge.Validate(); err != nil {
		return "", err
	}
	if len(edge.Embedding) == 0 && edge.Fact != "" {
		embedding, err := c.embedder.EmbedSingle(ctx, edge.Fact)
		if err != nil {
			return "", fmt.Errorf("embedding fact: %w", err)
		}
		edge.Embedding = embedding
	}

	batch := &store.Batch{AddEdges: []*types.Edge{edge}}
	var superseded string
	if current, err := c.store.CurrentEdgeForKey(ctx, edge.Key(), now); err == nil {
		batch.InvalidateEdges = append(batch.InvalidateEdges, store.EdgeInvalidation{
			EdgeID: current.ID,
			At:     edge.RecordedAt,
		})
		superseded = current.ID
	}
	if err := c.store.CommitBatch(ctx, batch); err != nil {
		return "", err
	}
	// The superseded edge leaves the indices only once the commit stands.
	if superseded != "" {
		c.indices.RemoveEdge(superseded)
	}
	c.indices.IndexEdge(edge)
	return edge.ID, nil
}

// GraphStats implements Engine.
func (c *Client) GraphStats(ctx context.Context) (*types.GraphStats, error) {
	return c.store.Stats(ctx)
}

// Health implements Engine.
func (c *Client) Health(ctx context.Context) *types.Health {
	health := &types.Health{
		StoreReachable: c.store.Ping(ctx) == nil,
		IndexLag:       c.projector.Lag(),
	}
	health.OK = health.StoreReachable
	return health
}

// Reviews implements Engine.
func (c *Client) Reviews() *ingest.ReviewQueue {
	return c.ingestor.Reviews()
}

// Close implements Engine. In-flight episodes finish before resources are
// released.
func (c *Client) Close() error {
	c.ingestor.Wait()
	c.projector.Close()
	if err := c.extractor.Close(); err != nil {
		c.logger.Warn("closing extractor", "error", err)
	}
	if err := c.embedder.Close(); err != nil {
		c.logger.Warn("closing embedder", "error", err)
	}
	return c.store.Close()
}

var _ Engine = (*Client)(nil)
