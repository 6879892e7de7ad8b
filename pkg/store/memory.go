package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tempograph/tempograph/pkg/types"
)

// MemoryStore is an in-memory GraphStore. Nodes and edges live in flat,
// id-indexed tables with a separate adjacency index, never as direct object
// references, so cyclic graphs are safe to traverse and serialize.
//
// It is the default backend for tests and single-process deployments; the
// badger backend adds durability with the same semantics.
type MemoryStore struct {
	mu sync.RWMutex

	nodes    map[string]*types.Node
	edges    map[string]*types.Edge
	episodes map[string]*types.Episode

	// adjacency maps a node id to ids of incident edges, both directions.
	adjacency map[string][]string
	// byKey maps a temporal key to edge ids ordered by RecordedAt.
	byKey map[types.TemporalKey][]string

	// lastRecorded enforces that RecordedAt is non-decreasing with
	// insertion order.
	lastRecorded time.Time
	lastUpdated  time.Time

	logger *slog.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		nodes:     make(map[string]*types.Node),
		edges:     make(map[string]*types.Edge),
		episodes:  make(map[string]*types.Episode),
		adjacency: make(map[string][]string),
		byKey:     make(map[types.TemporalKey][]string),
		logger:    logger,
	}
}

// clampRecordedAt keeps RecordedAt monotonically non-decreasing. Callers must
// hold the write lock.
func (s *MemoryStore) clampRecordedAt(t time.Time) time.Time {
	if t.Before(s.lastRecorded) {
		t = s.lastRecorded
	}
	s.lastRecorded = t
	return t
}

// copyNode and friends deep-copy the map and slice fields. Stored records and
// the records handed to callers must never share mutable backing state, or a
// patch applied under the write lock races with a caller reading its snapshot.
func copyNode(n *types.Node) *types.Node {
	c := *n
	if n.Aliases != nil {
		c.Aliases = append([]string(nil), n.Aliases...)
	}
	if n.Embedding != nil {
		c.Embedding = append([]float32(nil), n.Embedding...)
	}
	if n.Attributes != nil {
		c.Attributes = make(map[string]interface{}, len(n.Attributes))
		for k, v := range n.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}

func copyEdge(e *types.Edge) *types.Edge {
	c := *e
	if e.Embedding != nil {
		c.Embedding = append([]float32(nil), e.Embedding...)
	}
	return &c
}

func copyEpisode(e *types.Episode) *types.Episode {
	c := *e
	if e.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// AddNode persists a new node.
func (s *MemoryStore) AddNode(ctx context.Context, node *types.Node) error {
	if err := node.ValidateForCreate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[node.ID]; exists {
		return fmt.Errorf("%w: node %s already exists", types.ErrStoreWrite, node.ID)
	}
	s.addNodeLocked(node)
	return nil
}

func (s *MemoryStore) addNodeLocked(node *types.Node) {
	now := time.Now().UTC()
	if node.CreatedAt.IsZero() {
		node.CreatedAt = now
	}
	if node.UpdatedAt.IsZero() {
		node.UpdatedAt = node.CreatedAt
	}
	s.nodes[node.ID] = copyNode(node)
	s.lastUpdated = now
}

// GetNode retrieves a node by id.
func (s *MemoryStore) GetNode(ctx context.Context, id string) (*types.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w %s", types.ErrNodeNotFound, id)
	}
	return copyNode(node), nil
}

// UpdateNode applies a patch to an existing node.
func (s *MemoryStore) UpdateNode(ctx context.Context, id string, patch NodePatch) (*types.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w %s", types.ErrNodeNotFound, id)
	}
	applyPatch(node, patch)
	node.UpdatedAt = time.Now().UTC()
	s.lastUpdated = node.UpdatedAt
	return copyNode(node), nil
}

func applyPatch(node *types.Node, patch NodePatch) {
	if patch.Name != nil {
		node.Name = *patch.Name
	}
	if patch.Type != nil {
		node.Type = *patch.Type
	}
	if patch.Summary != nil {
		node.Summary = *patch.Summary
	}
	if len(patch.AddAliases) > 0 {
		node.Aliases = unionAliases(node.Aliases, patch.AddAliases)
	}
	if patch.Embedding != nil {
		node.Embedding = append([]float32(nil), patch.Embedding...)
	}
	if len(patch.Attributes) > 0 {
		if node.Attributes == nil {
			node.Attributes = make(map[string]interface{}, len(patch.Attributes))
		}
		for k, v := range patch.Attributes {
			node.Attributes[k] = v
		}
	}
}

func unionAliases(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	out := make([]string, 0, len(existing)+len(added))
	for _, a := range existing {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	for _, a := range added {
		if a != "" && !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

// SoftDeleteNode closes the node's validity, keeping history.
func (s *MemoryStore) SoftDeleteNode(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("%w %s", types.ErrNodeNotFound, id)
	}
	at = at.UTC()
	node.ValidUntil = &at
	node.UpdatedAt = time.Now().UTC()

	// Close incident current edges at the same instant.
	for _, edgeID := range s.adjacency[id] {
		edge := s.edges[edgeID]
		if edge != nil && edge.Current(at) {
			until := at
			edge.ValidUntil = &until
		}
	}
	s.lastUpdated = node.UpdatedAt
	return nil
}

// DeleteNode physically removes the node and its incident edges.
func (s *MemoryStore) DeleteNode(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[id]; !ok {
		return fmt.Errorf("%w %s", types.ErrNodeNotFound, id)
	}
	for _, edgeID := range s.adjacency[id] {
		s.removeEdgeLocked(edgeID)
	}
	delete(s.nodes, id)
	delete(s.adjacency, id)
	s.lastUpdated = time.Now().UTC()
	return nil
}

func (s *MemoryStore) removeEdgeLocked(edgeID string) {
	edge, ok := s.edges[edgeID]
	if !ok {
		return
	}
	delete(s.edges, edgeID)
	key := edge.Key()
	s.byKey[key] = removeString(s.byKey[key], edgeID)
	if len(s.byKey[key]) == 0 {
		delete(s.byKey, key)
	}
	s.adjacency[edge.SourceID] = removeString(s.adjacency[edge.SourceID], edgeID)
	s.adjacency[edge.TargetID] = removeString(s.adjacency[edge.TargetID], edgeID)
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

// ListNodes returns all nodes valid at asOf.
func (s *MemoryStore) ListNodes(ctx context.Context, asOf time.Time) ([]*types.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]*types.Node, 0, len(s.nodes))
	for _, node := range s.nodes {
		if node.Current(asOf) {
			nodes = append(nodes, copyNode(node))
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

// AddEdge persists a new edge after verifying both endpoints exist.
func (s *MemoryStore) AddEdge(ctx context.Context, edge *types.Edge) error {
	if edge.ID == "" {
		return types.ErrEmptyID
	}
	if err := edge.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addEdgeLocked(edge)
}

func (s *MemoryStore) addEdgeLocked(edge *types.Edge) error {
	if _, exists := s.edges[edge.ID]; exists {
		return fmt.Errorf("%w: edge %s already exists", types.ErrStoreWrite, edge.ID)
	}
	if _, ok := s.nodes[edge.SourceID]; !ok {
		return fmt.Errorf("%w: edge %s references missing source %s", types.ErrStoreWrite, edge.ID, edge.SourceID)
	}
	if _, ok := s.nodes[edge.TargetID]; !ok {
		return fmt.Errorf("%w: edge %s references missing target %s", types.ErrStoreWrite, edge.ID, edge.TargetID)
	}

	// Currently valid intervals for one temporal key must not overlap. A
	// conflicting fact has to supersede the old edge, not coexist with it.
	key := edge.Key()
	for _, otherID := range s.byKey[key] {
		other := s.edges[otherID]
		if other != nil && intervalsOverlap(edge, other) {
			return fmt.Errorf("%w: edge %s overlaps valid interval of %s for key %v", types.ErrStoreWrite, edge.ID, other.ID, key)
		}
	}

	edge.RecordedAt = s.clampRecordedAt(edge.RecordedAt.UTC())
	s.edges[edge.ID] = copyEdge(edge)
	s.byKey[key] = append(s.byKey[key], edge.ID)
	s.adjacency[edge.SourceID] = append(s.adjacency[edge.SourceID], edge.ID)
	s.adjacency[edge.TargetID] = append(s.adjacency[edge.TargetID], edge.ID)
	s.lastUpdated = time.Now().UTC()
	return nil
}

func intervalsOverlap(a, b *types.Edge) bool {
	// Only currently valid edges constrain each other. A superseded edge is
	// closed at the moment the system learned the new fact, which can fall
	// after the new fact's world-time start; that shared stretch of world
	// time is history, not a conflict.
	if a.ValidUntil != nil || b.ValidUntil != nil {
		return false
	}
	// Both intervals are open-ended, so they always overlap.
	return true
}

// GetEdge retrieves an edge by id.
func (s *MemoryStore) GetEdge(ctx context.Context, id string) (*types.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	edge, ok := s.edges[id]
	if !ok {
		return nil, fmt.Errorf("%w %s", types.ErrEdgeNotFound, id)
	}
	return copyEdge(edge), nil
}

// GetEdgesBetween returns edges between two nodes valid at asOf.
func (s *MemoryStore) GetEdgesBetween(ctx context.Context, nodeA, nodeB string, asOf time.Time) ([]*types.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var edges []*types.Edge
	for _, edgeID := range s.adjacency[nodeA] {
		edge := s.edges[edgeID]
		if edge == nil || !edge.Current(asOf) {
			continue
		}
		if (edge.SourceID == nodeA && edge.TargetID == nodeB) ||
			(edge.SourceID == nodeB && edge.TargetID == nodeA) {
			edges = append(edges, copyEdge(edge))
		}
	}
	sortEdgesByRecordedAt(edges)
	return edges, nil
}

// CurrentEdgeForKey returns the edge valid for the key at asOf.
func (s *MemoryStore) CurrentEdgeForKey(ctx context.Context, key types.TemporalKey, asOf time.Time) (*types.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, edgeID := range s.byKey[key] {
		edge := s.edges[edgeID]
		if edge != nil && edge.Current(asOf) {
			return copyEdge(edge), nil
		}
	}
	return nil, fmt.Errorf("%w for key %v", types.ErrEdgeNotFound, key)
}

// EdgeHistory returns every edge recorded for the key, invalidated ones
// included, ordered by RecordedAt.
func (s *MemoryStore) EdgeHistory(ctx context.Context, key types.TemporalKey) ([]*types.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	edges := make([]*types.Edge, 0, len(s.byKey[key]))
	for _, edgeID := range s.byKey[key] {
		if edge := s.edges[edgeID]; edge != nil {
			edges = append(edges, copyEdge(edge))
		}
	}
	sortEdgesByRecordedAt(edges)
	return edges, nil
}

func sortEdgesByRecordedAt(edges []*types.Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].RecordedAt.Equal(edges[j].RecordedAt) {
			return edges[i].ID < edges[j].ID
		}
		return edges[i].RecordedAt.Before(edges[j].RecordedAt)
	})
}

// InvalidateEdge closes the edge's validity at the given instant.
func (s *MemoryStore) InvalidateEdge(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalidateEdgeLocked(id, at)
}

func (s *MemoryStore) invalidateEdgeLocked(id string, at time.Time) error {
	edge, ok := s.edges[id]
	if !ok {
		return fmt.Errorf("%w %s", types.ErrEdgeNotFound, id)
	}
	at = at.UTC()
	if at.Before(edge.ValidFrom) {
		return types.ErrInvalidInterval
	}
	edge.ValidUntil = &at
	s.lastUpdated = time.Now().UTC()
	return nil
}

// EdgesFrom returns edges incident to the node valid at asOf.
func (s *MemoryStore) EdgesFrom(ctx context.Context, nodeID string, asOf time.Time) ([]*types.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var edges []*types.Edge
	for _, edgeID := range s.adjacency[nodeID] {
		edge := s.edges[edgeID]
		if edge != nil && edge.Current(asOf) {
			edges = append(edges, copyEdge(edge))
		}
	}
	sortEdgesByRecordedAt(edges)
	return edges, nil
}

// AddEpisode persists a new episode record.
func (s *MemoryStore) AddEpisode(ctx context.Context, episode *types.Episode) error {
	if err := episode.ValidateForCreate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.episodes[episode.ID]; exists {
		return fmt.Errorf("%w: episode %s already exists", types.ErrStoreWrite, episode.ID)
	}
	if episode.CreatedAt.IsZero() {
		episode.CreatedAt = time.Now().UTC()
	}
	s.episodes[episode.ID] = copyEpisode(episode)
	s.lastUpdated = time.Now().UTC()
	return nil
}

// GetEpisode retrieves an episode by id.
func (s *MemoryStore) GetEpisode(ctx context.Context, id string) (*types.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	episode, ok := s.episodes[id]
	if !ok {
		return nil, fmt.Errorf("%w %s", types.ErrEpisodeNotFound, id)
	}
	return copyEpisode(episode), nil
}

// SetEpisodeStatus advances the episode's pipeline status.
func (s *MemoryStore) SetEpisodeStatus(ctx context.Context, id string, status types.EpisodeStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	episode, ok := s.episodes[id]
	if !ok {
		return fmt.Errorf("%w %s", types.ErrEpisodeNotFound, id)
	}
	episode.Status = status
	episode.StatusReason = reason
	return nil
}

// CommitBatch validates the whole batch against the current state, then
// applies it under one lock. Validation happens before any mutation, so a
// failed batch leaves the store untouched.
func (s *MemoryStore) CommitBatch(ctx context.Context, batch *Batch) error {
	if batch == nil || batch.Empty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Validation pass.
	upserted := make(map[string]bool, len(batch.UpsertNodes))
	for _, node := range batch.UpsertNodes {
		if err := node.ValidateForCreate(); err != nil {
			return err
		}
		upserted[node.ID] = true
	}
	invalidated := make(map[string]time.Time, len(batch.InvalidateEdges))
	for _, inv := range batch.InvalidateEdges {
		edge, ok := s.edges[inv.EdgeID]
		if !ok {
			return fmt.Errorf("%w %s", types.ErrEdgeNotFound, inv.EdgeID)
		}
		if inv.At.Before(edge.ValidFrom) {
			return types.ErrInvalidInterval
		}
		invalidated[inv.EdgeID] = inv.At.UTC()
	}
	for _, edge := range batch.AddEdges {
		if edge.ID == "" {
			return types.ErrEmptyID
		}
		if err := edge.Validate(); err != nil {
			return err
		}
		if _, exists := s.edges[edge.ID]; exists {
			return fmt.Errorf("%w: edge %s already exists", types.ErrStoreWrite, edge.ID)
		}
		if !upserted[edge.SourceID] {
			if _, ok := s.nodes[edge.SourceID]; !ok {
				return fmt.Errorf("%w: edge %s references missing source %s", types.ErrStoreWrite, edge.ID, edge.SourceID)
			}
		}
		if !upserted[edge.TargetID] {
			if _, ok := s.nodes[edge.TargetID]; !ok {
				return fmt.Errorf("%w: edge %s references missing target %s", types.ErrStoreWrite, edge.ID, edge.TargetID)
			}
		}
		// Overlap check against edges as they will stand after the batch's
		// invalidations.
		for _, otherID := range s.byKey[edge.Key()] {
			other := s.edges[otherID]
			if other == nil {
				continue
			}
			shadow := *other
			if at, ok := invalidated[otherID]; ok {
				shadow.ValidUntil = &at
			}
			if intervalsOverlap(edge, &shadow) {
				return fmt.Errorf("%w: edge %s overlaps valid interval of %s", types.ErrStoreWrite, edge.ID, other.ID)
			}
		}
	}

	// Apply pass. Nothing below can fail.
	for _, node := range batch.UpsertNodes {
		if existing, ok := s.nodes[node.ID]; ok {
			*existing = *copyNode(node)
			existing.UpdatedAt = time.Now().UTC()
		} else {
			s.addNodeLocked(node)
		}
	}
	for id, at := range invalidated {
		edge := s.edges[id]
		until := at
		edge.ValidUntil = &until
	}
	for _, edge := range batch.AddEdges {
		edge.RecordedAt = s.clampRecordedAt(edge.RecordedAt.UTC())
		key := edge.Key()
		s.edges[edge.ID] = copyEdge(edge)
		s.byKey[key] = append(s.byKey[key], edge.ID)
		s.adjacency[edge.SourceID] = append(s.adjacency[edge.SourceID], edge.ID)
		s.adjacency[edge.TargetID] = append(s.adjacency[edge.TargetID], edge.ID)
	}
	s.lastUpdated = time.Now().UTC()

	s.logger.Debug("committed episode batch",
		"episode_id", batch.EpisodeID,
		"nodes", len(batch.UpsertNodes),
		"edges", len(batch.AddEdges),
		"invalidated", len(batch.InvalidateEdges))
	return nil
}

// Stats summarizes the stored graph.
func (s *MemoryStore) Stats(ctx context.Context) (*types.GraphStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entityTypes := make(map[string]bool)
	for _, node := range s.nodes {
		if node.Type != "" {
			entityTypes[node.Type] = true
		}
	}
	labels := make(map[string]bool)
	for _, edge := range s.edges {
		labels[edge.Label] = true
	}

	return &types.GraphStats{
		NodeCount:      len(s.nodes),
		EdgeCount:      len(s.edges),
		EpisodeCount:   len(s.episodes),
		EntityTypes:    sortedKeys(entityTypes),
		RelationLabels: sortedKeys(labels),
		LastUpdated:    s.lastUpdated,
	}, nil
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Ping always succeeds for the in-memory backend.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Provider returns the backend identifier.
func (s *MemoryStore) Provider() Provider { return ProviderMemory }

// Close releases resources. The in-memory store has none.
func (s *MemoryStore) Close() error { return nil }

var _ GraphStore = (*MemoryStore)(nil)
