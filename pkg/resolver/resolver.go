package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tempograph/tempograph/pkg/embedder"
	"github.com/tempograph/tempograph/pkg/index"
	"github.com/tempograph/tempograph/pkg/store"
	"github.com/tempograph/tempograph/pkg/types"
)

// Config holds the resolver's matching thresholds.
type Config struct {
	// MergeThreshold is the cosine similarity at or above which a candidate
	// merges into an existing node (default: 0.85).
	MergeThreshold float64
	// AmbiguityBand is the width of the band below MergeThreshold in which a
	// candidate is neither merged nor created, but parked for manual review
	// (default: 0.05).
	AmbiguityBand float64
	// CandidateLimit caps how many existing nodes are considered per
	// candidate (default: 8).
	CandidateLimit int
}

// DefaultConfig returns the default resolver thresholds.
func DefaultConfig() Config {
	return Config{
		MergeThreshold: 0.85,
		AmbiguityBand:  0.05,
		CandidateLimit: 8,
	}
}

// Ambiguity records a candidate whose best match fell inside the ambiguity
// band. The episode carrying it is routed to manual review instead of
// guessing.
type Ambiguity struct {
	Candidate types.CandidateEntity
	NodeID    string
	Score     float64
}

// Resolution is the outcome of resolving one episode's extraction: the
// atomic batch to commit, the candidate-name to node-id mapping, and any
// ambiguous matches that block the commit.
type Resolution struct {
	Batch       *store.Batch
	NodeIDs     map[string]string
	Ambiguities []Ambiguity
}

// Resolver reconciles extraction candidates against the existing graph. It
// decides which candidates merge into existing nodes, which become new nodes,
// and which new edges supersede old ones.
type Resolver struct {
	store    store.GraphStore
	indices  *index.Indices
	embedder embedder.Client
	config   Config
	keys     *KeyedMutex
	logger   *slog.Logger
}

// New creates a resolver.
func New(graphStore store.GraphStore, indices *index.Indices, embedClient embedder.Client, config Config, logger *slog.Logger) *Resolver {
	if config.MergeThreshold <= 0 {
		config.MergeThreshold = 0.85
	}
	if config.AmbiguityBand < 0 {
		config.AmbiguityBand = 0.05
	}
	if config.CandidateLimit <= 0 {
		config.CandidateLimit = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:    graphStore,
		indices:  indices,
		embedder: embedClient,
		config:   config,
		keys:     NewKeyedMutex(),
		logger:   logger,
	}
}

// CanonicalName normalizes an entity name for identity comparison: lowercase,
// single-spaced.
func CanonicalName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// Resolve maps the extraction onto the current graph and produces the batch
// of mutations the episode should commit. Candidates for the same canonical
// entity are serialized across concurrent calls, so two episodes mentioning
// the same entity cannot race into duplicate nodes.
//
// The returned release function must be called once the caller has committed
// the batch and projected it into the indices. Until then the involved
// entities stay locked, so a concurrent episode mentioning the same entity
// observes the committed node instead of re-creating it. On error the locks
// are already released.
func (r *Resolver) Resolve(ctx context.Context, episode *types.Episode, extraction *types.Extraction) (*Resolution, func(), error) {
	candidates := r.gatherCandidates(extraction)

	lockKeys := make([]string, 0, len(candidates))
	for _, c := range candidates {
		lockKeys = append(lockKeys, CanonicalName(c.Name))
	}
	unlock := r.keys.LockAll(lockKeys)

	resolution := &Resolution{
		Batch:   &store.Batch{EpisodeID: episode.ID},
		NodeIDs: make(map[string]string, len(candidates)),
	}

	// Resolve entities first; edges need their endpoint ids.
	for _, candidate := range candidates {
		canonical := CanonicalName(candidate.Name)
		if _, done := resolution.NodeIDs[canonical]; done {
			continue
		}
		if err := r.resolveEntity(ctx, candidate, resolution); err != nil {
			unlock()
			return nil, nil, err
		}
	}
	if len(resolution.Ambiguities) > 0 {
		// An ambiguous merge blocks the whole episode; committing the
		// unambiguous part would leave half an episode in the graph.
		return resolution, unlock, nil
	}

	if err := r.resolveEdges(ctx, episode, extraction, resolution); err != nil {
		unlock()
		return nil, nil, err
	}
	return resolution, unlock, nil
}

// gatherCandidates returns the extraction's entities plus implicit candidates
// for edge endpoints never listed as entities.
func (r *Resolver) gatherCandidates(extraction *types.Extraction) []types.CandidateEntity {
	candidates := make([]types.CandidateEntity, 0, len(extraction.Entities))
	seen := make(map[string]struct{}, len(extraction.Entities))
	for _, e := range extraction.Entities {
		key := CanonicalName(e.Name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		candidates = append(candidates, e)
	}
	for _, edge := range extraction.Edges {
		for _, name := range []string{edge.SourceName, edge.TargetName} {
			key := CanonicalName(name)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			candidates = append(candidates, types.CandidateEntity{Name: name, Confidence: edge.Confidence})
		}
	}
	return candidates
}

func (r *Resolver) resolveEntity(ctx context.Context, candidate types.CandidateEntity, resolution *Resolution) error {
	canonical := CanonicalName(candidate.Name)

	embedding, err := r.embedder.EmbedSingle(ctx, entityText(candidate))
	if err != nil {
		return fmt.Errorf("embedding candidate %q: %w", candidate.Name, err)
	}

	// Exact name or alias match wins outright.
	if node, err := r.findByName(ctx, candidate); err != nil {
		return err
	} else if node != nil {
		resolution.NodeIDs[canonical] = node.ID
		resolution.Batch.UpsertNodes = append(resolution.Batch.UpsertNodes, mergeInto(node, candidate, embedding))
		return nil
	}

	// Otherwise fall back to embedding similarity against the node index.
	bestID, bestScore := r.bestVectorMatch(embedding)
	switch {
	case bestID != "" && bestScore >= r.config.MergeThreshold:
		node, err := r.store.GetNode(ctx, bestID)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				break
			}
			return err
		}
		r.logger.Debug("merging candidate by similarity",
			"candidate", candidate.Name, "node_id", node.ID, "score", bestScore)
		resolution.NodeIDs[canonical] = node.ID
		resolution.Batch.UpsertNodes = append(resolution.Batch.UpsertNodes, mergeInto(node, candidate, embedding))
		return nil

	case bestID != "" && bestScore >= r.config.MergeThreshold-r.config.AmbiguityBand:
		r.logger.Info("ambiguous entity match, parking for review",
			"candidate", candidate.Name, "node_id", bestID, "score", bestScore)
		resolution.Ambiguities = append(resolution.Ambiguities, Ambiguity{
			Candidate: candidate,
			NodeID:    bestID,
			Score:     bestScore,
		})
		return nil
	}

	node := newNode(candidate, embedding)
	resolution.NodeIDs[canonical] = node.ID
	resolution.Batch.UpsertNodes = append(resolution.Batch.UpsertNodes, node)
	return nil
}

// findByName looks for a current node whose canonical name or alias matches
// the candidate exactly. A node of a different declared type never matches;
// identical names under distinct types are deliberately separate entities.
func (r *Resolver) findByName(ctx context.Context, candidate types.CandidateEntity) (*types.Node, error) {
	canonical := CanonicalName(candidate.Name)
	hits := r.indices.NodeText.Search(candidate.Name, r.config.CandidateLimit)
	for _, hit := range hits {
		node, err := r.store.GetNode(ctx, hit.ID)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if !node.Current(time.Now().UTC()) {
			continue
		}
		if candidate.Type != "" && node.Type != "" && candidate.Type != node.Type {
			continue
		}
		if CanonicalName(node.Name) == canonical {
			return node, nil
		}
		for _, alias := range node.Aliases {
			if CanonicalName(alias) == canonical {
				return node, nil
			}
		}
	}
	return nil, nil
}

func (r *Resolver) bestVectorMatch(embedding []float32) (string, float64) {
	hits := r.indices.NodeVectors.Search(embedding, 1)
	if len(hits) == 0 {
		return "", 0
	}
	return hits[0].ID, hits[0].Score
}

// mergeInto folds the candidate into the existing node: aliases union, new
// attributes extend old ones, the summary fills in if absent, and embeddings
// average so the node drifts toward its observed mentions.
func mergeInto(node *types.Node, candidate types.CandidateEntity, embedding []float32) *types.Node {
	merged := *node

	if !merged.HasName(candidate.Name) {
		merged.Aliases = append(append([]string{}, merged.Aliases...), candidate.Name)
	}
	if merged.Summary == "" {
		merged.Summary = candidate.Summary
	}
	if merged.Type == "" {
		merged.Type = candidate.Type
	}
	if len(candidate.Attributes) > 0 {
		attrs := make(map[string]interface{}, len(merged.Attributes)+len(candidate.Attributes))
		for k, v := range merged.Attributes {
			attrs[k] = v
		}
		for k, v := range candidate.Attributes {
			if _, exists := attrs[k]; !exists {
				attrs[k] = v
			}
		}
		merged.Attributes = attrs
	}
	merged.Embedding = averageEmbeddings(merged.Embedding, embedding)
	merged.UpdatedAt = time.Now().UTC()
	return &merged
}

func averageEmbeddings(a, b []float32) []float32 {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 || len(a) != len(b) {
		return a
	}
	out := make([]float32, len(a))
	for i := range a {
		out[i] = (a[i] + b[i]) / 2
	}
	return out
}

func newNode(candidate types.CandidateEntity, embedding []float32) *types.Node {
	now := time.Now().UTC()
	return &types.Node{
		ID:         uuid.NewString(),
		Name:       candidate.Name,
		Type:       candidate.Type,
		Summary:    candidate.Summary,
		Embedding:  embedding,
		Attributes: candidate.Attributes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func entityText(candidate types.CandidateEntity) string {
	if candidate.Summary == "" {
		return candidate.Name
	}
	return candidate.Name + " " + candidate.Summary
}

func (r *Resolver) resolveEdges(ctx context.Context, episode *types.Episode, extraction *types.Extraction, resolution *Resolution) error {
	now := time.Now().UTC()
	seenKeys := make(map[types.TemporalKey]struct{}, len(extraction.Edges))

	for _, candidate := range extraction.Edges {
		sourceID := resolution.NodeIDs[CanonicalName(candidate.SourceName)]
		targetID := resolution.NodeIDs[CanonicalName(candidate.TargetName)]
		if sourceID == "" || targetID == "" {
			// Endpoint resolution was skipped, which only happens when the
			// candidate list was ambiguous; Resolve returns before here.
			continue
		}

		key := types.TemporalKey{SourceID: sourceID, TargetID: targetID, Label: candidate.Label}
		if _, dup := seenKeys[key]; dup {
			continue
		}
		seenKeys[key] = struct{}{}

		embedding, err := r.embedder.EmbedSingle(ctx, edgeText(candidate))
		if err != nil {
			return fmt.Errorf("embedding fact %q: %w", candidate.Fact, err)
		}

		edge := &types.Edge{
			ID:         uuid.NewString(),
			SourceID:   sourceID,
			TargetID:   targetID,
			Label:      candidate.Label,
			Fact:       candidate.Fact,
			Confidence: candidate.Confidence,
			Embedding:  embedding,
			ValidFrom:  episode.Reference.UTC(),
			RecordedAt: now,
			EpisodeID:  episode.ID,
		}

		current, err := r.store.CurrentEdgeForKey(ctx, key, now)
		switch {
		case err == nil:
			if current.Fact == edge.Fact {
				// Re-stating a known fact is a no-op; re-ingesting the same
				// episode must not grow the graph.
				continue
			}
			// The new fact supersedes the old one: the prior edge closes at
			// the instant the system learned the replacement.
			resolution.Batch.InvalidateEdges = append(resolution.Batch.InvalidateEdges, store.EdgeInvalidation{
				EdgeID: current.ID,
				At:     edge.RecordedAt,
			})
			resolution.Batch.AddEdges = append(resolution.Batch.AddEdges, edge)
		case errors.Is(err, types.ErrNotFound):
			resolution.Batch.AddEdges = append(resolution.Batch.AddEdges, edge)
		default:
			return err
		}
	}
	return nil
}

func edgeText(candidate types.CandidateEdge) string {
	if candidate.Fact != "" {
		return candidate.Fact
	}
	return fmt.Sprintf("%s %s %s", candidate.SourceName, candidate.Label, candidate.TargetName)
}
