package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tempograph/tempograph/pkg/embedder"
	"github.com/tempograph/tempograph/pkg/index"
	"github.com/tempograph/tempograph/pkg/store"
	"github.com/tempograph/tempograph/pkg/types"
)

const (
	DefaultLimit   = 10
	DefaultNumHops = 2

	// CandidateMultiplier sizes the per-signal candidate pool relative to
	// the requested limit.
	CandidateMultiplier = 4
)

// Options tunes one search call. Zero values fall back to defaults.
type Options struct {
	Limit   int
	NumHops int
	// AsOf filters to facts valid at that instant; zero means now.
	AsOf time.Time
}

// Result is one ranked search hit: either a node or an edge fact, never both.
type Result struct {
	Node  *types.Node `json:"node,omitempty"`
	Edge  *types.Edge `json:"edge,omitempty"`
	Score float64     `json:"score"`
}

// recordedAt returns the hit's recency for tie-breaking.
func (r *Result) recordedAt() time.Time {
	if r.Edge != nil {
		return r.Edge.RecordedAt
	}
	return r.Node.UpdatedAt
}

// Planner runs hybrid retrieval: embedding similarity, BM25 keyword
// relevance, and graph proximity, fused by reciprocal rank.
type Planner struct {
	store    store.GraphStore
	indices  *index.Indices
	embedder embedder.Client
}

// NewPlanner creates a retrieval planner.
func NewPlanner(graphStore store.GraphStore, indices *index.Indices, embedClient embedder.Client) *Planner {
	return &Planner{store: graphStore, indices: indices, embedder: embedClient}
}

// Fused ranked lists mix nodes and edge facts; ids are namespaced so the two
// spaces cannot collide.
const (
	nodePrefix = "n:"
	edgePrefix = "e:"
)

// Search returns up to opts.Limit nodes and facts ranked for the query.
func (p *Planner) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", types.ErrValidation)
	}
	if opts.Limit < 0 {
		return nil, types.ErrInvalidLimit
	}
	limit := opts.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	numHops := opts.NumHops
	if numHops <= 0 {
		numHops = DefaultNumHops
	}
	asOf := opts.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	k := limit * CandidateMultiplier

	queryEmbedding, err := p.embedder.EmbedSingle(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	// Signal 1: embedding similarity over nodes and edge facts.
	embeddingList := mergeHits(
		p.indices.NodeVectors.Search(queryEmbedding, k),
		p.indices.EdgeVectors.Search(queryEmbedding, k),
		k,
	)

	// Signal 2: BM25 keyword relevance over the same two spaces.
	keywordList := mergeHits(
		p.indices.NodeText.Search(query, k),
		p.indices.EdgeText.Search(query, k),
		k,
	)

	// Signal 3: graph proximity from the union of both candidate sets.
	seeds := seedNodeIDs(embeddingList, keywordList)
	distances, err := Traverse(ctx, p.store, seeds, numHops, asOf)
	if err != nil {
		return nil, err
	}
	traversalList := make([]string, 0, len(distances))
	for _, id := range RankByDistance(distances) {
		traversalList = append(traversalList, nodePrefix+id)
	}

	fusedIDs, scores := RRF([][]string{embeddingList, keywordList, traversalList}, DefaultRankConstant)

	results := make([]Result, 0, limit)
	for i, fusedID := range fusedIDs {
		result, err := p.materialize(ctx, fusedID, asOf)
		if err != nil {
			return nil, err
		}
		if result == nil {
			continue
		}
		result.Score = scores[i]
		results = append(results, *result)
	}

	// Equal fused scores rank the most recently recorded item first.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].recordedAt().After(results[j].recordedAt())
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// materialize loads a fused hit from the store, dropping items no longer
// valid at asOf. Index snapshots may briefly trail the store, so misses are
// skipped rather than failed.
func (p *Planner) materialize(ctx context.Context, fusedID string, asOf time.Time) (*Result, error) {
	switch {
	case strings.HasPrefix(fusedID, nodePrefix):
		node, err := p.store.GetNode(ctx, strings.TrimPrefix(fusedID, nodePrefix))
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		if !node.Current(asOf) {
			return nil, nil
		}
		return &Result{Node: node}, nil

	case strings.HasPrefix(fusedID, edgePrefix):
		edge, err := p.store.GetEdge(ctx, strings.TrimPrefix(fusedID, edgePrefix))
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		if !edge.Current(asOf) {
			return nil, nil
		}
		return &Result{Edge: edge}, nil
	}
	return nil, nil
}

// mergeHits interleaves node and edge hits into one namespaced ranked list
// ordered by raw score.
func mergeHits(nodeHits, edgeHits []index.ScoredID, k int) []string {
	merged := make([]index.ScoredID, 0, len(nodeHits)+len(edgeHits))
	for _, hit := range nodeHits {
		merged = append(merged, index.ScoredID{ID: nodePrefix + hit.ID, Score: hit.Score})
	}
	for _, hit := range edgeHits {
		merged = append(merged, index.ScoredID{ID: edgePrefix + hit.ID, Score: hit.Score})
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > k {
		merged = merged[:k]
	}
	ids := make([]string, len(merged))
	for i, hit := range merged {
		ids[i] = hit.ID
	}
	return ids
}

// seedNodeIDs extracts the distinct node ids present in the candidate lists.
// Edge hits do not seed traversal directly; their endpoints surface through
// the node lists when relevant.
func seedNodeIDs(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var seeds []string
	for _, list := range lists {
		for _, fusedID := range list {
			if !strings.HasPrefix(fusedID, nodePrefix) {
				continue
			}
			id := strings.TrimPrefix(fusedID, nodePrefix)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			seeds = append(seeds, id)
		}
	}
	return seeds
}
