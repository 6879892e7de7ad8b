package resolver_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tempograph/tempograph/pkg/embedder"
	"github.com/tempograph/tempograph/pkg/index"
	"github.com/tempograph/tempograph/pkg/resolver"
	"github.com/tempograph/tempograph/pkg/store"
	"github.com/tempograph/tempograph/pkg/types"
)

// stubEmbedder returns preset vectors per text so similarity scores are exact.
// Unknown texts embed to a vector orthogonal to everything preset.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i], _ = s.EmbedSingle(ctx, text)
	}
	return out, nil
}

func (s *stubEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := s.vectors[text]; ok {
		return vec, nil
	}
	return []float32{0, 0, 1}, nil
}

func (s *stubEmbedder) Dimensions() int { return 3 }
func (s *stubEmbedder) Close() error    { return nil }

type fixture struct {
	store   *store.MemoryStore
	indices *index.Indices
	res     *resolver.Resolver
}

func newFixture(t *testing.T, embed embedder.Client) *fixture {
	t.Helper()
	if embed == nil {
		embed = embedder.NewLocalClient(64)
	}
	memStore := store.NewMemoryStore(nil)
	indices := index.NewIndices()
	return &fixture{
		store:   memStore,
		indices: indices,
		res:     resolver.New(memStore, indices, embed, resolver.DefaultConfig(), nil),
	}
}

// seedNode commits a node and projects it into the indices, the state an
// ingested episode leaves behind.
func (f *fixture) seedNode(t *testing.T, node *types.Node) {
	t.Helper()
	require.NoError(t, f.store.AddNode(context.Background(), node))
	f.indices.IndexNode(node)
}

func testEpisode(id string) *types.Episode {
	return &types.Episode{
		ID:        id,
		Content:   "test content",
		Source:    "test",
		Type:      types.MessageEpisode,
		Reference: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
	}
}

func TestCanonicalName(t *testing.T) {
	assert.Equal(t, "alice smith", resolver.CanonicalName("  Alice   Smith "))
	assert.Equal(t, "alice", resolver.CanonicalName("ALICE"))
	assert.Equal(t, "", resolver.CanonicalName("   "))
}

func TestResolveCreatesNewNodes(t *testing.T) {
	f := newFixture(t, nil)

	extraction := &types.Extraction{
		Entities: []types.CandidateEntity{
			{Name: "Alice", Type: "Person", Confidence: 0.95},
			{Name: "Project X", Type: "Project", Confidence: 0.9},
		},
		Edges: []types.CandidateEdge{{
			SourceName: "Alice", TargetName: "Project X", Label: "WORKS_ON",
			Fact: "Alice joined Project X", Confidence: 0.9,
		}},
	}

	resolution, release, err := f.res.Resolve(context.Background(), testEpisode("ep1"), extraction)
	require.NoError(t, err)
	defer release()

	assert.Empty(t, resolution.Ambiguities)
	require.Len(t, resolution.Batch.UpsertNodes, 2)
	require.Len(t, resolution.Batch.AddEdges, 1)
	assert.Empty(t, resolution.Batch.InvalidateEdges)

	edge := resolution.Batch.AddEdges[0]
	assert.Equal(t, resolution.NodeIDs["alice"], edge.SourceID)
	assert.Equal(t, resolution.NodeIDs["project x"], edge.TargetID)
	assert.Equal(t, "WORKS_ON", edge.Label)
	assert.True(t, edge.ValidFrom.Equal(time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)),
		"world time comes from the episode reference")
	assert.False(t, edge.RecordedAt.IsZero())
	assert.Equal(t, "ep1", edge.EpisodeID)
}

func TestResolveImplicitEdgeEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	// No entity list at all; endpoints surface from the edge.
	extraction := &types.Extraction{
		Edges: []types.CandidateEdge{{
			SourceName: "Alice", TargetName: "Project X", Label: "WORKS_ON", Confidence: 0.8,
		}},
	}

	resolution, release, err := f.res.Resolve(context.Background(), testEpisode("ep1"), extraction)
	require.NoError(t, err)
	defer release()

	assert.Len(t, resolution.Batch.UpsertNodes, 2)
	assert.Len(t, resolution.Batch.AddEdges, 1)
}

func TestResolveExactNameMerge(t *testing.T) {
	f := newFixture(t, nil)
	f.seedNode(t, &types.Node{
		ID: "alice-1", Name: "Alice Smith", Type: "Person",
		Summary: "software engineer", CreatedAt: time.Now().UTC().Add(-time.Hour),
	})

	extraction := &types.Extraction{
		Entities: []types.CandidateEntity{{Name: "alice  smith", Type: "Person", Confidence: 0.9}},
	}
	resolution, release, err := f.res.Resolve(context.Background(), testEpisode("ep2"), extraction)
	require.NoError(t, err)
	defer release()

	require.Len(t, resolution.Batch.UpsertNodes, 1)
	assert.Equal(t, "alice-1", resolution.Batch.UpsertNodes[0].ID, "name match merges, no new node")
	assert.Equal(t, "alice-1", resolution.NodeIDs["alice smith"])
}

func TestResolveAliasMerge(t *testing.T) {
	f := newFixture(t, nil)
	f.seedNode(t, &types.Node{
		ID: "alice-1", Name: "Alice Smith", Aliases: []string{"A. Smith"},
		Type: "Person", CreatedAt: time.Now().UTC().Add(-time.Hour),
	})

	extraction := &types.Extraction{
		Entities: []types.CandidateEntity{{Name: "A. Smith", Confidence: 0.9}},
	}
	resolution, release, err := f.res.Resolve(context.Background(), testEpisode("ep2"), extraction)
	require.NoError(t, err)
	defer release()

	require.Len(t, resolution.Batch.UpsertNodes, 1)
	assert.Equal(t, "alice-1", resolution.Batch.UpsertNodes[0].ID)
}

func TestResolveTypeMismatchStaysSeparate(t *testing.T) {
	f := newFixture(t, nil)
	f.seedNode(t, &types.Node{
		ID: "mercury-planet", Name: "Mercury", Type: "Planet",
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	})

	extraction := &types.Extraction{
		Entities: []types.CandidateEntity{{Name: "Mercury", Type: "Element", Confidence: 0.9}},
	}
	resolution, release, err := f.res.Resolve(context.Background(), testEpisode("ep2"), extraction)
	require.NoError(t, err)
	defer release()

	require.Len(t, resolution.Batch.UpsertNodes, 1)
	assert.NotEqual(t, "mercury-planet", resolution.Batch.UpsertNodes[0].ID,
		"same name under a different type is a distinct entity")
}

func TestResolveSimilarityMerge(t *testing.T) {
	embed := &stubEmbedder{vectors: map[string][]float32{
		"Alicia Smythe": {0.9, 0.43589, 0},
	}}
	f := newFixture(t, embed)
	f.seedNode(t, &types.Node{
		ID: "alice-1", Name: "Alice Smith", Type: "Person",
		Embedding: []float32{1, 0, 0}, CreatedAt: time.Now().UTC().Add(-time.Hour),
	})

	// Cosine 0.9 is above the 0.85 merge threshold.
	extraction := &types.Extraction{
		Entities: []types.CandidateEntity{{Name: "Alicia Smythe", Type: "Person", Confidence: 0.9}},
	}
	resolution, release, err := f.res.Resolve(context.Background(), testEpisode("ep2"), extraction)
	require.NoError(t, err)
	defer release()

	assert.Empty(t, resolution.Ambiguities)
	require.Len(t, resolution.Batch.UpsertNodes, 1)
	merged := resolution.Batch.UpsertNodes[0]
	assert.Equal(t, "alice-1", merged.ID)
	assert.Contains(t, merged.Aliases, "Alicia Smythe", "the new surface form becomes an alias")
}

func TestResolveAmbiguityBandParksForReview(t *testing.T) {
	embed := &stubEmbedder{vectors: map[string][]float32{
		"Alicia Smythe": {0.82, 0.57245, 0},
	}}
	f := newFixture(t, embed)
	f.seedNode(t, &types.Node{
		ID: "alice-1", Name: "Alice Smith", Type: "Person",
		Embedding: []float32{1, 0, 0}, CreatedAt: time.Now().UTC().Add(-time.Hour),
	})

	// Cosine 0.82 lands inside [0.80, 0.85): too close to dismiss, too far
	// to merge.
	extraction := &types.Extraction{
		Entities: []types.CandidateEntity{{Name: "Alicia Smythe", Type: "Person", Confidence: 0.9}},
	}
	resolution, release, err := f.res.Resolve(context.Background(), testEpisode("ep2"), extraction)
	require.NoError(t, err)
	defer release()

	require.Len(t, resolution.Ambiguities, 1)
	ambiguity := resolution.Ambiguities[0]
	assert.Equal(t, "alice-1", ambiguity.NodeID)
	assert.Equal(t, "Alicia Smythe", ambiguity.Candidate.Name)
	assert.InDelta(t, 0.82, ambiguity.Score, 0.001)
	assert.Empty(t, resolution.Batch.AddEdges, "an ambiguous episode commits nothing")
}

func TestResolveBelowBandCreatesNewNode(t *testing.T) {
	embed := &stubEmbedder{vectors: map[string][]float32{
		"Bob Jones": {0.5, 0.86603, 0},
	}}
	f := newFixture(t, embed)
	f.seedNode(t, &types.Node{
		ID: "alice-1", Name: "Alice Smith", Type: "Person",
		Embedding: []float32{1, 0, 0}, CreatedAt: time.Now().UTC().Add(-time.Hour),
	})

	extraction := &types.Extraction{
		Entities: []types.CandidateEntity{{Name: "Bob Jones", Type: "Person", Confidence: 0.9}},
	}
	resolution, release, err := f.res.Resolve(context.Background(), testEpisode("ep2"), extraction)
	require.NoError(t, err)
	defer release()

	assert.Empty(t, resolution.Ambiguities)
	require.Len(t, resolution.Batch.UpsertNodes, 1)
	assert.NotEqual(t, "alice-1", resolution.Batch.UpsertNodes[0].ID)
}

func TestResolveSupersedesChangedFact(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.seedNode(t, &types.Node{ID: "alice-1", Name: "Alice", Type: "Person", CreatedAt: time.Now().UTC().Add(-time.Hour)})
	f.seedNode(t, &types.Node{ID: "projx-1", Name: "Project X", Type: "Project", CreatedAt: time.Now().UTC().Add(-time.Hour)})
	require.NoError(t, f.store.AddEdge(ctx, &types.Edge{
		ID: "e1", SourceID: "alice-1", TargetID: "projx-1", Label: "WORKS_ON",
		Fact:      "Alice joined Project X",
		ValidFrom: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), RecordedAt: time.Now().UTC(),
	}))

	extraction := &types.Extraction{
		Entities: []types.CandidateEntity{
			{Name: "Alice", Type: "Person"}, {Name: "Project X", Type: "Project"},
		},
		Edges: []types.CandidateEdge{{
			SourceName: "Alice", TargetName: "Project X", Label: "WORKS_ON",
			Fact: "Alice left Project X", Confidence: 0.9,
		}},
	}
	resolution, release, err := f.res.Resolve(ctx, testEpisode("ep2"), extraction)
	require.NoError(t, err)
	defer release()

	require.Len(t, resolution.Batch.AddEdges, 1)
	require.Len(t, resolution.Batch.InvalidateEdges, 1)
	inv := resolution.Batch.InvalidateEdges[0]
	assert.Equal(t, "e1", inv.EdgeID)
	assert.True(t, inv.At.Equal(resolution.Batch.AddEdges[0].RecordedAt),
		"the old edge closes exactly when the system learned the new fact")
}

func TestResolveRestatedFactIsNoOp(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.seedNode(t, &types.Node{ID: "alice-1", Name: "Alice", Type: "Person", CreatedAt: time.Now().UTC().Add(-time.Hour)})
	f.seedNode(t, &types.Node{ID: "projx-1", Name: "Project X", Type: "Project", CreatedAt: time.Now().UTC().Add(-time.Hour)})
	require.NoError(t, f.store.AddEdge(ctx, &types.Edge{
		ID: "e1", SourceID: "alice-1", TargetID: "projx-1", Label: "WORKS_ON",
		Fact:      "Alice joined Project X",
		ValidFrom: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), RecordedAt: time.Now().UTC(),
	}))

	extraction := &types.Extraction{
		Entities: []types.CandidateEntity{
			{Name: "Alice", Type: "Person"}, {Name: "Project X", Type: "Project"},
		},
		Edges: []types.CandidateEdge{{
			SourceName: "Alice", TargetName: "Project X", Label: "WORKS_ON",
			Fact: "Alice joined Project X", Confidence: 0.9,
		}},
	}
	resolution, release, err := f.res.Resolve(ctx, testEpisode("ep2"), extraction)
	require.NoError(t, err)
	defer release()

	assert.Empty(t, resolution.Batch.AddEdges, "re-ingesting the same fact must not grow the graph")
	assert.Empty(t, resolution.Batch.InvalidateEdges)
}

func TestResolveDeduplicatesEdgeKeys(t *testing.T) {
	f := newFixture(t, nil)

	extraction := &types.Extraction{
		Edges: []types.CandidateEdge{
			{SourceName: "Alice", TargetName: "Project X", Label: "WORKS_ON", Fact: "Alice works on Project X"},
			{SourceName: "Alice", TargetName: "Project X", Label: "WORKS_ON", Fact: "Alice still works on Project X"},
		},
	}
	resolution, release, err := f.res.Resolve(context.Background(), testEpisode("ep1"), extraction)
	require.NoError(t, err)
	defer release()

	assert.Len(t, resolution.Batch.AddEdges, 1, "one edge per temporal key per episode")
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := resolver.NewKeyedMutex()

	var mu sync.Mutex
	active := 0
	maxActive := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := km.LockAll([]string{"alice", "project x"})
			defer release()

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive, "holders of the same keys never overlap")
}

func TestKeyedMutexDeduplicatesKeys(t *testing.T) {
	km := resolver.NewKeyedMutex()

	// A key list with duplicates must not deadlock against itself.
	release := km.LockAll([]string{"alice", "alice", "alice"})
	release()

	release = km.LockAll([]string{"alice"})
	release()
}
