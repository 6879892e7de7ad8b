package search_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tempograph/tempograph/pkg/embedder"
	"github.com/tempograph/tempograph/pkg/index"
	"github.com/tempograph/tempograph/pkg/search"
	"github.com/tempograph/tempograph/pkg/store"
	"github.com/tempograph/tempograph/pkg/types"
)

type plannerFixture struct {
	store   *store.MemoryStore
	indices *index.Indices
	embed   embedder.Client
	planner *search.Planner
}

func newPlannerFixture(t *testing.T) *plannerFixture {
	t.Helper()
	memStore := store.NewMemoryStore(nil)
	indices := index.NewIndices()
	embed := embedder.NewLocalClient(128)
	return &plannerFixture{
		store:   memStore,
		indices: indices,
		embed:   embed,
		planner: search.NewPlanner(memStore, indices, embed),
	}
}

func (f *plannerFixture) addNode(t *testing.T, id, name, summary string) {
	t.Helper()
	ctx := context.Background()
	embedding, err := f.embed.EmbedSingle(ctx, name+" "+summary)
	require.NoError(t, err)
	node := &types.Node{
		ID: id, Name: name, Summary: summary, Embedding: embedding,
		CreatedAt: time.Now().UTC().Add(-time.Hour),
		UpdatedAt: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, f.store.AddNode(ctx, node))
	f.indices.IndexNode(node)
}

func (f *plannerFixture) addEdge(t *testing.T, id, src, tgt, label, fact string, validFrom time.Time) {
	t.Helper()
	ctx := context.Background()
	embedding, err := f.embed.EmbedSingle(ctx, fact)
	require.NoError(t, err)
	edge := &types.Edge{
		ID: id, SourceID: src, TargetID: tgt, Label: label, Fact: fact,
		Embedding: embedding, ValidFrom: validFrom, RecordedAt: time.Now().UTC(),
	}
	require.NoError(t, f.store.AddEdge(ctx, edge))
	f.indices.IndexEdge(edge)
}

func TestSearchValidation(t *testing.T) {
	f := newPlannerFixture(t)
	ctx := context.Background()

	_, err := f.planner.Search(ctx, "   ", search.Options{})
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = f.planner.Search(ctx, "alice", search.Options{Limit: -1})
	assert.ErrorIs(t, err, types.ErrInvalidLimit)
}

func TestSearchEmptyGraph(t *testing.T) {
	f := newPlannerFixture(t)

	results, err := f.planner.Search(context.Background(), "anything", search.Options{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchFindsNodesAndFacts(t *testing.T) {
	f := newPlannerFixture(t)
	f.addNode(t, "alice", "Alice", "software engineer on the infra team")
	f.addNode(t, "projx", "Project X", "storage migration effort")
	f.addNode(t, "lunch", "Cafeteria", "serves lunch")
	f.addEdge(t, "e1", "alice", "projx", "WORKS_ON",
		"Alice works on Project X", time.Now().UTC().Add(-time.Hour))

	results, err := f.planner.Search(context.Background(), "Alice Project X", search.Options{Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	ids := map[string]bool{}
	for _, r := range results {
		if r.Node != nil {
			ids[r.Node.ID] = true
		}
		if r.Edge != nil {
			ids[r.Edge.ID] = true
		}
	}
	assert.True(t, ids["alice"])
	assert.True(t, ids["projx"])
	assert.True(t, ids["e1"], "the supporting fact surfaces alongside the nodes")
}

func TestSearchGraphProximityBoostsNeighbors(t *testing.T) {
	f := newPlannerFixture(t)
	f.addNode(t, "alice", "Alice", "software engineer")
	f.addNode(t, "projx", "Project X", "storage migration")
	// bob shares no vocabulary with the query; only traversal can reach him.
	f.addNode(t, "bob", "Bob", "ops specialist")
	f.addEdge(t, "e1", "alice", "projx", "WORKS_ON", "Alice works on Project X", time.Now().UTC().Add(-time.Hour))
	f.addEdge(t, "e2", "bob", "projx", "WORKS_ON", "Bob keeps the servers up", time.Now().UTC().Add(-time.Hour))

	results, err := f.planner.Search(context.Background(), "Alice storage migration", search.Options{Limit: 10, NumHops: 2})
	require.NoError(t, err)

	var sawBob bool
	for _, r := range results {
		if r.Node != nil && r.Node.ID == "bob" {
			sawBob = true
		}
	}
	assert.True(t, sawBob, "two-hop neighbor enters through the traversal signal")
}

func TestSearchRespectsLimit(t *testing.T) {
	f := newPlannerFixture(t)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		f.addNode(t, id, "service "+id, "shared keyword payload")
	}

	results, err := f.planner.Search(context.Background(), "shared keyword payload", search.Options{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestSearchAsOfExcludesClosedFacts(t *testing.T) {
	f := newPlannerFixture(t)
	ctx := context.Background()
	f.addNode(t, "alice", "Alice", "software engineer")
	f.addNode(t, "projx", "Project X", "storage migration")

	joined := time.Now().UTC().Add(-48 * time.Hour)
	f.addEdge(t, "e1", "alice", "projx", "WORKS_ON", "Alice works on Project X", joined)
	closedAt := time.Now().UTC().Add(-24 * time.Hour)
	require.NoError(t, f.store.InvalidateEdge(ctx, "e1", closedAt))

	// Queried as of now, the closed fact is filtered out at materialization
	// even though it is still indexed.
	results, err := f.planner.Search(ctx, "Alice works Project X", search.Options{Limit: 10})
	require.NoError(t, err)
	for _, r := range results {
		if r.Edge != nil {
			assert.NotEqual(t, "e1", r.Edge.ID)
		}
	}

	// Queried as of a time inside the interval, the fact comes back.
	results, err = f.planner.Search(ctx, "Alice works Project X", search.Options{
		Limit: 10, AsOf: closedAt.Add(-time.Hour),
	})
	require.NoError(t, err)
	var sawEdge bool
	for _, r := range results {
		if r.Edge != nil && r.Edge.ID == "e1" {
			sawEdge = true
		}
	}
	assert.True(t, sawEdge)
}
