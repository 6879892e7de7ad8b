package index

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tempograph/tempograph/pkg/store"
	"github.com/tempograph/tempograph/pkg/types"
)

func TestIndicesIndexNode(t *testing.T) {
	ix := NewIndices()
	ix.IndexNode(&types.Node{
		ID:        "alice",
		Name:      "Alice",
		Aliases:   []string{"Alice Smith"},
		Summary:   "software engineer",
		Embedding: []float32{1, 0},
	})

	hits := ix.NodeText.Search("smith engineer", 5)
	require.NotEmpty(t, hits, "aliases and summary are searchable")
	assert.Equal(t, "alice", hits[0].ID)
	assert.Equal(t, 1, ix.NodeVectors.Len())

	// Nil and id-less nodes are ignored.
	ix.IndexNode(nil)
	ix.IndexNode(&types.Node{Name: "ghost"})
	assert.Equal(t, 1, ix.NodeVectors.Len())
}

func TestIndicesIndexEdge(t *testing.T) {
	ix := NewIndices()
	ix.IndexEdge(&types.Edge{
		ID: "e1", SourceID: "a", TargetID: "b", Label: "WORKS_ON",
		Fact: "Alice joined Project X", Embedding: []float32{0, 1},
	})
	require.NotEmpty(t, ix.EdgeText.Search("joined", 5))

	// Without a fact the label is the searchable text.
	ix.IndexEdge(&types.Edge{ID: "e2", SourceID: "a", TargetID: "b", Label: "LOCATED_IN"})
	hits := ix.EdgeText.Search("located in", 5)
	require.NotEmpty(t, hits)
	assert.Equal(t, "e2", hits[0].ID)
}

func TestProjectorAppliesBatches(t *testing.T) {
	ix := NewIndices()
	p := NewProjector(ix, 0, nil)
	defer p.Close()

	p.Enqueue(&store.Batch{
		EpisodeID:   "ep1",
		UpsertNodes: []*types.Node{{ID: "alice", Name: "Alice", Embedding: []float32{1, 0}}},
		AddEdges: []*types.Edge{{
			ID: "e1", SourceID: "alice", TargetID: "projx", Label: "WORKS_ON",
			Fact: "Alice joined Project X", Embedding: []float32{0, 1},
		}},
	})
	p.Wait()

	assert.Zero(t, p.Lag())
	assert.NotEmpty(t, ix.NodeText.Search("alice", 5))
	assert.NotEmpty(t, ix.EdgeText.Search("joined", 5))
}

func TestProjectorRemovesInvalidatedEdges(t *testing.T) {
	ix := NewIndices()
	p := NewProjector(ix, 0, nil)
	defer p.Close()

	at := time.Now().UTC()
	p.Enqueue(&store.Batch{
		EpisodeID: "ep1",
		AddEdges: []*types.Edge{{
			ID: "e1", SourceID: "a", TargetID: "b", Label: "WORKS_ON",
			Fact: "Alice joined Project X", Embedding: []float32{0, 1},
		}},
	})
	p.Wait()
	require.NotEmpty(t, ix.EdgeText.Search("joined", 5))

	// A superseding batch drops the old fact and indexes the new one.
	p.Enqueue(&store.Batch{
		EpisodeID:       "ep2",
		InvalidateEdges: []store.EdgeInvalidation{{EdgeID: "e1", At: at}},
		AddEdges: []*types.Edge{{
			ID: "e2", SourceID: "a", TargetID: "b", Label: "WORKS_ON",
			Fact: "Alice left Project X", Embedding: []float32{1, 0},
		}},
	})
	p.Wait()

	hits := ix.EdgeText.Search("joined left project", 5)
	require.Len(t, hits, 1)
	assert.Equal(t, "e2", hits[0].ID)
}

func TestProjectorSkipsEmptyBatches(t *testing.T) {
	p := NewProjector(NewIndices(), 0, nil)
	defer p.Close()

	p.Enqueue(nil)
	p.Enqueue(&store.Batch{EpisodeID: "ep1"})
	assert.Zero(t, p.Lag())
}
