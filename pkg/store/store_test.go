package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tempograph/tempograph/pkg/store"
	"github.com/tempograph/tempograph/pkg/types"
)

// backends returns a fresh instance of every embeddable store so the shared
// suite runs against each. The neo4j backend needs a live server and is
// covered by integration environments instead.
func backends(t *testing.T) map[string]store.GraphStore {
	t.Helper()

	badgerStore, err := store.NewBadgerStore(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { badgerStore.Close() })

	return map[string]store.GraphStore{
		"memory": store.NewMemoryStore(nil),
		"badger": badgerStore,
	}
}

func testNode(id, name string) *types.Node {
	return &types.Node{ID: id, Name: name, Type: "Person"}
}

func testEdge(id, source, target, label string, validFrom time.Time) *types.Edge {
	return &types.Edge{
		ID:         id,
		SourceID:   source,
		TargetID:   target,
		Label:      label,
		Fact:       "fact for " + id,
		ValidFrom:  validFrom,
		RecordedAt: time.Now().UTC(),
	}
}

func TestNodeCRUD(t *testing.T) {
	ctx := context.Background()
	for backend, s := range backends(t) {
		t.Run(backend, func(t *testing.T) {
			require.NoError(t, s.AddNode(ctx, testNode("n1", "Alice")))

			// Duplicate ids are rejected.
			err := s.AddNode(ctx, testNode("n1", "Alice"))
			assert.ErrorIs(t, err, types.ErrStoreWrite)

			got, err := s.GetNode(ctx, "n1")
			require.NoError(t, err)
			assert.Equal(t, "Alice", got.Name)
			assert.False(t, got.CreatedAt.IsZero())

			_, err = s.GetNode(ctx, "missing")
			assert.ErrorIs(t, err, types.ErrNotFound)

			summary := "software engineer"
			updated, err := s.UpdateNode(ctx, "n1", store.NodePatch{
				Summary:    &summary,
				AddAliases: []string{"Alice Smith", "Alice Smith"},
				Attributes: map[string]interface{}{"team": "infra"},
			})
			require.NoError(t, err)
			assert.Equal(t, "software engineer", updated.Summary)
			assert.Equal(t, []string{"Alice Smith"}, updated.Aliases, "aliases deduplicate")
			assert.Equal(t, "infra", updated.Attributes["team"])

			_, err = s.UpdateNode(ctx, "missing", store.NodePatch{Summary: &summary})
			assert.ErrorIs(t, err, types.ErrNotFound)
		})
	}
}

func TestNodeSnapshotsAreIsolated(t *testing.T) {
	ctx := context.Background()
	for backend, s := range backends(t) {
		t.Run(backend, func(t *testing.T) {
			node := testNode("n1", "Alice")
			node.Aliases = []string{"Al"}
			node.Embedding = []float32{1, 0}
			node.Attributes = map[string]interface{}{"team": "infra"}
			require.NoError(t, s.AddNode(ctx, node))

			// Mutating the caller's original after the write changes nothing.
			node.Aliases[0] = "clobbered"
			node.Attributes["team"] = "clobbered"

			got, err := s.GetNode(ctx, "n1")
			require.NoError(t, err)
			assert.Equal(t, []string{"Al"}, got.Aliases)
			assert.Equal(t, "infra", got.Attributes["team"])

			// Mutating a returned snapshot changes nothing either.
			got.Aliases[0] = "clobbered"
			got.Attributes["team"] = "clobbered"
			got.Embedding[0] = 99

			again, err := s.GetNode(ctx, "n1")
			require.NoError(t, err)
			assert.Equal(t, []string{"Al"}, again.Aliases)
			assert.Equal(t, "infra", again.Attributes["team"])
			assert.Equal(t, float32(1), again.Embedding[0])
		})
	}
}

func TestConcurrentReadsDuringUpdates(t *testing.T) {
	ctx := context.Background()
	for backend, s := range backends(t) {
		t.Run(backend, func(t *testing.T) {
			node := testNode("n1", "Alice")
			node.Attributes = map[string]interface{}{"k0": 0}
			require.NoError(t, s.AddNode(ctx, node))

			// Readers range over their snapshots while a writer patches the
			// attribute map. Snapshots must not share backing state with the
			// stored record.
			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				for i := 0; i < 200; i++ {
					_, err := s.UpdateNode(ctx, "n1", store.NodePatch{
						Attributes: map[string]interface{}{fmt.Sprintf("k%d", i): i},
					})
					assert.NoError(t, err)
				}
			}()
			go func() {
				defer wg.Done()
				for i := 0; i < 200; i++ {
					got, err := s.GetNode(ctx, "n1")
					assert.NoError(t, err)
					for range got.Attributes {
					}
				}
			}()
			wg.Wait()
		})
	}
}

func TestSoftDeleteKeepsHistory(t *testing.T) {
	ctx := context.Background()
	for backend, s := range backends(t) {
		t.Run(backend, func(t *testing.T) {
			require.NoError(t, s.AddNode(ctx, testNode("n1", "Alice")))
			require.NoError(t, s.AddNode(ctx, testNode("n2", "Project X")))
			validFrom := time.Now().UTC().Add(-time.Hour)
			require.NoError(t, s.AddEdge(ctx, testEdge("e1", "n1", "n2", "WORKS_ON", validFrom)))

			at := time.Now().UTC().Add(time.Hour)
			require.NoError(t, s.SoftDeleteNode(ctx, "n1", at))

			// The record survives; only its validity closes.
			node, err := s.GetNode(ctx, "n1")
			require.NoError(t, err)
			require.NotNil(t, node.ValidUntil)
			assert.True(t, node.Current(time.Now().UTC()))
			assert.False(t, node.Current(at.Add(time.Second)))

			// Incident edges close at the same instant.
			edge, err := s.GetEdge(ctx, "e1")
			require.NoError(t, err)
			require.NotNil(t, edge.ValidUntil)
			assert.False(t, edge.Current(at.Add(time.Second)))

			nodes, err := s.ListNodes(ctx, at.Add(time.Second))
			require.NoError(t, err)
			require.Len(t, nodes, 1)
			assert.Equal(t, "n2", nodes[0].ID)
		})
	}
}

func TestHardDeleteRemovesIncidentEdges(t *testing.T) {
	ctx := context.Background()
	for backend, s := range backends(t) {
		t.Run(backend, func(t *testing.T) {
			require.NoError(t, s.AddNode(ctx, testNode("n1", "Alice")))
			require.NoError(t, s.AddNode(ctx, testNode("n2", "Project X")))
			require.NoError(t, s.AddEdge(ctx, testEdge("e1", "n1", "n2", "WORKS_ON", time.Now().UTC())))

			require.NoError(t, s.DeleteNode(ctx, "n1"))

			_, err := s.GetNode(ctx, "n1")
			assert.ErrorIs(t, err, types.ErrNotFound)
			_, err = s.GetEdge(ctx, "e1")
			assert.ErrorIs(t, err, types.ErrNotFound)

			// The surviving endpoint has no dangling adjacency.
			edges, err := s.EdgesFrom(ctx, "n2", time.Now().UTC())
			require.NoError(t, err)
			assert.Empty(t, edges)
		})
	}
}

func TestAddEdgeChecksEndpointsAndOverlap(t *testing.T) {
	ctx := context.Background()
	for backend, s := range backends(t) {
		t.Run(backend, func(t *testing.T) {
			require.NoError(t, s.AddNode(ctx, testNode("n1", "Alice")))
			require.NoError(t, s.AddNode(ctx, testNode("n2", "Project X")))

			err := s.AddEdge(ctx, testEdge("e0", "n1", "ghost", "WORKS_ON", time.Now().UTC()))
			assert.ErrorIs(t, err, types.ErrStoreWrite)

			validFrom := time.Now().UTC().Add(-time.Hour)
			require.NoError(t, s.AddEdge(ctx, testEdge("e1", "n1", "n2", "WORKS_ON", validFrom)))

			// A second open edge for the same key conflicts; the caller must
			// supersede e1 instead.
			err = s.AddEdge(ctx, testEdge("e2", "n1", "n2", "WORKS_ON", validFrom.Add(time.Minute)))
			assert.ErrorIs(t, err, types.ErrStoreWrite)

			// A different label is a different key and coexists.
			require.NoError(t, s.AddEdge(ctx, testEdge("e3", "n1", "n2", "LEADS", validFrom)))

			// Once e1 is closed, a new open edge for the key is allowed.
			require.NoError(t, s.InvalidateEdge(ctx, "e1", time.Now().UTC()))
			require.NoError(t, s.AddEdge(ctx, testEdge("e2", "n1", "n2", "WORKS_ON", validFrom.Add(time.Minute))))
		})
	}
}

func TestInvalidateEdgeRejectsInvertedInterval(t *testing.T) {
	ctx := context.Background()
	for backend, s := range backends(t) {
		t.Run(backend, func(t *testing.T) {
			require.NoError(t, s.AddNode(ctx, testNode("n1", "Alice")))
			require.NoError(t, s.AddNode(ctx, testNode("n2", "Project X")))
			validFrom := time.Now().UTC()
			require.NoError(t, s.AddEdge(ctx, testEdge("e1", "n1", "n2", "WORKS_ON", validFrom)))

			err := s.InvalidateEdge(ctx, "e1", validFrom.Add(-time.Hour))
			assert.ErrorIs(t, err, types.ErrInvalidInterval)

			err = s.InvalidateEdge(ctx, "missing", time.Now().UTC())
			assert.ErrorIs(t, err, types.ErrNotFound)
		})
	}
}

func TestRecordedAtMonotonic(t *testing.T) {
	ctx := context.Background()
	for backend, s := range backends(t) {
		t.Run(backend, func(t *testing.T) {
			require.NoError(t, s.AddNode(ctx, testNode("n1", "Alice")))
			require.NoError(t, s.AddNode(ctx, testNode("n2", "Project X")))

			first := testEdge("e1", "n1", "n2", "WORKS_ON", time.Now().UTC())
			first.RecordedAt = time.Now().UTC()
			require.NoError(t, s.AddEdge(ctx, first))

			// An edge claiming an earlier RecordedAt is clamped forward so
			// system time never runs backwards.
			second := testEdge("e2", "n1", "n2", "LEADS", time.Now().UTC())
			second.RecordedAt = first.RecordedAt.Add(-time.Hour)
			require.NoError(t, s.AddEdge(ctx, second))

			got, err := s.GetEdge(ctx, "e2")
			require.NoError(t, err)
			assert.False(t, got.RecordedAt.Before(first.RecordedAt))
		})
	}
}

func TestCommitBatchSupersession(t *testing.T) {
	ctx := context.Background()
	for backend, s := range backends(t) {
		t.Run(backend, func(t *testing.T) {
			joined := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
			require.NoError(t, s.CommitBatch(ctx, &store.Batch{
				EpisodeID:   "ep1",
				UpsertNodes: []*types.Node{testNode("alice", "Alice"), testNode("projx", "Project X")},
				AddEdges: []*types.Edge{{
					ID: "e1", SourceID: "alice", TargetID: "projx", Label: "WORKS_ON",
					Fact: "Alice joined Project X", ValidFrom: joined, RecordedAt: time.Now().UTC(),
				}},
			}))

			// A later episode supersedes the fact: the old edge closes exactly
			// at the new edge's RecordedAt.
			left := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
			recordedAt := time.Now().UTC().Add(time.Second)
			require.NoError(t, s.CommitBatch(ctx, &store.Batch{
				EpisodeID: "ep2",
				InvalidateEdges: []store.EdgeInvalidation{
					{EdgeID: "e1", At: recordedAt},
				},
				AddEdges: []*types.Edge{{
					ID: "e2", SourceID: "alice", TargetID: "projx", Label: "WORKS_ON",
					Fact: "Alice left Project X", ValidFrom: left, RecordedAt: recordedAt,
				}},
			}))

			old, err := s.GetEdge(ctx, "e1")
			require.NoError(t, err)
			require.NotNil(t, old.ValidUntil)
			assert.True(t, old.ValidUntil.Equal(recordedAt))

			key := types.TemporalKey{SourceID: "alice", TargetID: "projx", Label: "WORKS_ON"}
			current, err := s.CurrentEdgeForKey(ctx, key, recordedAt.Add(time.Second))
			require.NoError(t, err)
			assert.Equal(t, "e2", current.ID)

			// Both versions stay retrievable.
			history, err := s.EdgeHistory(ctx, key)
			require.NoError(t, err)
			require.Len(t, history, 2)
			assert.Equal(t, "e1", history[0].ID)
			assert.Equal(t, "e2", history[1].ID)
		})
	}
}

func TestCommitBatchAtomicity(t *testing.T) {
	ctx := context.Background()
	for backend, s := range backends(t) {
		t.Run(backend, func(t *testing.T) {
			// The second edge references a node nowhere in the batch or the
			// store, so the whole batch must roll back.
			batch := &store.Batch{
				EpisodeID:   "ep1",
				UpsertNodes: []*types.Node{testNode("n1", "Alice")},
				AddEdges: []*types.Edge{
					testEdge("e1", "n1", "n1", "KNOWS", time.Now().UTC()),
					testEdge("e2", "n1", "ghost", "WORKS_ON", time.Now().UTC()),
				},
			}
			err := s.CommitBatch(ctx, batch)
			require.ErrorIs(t, err, types.ErrStoreWrite)

			_, err = s.GetNode(ctx, "n1")
			assert.ErrorIs(t, err, types.ErrNotFound, "failed batch leaves no partial state")
			_, err = s.GetEdge(ctx, "e1")
			assert.ErrorIs(t, err, types.ErrNotFound)

			stats, err := s.Stats(ctx)
			require.NoError(t, err)
			assert.Zero(t, stats.NodeCount)
			assert.Zero(t, stats.EdgeCount)
		})
	}
}

func TestCommitBatchUpsertMerges(t *testing.T) {
	ctx := context.Background()
	for backend, s := range backends(t) {
		t.Run(backend, func(t *testing.T) {
			require.NoError(t, s.AddNode(ctx, testNode("n1", "Alice")))

			merged := testNode("n1", "Alice")
			merged.Aliases = []string{"Alice Smith"}
			merged.Summary = "software engineer"
			require.NoError(t, s.CommitBatch(ctx, &store.Batch{
				EpisodeID:   "ep1",
				UpsertNodes: []*types.Node{merged},
			}))

			got, err := s.GetNode(ctx, "n1")
			require.NoError(t, err)
			assert.Equal(t, []string{"Alice Smith"}, got.Aliases)
			assert.Equal(t, "software engineer", got.Summary)
		})
	}
}

func TestEpisodeLifecycle(t *testing.T) {
	ctx := context.Background()
	for backend, s := range backends(t) {
		t.Run(backend, func(t *testing.T) {
			episode := &types.Episode{
				ID:        "ep1",
				Content:   "Alice joined Project X",
				Source:    "crm",
				Type:      types.MessageEpisode,
				Reference: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
				Status:    types.EpisodeReceived,
			}
			require.NoError(t, s.AddEpisode(ctx, episode))

			err := s.AddEpisode(ctx, episode)
			assert.ErrorIs(t, err, types.ErrStoreWrite, "episodes are immutable once stored")

			require.NoError(t, s.SetEpisodeStatus(ctx, "ep1", types.EpisodeFailed, "extraction failed: boom"))

			got, err := s.GetEpisode(ctx, "ep1")
			require.NoError(t, err)
			assert.Equal(t, types.EpisodeFailed, got.Status)
			assert.Equal(t, "extraction failed: boom", got.StatusReason)

			_, err = s.GetEpisode(ctx, "missing")
			assert.ErrorIs(t, err, types.ErrNotFound)
			err = s.SetEpisodeStatus(ctx, "missing", types.EpisodeMerged, "")
			assert.ErrorIs(t, err, types.ErrNotFound)
		})
	}
}

func TestEdgeQueries(t *testing.T) {
	ctx := context.Background()
	for backend, s := range backends(t) {
		t.Run(backend, func(t *testing.T) {
			require.NoError(t, s.AddNode(ctx, testNode("a", "Alice")))
			require.NoError(t, s.AddNode(ctx, testNode("b", "Bob")))
			require.NoError(t, s.AddNode(ctx, testNode("c", "Carol")))

			now := time.Now().UTC()
			require.NoError(t, s.AddEdge(ctx, testEdge("e1", "a", "b", "KNOWS", now.Add(-time.Hour))))
			require.NoError(t, s.AddEdge(ctx, testEdge("e2", "b", "c", "KNOWS", now.Add(-time.Hour))))

			edges, err := s.EdgesFrom(ctx, "b", now)
			require.NoError(t, err)
			require.Len(t, edges, 2)

			between, err := s.GetEdgesBetween(ctx, "a", "b", now)
			require.NoError(t, err)
			require.Len(t, between, 1)
			assert.Equal(t, "e1", between[0].ID)

			// As-of before the edges' world time sees nothing.
			between, err = s.GetEdgesBetween(ctx, "a", "b", now.Add(-2*time.Hour))
			require.NoError(t, err)
			assert.Empty(t, between)
		})
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	for backend, s := range backends(t) {
		t.Run(backend, func(t *testing.T) {
			require.NoError(t, s.AddNode(ctx, testNode("a", "Alice")))
			require.NoError(t, s.AddNode(ctx, &types.Node{ID: "p", Name: "Project X", Type: "Project"}))
			require.NoError(t, s.AddEdge(ctx, testEdge("e1", "a", "p", "WORKS_ON", time.Now().UTC())))
			require.NoError(t, s.AddEpisode(ctx, &types.Episode{
				ID: "ep1", Content: "x", Reference: time.Now().UTC(), Status: types.EpisodeReceived,
			}))

			stats, err := s.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, stats.NodeCount)
			assert.Equal(t, 1, stats.EdgeCount)
			assert.Equal(t, 1, stats.EpisodeCount)
			assert.Equal(t, []string{"Person", "Project"}, stats.EntityTypes)
			assert.Equal(t, []string{"WORKS_ON"}, stats.RelationLabels)
		})
	}
}

func TestBadgerPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := store.NewBadgerStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.AddNode(ctx, testNode("n1", "Alice")))
	require.NoError(t, s.AddNode(ctx, testNode("n2", "Project X")))
	edge := testEdge("e1", "n1", "n2", "WORKS_ON", time.Now().UTC())
	require.NoError(t, s.AddEdge(ctx, edge))
	require.NoError(t, s.Close())

	reopened, err := store.NewBadgerStore(dir, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetNode(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)

	// The RecordedAt high-water mark survives restart: a pre-dated edge is
	// still clamped forward.
	stale := testEdge("e2", "n1", "n2", "LEADS", time.Now().UTC())
	stale.RecordedAt = edge.RecordedAt.Add(-time.Hour)
	require.NoError(t, reopened.AddEdge(ctx, stale))
	persisted, err := reopened.GetEdge(ctx, "e2")
	require.NoError(t, err)
	assert.False(t, persisted.RecordedAt.Before(edge.RecordedAt))
}

func TestFactoryProviders(t *testing.T) {
	s, err := store.New(store.Options{Provider: store.ProviderMemory})
	require.NoError(t, err)
	assert.Equal(t, store.ProviderMemory, s.Provider())

	s, err = store.New(store.Options{Provider: store.ProviderBadger, Path: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, store.ProviderBadger, s.Provider())
	require.NoError(t, s.Close())

	_, err = store.New(store.Options{Provider: "cassandra"})
	assert.Error(t, err)
}
