package search

import (
	"context"
	"sort"
	"time"

	"github.com/tempograph/tempograph/pkg/store"
)

// Traverse expands breadth-first from the seed nodes over edges valid at
// asOf and returns each reached node's minimum hop distance. Seeds sit at
// hop 0. Every node is visited at most once, so cyclic graphs terminate, and
// expansion stops once the frontier is empty or maxHops is exhausted.
func Traverse(ctx context.Context, edges store.EdgeStore, seedNodeIDs []string, maxHops int, asOf time.Time) (map[string]int, error) {
	distances := make(map[string]int, len(seedNodeIDs))
	frontier := make([]string, 0, len(seedNodeIDs))
	for _, id := range seedNodeIDs {
		if _, seen := distances[id]; seen {
			continue
		}
		distances[id] = 0
		frontier = append(frontier, id)
	}

	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, nodeID := range frontier {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			incident, err := edges.EdgesFrom(ctx, nodeID, asOf)
			if err != nil {
				return nil, err
			}
			for _, edge := range incident {
				neighbor := edge.TargetID
				if neighbor == nodeID {
					neighbor = edge.SourceID
				}
				if _, seen := distances[neighbor]; seen {
					continue
				}
				distances[neighbor] = hop
				next = append(next, neighbor)
			}
		}
		frontier = next
	}

	return distances, nil
}

// RankByDistance orders the traversal result as a ranked list: closer hops
// first, ties broken by id for determinism.
func RankByDistance(distances map[string]int) []string {
	ids := make([]string, 0, len(distances))
	for id := range distances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if distances[ids[i]] != distances[ids[j]] {
			return distances[ids[i]] < distances[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}
