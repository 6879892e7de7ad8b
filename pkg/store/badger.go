package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/tempograph/tempograph/pkg/types"
)

// Key layout. Primary records are JSON; index entries are empty values whose
// keys carry the association.
//
//	n:<nodeID>                  node record
//	e:<edgeID>                  edge record
//	p:<episodeID>               episode record
//	adj:<nodeID>:<edgeID>       adjacency index
//	key:<src>|<tgt>|<label>:<edgeID>  temporal-key index
const (
	nodePrefix    = "n:"
	edgePrefix    = "e:"
	episodePrefix = "p:"
	adjPrefix     = "adj:"
	keyPrefix     = "key:"
)

// BadgerStore is a durable GraphStore backed by an embedded badger database.
// Every mutating operation runs in one badger transaction, so a per-episode
// batch commits or aborts as a unit.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger

	// recordedMu serializes RecordedAt clamping across transactions.
	recordedMu   sync.Mutex
	lastRecorded time.Time
}

// NewBadgerStore opens (or creates) a badger database at path.
func NewBadgerStore(path string, logger *slog.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	s := &BadgerStore{db: db, logger: logger}
	if err := s.recoverLastRecorded(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// recoverLastRecorded rebuilds the RecordedAt high-water mark after restart.
func (s *BadgerStore) recoverLastRecorded() error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(edgePrefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var edge types.Edge
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &edge)
			}); err != nil {
				return fmt.Errorf("corrupt edge record: %w", err)
			}
			if edge.RecordedAt.After(s.lastRecorded) {
				s.lastRecorded = edge.RecordedAt
			}
		}
		return nil
	})
}

func (s *BadgerStore) clampRecordedAt(t time.Time) time.Time {
	s.recordedMu.Lock()
	defer s.recordedMu.Unlock()
	if t.Before(s.lastRecorded) {
		t = s.lastRecorded
	}
	s.lastRecorded = t
	return t
}

func nodeKey(id string) []byte    { return []byte(nodePrefix + id) }
func edgeKey(id string) []byte    { return []byte(edgePrefix + id) }
func episodeKey(id string) []byte { return []byte(episodePrefix + id) }

func adjKey(nodeID, edgeID string) []byte {
	return []byte(adjPrefix + nodeID + ":" + edgeID)
}

func temporalKeyPrefix(key types.TemporalKey) string {
	return keyPrefix + key.SourceID + "|" + key.TargetID + "|" + key.Label + ":"
}

func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", types.ErrStoreWrite, err)
	}
	if err := txn.Set(key, data); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreWrite, err)
	}
	return nil
}

func getJSON(txn *badger.Txn, key []byte, v interface{}) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func (s *BadgerStore) getNodeTxn(txn *badger.Txn, id string) (*types.Node, error) {
	var node types.Node
	if err := getJSON(txn, nodeKey(id), &node); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w %s", types.ErrNodeNotFound, id)
		}
		return nil, err
	}
	return &node, nil
}

func (s *BadgerStore) getEdgeTxn(txn *badger.Txn, id string) (*types.Edge, error) {
	var edge types.Edge
	if err := getJSON(txn, edgeKey(id), &edge); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w %s", types.ErrEdgeNotFound, id)
		}
		return nil, err
	}
	return &edge, nil
}

func exists(txn *badger.Txn, key []byte) bool {
	_, err := txn.Get(key)
	return err == nil
}

// edgeIDsForIndexPrefix collects edge ids referenced by index entries.
func edgeIDsForIndexPrefix(txn *badger.Txn, prefix string) []string {
	var ids []string
	it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefix)})
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		k := string(it.Item().Key())
		ids = append(ids, k[strings.LastIndex(k, ":")+1:])
	}
	return ids
}

// AddNode persists a new node.
func (s *BadgerStore) AddNode(ctx context.Context, node *types.Node) error {
	if err := node.ValidateForCreate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if node.CreatedAt.IsZero() {
		node.CreatedAt = now
	}
	if node.UpdatedAt.IsZero() {
		node.UpdatedAt = node.CreatedAt
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if exists(txn, nodeKey(node.ID)) {
			return fmt.Errorf("%w: node %s already exists", types.ErrStoreWrite, node.ID)
		}
		return setJSON(txn, nodeKey(node.ID), node)
	})
}

// GetNode retrieves a node by id.
func (s *BadgerStore) GetNode(ctx context.Context, id string) (*types.Node, error) {
	var node *types.Node
	err := s.db.View(func(txn *badger.Txn) error {
		n, err := s.getNodeTxn(txn, id)
		node = n
		return err
	})
	return node, err
}

// UpdateNode applies a patch to an existing node.
func (s *BadgerStore) UpdateNode(ctx context.Context, id string, patch NodePatch) (*types.Node, error) {
	var updated *types.Node
	err := s.db.Update(func(txn *badger.Txn) error {
		node, err := s.getNodeTxn(txn, id)
		if err != nil {
			return err
		}
		applyPatch(node, patch)
		node.UpdatedAt = time.Now().UTC()
		updated = node
		return setJSON(txn, nodeKey(id), node)
	})
	return updated, err
}

// SoftDeleteNode closes the node's validity and its current incident edges.
func (s *BadgerStore) SoftDeleteNode(ctx context.Context, id string, at time.Time) error {
	at = at.UTC()
	return s.db.Update(func(txn *badger.Txn) error {
		node, err := s.getNodeTxn(txn, id)
		if err != nil {
			return err
		}
		node.ValidUntil = &at
		node.UpdatedAt = time.Now().UTC()
		if err := setJSON(txn, nodeKey(id), node); err != nil {
			return err
		}
		for _, edgeID := range edgeIDsForIndexPrefix(txn, adjPrefix+id+":") {
			edge, err := s.getEdgeTxn(txn, edgeID)
			if err != nil {
				continue
			}
			if edge.Current(at) {
				until := at
				edge.ValidUntil = &until
				if err := setJSON(txn, edgeKey(edgeID), edge); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// DeleteNode physically removes the node and its incident edges.
func (s *BadgerStore) DeleteNode(ctx context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if !exists(txn, nodeKey(id)) {
			return fmt.Errorf("%w %s", types.ErrNodeNotFound, id)
		}
		for _, edgeID := range edgeIDsForIndexPrefix(txn, adjPrefix+id+":") {
			edge, err := s.getEdgeTxn(txn, edgeID)
			if err != nil {
				continue
			}
			if err := deleteEdgeTxn(txn, edge); err != nil {
				return err
			}
		}
		return txn.Delete(nodeKey(id))
	})
}

func deleteEdgeTxn(txn *badger.Txn, edge *types.Edge) error {
	if err := txn.Delete(edgeKey(edge.ID)); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreWrite, err)
	}
	if err := txn.Delete(adjKey(edge.SourceID, edge.ID)); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreWrite, err)
	}
	if err := txn.Delete(adjKey(edge.TargetID, edge.ID)); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreWrite, err)
	}
	if err := txn.Delete([]byte(temporalKeyPrefix(edge.Key()) + edge.ID)); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreWrite, err)
	}
	return nil
}

// ListNodes returns all nodes valid at asOf.
func (s *BadgerStore) ListNodes(ctx context.Context, asOf time.Time) ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(nodePrefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var node types.Node
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &node)
			}); err != nil {
				return err
			}
			if node.Current(asOf) {
				n := node
				nodes = append(nodes, &n)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

func (s *BadgerStore) addEdgeTxn(txn *badger.Txn, edge *types.Edge, pendingNodes map[string]bool, pendingInvalid map[string]time.Time) error {
	if exists(txn, edgeKey(edge.ID)) {
		return fmt.Errorf("%w: edge %s already exists", types.ErrStoreWrite, edge.ID)
	}
	if !pendingNodes[edge.SourceID] && !exists(txn, nodeKey(edge.SourceID)) {
		return fmt.Errorf("%w: edge %s references missing source %s", types.ErrStoreWrite, edge.ID, edge.SourceID)
	}
	if !pendingNodes[edge.TargetID] && !exists(txn, nodeKey(edge.TargetID)) {
		return fmt.Errorf("%w: edge %s references missing target %s", types.ErrStoreWrite, edge.ID, edge.TargetID)
	}
	for _, otherID := range edgeIDsForIndexPrefix(txn, temporalKeyPrefix(edge.Key())) {
		other, err := s.getEdgeTxn(txn, otherID)
		if err != nil {
			continue
		}
		if at, ok := pendingInvalid[otherID]; ok {
			other.ValidUntil = &at
		}
		if intervalsOverlap(edge, other) {
			return fmt.Errorf("%w: edge %s overlaps valid interval of %s", types.ErrStoreWrite, edge.ID, other.ID)
		}
	}

	edge.RecordedAt = s.clampRecordedAt(edge.RecordedAt.UTC())
	if err := setJSON(txn, edgeKey(edge.ID), edge); err != nil {
		return err
	}
	for _, k := range [][]byte{
		adjKey(edge.SourceID, edge.ID),
		adjKey(edge.TargetID, edge.ID),
		[]byte(temporalKeyPrefix(edge.Key()) + edge.ID),
	} {
		if err := txn.Set(k, nil); err != nil {
			return fmt.Errorf("%w: %v", types.ErrStoreWrite, err)
		}
	}
	return nil
}

// AddEdge persists a new edge after verifying both endpoints exist.
func (s *BadgerStore) AddEdge(ctx context.Context, edge *types.Edge) error {
	if edge.ID == "" {
		return types.ErrEmptyID
	}
	if err := edge.Validate(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return s.addEdgeTxn(txn, edge, nil, nil)
	})
}

// GetEdge retrieves an edge by id.
func (s *BadgerStore) GetEdge(ctx context.Context, id string) (*types.Edge, error) {
	var edge *types.Edge
	err := s.db.View(func(txn *badger.Txn) error {
		e, err := s.getEdgeTxn(txn, id)
		edge = e
		return err
	})
	return edge, err
}

// GetEdgesBetween returns edges between two nodes valid at asOf.
func (s *BadgerStore) GetEdgesBetween(ctx context.Context, nodeA, nodeB string, asOf time.Time) ([]*types.Edge, error) {
	var edges []*types.Edge
	err := s.db.View(func(txn *badger.Txn) error {
		for _, edgeID := range edgeIDsForIndexPrefix(txn, adjPrefix+nodeA+":") {
			edge, err := s.getEdgeTxn(txn, edgeID)
			if err != nil || !edge.Current(asOf) {
				continue
			}
			if (edge.SourceID == nodeA && edge.TargetID == nodeB) ||
				(edge.SourceID == nodeB && edge.TargetID == nodeA) {
				edges = append(edges, edge)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortEdgesByRecordedAt(edges)
	return edges, nil
}

// CurrentEdgeForKey returns the edge valid for the key at asOf.
func (s *BadgerStore) CurrentEdgeForKey(ctx context.Context, key types.TemporalKey, asOf time.Time) (*types.Edge, error) {
	var found *types.Edge
	err := s.db.View(func(txn *badger.Txn) error {
		for _, edgeID := range edgeIDsForIndexPrefix(txn, temporalKeyPrefix(key)) {
			edge, err := s.getEdgeTxn(txn, edgeID)
			if err == nil && edge.Current(asOf) {
				found = edge
				return nil
			}
		}
		return fmt.Errorf("%w for key %v", types.ErrEdgeNotFound, key)
	})
	return found, err
}

// EdgeHistory returns every edge recorded for the key ordered by RecordedAt.
func (s *BadgerStore) EdgeHistory(ctx context.Context, key types.TemporalKey) ([]*types.Edge, error) {
	var edges []*types.Edge
	err := s.db.View(func(txn *badger.Txn) error {
		for _, edgeID := range edgeIDsForIndexPrefix(txn, temporalKeyPrefix(key)) {
			if edge, err := s.getEdgeTxn(txn, edgeID); err == nil {
				edges = append(edges, edge)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortEdgesByRecordedAt(edges)
	return edges, nil
}

// InvalidateEdge closes the edge's validity at the given instant.
func (s *BadgerStore) InvalidateEdge(ctx context.Context, id string, at time.Time) error {
	at = at.UTC()
	return s.db.Update(func(txn *badger.Txn) error {
		edge, err := s.getEdgeTxn(txn, id)
		if err != nil {
			return err
		}
		if at.Before(edge.ValidFrom) {
			return types.ErrInvalidInterval
		}
		edge.ValidUntil = &at
		return setJSON(txn, edgeKey(id), edge)
	})
}

// EdgesFrom returns edges incident to the node valid at asOf.
func (s *BadgerStore) EdgesFrom(ctx context.Context, nodeID string, asOf time.Time) ([]*types.Edge, error) {
	var edges []*types.Edge
	err := s.db.View(func(txn *badger.Txn) error {
		for _, edgeID := range edgeIDsForIndexPrefix(txn, adjPrefix+nodeID+":") {
			if edge, err := s.getEdgeTxn(txn, edgeID); err == nil && edge.Current(asOf) {
				edges = append(edges, edge)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortEdgesByRecordedAt(edges)
	return edges, nil
}

// AddEpisode persists a new episode record.
func (s *BadgerStore) AddEpisode(ctx context.Context, episode *types.Episode) error {
	if err := episode.ValidateForCreate(); err != nil {
		return err
	}
	if episode.CreatedAt.IsZero() {
		episode.CreatedAt = time.Now().UTC()
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if exists(txn, episodeKey(episode.ID)) {
			return fmt.Errorf("%w: episode %s already exists", types.ErrStoreWrite, episode.ID)
		}
		return setJSON(txn, episodeKey(episode.ID), episode)
	})
}

// GetEpisode retrieves an episode by id.
func (s *BadgerStore) GetEpisode(ctx context.Context, id string) (*types.Episode, error) {
	var episode types.Episode
	err := s.db.View(func(txn *badger.Txn) error {
		if err := getJSON(txn, episodeKey(id), &episode); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w %s", types.ErrEpisodeNotFound, id)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &episode, nil
}

// SetEpisodeStatus advances the episode's pipeline status.
func (s *BadgerStore) SetEpisodeStatus(ctx context.Context, id string, status types.EpisodeStatus, reason string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var episode types.Episode
		if err := getJSON(txn, episodeKey(id), &episode); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w %s", types.ErrEpisodeNotFound, id)
			}
			return err
		}
		episode.Status = status
		episode.StatusReason = reason
		return setJSON(txn, episodeKey(id), &episode)
	})
}

// CommitBatch applies the batch inside a single badger transaction. An error
// anywhere aborts the transaction, leaving the store untouched.
func (s *BadgerStore) CommitBatch(ctx context.Context, batch *Batch) error {
	if batch == nil || batch.Empty() {
		return nil
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		pendingNodes := make(map[string]bool, len(batch.UpsertNodes))
		for _, node := range batch.UpsertNodes {
			if err := node.ValidateForCreate(); err != nil {
				return err
			}
			pendingNodes[node.ID] = true
		}
		pendingInvalid := make(map[string]time.Time, len(batch.InvalidateEdges))
		for _, inv := range batch.InvalidateEdges {
			edge, err := s.getEdgeTxn(txn, inv.EdgeID)
			if err != nil {
				return err
			}
			at := inv.At.UTC()
			if at.Before(edge.ValidFrom) {
				return types.ErrInvalidInterval
			}
			edge.ValidUntil = &at
			pendingInvalid[inv.EdgeID] = at
			if err := setJSON(txn, edgeKey(inv.EdgeID), edge); err != nil {
				return err
			}
		}
		now := time.Now().UTC()
		for _, node := range batch.UpsertNodes {
			if node.CreatedAt.IsZero() {
				node.CreatedAt = now
			}
			node.UpdatedAt = now
			if err := setJSON(txn, nodeKey(node.ID), node); err != nil {
				return err
			}
		}
		for _, edge := range batch.AddEdges {
			if edge.ID == "" {
				return types.ErrEmptyID
			}
			if err := edge.Validate(); err != nil {
				return err
			}
			if err := s.addEdgeTxn(txn, edge, pendingNodes, pendingInvalid); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("committed episode batch",
		"episode_id", batch.EpisodeID,
		"nodes", len(batch.UpsertNodes),
		"edges", len(batch.AddEdges),
		"invalidated", len(batch.InvalidateEdges))
	return nil
}

// Stats summarizes the stored graph.
func (s *BadgerStore) Stats(ctx context.Context) (*types.GraphStats, error) {
	stats := &types.GraphStats{}
	entityTypes := make(map[string]bool)
	labels := make(map[string]bool)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(nodePrefix)})
		for it.Rewind(); it.Valid(); it.Next() {
			stats.NodeCount++
			var node types.Node
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &node) }); err == nil && node.Type != "" {
				entityTypes[node.Type] = true
			}
			if node.UpdatedAt.After(stats.LastUpdated) {
				stats.LastUpdated = node.UpdatedAt
			}
		}
		it.Close()

		it = txn.NewIterator(badger.IteratorOptions{Prefix: []byte(edgePrefix)})
		for it.Rewind(); it.Valid(); it.Next() {
			stats.EdgeCount++
			var edge types.Edge
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &edge) }); err == nil {
				labels[edge.Label] = true
				if edge.RecordedAt.After(stats.LastUpdated) {
					stats.LastUpdated = edge.RecordedAt
				}
			}
		}
		it.Close()

		it = txn.NewIterator(badger.IteratorOptions{Prefix: []byte(episodePrefix)})
		for it.Rewind(); it.Valid(); it.Next() {
			stats.EpisodeCount++
		}
		it.Close()
		return nil
	})
	if err != nil {
		return nil, err
	}
	stats.EntityTypes = sortedKeys(entityTypes)
	stats.RelationLabels = sortedKeys(labels)
	return stats, nil
}

// Ping verifies the database is open.
func (s *BadgerStore) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return fmt.Errorf("%w: badger database is closed", types.ErrStoreWrite)
	}
	return nil
}

// Provider returns the backend identifier.
func (s *BadgerStore) Provider() Provider { return ProviderBadger }

// Close closes the underlying database.
func (s *BadgerStore) Close() error { return s.db.Close() }

var _ GraphStore = (*BadgerStore)(nil)
