package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/tempograph/tempograph/pkg/types"
)

// Neo4jStore is a GraphStore backed by a Neo4j (or Bolt-compatible) server.
// Nodes carry the Entity label, episodes the Episode label, and relationships
// use RELATES_TO with the semantic label stored as a property so that one
// relationship type covers arbitrary relation labels.
type Neo4jStore struct {
	client   neo4j.DriverWithContext
	database string
	logger   *slog.Logger

	// lastRecorded enforces that RecordedAt is non-decreasing with insertion
	// order, recovered from the server on the first write.
	mu           sync.Mutex
	lastRecorded time.Time
	recovered    bool
}

// NewNeo4jStore connects to a Neo4j server.
func NewNeo4jStore(uri, username, password, database string, logger *slog.Logger) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if database == "" {
		database = "neo4j"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Neo4jStore{client: driver, database: database, logger: logger}, nil
}

func (s *Neo4jStore) session(ctx context.Context) neo4j.SessionWithContext {
	return s.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
}

func nodeProperties(node *types.Node) map[string]any {
	props := map[string]any{
		"id":         node.ID,
		"name":       node.Name,
		"type":       node.Type,
		"aliases":    node.Aliases,
		"summary":    node.Summary,
		"embedding":  node.Embedding,
		"created_at": node.CreatedAt.UTC(),
		"updated_at": node.UpdatedAt.UTC(),
	}
	if node.Attributes != nil {
		data, _ := json.Marshal(node.Attributes)
		props["attributes"] = string(data)
	}
	if node.ValidUntil != nil {
		props["valid_until"] = node.ValidUntil.UTC()
	}
	return props
}

func edgeProperties(edge *types.Edge) map[string]any {
	props := map[string]any{
		"id":          edge.ID,
		"label":       edge.Label,
		"fact":        edge.Fact,
		"confidence":  edge.Confidence,
		"embedding":   edge.Embedding,
		"valid_from":  edge.ValidFrom.UTC(),
		"recorded_at": edge.RecordedAt.UTC(),
		"episode_id":  edge.EpisodeID,
	}
	if edge.ValidUntil != nil {
		props["valid_until"] = edge.ValidUntil.UTC()
	}
	return props
}

func nodeFromProps(props map[string]any) *types.Node {
	node := &types.Node{
		ID:      stringProp(props, "id"),
		Name:    stringProp(props, "name"),
		Type:    stringProp(props, "type"),
		Summary: stringProp(props, "summary"),
	}
	node.Aliases = stringSliceProp(props, "aliases")
	node.Embedding = float32SliceProp(props, "embedding")
	if attrs := stringProp(props, "attributes"); attrs != "" {
		json.Unmarshal([]byte(attrs), &node.Attributes)
	}
	node.CreatedAt = timeProp(props, "created_at")
	node.UpdatedAt = timeProp(props, "updated_at")
	if t := timeProp(props, "valid_until"); !t.IsZero() {
		node.ValidUntil = &t
	}
	return node
}

func edgeFromProps(props map[string]any, sourceID, targetID string) *types.Edge {
	edge := &types.Edge{
		ID:         stringProp(props, "id"),
		SourceID:   sourceID,
		TargetID:   targetID,
		Label:      stringProp(props, "label"),
		Fact:       stringProp(props, "fact"),
		Confidence: floatProp(props, "confidence"),
		EpisodeID:  stringProp(props, "episode_id"),
	}
	edge.Embedding = float32SliceProp(props, "embedding")
	edge.ValidFrom = timeProp(props, "valid_from")
	edge.RecordedAt = timeProp(props, "recorded_at")
	if t := timeProp(props, "valid_until"); !t.IsZero() {
		edge.ValidUntil = &t
	}
	return edge
}

func stringProp(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

func floatProp(props map[string]any, key string) float64 {
	if v, ok := props[key].(float64); ok {
		return v
	}
	return 0
}

func timeProp(props map[string]any, key string) time.Time {
	return timeValue(props[key])
}

func timeValue(value any) time.Time {
	switch v := value.(type) {
	case time.Time:
		return v.UTC()
	case dbtype.LocalDateTime:
		return v.Time().UTC()
	}
	return time.Time{}
}

func stringSliceProp(props map[string]any, key string) []string {
	list, ok := props[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func float32SliceProp(props map[string]any, key string) []float32 {
	list, ok := props[key].([]any)
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(list))
	for _, v := range list {
		if f, ok := v.(float64); ok {
			out = append(out, float32(f))
		}
	}
	return out
}

// AddNode persists a new node.
func (s *Neo4jStore) AddNode(ctx context.Context, node *types.Node) error {
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
	session := s.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MERGE (n:Entity {id: $id})
			ON CREATE SET n += $props, n._created = true
			WITH n, n._created AS created
			REMOVE n._created
			RETURN created
		`, map[string]any{"id": node.ID, "props": nodeProperties(node)})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		if created, _ := record.Get("created"); created != true {
			return nil, fmt.Errorf("%w: node %s already exists", types.ErrStoreWrite, node.ID)
		}
		return nil, nil
	})
	return err
}

// GetNode retrieves a node by id.
func (s *Neo4jStore) GetNode(ctx context.Context, id string) (*types.Node, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (n:Entity {id: $id}) RETURN n`, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, fmt.Errorf("%w %s", types.ErrNodeNotFound, id)
		}
		value, _ := records[0].Get("n")
		dbNode, ok := value.(dbtype.Node)
		if !ok {
			return nil, fmt.Errorf("unexpected type for node: %T", value)
		}
		return nodeFromProps(dbNode.Props), nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*types.Node), nil
}

// UpdateNode applies a patch to an existing node.
func (s *Neo4jStore) UpdateNode(ctx context.Context, id string, patch NodePatch) (*types.Node, error) {
	node, err := s.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	applyPatch(node, patch)
	node.UpdatedAt = time.Now().UTC()

	session := s.session(ctx)
	defer session.Close(ctx)
	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `
			MATCH (n:Entity {id: $id})
			SET n += $props
		`, map[string]any{"id": id, "props": nodeProperties(node)})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStoreWrite, err)
	}
	return node, nil
}

// SoftDeleteNode closes the node's validity and its current incident edges.
func (s *Neo4jStore) SoftDeleteNode(ctx context.Context, id string, at time.Time) error {
	if _, err := s.GetNode(ctx, id); err != nil {
		return err
	}
	at = at.UTC()
	session := s.session(ctx)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MATCH (n:Entity {id: $id})
			SET n.valid_until = $at, n.updated_at = $now
		`, map[string]any{"id": id, "at": at, "now": time.Now().UTC()}); err != nil {
			return nil, err
		}
		return tx.Run(ctx, `
			MATCH (n:Entity {id: $id})-[e:RELATES_TO]-()
			WHERE e.valid_from <= $at AND (e.valid_until IS NULL OR e.valid_until > $at)
			SET e.valid_until = $at
		`, map[string]any{"id": id, "at": at})
	})
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreWrite, err)
	}
	return nil
}

// DeleteNode physically removes the node and its incident edges.
func (s *Neo4jStore) DeleteNode(ctx context.Context, id string) error {
	if _, err := s.GetNode(ctx, id); err != nil {
		return err
	}
	session := s.session(ctx)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `MATCH (n:Entity {id: $id}) DETACH DELETE n`, map[string]any{"id": id})
	})
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreWrite, err)
	}
	return nil
}

// ListNodes returns all nodes valid at asOf.
func (s *Neo4jStore) ListNodes(ctx context.Context, asOf time.Time) ([]*types.Node, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (n:Entity)
			WHERE n.created_at <= $as_of AND (n.valid_until IS NULL OR n.valid_until > $as_of)
			RETURN n
			ORDER BY n.id
		`, map[string]any{"as_of": asOf.UTC()})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		nodes := make([]*types.Node, 0, len(records))
		for _, record := range records {
			if value, ok := record.Get("n"); ok {
				if dbNode, ok := value.(dbtype.Node); ok {
					nodes = append(nodes, nodeFromProps(dbNode.Props))
				}
			}
		}
		return nodes, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]*types.Node), nil
}

// ratchetRecordedAt keeps RecordedAt monotonically non-decreasing. Callers
// must hold mu.
func (s *Neo4jStore) ratchetRecordedAt(t time.Time) time.Time {
	if t.Before(s.lastRecorded) {
		t = s.lastRecorded
	}
	s.lastRecorded = t
	return t
}

// clampRecordedAt recovers the high-water mark from the server once, then
// ratchets in process. Managed transactions may retry; re-clamping the same
// edge is stable because the ratchet never moves backwards past it.
func (s *Neo4jStore) clampRecordedAt(ctx context.Context, tx neo4j.ManagedTransaction, t time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.recovered {
		res, err := tx.Run(ctx, `MATCH ()-[e:RELATES_TO]->() RETURN max(e.recorded_at) AS last`, nil)
		if err != nil {
			return t, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return t, err
		}
		if v, _ := record.Get("last"); v != nil {
			s.lastRecorded = timeValue(v)
		}
		s.recovered = true
	}
	return s.ratchetRecordedAt(t), nil
}

func (s *Neo4jStore) runAddEdge(ctx context.Context, tx neo4j.ManagedTransaction, edge *types.Edge) error {
	// Endpoint existence and interval overlap are checked inside the same
	// transaction that creates the relationship.
	res, err := tx.Run(ctx, `
		MATCH (src:Entity {id: $source_id}), (tgt:Entity {id: $target_id})
		RETURN count(*) AS found
	`, map[string]any{"source_id": edge.SourceID, "target_id": edge.TargetID})
	if err != nil {
		return err
	}
	record, err := res.Single(ctx)
	if err != nil {
		return err
	}
	if found, _ := record.Get("found"); found == int64(0) {
		return fmt.Errorf("%w: edge %s references missing endpoint", types.ErrStoreWrite, edge.ID)
	}

	// Two currently valid edges for one key would hold overlapping open
	// intervals. Superseded edges are history and do not constrain the new
	// fact, so only open edges are checked.
	if edge.ValidUntil == nil {
		res, err = tx.Run(ctx, `
			MATCH (:Entity {id: $source_id})-[e:RELATES_TO {label: $label}]->(:Entity {id: $target_id})
			WHERE e.valid_until IS NULL
			RETURN count(e) AS overlapping
		`, map[string]any{
			"source_id": edge.SourceID,
			"target_id": edge.TargetID,
			"label":     edge.Label,
		})
		if err != nil {
			return err
		}
		record, err = res.Single(ctx)
		if err != nil {
			return err
		}
		if overlapping, _ := record.Get("overlapping"); overlapping != int64(0) {
			return fmt.Errorf("%w: edge %s conflicts with a currently valid edge for its key", types.ErrStoreWrite, edge.ID)
		}
	}

	recorded, err := s.clampRecordedAt(ctx, tx, edge.RecordedAt.UTC())
	if err != nil {
		return err
	}
	edge.RecordedAt = recorded

	_, err = tx.Run(ctx, `
		MATCH (src:Entity {id: $source_id}), (tgt:Entity {id: $target_id})
		CREATE (src)-[e:RELATES_TO]->(tgt)
		SET e += $props
	`, map[string]any{
		"source_id": edge.SourceID,
		"target_id": edge.TargetID,
		"props":     edgeProperties(edge),
	})
	return err
}

// AddEdge persists a new edge.
func (s *Neo4jStore) AddEdge(ctx context.Context, edge *types.Edge) error {
	if edge.ID == "" {
		return types.ErrEmptyID
	}
	if err := edge.Validate(); err != nil {
		return err
	}
	session := s.session(ctx)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, s.runAddEdge(ctx, tx, edge)
	})
	return err
}

func collectEdges(ctx context.Context, res neo4j.ResultWithContext) ([]*types.Edge, error) {
	records, err := res.Collect(ctx)
	if err != nil {
		return nil, err
	}
	edges := make([]*types.Edge, 0, len(records))
	for _, record := range records {
		value, ok := record.Get("e")
		if !ok {
			continue
		}
		rel, ok := value.(dbtype.Relationship)
		if !ok {
			continue
		}
		src, _ := record.Get("source_id")
		tgt, _ := record.Get("target_id")
		srcID, _ := src.(string)
		tgtID, _ := tgt.(string)
		edges = append(edges, edgeFromProps(rel.Props, srcID, tgtID))
	}
	return edges, nil
}

const edgeReturnClause = `
	RETURN e, startNode(e).id AS source_id, endNode(e).id AS target_id
	ORDER BY e.recorded_at
`

// GetEdge retrieves an edge by id.
func (s *Neo4jStore) GetEdge(ctx context.Context, id string) (*types.Edge, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH ()-[e:RELATES_TO {id: $id}]->()`+edgeReturnClause, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		edges, err := collectEdges(ctx, res)
		if err != nil {
			return nil, err
		}
		if len(edges) == 0 {
			return nil, fmt.Errorf("%w %s", types.ErrEdgeNotFound, id)
		}
		return edges[0], nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*types.Edge), nil
}

func (s *Neo4jStore) queryEdges(ctx context.Context, query string, params map[string]any) ([]*types.Edge, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return collectEdges(ctx, res)
	})
	if err != nil {
		return nil, err
	}
	return result.([]*types.Edge), nil
}

// GetEdgesBetween returns edges between two nodes valid at asOf.
func (s *Neo4jStore) GetEdgesBetween(ctx context.Context, nodeA, nodeB string, asOf time.Time) ([]*types.Edge, error) {
	return s.queryEdges(ctx, `
		MATCH (a:Entity {id: $a})-[e:RELATES_TO]-(b:Entity {id: $b})
		WHERE e.valid_from <= $as_of AND (e.valid_until IS NULL OR e.valid_until > $as_of)
	`+edgeReturnClause, map[string]any{"a": nodeA, "b": nodeB, "as_of": asOf.UTC()})
}

// CurrentEdgeForKey returns the edge valid for the key at asOf.
func (s *Neo4jStore) CurrentEdgeForKey(ctx context.Context, key types.TemporalKey, asOf time.Time) (*types.Edge, error) {
	edges, err := s.queryEdges(ctx, `
		MATCH (:Entity {id: $source_id})-[e:RELATES_TO {label: $label}]->(:Entity {id: $target_id})
		WHERE e.valid_from <= $as_of AND (e.valid_until IS NULL OR e.valid_until > $as_of)
	`+edgeReturnClause, map[string]any{
		"source_id": key.SourceID, "target_id": key.TargetID, "label": key.Label, "as_of": asOf.UTC(),
	})
	if err != nil {
		return nil, err
	}
	if len(edges) == 0 {
		return nil, fmt.Errorf("%w for key %v", types.ErrEdgeNotFound, key)
	}
	return edges[0], nil
}

// EdgeHistory returns every edge recorded for the key ordered by RecordedAt.
func (s *Neo4jStore) EdgeHistory(ctx context.Context, key types.TemporalKey) ([]*types.Edge, error) {
	return s.queryEdges(ctx, `
		MATCH (:Entity {id: $source_id})-[e:RELATES_TO {label: $label}]->(:Entity {id: $target_id})
	`+edgeReturnClause, map[string]any{
		"source_id": key.SourceID, "target_id": key.TargetID, "label": key.Label,
	})
}

// InvalidateEdge closes the edge's validity at the given instant.
func (s *Neo4jStore) InvalidateEdge(ctx context.Context, id string, at time.Time) error {
	edge, err := s.GetEdge(ctx, id)
	if err != nil {
		return err
	}
	at = at.UTC()
	if at.Before(edge.ValidFrom) {
		return types.ErrInvalidInterval
	}
	session := s.session(ctx)
	defer session.Close(ctx)
	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `
			MATCH ()-[e:RELATES_TO {id: $id}]->()
			SET e.valid_until = $at
		`, map[string]any{"id": id, "at": at})
	})
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreWrite, err)
	}
	return nil
}

// EdgesFrom returns edges incident to the node valid at asOf.
func (s *Neo4jStore) EdgesFrom(ctx context.Context, nodeID string, asOf time.Time) ([]*types.Edge, error) {
	return s.queryEdges(ctx, `
		MATCH (n:Entity {id: $id})-[e:RELATES_TO]-()
		WHERE e.valid_from <= $as_of AND (e.valid_until IS NULL OR e.valid_until > $as_of)
	`+edgeReturnClause, map[string]any{"id": nodeID, "as_of": asOf.UTC()})
}

// AddEpisode persists a new episode record.
func (s *Neo4jStore) AddEpisode(ctx context.Context, episode *types.Episode) error {
	if err := episode.ValidateForCreate(); err != nil {
		return err
	}
	if episode.CreatedAt.IsZero() {
		episode.CreatedAt = time.Now().UTC()
	}
	metadata := ""
	if episode.Metadata != nil {
		data, _ := json.Marshal(episode.Metadata)
		metadata = string(data)
	}
	session := s.session(ctx)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `
			CREATE (p:Episode {
				id: $id, name: $name, content: $content, source: $source,
				type: $type, reference: $reference, created_at: $created_at,
				metadata: $metadata, status: $status, status_reason: ''
			})
		`, map[string]any{
			"id":         episode.ID,
			"name":       episode.Name,
			"content":    episode.Content,
			"source":     episode.Source,
			"type":       string(episode.Type),
			"reference":  episode.Reference.UTC(),
			"created_at": episode.CreatedAt.UTC(),
			"metadata":   metadata,
			"status":     string(episode.Status),
		})
	})
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreWrite, err)
	}
	return nil
}

// GetEpisode retrieves an episode by id.
func (s *Neo4jStore) GetEpisode(ctx context.Context, id string) (*types.Episode, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (p:Episode {id: $id}) RETURN p`, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, fmt.Errorf("%w %s", types.ErrEpisodeNotFound, id)
		}
		value, _ := records[0].Get("p")
		dbNode, ok := value.(dbtype.Node)
		if !ok {
			return nil, fmt.Errorf("unexpected type for episode: %T", value)
		}
		props := dbNode.Props
		episode := &types.Episode{
			ID:           stringProp(props, "id"),
			Name:         stringProp(props, "name"),
			Content:      stringProp(props, "content"),
			Source:       stringProp(props, "source"),
			Type:         types.EpisodeType(stringProp(props, "type")),
			Reference:    timeProp(props, "reference"),
			CreatedAt:    timeProp(props, "created_at"),
			Status:       types.EpisodeStatus(stringProp(props, "status")),
			StatusReason: stringProp(props, "status_reason"),
		}
		if metadata := stringProp(props, "metadata"); metadata != "" {
			json.Unmarshal([]byte(metadata), &episode.Metadata)
		}
		return episode, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*types.Episode), nil
}

// SetEpisodeStatus advances the episode's pipeline status.
func (s *Neo4jStore) SetEpisodeStatus(ctx context.Context, id string, status types.EpisodeStatus, reason string) error {
	if _, err := s.GetEpisode(ctx, id); err != nil {
		return err
	}
	session := s.session(ctx)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `
			MATCH (p:Episode {id: $id})
			SET p.status = $status, p.status_reason = $reason
		`, map[string]any{"id": id, "status": string(status), "reason": reason})
	})
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreWrite, err)
	}
	return nil
}

// CommitBatch applies the batch in one managed write transaction, which the
// server rolls back on any error.
func (s *Neo4jStore) CommitBatch(ctx context.Context, batch *Batch) error {
	if batch == nil || batch.Empty() {
		return nil
	}
	session := s.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		now := time.Now().UTC()
		for _, node := range batch.UpsertNodes {
			if err := node.ValidateForCreate(); err != nil {
				return nil, err
			}
			if node.CreatedAt.IsZero() {
				node.CreatedAt = now
			}
			node.UpdatedAt = now
			if _, err := tx.Run(ctx, `
				MERGE (n:Entity {id: $id})
				SET n += $props
			`, map[string]any{"id": node.ID, "props": nodeProperties(node)}); err != nil {
				return nil, err
			}
		}
		for _, inv := range batch.InvalidateEdges {
			res, err := tx.Run(ctx, `
				MATCH ()-[e:RELATES_TO {id: $id}]->()
				SET e.valid_until = $at
				RETURN count(e) AS n
			`, map[string]any{"id": inv.EdgeID, "at": inv.At.UTC()})
			if err != nil {
				return nil, err
			}
			record, err := res.Single(ctx)
			if err != nil {
				return nil, err
			}
			if n, _ := record.Get("n"); n == int64(0) {
				return nil, fmt.Errorf("%w %s", types.ErrEdgeNotFound, inv.EdgeID)
			}
		}
		for _, edge := range batch.AddEdges {
			if err := edge.Validate(); err != nil {
				return nil, err
			}
			if err := s.runAddEdge(ctx, tx, edge); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		if strings.Contains(err.Error(), "validation") {
			return err
		}
		return fmt.Errorf("%w: %v", types.ErrStoreWrite, err)
	}
	return nil
}

// Stats summarizes the stored graph.
func (s *Neo4jStore) Stats(ctx context.Context) (*types.GraphStats, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			CALL {
				MATCH (n:Entity) RETURN count(n) AS nodes, collect(DISTINCT n.type) AS entity_types
			}
			CALL {
				MATCH ()-[e:RELATES_TO]->() RETURN count(e) AS edges, collect(DISTINCT e.label) AS labels
			}
			CALL {
				MATCH (p:Episode) RETURN count(p) AS episodes
			}
			RETURN nodes, entity_types, edges, labels, episodes
		`, nil)
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		stats := &types.GraphStats{LastUpdated: time.Now().UTC()}
		if v, _ := record.Get("nodes"); v != nil {
			stats.NodeCount = int(v.(int64))
		}
		if v, _ := record.Get("edges"); v != nil {
			stats.EdgeCount = int(v.(int64))
		}
		if v, _ := record.Get("episodes"); v != nil {
			stats.EpisodeCount = int(v.(int64))
		}
		if v, _ := record.Get("entity_types"); v != nil {
			for _, t := range v.([]any) {
				if s, ok := t.(string); ok && s != "" {
					stats.EntityTypes = append(stats.EntityTypes, s)
				}
			}
		}
		if v, _ := record.Get("labels"); v != nil {
			for _, l := range v.([]any) {
				if s, ok := l.(string); ok && s != "" {
					stats.RelationLabels = append(stats.RelationLabels, s)
				}
			}
		}
		return stats, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*types.GraphStats), nil
}

// Ping verifies server connectivity.
func (s *Neo4jStore) Ping(ctx context.Context) error {
	return s.client.VerifyConnectivity(ctx)
}

// Provider returns the backend identifier.
func (s *Neo4jStore) Provider() Provider { return ProviderNeo4j }

// Close releases the underlying driver.
func (s *Neo4jStore) Close() error {
	return s.client.Close(context.Background())
}

var _ GraphStore = (*Neo4jStore)(nil)
