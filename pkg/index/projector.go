package index

import (
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tempograph/tempograph/pkg/store"
	"github.com/tempograph/tempograph/pkg/types"
)

// Indices bundles the retrieval indices over the live graph: vector and
// keyword indices for nodes, and the same pair for edge facts.
type Indices struct {
	NodeVectors *VectorIndex
	NodeText    *KeywordIndex
	EdgeVectors *VectorIndex
	EdgeText    *KeywordIndex
}

// NewIndices creates an empty set of retrieval indices.
func NewIndices() *Indices {
	return &Indices{
		NodeVectors: NewVectorIndex(),
		NodeText:    NewKeywordIndex(),
		EdgeVectors: NewVectorIndex(),
		EdgeText:    NewKeywordIndex(),
	}
}

// IndexNode adds or refreshes a node in both node indices.
func (ix *Indices) IndexNode(node *types.Node) {
	if node == nil || node.ID == "" {
		return
	}
	ix.NodeVectors.Upsert(node.ID, node.Embedding)
	parts := make([]string, 0, 2+len(node.Aliases))
	parts = append(parts, node.Name)
	parts = append(parts, node.Aliases...)
	if node.Summary != "" {
		parts = append(parts, node.Summary)
	}
	ix.NodeText.Upsert(node.ID, strings.Join(parts, " "))
}

// IndexEdge adds or refreshes an edge in both edge indices.
func (ix *Indices) IndexEdge(edge *types.Edge) {
	if edge == nil || edge.ID == "" {
		return
	}
	ix.EdgeVectors.Upsert(edge.ID, edge.Embedding)
	text := edge.Fact
	if text == "" {
		text = edge.Label
	}
	ix.EdgeText.Upsert(edge.ID, text)
}

// RemoveNode drops a node from both node indices.
func (ix *Indices) RemoveNode(id string) {
	ix.NodeVectors.Remove(id)
	ix.NodeText.Remove(id)
}

// RemoveEdge drops an edge from both edge indices.
func (ix *Indices) RemoveEdge(id string) {
	ix.EdgeVectors.Remove(id)
	ix.EdgeText.Remove(id)
}

// Projector applies committed batches to the retrieval indices. Application
// is asynchronous so a slow index never blocks a store commit; Lag reports
// how many commits are still waiting, which Health surfaces as index lag.
type Projector struct {
	indices *Indices
	queue   chan *store.Batch
	pending atomic.Int64
	done    chan struct{}
	once    sync.Once
	logger  *slog.Logger
}

// NewProjector starts a projector draining into the given indices.
func NewProjector(indices *Indices, queueSize int, logger *slog.Logger) *Projector {
	if queueSize <= 0 {
		queueSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Projector{
		indices: indices,
		queue:   make(chan *store.Batch, queueSize),
		done:    make(chan struct{}),
		logger:  logger,
	}
	go p.run()
	return p
}

func (p *Projector) run() {
	defer close(p.done)
	for batch := range p.queue {
		p.apply(batch)
		p.pending.Add(-1)
	}
}

func (p *Projector) apply(batch *store.Batch) {
	for _, node := range batch.UpsertNodes {
		p.indices.IndexNode(node)
	}
	for _, inv := range batch.InvalidateEdges {
		// A superseded edge is no longer a current fact; only current
		// facts are retrievable through the indices.
		p.indices.RemoveEdge(inv.EdgeID)
	}
	for _, edge := range batch.AddEdges {
		p.indices.IndexEdge(edge)
	}
	p.logger.Debug("projected batch into indices",
		"episode_id", batch.EpisodeID,
		"nodes", len(batch.UpsertNodes),
		"edges", len(batch.AddEdges),
		"invalidated", len(batch.InvalidateEdges))
}

// Enqueue schedules a committed batch for index application. Blocks only if
// the queue is full.
func (p *Projector) Enqueue(batch *store.Batch) {
	if batch == nil || batch.Empty() {
		return
	}
	p.pending.Add(1)
	p.queue <- batch
}

// Lag returns the number of committed batches not yet applied to the indices.
func (p *Projector) Lag() int {
	return int(p.pending.Load())
}

// Wait blocks until every already-enqueued batch has been applied. Tests use
// this to make index reads deterministic.
func (p *Projector) Wait() {
	for p.Lag() > 0 {
		// The projector goroutine drains quickly; spinning with a yield
		// keeps the hot path free of extra synchronization.
		runtime.Gosched()
	}
}

// Close stops the projector after draining the queue.
func (p *Projector) Close() {
	p.once.Do(func() {
		close(p.queue)
	})
	<-p.done
}
