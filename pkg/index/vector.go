package index

import (
	"container/heap"
	"math"
	"sort"
	"sync"
)

// CosineSimilarity calculates the cosine similarity between two float32
// vectors. Returns 0 if the vectors have different lengths, are empty, or
// either has zero magnitude.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ScoredID is an index hit: an item id with its similarity or relevance score.
type ScoredID struct {
	ID    string
	Score float64
}

// minHeap keeps the lowest score at the root so top-K selection can evict
// the weakest hit in O(log k).
type minHeap []ScoredID

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)         { *h = append(*h, x.(ScoredID)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func topK(items []ScoredID, k int) []ScoredID {
	if k <= 0 || len(items) == 0 {
		return nil
	}
	if k >= len(items) {
		result := make([]ScoredID, len(items))
		copy(result, items)
		sort.SliceStable(result, func(i, j int) bool { return result[i].Score > result[j].Score })
		return result
	}

	h := make(minHeap, 0, k)
	heap.Init(&h)
	for _, item := range items {
		if h.Len() < k {
			heap.Push(&h, item)
		} else if item.Score > h[0].Score {
			heap.Pop(&h)
			heap.Push(&h, item)
		}
	}

	result := make([]ScoredID, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(&h).(ScoredID)
	}
	return result
}

// VectorIndex is an exact cosine kNN index over item embeddings.
type VectorIndex struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

// NewVectorIndex creates an empty vector index.
func NewVectorIndex() *VectorIndex {
	return &VectorIndex{vectors: make(map[string][]float32)}
}

// Upsert stores or replaces the embedding for an item. Empty embeddings are
// ignored so unembedded items never pollute similarity results.
func (vi *VectorIndex) Upsert(id string, embedding []float32) {
	if id == "" || len(embedding) == 0 {
		return
	}
	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	vi.mu.Lock()
	vi.vectors[id] = vec
	vi.mu.Unlock()
}

// Remove drops an item from the index.
func (vi *VectorIndex) Remove(id string) {
	vi.mu.Lock()
	delete(vi.vectors, id)
	vi.mu.Unlock()
}

// Search returns the k nearest items to the query embedding by cosine
// similarity, highest first.
func (vi *VectorIndex) Search(query []float32, k int) []ScoredID {
	if len(query) == 0 || k <= 0 {
		return nil
	}
	vi.mu.RLock()
	scored := make([]ScoredID, 0, len(vi.vectors))
	for id, vec := range vi.vectors {
		scored = append(scored, ScoredID{ID: id, Score: CosineSimilarity(query, vec)})
	}
	vi.mu.RUnlock()
	return topK(scored, k)
}

// Len returns the number of indexed items.
func (vi *VectorIndex) Len() int {
	vi.mu.RLock()
	defer vi.mu.RUnlock()
	return len(vi.vectors)
}
