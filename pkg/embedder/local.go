package embedder

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/tempograph/tempograph/pkg/index"
)

// LocalClient is a deterministic bag-of-words hashing embedder. It needs no
// network or model weights, and texts sharing tokens land near each other in
// the vector space, which is enough for tests and offline development.
type LocalClient struct {
	dimensions int
}

// NewLocalClient creates a local embedder with the given vector width.
func NewLocalClient(dimensions int) *LocalClient {
	if dimensions <= 0 {
		dimensions = 128
	}
	return &LocalClient{dimensions: dimensions}
}

// Embed generates embeddings for the given texts.
func (c *LocalClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embeddings[i] = c.embed(text)
	}
	return embeddings, nil
}

// EmbedSingle generates an embedding for a single text.
func (c *LocalClient) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return c.embed(text), nil
}

func (c *LocalClient) embed(text string) []float32 {
	vec := make([]float32, c.dimensions)
	for _, token := range index.Tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()
		bucket := int(sum % uint64(c.dimensions))
		// Sign from a second hash bit spreads tokens over both directions.
		if sum&(1<<63) != 0 {
			vec[bucket] -= 1
		} else {
			vec[bucket] += 1
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}

// Dimensions returns the configured vector width.
func (c *LocalClient) Dimensions() int { return c.dimensions }

// Close cleans up any resources.
func (c *LocalClient) Close() error { return nil }

var _ Client = (*LocalClient)(nil)
