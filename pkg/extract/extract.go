package extract

import (
	"context"

	"github.com/tempograph/tempograph/pkg/types"
)

// Client pulls candidate entities and relationships out of an episode. The
// production implementation calls an LLM; tests substitute a fake.
type Client interface {
	// Extract returns the candidate entities and edges mentioned in the
	// episode. A nil-error result with no usable candidates is valid: some
	// episodes simply contain no graph-worthy facts.
	Extract(ctx context.Context, episode *types.Episode) (*types.Extraction, error)

	// Close cleans up any resources.
	Close() error
}
