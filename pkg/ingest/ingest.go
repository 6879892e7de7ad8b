package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tempograph/tempograph/pkg/extract"
	"github.com/tempograph/tempograph/pkg/index"
	"github.com/tempograph/tempograph/pkg/resolver"
	"github.com/tempograph/tempograph/pkg/store"
	"github.com/tempograph/tempograph/pkg/types"
)

// Config tunes the ingestion pipeline.
type Config struct {
	// MaxConcurrent bounds how many episodes process at once (default: 4).
	MaxConcurrent int
	// ExtractTimeout caps one extraction call, retries included
	// (default: 120 seconds).
	ExtractTimeout time.Duration
}

// DefaultConfig returns the default pipeline settings.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:  4,
		ExtractTimeout: 120 * time.Second,
	}
}

// Ingestor drives episodes through the pipeline: Received, Extracting,
// Merged, Indexed, with NeedsReview and Failed as terminal detours. Episodes
// process independently and concurrently; only same-entity merges serialize,
// inside the resolver.
type Ingestor struct {
	store     store.GraphStore
	extractor extract.Client
	resolver  *resolver.Resolver
	projector *index.Projector
	reviews   *ReviewQueue
	config    Config
	sem       chan struct{}
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// New creates an ingestor.
func New(graphStore store.GraphStore, extractor extract.Client, res *resolver.Resolver, projector *index.Projector, config Config, logger *slog.Logger) *Ingestor {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	if config.ExtractTimeout <= 0 {
		config.ExtractTimeout = 120 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		store:     graphStore,
		extractor: extractor,
		resolver:  res,
		projector: projector,
		reviews:   NewReviewQueue(),
		config:    config,
		sem:       make(chan struct{}, config.MaxConcurrent),
		logger:    logger,
	}
}

// Reviews exposes the manual-review queue.
func (ing *Ingestor) Reviews() *ReviewQueue {
	return ing.reviews
}

// Submit persists the episode and processes it in the background, bounded by
// the concurrency limit. The episode id is usable for status queries as soon
// as Submit returns.
func (ing *Ingestor) Submit(ctx context.Context, episode *types.Episode) error {
	episode.Status = types.EpisodeReceived
	if err := ing.store.AddEpisode(ctx, episode); err != nil {
		return err
	}

	ing.wg.Add(1)
	go func() {
		defer ing.wg.Done()
		ing.sem <- struct{}{}
		defer func() { <-ing.sem }()

		// The submitting request's context ends with the HTTP response;
		// processing owns its own lifetime.
		ctx, cancel := context.WithTimeout(context.Background(), ing.config.ExtractTimeout+time.Minute)
		defer cancel()
		if err := ing.Process(ctx, episode); err != nil {
			ing.logger.Error("episode processing failed",
				"episode_id", episode.ID, "error", err)
		}
	}()
	return nil
}

// Wait blocks until all submitted episodes have finished processing.
func (ing *Ingestor) Wait() {
	ing.wg.Wait()
}

// Process runs one already-persisted episode through extraction, resolution,
// commit, and indexing. Used directly by tests and by re-submission of
// failed or reviewed episodes.
func (ing *Ingestor) Process(ctx context.Context, episode *types.Episode) error {
	if err := ing.setStatus(ctx, episode, types.EpisodeExtracting, ""); err != nil {
		return err
	}

	extraction, err := ing.runExtraction(ctx, episode)
	if err != nil {
		reason := fmt.Sprintf("extraction failed: %v", err)
		ing.setStatusBestEffort(episode, types.EpisodeFailed, reason)
		return fmt.Errorf("%w: %v", types.ErrExtraction, err)
	}

	if !extraction.Usable() {
		// Nothing graph-worthy in this episode. That is a valid outcome,
		// not a failure.
		if err := ing.setStatus(ctx, episode, types.EpisodeMerged, ""); err != nil {
			return err
		}
		return ing.setStatus(ctx, episode, types.EpisodeIndexed, "")
	}

	resolution, release, err := ing.resolver.Resolve(ctx, episode, extraction)
	if err != nil {
		reason := fmt.Sprintf("resolution failed: %v", err)
		ing.setStatusBestEffort(episode, types.EpisodeFailed, reason)
		return err
	}
	defer release()

	if len(resolution.Ambiguities) > 0 {
		ing.reviews.Add(ReviewItem{
			EpisodeID:   episode.ID,
			Ambiguities: resolution.Ambiguities,
			QueuedAt:    time.Now().UTC(),
		})
		reason := fmt.Sprintf("%d ambiguous entity matches parked for review", len(resolution.Ambiguities))
		if err := ing.setStatus(ctx, episode, types.EpisodeNeedsReview, reason); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", types.ErrAmbiguousMerge, reason)
	}

	if err := ing.store.CommitBatch(ctx, resolution.Batch); err != nil {
		reason := fmt.Sprintf("commit failed: %v", err)
		ing.setStatusBestEffort(episode, types.EpisodeFailed, reason)
		return err
	}
	if err := ing.setStatus(ctx, episode, types.EpisodeMerged, ""); err != nil {
		return err
	}

	// Project before releasing the entity locks so the next episode
	// mentioning these entities finds them in the indices.
	ing.projector.Enqueue(resolution.Batch)
	ing.projector.Wait()

	ing.logger.Info("episode ingested",
		"episode_id", episode.ID,
		"nodes", len(resolution.Batch.UpsertNodes),
		"edges", len(resolution.Batch.AddEdges),
		"superseded", len(resolution.Batch.InvalidateEdges))
	return ing.setStatus(ctx, episode, types.EpisodeIndexed, "")
}

func (ing *Ingestor) runExtraction(ctx context.Context, episode *types.Episode) (*types.Extraction, error) {
	extractCtx, cancel := context.WithTimeout(ctx, ing.config.ExtractTimeout)
	defer cancel()
	return ing.extractor.Extract(extractCtx, episode)
}

func (ing *Ingestor) setStatus(ctx context.Context, episode *types.Episode, status types.EpisodeStatus, reason string) error {
	if err := ing.store.SetEpisodeStatus(ctx, episode.ID, status, reason); err != nil {
		return err
	}
	episode.Status = status
	episode.StatusReason = reason
	return nil
}

// setStatusBestEffort records a terminal failure status. The original error
// matters more than a status write failing on an already-broken store.
func (ing *Ingestor) setStatusBestEffort(episode *types.Episode, status types.EpisodeStatus, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ing.store.SetEpisodeStatus(ctx, episode.ID, status, reason); err != nil {
		ing.logger.Error("failed to record episode status",
			"episode_id", episode.ID, "status", status, "error", err)
		return
	}
	episode.Status = status
	episode.StatusReason = reason
}
