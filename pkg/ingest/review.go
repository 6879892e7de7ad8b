package ingest

import (
	"sync"
	"time"

	"github.com/tempograph/tempograph/pkg/resolver"
)

// ReviewItem parks an episode whose resolution was ambiguous. A human (or a
// smarter process) decides the merge and re-submits the episode.
type ReviewItem struct {
	EpisodeID   string               `json:"episode_id"`
	Ambiguities []resolver.Ambiguity `json:"ambiguities"`
	QueuedAt    time.Time            `json:"queued_at"`
}

// ReviewQueue is the in-memory manual-review queue. Entries survive for the
// process lifetime; the episode's NeedsReview status is the durable record.
type ReviewQueue struct {
	mu    sync.Mutex
	items []ReviewItem
}

// NewReviewQueue creates an empty review queue.
func NewReviewQueue() *ReviewQueue {
	return &ReviewQueue{}
}

// Add parks an episode's ambiguities for review.
func (q *ReviewQueue) Add(item ReviewItem) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

// Items returns a snapshot of the queued reviews, oldest first.
func (q *ReviewQueue) Items() []ReviewItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]ReviewItem, len(q.items))
	copy(out, q.items)
	return out
}

// Take removes and returns the review entry for an episode, if queued.
func (q *ReviewQueue) Take(episodeID string) (ReviewItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.items {
		if item.EpisodeID == episodeID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return item, true
		}
	}
	return ReviewItem{}, false
}

// Len returns the number of queued reviews.
func (q *ReviewQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
