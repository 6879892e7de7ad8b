// Package ingest drives episodes through the processing pipeline. Each
// episode moves Received -> Extracting -> Merged -> Indexed; extraction
// exhausting its retry budget or a failed commit marks it Failed, and an
// ambiguous entity match parks it NeedsReview on the manual-review queue.
// Episodes process concurrently up to a bound, and a failed episode is
// retryable by re-submission.
package ingest
