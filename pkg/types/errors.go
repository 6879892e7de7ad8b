package types

import (
	"errors"
	"fmt"
)

// Error categories. Callers match these with errors.Is; specific errors below
// wrap their category so both levels of matching work.
var (
	// ErrValidation covers malformed input rejected synchronously with no
	// side effects.
	ErrValidation = errors.New("validation error")
	// ErrNotFound covers lookups by id that missed.
	ErrNotFound = errors.New("not found")
	// ErrConflict covers merges the resolver cannot decide confidently.
	ErrConflict = errors.New("conflict")
	// ErrExtraction covers extraction calls that timed out or returned
	// unusable output after the retry budget.
	ErrExtraction = errors.New("extraction failure")
	// ErrStoreWrite covers transactional store failures; the batch is rolled
	// back and the episode is retryable by re-submission.
	ErrStoreWrite = errors.New("store write error")
)

// Validation errors.
var (
	ErrEmptyID          = fmt.Errorf("%w: id cannot be empty", ErrValidation)
	ErrEmptyName        = fmt.Errorf("%w: name cannot be empty", ErrValidation)
	ErrEmptyContent     = fmt.Errorf("%w: content cannot be empty", ErrValidation)
	ErrEmptyLabel       = fmt.Errorf("%w: relation label cannot be empty", ErrValidation)
	ErrInvalidReference = fmt.Errorf("%w: reference time is required", ErrValidation)
	ErrMissingEndpoint  = fmt.Errorf("%w: edge requires source and target node ids", ErrValidation)
	ErrInvalidInterval  = fmt.Errorf("%w: valid_from must not be after valid_until", ErrValidation)
	ErrInvalidLimit     = fmt.Errorf("%w: limit must be positive", ErrValidation)
)

// Lookup errors.
var (
	ErrNodeNotFound    = fmt.Errorf("%w: node", ErrNotFound)
	ErrEdgeNotFound    = fmt.Errorf("%w: edge", ErrNotFound)
	ErrEpisodeNotFound = fmt.Errorf("%w: episode", ErrNotFound)
)

// ErrAmbiguousMerge is returned when two plausible merge candidates fall
// within the confidence tolerance; the candidate is routed to manual review
// rather than guessed.
var ErrAmbiguousMerge = fmt.Errorf("%w: ambiguous merge candidates", ErrConflict)
