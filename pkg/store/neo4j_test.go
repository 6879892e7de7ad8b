package store

import (
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"github.com/stretchr/testify/assert"
)

// The server-backed paths need a live Neo4j instance and run in integration
// environments; the RecordedAt high-water mark is exercised here directly.
func TestNeo4jRatchetRecordedAt(t *testing.T) {
	s := &Neo4jStore{recovered: true}
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, base, s.ratchetRecordedAt(base))

	// A pre-dated write is clamped forward to the mark.
	assert.Equal(t, base, s.ratchetRecordedAt(base.Add(-time.Hour)))

	// A later write advances the mark.
	later := base.Add(time.Minute)
	assert.Equal(t, later, s.ratchetRecordedAt(later))
	assert.Equal(t, later, s.ratchetRecordedAt(base))

	// Re-clamping an already clamped value is stable.
	assert.Equal(t, later, s.ratchetRecordedAt(later))
}

func TestNeo4jTimeValue(t *testing.T) {
	instant := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, instant, timeValue(instant))
	assert.Equal(t, instant, timeValue(dbtype.LocalDateTime(instant)))
	assert.True(t, timeValue(nil).IsZero())
	assert.True(t, timeValue("2026-01-10").IsZero())
}
