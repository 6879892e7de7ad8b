// Package store persists the temporal knowledge graph. Three backends
// implement the same GraphStore contract: an in-memory arena for tests and
// embedding, a Badger-backed durable store, and a Neo4j-backed store for
// shared deployments. All backends guarantee referential integrity for edges,
// non-overlapping validity intervals per temporal key, and atomic per-episode
// batch commits.
package store
