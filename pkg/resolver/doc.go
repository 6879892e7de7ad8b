// Package resolver reconciles freshly extracted candidates with the existing
// graph. Entity candidates merge into nodes they match by exact name, alias,
// or embedding similarity above a threshold; matches inside the ambiguity
// band park the episode for manual review. Edge candidates supersede the
// currently valid edge for their (source, target, label) key, closing its
// interval at the moment the new fact was recorded. Work on one canonical
// entity is serialized across concurrent episodes.
package resolver
