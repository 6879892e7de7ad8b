// Package types defines the core data model of the temporal knowledge graph:
// nodes, bitemporal edges, episodes, extraction candidates, and the shared
// error taxonomy. All other packages depend on this one and it depends on
// nothing but the standard library.
package types
