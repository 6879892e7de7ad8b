// Package index maintains the in-process retrieval indices: an exact cosine
// kNN index over embeddings and a BM25 inverted index over text, for nodes
// and edge facts alike. A projector applies committed graph batches to the
// indices asynchronously, so commits never wait on indexing and readers can
// observe the current lag.
package index
