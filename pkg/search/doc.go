// Package search answers queries against the temporal knowledge graph. No
// single signal is reliable alone: embeddings miss exact terms, keywords
// miss paraphrase, and traversal misses unconnected content. The planner
// runs all three, embedding kNN, BM25 keyword relevance, and bounded
// breadth-first graph expansion, and fuses their rankings with reciprocal
// rank fusion before truncating to the requested limit.
package search
