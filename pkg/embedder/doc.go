// Package embedder turns text into dense vectors for similarity retrieval.
// The OpenAI client is the production path; the local client is a
// deterministic, dependency-free embedder for tests and offline use.
package embedder
