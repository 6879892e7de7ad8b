// Package extract turns raw episode text into candidate graph mutations.
// The OpenAI client prompts a chat model for structured JSON and repairs
// malformed output before parsing. Retry and circuit breaker wrappers
// compose around any Client so transient provider failures back off and
// persistent ones fail fast.
package extract
