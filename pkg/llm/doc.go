// Package llm wraps the OpenAI-compatible chat-completion and embedding
// endpoints behind small interfaces, plus deterministic token estimation
// for rate limiting.
package llm
