// Package parser is the throttled front door to the LLM and embedding
// providers: it batches structured-output prompts, paces every call
// through the dual token-bucket limiters, caps in-flight requests, and
// retries transient failures.
package parser
