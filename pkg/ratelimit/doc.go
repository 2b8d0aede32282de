// Package ratelimit implements the dual token-bucket limiter that paces
// calls to the LLM and embedding providers (requests/min and tokens/min).
package ratelimit
