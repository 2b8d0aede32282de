// Package metrics defines and registers the Prometheus metrics for the
// build pipeline, the LLM provider traffic, and the HTTP API, exposed at
// /metrics for scraping.
package metrics
