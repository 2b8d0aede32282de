// Package build runs the graph build pipelines. A trigger claims the
// singleton graph through the state store, then a detached goroutine
// fetches documents, extracts atomic facts, constructs the new version,
// persists it, promotes it to latest ready, and prunes old versions.
// Failures at any step mark the task FAILED with the cause; a panic in
// the pipeline is recovered and recorded the same way.
package build
