// Package types defines Graphmill's core data structures: the knowledge
// graph snapshot model (entities, relationships, version metadata), the
// durable state machine records (KGState, TaskInfo), and the JSON wire
// models with their stable error codes.
package types
