// Package log provides structured logging for Graphmill built on zerolog.
//
// A single global logger is initialized once at startup; packages derive
// child loggers carrying a component field, and pipeline code attaches
// task_id / kg_version fields so one build's log lines can be correlated.
package log
