// Package hooks abstracts where build documents come from. Two
// providers ship: a static in-memory set and a Postgres table with
// soft-delete and creation-time columns.
package hooks
