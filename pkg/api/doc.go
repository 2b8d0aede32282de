// Package api serves the HTTP surface: graph status, build triggers,
// type listings, bounded subgraph queries, and stats, all wrapped in a
// {success, data, error} envelope with stable error codes. Operational
// endpoints /healthz and /metrics bypass bearer auth.
package api
