// Package storage owns everything that touches Neo4j: the driver
// wrapper, the singleton state machine over KGState and KGTask nodes,
// and the versioned snapshot store with its bounded subgraph queries
// and retention pruning.
package storage
