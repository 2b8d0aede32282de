// Package builder turns atomic-fact strings into a knowledge graph: an
// LLM pass extracts labeled triples per fact, labels are canonicalized
// against the configured ontology, endpoints and predicates are embedded,
// and near-duplicate entities and relationships are merged by cosine
// similarity. In incremental mode the prior graph seeds the merge index
// so new facts attach to existing nodes.
package builder
