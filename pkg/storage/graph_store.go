package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/graphmill/graphmill/pkg/config"
	"github.com/graphmill/graphmill/pkg/log"
	"github.com/graphmill/graphmill/pkg/types"
)

const defaultWriteBatchSize = 500

// GraphStore persists versioned knowledge graph snapshots. A snapshot is
// the set of Entity nodes and REL relationships tagged with one
// kg_version; writes MERGE on the composite key and are idempotent per
// version.
type GraphStore struct {
	client    *Client
	graphName string
	batchSize int
}

// NewGraphStore creates a graph store for one logical graph
func NewGraphStore(client *Client, graphName string) *GraphStore {
	if graphName == "" {
		graphName = types.GraphNameDefault
	}
	return &GraphStore{client: client, graphName: graphName, batchSize: defaultWriteBatchSize}
}

// Write upserts the snapshot for version: all entities first, then
// relationships, in chunks. Batches are separate transactions; a failed
// write leaves a partial version that is simply never promoted.
func (g *GraphStore) Write(ctx context.Context, version string, kg *types.KnowledgeGraph) error {
	nodeRows := make([]any, 0, len(kg.Entities))
	for _, e := range kg.Entities {
		nodeRows = append(nodeRows, map[string]any{
			"kg_version":   version,
			"entity_label": e.Label,
			"name":         e.Name,
			"props": map[string]any{
				"kg_version":   version,
				"entity_label": e.Label,
				"name":         e.Name,
				"embeddings":   floatsToAny(e.Embedding),
			},
		})
	}

	relRows := make([]any, 0, len(kg.Relationships))
	for _, r := range kg.Relationships {
		predicate := r.Predicate
		if predicate == "" {
			predicate = "related_to"
		}
		relRows = append(relRows, map[string]any{
			"kg_version":  version,
			"start_label": r.Start.Label,
			"start_name":  r.Start.Name,
			"end_label":   r.End.Label,
			"end_name":    r.End.Name,
			"predicate":   predicate,
			"props": map[string]any{
				"kg_version":   version,
				"predicate":    predicate,
				"atomic_facts": stringsToAny(r.AtomicFacts),
				"t_obs":        stringsToAny(r.TObs),
				"t_start":      stringsToAny(r.TStart),
				"t_end":        stringsToAny(r.TEnd),
				"embeddings":   floatsToAny(r.Embedding),
			},
		})
	}

	nodeQuery := `
UNWIND $rows AS row
MERGE (e:Entity {kg_version: row.kg_version, entity_label: row.entity_label, name: row.name})
SET e += row.props
RETURN count(e) AS n
`
	relQuery := `
UNWIND $rows AS row
MATCH (s:Entity {kg_version: row.kg_version, entity_label: row.start_label, name: row.start_name})
MATCH (t:Entity {kg_version: row.kg_version, entity_label: row.end_label, name: row.end_name})
MERGE (s)-[r:REL {kg_version: row.kg_version, predicate: row.predicate}]->(t)
SET r += row.props
RETURN count(r) AS n
`
	for _, batch := range chunkRows(nodeRows, g.batchSize) {
		if _, err := g.client.Run(ctx, nodeQuery, map[string]any{"rows": batch}); err != nil {
			return fmt.Errorf("failed to write entities: %w", err)
		}
	}
	for _, batch := range chunkRows(relRows, g.batchSize) {
		if _, err := g.client.Run(ctx, relQuery, map[string]any{"rows": batch}); err != nil {
			return fmt.Errorf("failed to write relationships: %w", err)
		}
	}
	return nil
}

// Load reads the full snapshot for version. Relationships whose
// endpoints are missing at the version are skipped.
func (g *GraphStore) Load(ctx context.Context, version string) (*types.KnowledgeGraph, error) {
	nodeRows, err := g.client.Run(ctx, `
MATCH (e:Entity {kg_version: $v})
RETURN e
`, map[string]any{"v": version})
	if err != nil {
		return nil, fmt.Errorf("failed to load entities: %w", err)
	}

	kg := &types.KnowledgeGraph{}
	index := make(map[types.EntityKey]*types.Entity, len(nodeRows))
	for _, row := range nodeRows {
		props := PropsOf(row["e"])
		ent := &types.Entity{
			Label:     propString(props, "entity_label"),
			Name:      propString(props, "name"),
			Embedding: propFloats(props, "embeddings"),
		}
		kg.Entities = append(kg.Entities, ent)
		index[ent.Key()] = ent
	}

	relRows, err := g.client.Run(ctx, `
MATCH (s:Entity {kg_version: $v})-[r:REL {kg_version: $v}]->(t:Entity {kg_version: $v})
RETURN s, properties(r) AS rp, t
`, map[string]any{"v": version})
	if err != nil {
		return nil, fmt.Errorf("failed to load relationships: %w", err)
	}
	for _, row := range relRows {
		sp := PropsOf(row["s"])
		tp := PropsOf(row["t"])
		start := index[types.EntityKey{Label: propString(sp, "entity_label"), Name: propString(sp, "name")}]
		end := index[types.EntityKey{Label: propString(tp, "entity_label"), Name: propString(tp, "name")}]
		if start == nil || end == nil {
			continue
		}
		rp := PropsOf(row["rp"])
		predicate := propString(rp, "predicate")
		if predicate == "" {
			predicate = "related_to"
		}
		kg.Relationships = append(kg.Relationships, &types.Relationship{
			Start:       start,
			End:         end,
			Predicate:   predicate,
			AtomicFacts: propStrings(rp, "atomic_facts"),
			TObs:        propStrings(rp, "t_obs"),
			TStart:      propStrings(rp, "t_start"),
			TEnd:        propStrings(rp, "t_end"),
			Embedding:   propFloats(rp, "embeddings"),
		})
	}
	return kg, nil
}

// GetEntityTypes returns the distinct entity labels at version, sorted
func (g *GraphStore) GetEntityTypes(ctx context.Context, version string) ([]string, error) {
	rows, err := g.client.Run(ctx, `
MATCH (e:Entity {kg_version: $v})
RETURN DISTINCT e.entity_label AS t
ORDER BY t
`, map[string]any{"v": version})
	if err != nil {
		return nil, fmt.Errorf("failed to read entity types: %w", err)
	}
	return collectTypeColumn(rows), nil
}

// GetRelationTypes returns the distinct predicates at version, sorted
func (g *GraphStore) GetRelationTypes(ctx context.Context, version string) ([]string, error) {
	rows, err := g.client.Run(ctx, `
MATCH ()-[r:REL {kg_version: $v}]->()
RETURN DISTINCT r.predicate AS t
ORDER BY t
`, map[string]any{"v": version})
	if err != nil {
		return nil, fmt.Errorf("failed to read relation types: %w", err)
	}
	return collectTypeColumn(rows), nil
}

// GetStats counts entities, relationships, and distinct labels at version
func (g *GraphStore) GetStats(ctx context.Context, version string) (types.GraphStats, error) {
	var stats types.GraphStats
	nodeRows, err := g.client.Run(ctx,
		"MATCH (e:Entity {kg_version: $v}) RETURN count(e) AS n, count(DISTINCT e.entity_label) AS t",
		map[string]any{"v": version})
	if err != nil {
		return stats, fmt.Errorf("failed to count entities: %w", err)
	}
	relRows, err := g.client.Run(ctx,
		"MATCH ()-[r:REL {kg_version: $v}]->() RETURN count(r) AS n",
		map[string]any{"v": version})
	if err != nil {
		return stats, fmt.Errorf("failed to count relationships: %w", err)
	}
	if len(nodeRows) > 0 {
		stats.EntityCount = propInt(nodeRows[0], "n")
		stats.NodeTypeCount = propInt(nodeRows[0], "t")
	}
	if len(relRows) > 0 {
		stats.RelationCount = propInt(relRows[0], "n")
	}
	return stats, nil
}

// QueryOptions bound and filter a subgraph query
type QueryOptions struct {
	Q                 string
	EntityTypes       []string
	RelationTypes     []string
	LimitNodes        int
	LimitEdges        int
	Depth             int
	MaxSeedNodes      int
	IncludeProperties bool
}

// Query returns a bounded subgraph at version. With a non-empty Q it
// seeds on name substring matches and expands undirected up to Depth
// hops; otherwise it scans edges, falling back to bare nodes when the
// version has none. Results are deduplicated by id and trimmed to the
// limits; subgraphAccum.finalize holds the trim rules.
func (g *GraphStore) Query(ctx context.Context, version string, opts QueryOptions) ([]types.QueryNode, []types.QueryEdge, bool, error) {
	limitNodes := max(1, opts.LimitNodes)
	limitEdges := max(0, opts.LimitEdges)
	depth := max(0, opts.Depth)
	seedLimit := max(1, opts.MaxSeedNodes)

	acc := newSubgraphAccum(opts.IncludeProperties)
	params := map[string]any{"v": version}
	entityFilter := ""
	if len(opts.EntityTypes) > 0 {
		params["entity_types"] = stringsToAny(opts.EntityTypes)
	}
	relationFilter := ""
	if len(opts.RelationTypes) > 0 {
		params["relation_types"] = stringsToAny(opts.RelationTypes)
	}

	if opts.Q != "" {
		params["q"] = opts.Q
		params["seed_limit"] = seedLimit
		if len(opts.EntityTypes) > 0 {
			entityFilter = " AND s.entity_label IN $entity_types"
		}
		seedRows, err := g.client.Run(ctx, `
MATCH (s:Entity {kg_version: $v})
WHERE toLower(s.name) CONTAINS toLower($q)`+entityFilter+`
RETURN s
LIMIT $seed_limit
`, params)
		if err != nil {
			return nil, nil, false, fmt.Errorf("failed to find seed nodes: %w", err)
		}
		for _, row := range seedRows {
			acc.addNode(PropsOf(row["s"]))
		}

		if depth > 0 && limitEdges > 0 && len(seedRows) > 0 {
			if len(opts.RelationTypes) > 0 {
				relationFilter = " AND r.predicate IN $relation_types"
			}
			params["limit_edges"] = limitEdges + 1
			// Variable-length bounds cannot be parameterized; depth is a
			// clamped integer inlined into the pattern.
			expandQuery := fmt.Sprintf(`
MATCH (s:Entity {kg_version: $v})
WHERE toLower(s.name) CONTAINS toLower($q)%s
WITH s LIMIT $seed_limit
MATCH (s)-[rels:REL*1..%d]-(n:Entity {kg_version: $v})
WHERE ALL(r IN rels WHERE r.kg_version = $v)
UNWIND rels AS r
WITH DISTINCT r
WHERE true%s
WITH r
LIMIT $limit_edges
MATCH (a)-[r]->(b)
RETURN a AS s, properties(r) AS rp, b AS t
`, entityFilter, depth, relationFilter)
			rows, err := g.client.Run(ctx, expandQuery, params)
			if err != nil {
				return nil, nil, false, fmt.Errorf("failed to expand subgraph: %w", err)
			}
			for _, row := range rows {
				acc.addNode(PropsOf(row["s"]))
				acc.addNode(PropsOf(row["t"]))
				acc.addEdge(PropsOf(row["s"]), PropsOf(row["rp"]), PropsOf(row["t"]))
			}
		}
	} else {
		if limitEdges > 0 {
			if len(opts.EntityTypes) > 0 {
				entityFilter = " AND s.entity_label IN $entity_types AND t.entity_label IN $entity_types"
			}
			if len(opts.RelationTypes) > 0 {
				relationFilter = " AND r.predicate IN $relation_types"
			}
			params["limit_edges"] = limitEdges + 1
			rows, err := g.client.Run(ctx, `
MATCH (s:Entity {kg_version: $v})-[r:REL {kg_version: $v}]->(t:Entity {kg_version: $v})
WHERE true`+entityFilter+relationFilter+`
RETURN s, properties(r) AS rp, t
LIMIT $limit_edges
`, params)
			if err != nil {
				return nil, nil, false, fmt.Errorf("failed to scan edges: %w", err)
			}
			for _, row := range rows {
				acc.addNode(PropsOf(row["s"]))
				acc.addNode(PropsOf(row["t"]))
				acc.addEdge(PropsOf(row["s"]), PropsOf(row["rp"]), PropsOf(row["t"]))
			}
		}

		if len(acc.nodeOrder) == 0 {
			if len(opts.EntityTypes) > 0 {
				entityFilter = " WHERE e.entity_label IN $entity_types"
			}
			params["limit_nodes"] = limitNodes + 1
			rows, err := g.client.Run(ctx, `
MATCH (e:Entity {kg_version: $v})`+entityFilter+`
RETURN e
LIMIT $limit_nodes
`, params)
			if err != nil {
				return nil, nil, false, fmt.Errorf("failed to scan nodes: %w", err)
			}
			for _, row := range rows {
				acc.addNode(PropsOf(row["e"]))
			}
		}
	}

	nodes, edges, truncated := acc.finalize(limitNodes, limitEdges)
	return nodes, edges, truncated, nil
}

// cleanupVersionsQuery lists the retention candidates: versions of tasks
// that finished without error. Failed builds never enter the universe, so
// their partial data cannot displace a successful version from the keep set.
const cleanupVersionsQuery = `
MATCH (s:KGState {graph_name: $graph_name})
WITH s.latest_ready_version AS latest
OPTIONAL MATCH (t:KGTask)
WHERE t.finished_at IS NOT NULL AND (t.error IS NULL OR t.error = '')
WITH latest, collect(DISTINCT t.version) AS versions
RETURN latest, versions
`

// CleanupOldVersions prunes stored snapshots, keeping the newest
// max_versions plus the latest ready version. Only versions of tasks that
// completed without error are candidates. Returns the deleted versions.
func (g *GraphStore) CleanupOldVersions(ctx context.Context, retention config.Retention) ([]string, error) {
	if !retention.EnableCleanup || retention.MaxVersions <= 0 {
		return nil, nil
	}
	rows, err := g.client.Run(ctx, cleanupVersionsQuery, map[string]any{"graph_name": g.graphName})
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	latest := propString(rows[0], "latest")
	versions := propStrings(rows[0], "versions")
	toDelete := versionsToPrune(versions, latest, retention.MaxVersions)

	logger := log.WithComponent("graph-store")
	for _, v := range toDelete {
		if err := g.DeleteVersionData(ctx, v); err != nil {
			return nil, err
		}
		logger.Info().Str("kg_version", v).Msg("Pruned old graph version")
	}
	return toDelete, nil
}

// DeleteVersionData removes every entity (and attached relationship)
// tagged with version.
func (g *GraphStore) DeleteVersionData(ctx context.Context, version string) error {
	_, err := g.client.Run(ctx, `
MATCH (e:Entity {kg_version: $v})
DETACH DELETE e
RETURN 1 AS _ignored
`, map[string]any{"v": version})
	if err != nil {
		return fmt.Errorf("failed to delete version %s: %w", version, err)
	}
	return nil
}

// versionsToPrune returns the versions to delete, oldest last. Versions
// sort numerically descending (they are millisecond timestamps;
// unparseable ones sort as zero); the newest maxVersions and latest
// survive.
func versionsToPrune(versions []string, latest string, maxVersions int) []string {
	sorted := make([]string, 0, len(versions))
	for _, v := range versions {
		if v != "" {
			sorted = append(sorted, v)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		return versionSortKey(sorted[i]) > versionSortKey(sorted[j])
	})

	keep := make(map[string]bool, maxVersions+1)
	for i, v := range sorted {
		if i >= maxVersions {
			break
		}
		keep[v] = true
	}
	if latest != "" {
		keep[latest] = true
	}

	var toDelete []string
	for _, v := range sorted {
		if !keep[v] {
			toDelete = append(toDelete, v)
		}
	}
	return toDelete
}

func versionSortKey(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func collectTypeColumn(rows []map[string]any) []string {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if t, ok := row["t"].(string); ok {
			out = append(out, t)
		}
	}
	return out
}

func chunkRows(rows []any, size int) [][]any {
	if len(rows) == 0 {
		return nil
	}
	if size <= 0 {
		return [][]any{rows}
	}
	var chunks [][]any
	for i := 0; i < len(rows); i += size {
		end := min(i+size, len(rows))
		chunks = append(chunks, rows[i:end])
	}
	return chunks
}
