package storage

import (
	"fmt"

	"github.com/graphmill/graphmill/pkg/types"
)

// subgraphAccum collects query rows into deduplicated node and edge
// projections, preserving insertion order so trimming is deterministic.
type subgraphAccum struct {
	includeProps bool
	nodes        map[string]types.QueryNode
	nodeOrder    []string
	edges        map[string]types.QueryEdge
	edgeOrder    []string
}

func newSubgraphAccum(includeProps bool) *subgraphAccum {
	return &subgraphAccum{
		includeProps: includeProps,
		nodes:        make(map[string]types.QueryNode),
		edges:        make(map[string]types.QueryEdge),
	}
}

func nodeID(props map[string]any) string {
	return fmt.Sprintf("%s:%s", propString(props, "entity_label"), propString(props, "name"))
}

func (a *subgraphAccum) addNode(props map[string]any) {
	id := nodeID(props)
	if _, seen := a.nodes[id]; seen {
		return
	}
	node := types.QueryNode{
		ID:    id,
		Types: []string{"Entity", propString(props, "entity_label")},
		Name:  propString(props, "name"),
	}
	if a.includeProps {
		node.Properties = cleanProps(props)
	}
	a.nodes[id] = node
	a.nodeOrder = append(a.nodeOrder, id)
}

func (a *subgraphAccum) addEdge(startProps, relProps, endProps map[string]any) {
	predicate := propString(relProps, "predicate")
	if predicate == "" {
		predicate = "related_to"
	}
	source := nodeID(startProps)
	target := nodeID(endProps)
	id := fmt.Sprintf("%s->%s->%s", source, predicate, target)
	if _, seen := a.edges[id]; seen {
		return
	}
	edge := types.QueryEdge{
		ID:     id,
		Type:   predicate,
		Source: source,
		Target: target,
	}
	if a.includeProps {
		edge.Properties = cleanProps(relProps)
	}
	a.edges[id] = edge
	a.edgeOrder = append(a.edgeOrder, id)
}

// finalize trims both sets to their limits, reports whether anything was
// trimmed, and drops edges whose endpoints were trimmed away.
func (a *subgraphAccum) finalize(limitNodes, limitEdges int) ([]types.QueryNode, []types.QueryEdge, bool) {
	truncated := false
	nodeIDs := a.nodeOrder
	if len(nodeIDs) > limitNodes {
		truncated = true
		nodeIDs = nodeIDs[:limitNodes]
	}
	edgeIDs := a.edgeOrder
	if len(edgeIDs) > limitEdges {
		truncated = true
		edgeIDs = edgeIDs[:limitEdges]
	}

	kept := make(map[string]bool, len(nodeIDs))
	nodes := make([]types.QueryNode, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		kept[id] = true
		nodes = append(nodes, a.nodes[id])
	}

	edges := make([]types.QueryEdge, 0, len(edgeIDs))
	for _, id := range edgeIDs {
		e := a.edges[id]
		if kept[e.Source] && kept[e.Target] {
			edges = append(edges, e)
		}
	}
	return nodes, edges, truncated
}

// cleanProps copies props without the embedding vector and version tag,
// which are never projected to clients.
func cleanProps(props map[string]any) map[string]any {
	cleaned := make(map[string]any, len(props))
	for k, v := range props {
		if k == "embeddings" || k == "kg_version" {
			continue
		}
		cleaned[k] = v
	}
	return cleaned
}
