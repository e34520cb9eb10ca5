package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/stjgraph/stjrag/store"
)

// Subgraph is a slice of the persisted graph: the nodes reached by a
// traversal and the edges whose both endpoints were reached.
type Subgraph struct {
	Nodes []store.GraphNode `json:"nodes"`
	Edges []store.GraphEdge `json:"edges"`
}

// Neighborhood runs a BFS from entityID, stopping after hops layers.
// Edges are included iff both endpoints were visited.
func Neighborhood(ctx context.Context, s Store, entityID string, hops int) (*Subgraph, error) {
	if hops <= 0 {
		hops = 2
	}

	nodes, err := s.AllGraphNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading nodes: %w", err)
	}
	edges, err := s.AllGraphEdges(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading edges: %w", err)
	}

	byID := make(map[string]store.GraphNode, len(nodes))
	for _, n := range nodes {
		byID[n.EntityID] = n
	}
	if _, ok := byID[entityID]; !ok {
		return &Subgraph{}, nil
	}

	adj := BuildAdjacency(nodes, edges)

	visited := map[string]bool{entityID: true}
	frontier := []string{entityID}
	for depth := 0; depth < hops && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			for _, n := range adj[id] {
				if !visited[n.Target] {
					visited[n.Target] = true
					next = append(next, n.Target)
				}
			}
		}
		frontier = next
	}

	return collectSubgraph(visited, byID, edges), nil
}

// Visualization returns the top nodes by mention count plus the edges
// connecting them, for the dashboard graph view.
func Visualization(ctx context.Context, s Store, limit int) (*Subgraph, error) {
	if limit <= 0 {
		limit = 200
	}

	nodes, err := s.AllGraphNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading nodes: %w", err)
	}
	edges, err := s.AllGraphEdges(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading edges: %w", err)
	}

	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].MentionCount > nodes[j].MentionCount
	})
	if len(nodes) > limit {
		nodes = nodes[:limit]
	}

	kept := make(map[string]bool, len(nodes))
	byID := make(map[string]store.GraphNode, len(nodes))
	for _, n := range nodes {
		kept[n.EntityID] = true
		byID[n.EntityID] = n
	}

	return collectSubgraph(kept, byID, edges), nil
}

// collectSubgraph assembles the kept nodes and the edges with both
// endpoints kept, in a stable order.
func collectSubgraph(kept map[string]bool, byID map[string]store.GraphNode, edges []store.GraphEdge) *Subgraph {
	sub := &Subgraph{}

	ids := make([]string, 0, len(kept))
	for id := range kept {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		sub.Nodes = append(sub.Nodes, byID[id])
	}

	for _, e := range edges {
		if kept[e.SourceID] && kept[e.TargetID] {
			sub.Edges = append(sub.Edges, e)
		}
	}
	return sub
}
