package graph

import (
	"context"
	"math/rand"
	"sort"

	"github.com/stjgraph/stjrag/store"
)

// resolution is the gamma parameter of the modularity gain formula.
const resolution = 1.0

// maxPasses bounds the greedy local-move loop.
const maxPasses = 20

// Neighbor is one directed entry in the in-memory adjacency list.
type Neighbor struct {
	Target      string
	Type        string
	Weight      float64
	Description string
}

// Adjacency is the build-local bidirectional weighted adjacency over
// entity ids. It is derived from persisted nodes and edges, owned by a
// single pipeline run, and discarded afterwards.
type Adjacency map[string][]Neighbor

// BuildAdjacency constructs the adjacency from persisted nodes and
// edges. Every node gets an entry, so isolated nodes keep an empty
// neighbor list. Each edge is added in both directions; non-positive
// weights default to 1.
func BuildAdjacency(nodes []store.GraphNode, edges []store.GraphEdge) Adjacency {
	adj := make(Adjacency, len(nodes))
	for _, n := range nodes {
		adj[n.EntityID] = nil
	}
	for _, e := range edges {
		w := e.Weight
		if w <= 0 {
			w = 1
		}
		if _, ok := adj[e.SourceID]; !ok {
			continue
		}
		if _, ok := adj[e.TargetID]; !ok {
			continue
		}
		adj[e.SourceID] = append(adj[e.SourceID], Neighbor{
			Target: e.TargetID, Type: e.RelationshipType, Weight: w, Description: e.Description,
		})
		adj[e.TargetID] = append(adj[e.TargetID], Neighbor{
			Target: e.SourceID, Type: e.RelationshipType, Weight: w, Description: e.Description,
		})
	}
	return adj
}

// DetectCommunities assigns every entity to a community by greedy
// modularity-optimizing local moves. Node order is shuffled each pass
// for convergence; the assignment is stable modulo renumbering, and the
// returned ids are densely renumbered from 0. A weightless graph
// (m = 0) leaves every node in a singleton community.
func DetectCommunities(ctx context.Context, adj Adjacency) map[string]int {
	ids := make([]string, 0, len(adj))
	for id := range adj {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// Each node starts in its own community.
	comm := make(map[string]int, len(ids))
	for i, id := range ids {
		comm[id] = i
	}

	// Node degree and total edge weight m.
	deg := make(map[string]float64, len(ids))
	var sumDeg float64
	for id, neighbors := range adj {
		for _, n := range neighbors {
			deg[id] += n.Weight
		}
		sumDeg += deg[id]
	}
	m := sumDeg / 2
	if m == 0 {
		m = 1
	}

	// Aggregate community degree, maintained incrementally across moves.
	commDeg := make(map[int]float64, len(ids))
	for id, c := range comm {
		commDeg[c] += deg[id]
	}

	order := make([]string, len(ids))
	copy(order, ids)

	for pass := 0; pass < maxPasses; pass++ {
		if ctx.Err() != nil {
			break
		}
		rand.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})

		moved := false
		for _, v := range order {
			current := comm[v]

			// Weight from v into each neighboring community.
			kvC := make(map[int]float64)
			for _, n := range adj[v] {
				kvC[comm[n.Target]] += n.Weight
			}

			// Temporarily take v out of its community so Deg(C) does not
			// include its own degree.
			commDeg[current] -= deg[v]

			bestComm := current
			bestGain := 0.0
			for c, k := range kvC {
				if c == current {
					continue
				}
				gain := k/m - resolution*deg[v]*commDeg[c]/(2*m*m)
				if gain > bestGain {
					bestGain = gain
					bestComm = c
				}
			}

			commDeg[bestComm] += deg[v]
			if bestComm != current {
				comm[v] = bestComm
				moved = true
			}
		}
		if !moved {
			break
		}
	}

	// Renumber densely from 0 by first-seen order over the sorted ids.
	renumber := make(map[int]int)
	out := make(map[string]int, len(ids))
	for _, id := range ids {
		c := comm[id]
		dense, ok := renumber[c]
		if !ok {
			dense = len(renumber)
			renumber[c] = dense
		}
		out[id] = dense
	}
	return out
}
