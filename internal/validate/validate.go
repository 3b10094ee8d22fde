// Package validate runs the structural check on a pipeline snapshot: node
// and edge counts and whether the node-level graph is acyclic.
//
// Every function here is pure. A snapshot is never mutated, so any number of
// checks may run concurrently with each other and with store mutations.
package validate

import "github.com/alfredjeanlab/pipeflow/internal/model"

// Analysis is a Verdict plus the detail behind it.
type Analysis struct {
	model.Verdict

	// Order is a topological order of every vertex when the graph is a DAG;
	// otherwise the prefix that could be resolved before a cycle blocked
	// progress.
	Order []string `json:"order"`

	// Blocked lists the vertices that sit on a cycle or downstream of one,
	// in snapshot order. Empty when the graph is a DAG.
	Blocked []string `json:"blocked,omitempty"`
}

// Check validates snap and returns the verdict.
func Check(snap *model.Snapshot) model.Verdict {
	return Analyze(snap).Verdict
}

// Analyze runs Kahn's algorithm over snap. Each edge is an arc from its
// source node to its target node; handles are ignored, so parallel edges add
// to the edge count without affecting acyclicity. A self-loop is a cycle.
//
// Edge endpoints that are not in the node list still take part as vertices
// but are not counted in NumNodes. Vertices with no ordering constraint
// between them are visited in snapshot order, so results are reproducible.
func Analyze(snap *model.Snapshot) Analysis {
	g := build(snap)

	indeg := make([]int, len(g.ids))
	copy(indeg, g.indeg)

	queue := make([]int, 0, len(g.ids))
	for v := range g.ids {
		if indeg[v] == 0 {
			queue = append(queue, v)
		}
	}

	order := make([]string, 0, len(g.ids))
	for head := 0; head < len(queue); head++ {
		v := queue[head]
		order = append(order, g.ids[v])
		for _, w := range g.adj[v] {
			indeg[w]--
			if indeg[w] == 0 {
				queue = append(queue, w)
			}
		}
	}

	a := Analysis{
		Verdict: model.Verdict{
			NumNodes: len(snap.Nodes),
			NumEdges: len(snap.Edges),
			IsDAG:    len(order) == len(g.ids),
		},
		Order: order,
	}
	if !a.IsDAG {
		for v, id := range g.ids {
			if indeg[v] > 0 {
				a.Blocked = append(a.Blocked, id)
			}
		}
	}
	return a
}

// graph is the index form of a snapshot used by Analyze.
type graph struct {
	ids   []string // vertex id by index, snapshot order
	adj   [][]int  // outgoing arcs, edge order
	indeg []int
}

func build(snap *model.Snapshot) *graph {
	g := &graph{}
	index := make(map[string]int, len(snap.Nodes))
	vertex := func(id string) int {
		if v, ok := index[id]; ok {
			return v
		}
		v := len(g.ids)
		index[id] = v
		g.ids = append(g.ids, id)
		g.adj = append(g.adj, nil)
		g.indeg = append(g.indeg, 0)
		return v
	}

	for i := range snap.Nodes {
		vertex(snap.Nodes[i].ID)
	}
	for _, e := range snap.Edges {
		src := vertex(e.Source)
		dst := vertex(e.Target)
		g.adj[src] = append(g.adj[src], dst)
		g.indeg[dst]++
	}
	return g
}
