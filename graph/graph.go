// Package graph provides the static directed-graph data model used to
// represent the interrupt topology and the routing plan: a builder that
// accumulates labeled vertices and edges and emits an immutable graph
// with contiguous incidence arrays, a restricted builder that consults
// a constraint before accepting edges, and the algorithms layered on
// top (topological sort, DAG check, shortest paths).
package graph

import (
	"errors"

	"github.com/sm5ve/crocos/ds"
)

// VertexID is a dense index into a graph's vertex arrays.
type VertexID int

// EdgeID is a dense index into a graph's edge arrays.
type EdgeID int

// NoVertex marks an absent vertex reference.
const NoVertex VertexID = -1

var (
	ErrVertexOutOfRange = errors.New("vertex id out of range")
	ErrDuplicateEdge    = errors.New("duplicate edge in simple graph")
	ErrNotAcyclic       = errors.New("graph contains a cycle")
	ErrDuplicateLabel   = errors.New("duplicate vertex label")
)

type edge[E any] struct {
	src, dst VertexID
	label    E
}

// Graph is an immutable directed graph with vertex labels V and edge
// labels E. Vertices additionally carry an int color, which the routing
// subsystem uses for trigger-type metadata.
type Graph[V comparable, E any] struct {
	vertexLabels []V
	vertexColors []int
	edges        []edge[E]
	out          [][]EdgeID
	in           [][]EdgeID
	labelIndex   *ds.BiMap[V, VertexID]

	topoOrder []VertexID // computed lazily, nil until first use
}

func (g *Graph[V, E]) VertexCount() int { return len(g.vertexLabels) }
func (g *Graph[V, E]) EdgeCount() int   { return len(g.edges) }

func (g *Graph[V, E]) VertexLabel(v VertexID) V { return g.vertexLabels[v] }
func (g *Graph[V, E]) VertexColor(v VertexID) int { return g.vertexColors[v] }

// VertexByLabel returns the vertex carrying the given label.
func (g *Graph[V, E]) VertexByLabel(label V) (VertexID, bool) {
	return g.labelIndex.Forward(label)
}

func (g *Graph[V, E]) EdgeLabel(e EdgeID) E { return g.edges[e].label }

// Endpoints returns the source and destination of edge e.
func (g *Graph[V, E]) Endpoints(e EdgeID) (src, dst VertexID) {
	return g.edges[e].src, g.edges[e].dst
}

// OutEdges returns the edges leaving v. The returned slice is owned by
// the graph and must not be mutated.
func (g *Graph[V, E]) OutEdges(v VertexID) []EdgeID { return g.out[v] }

// InEdges returns the edges entering v.
func (g *Graph[V, E]) InEdges(v VertexID) []EdgeID { return g.in[v] }

// TopologicalOrder returns a topological ordering of the vertices. The
// result is memoized; graphs are immutable so it never changes.
func (g *Graph[V, E]) TopologicalOrder() []VertexID {
	if g.topoOrder == nil {
		order, err := topoSort(len(g.vertexLabels), g.edges)
		if err != nil {
			// immutable graphs are DAG-checked at build time
			panic("graph: topological sort of cyclic graph")
		}
		g.topoOrder = order
	}
	return g.topoOrder
}

// TopoIndex returns, for each vertex, its position in the topological
// order.
func (g *Graph[V, E]) TopoIndex() []int {
	order := g.TopologicalOrder()
	idx := make([]int, len(order))
	for i, v := range order {
		idx[v] = i
	}
	return idx
}

func topoSort[E any](n int, edges []edge[E]) ([]VertexID, error) {
	indeg := make([]int, n)
	adj := make([][]VertexID, n)
	for _, e := range edges {
		indeg[e.dst]++
		adj[e.src] = append(adj[e.src], e.dst)
	}
	var queue []VertexID
	for v := 0; v < n; v++ {
		if indeg[v] == 0 {
			queue = append(queue, VertexID(v))
		}
	}
	order := make([]VertexID, 0, n)
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		order = append(order, v)
		for _, w := range adj[v] {
			indeg[w]--
			if indeg[w] == 0 {
				queue = append(queue, w)
			}
		}
	}
	if len(order) != n {
		return nil, ErrNotAcyclic
	}
	return order, nil
}
