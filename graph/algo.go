package graph

import "math"

// IsAcyclic reports whether the edges accumulated in b form a DAG,
// without building. Used by registries that want to reject a mutation
// that would introduce a cycle before committing it.
func IsAcyclic[V comparable, E any](b *Builder[V, E]) bool {
	_, err := topoSort(len(b.vertexLabels), b.edges)
	return err == nil
}

// ShortestPaths runs Dijkstra from src with edge weights supplied by
// weight, returning per-vertex distances (math.MaxUint64 for
// unreachable vertices) and the predecessor edge on each shortest path.
func ShortestPaths[V comparable, E any](g *Graph[V, E], src VertexID, weight func(E) uint64) (dist []uint64, prevEdge []EdgeID) {
	n := g.VertexCount()
	dist = make([]uint64, n)
	prevEdge = make([]EdgeID, n)
	visited := make([]bool, n)
	for i := range dist {
		dist[i] = math.MaxUint64
		prevEdge[i] = -1
	}
	dist[src] = 0
	for {
		// pick the nearest unvisited vertex; the graphs here are small
		// enough that a linear scan beats heap bookkeeping
		u := NoVertex
		best := uint64(math.MaxUint64)
		for v := 0; v < n; v++ {
			if !visited[v] && dist[v] < best {
				best = dist[v]
				u = VertexID(v)
			}
		}
		if u == NoVertex {
			return
		}
		visited[u] = true
		for _, e := range g.OutEdges(u) {
			_, w := g.Endpoints(e)
			if visited[w] {
				continue
			}
			d := dist[u] + weight(g.EdgeLabel(e))
			if d < dist[w] {
				dist[w] = d
				prevEdge[w] = e
			}
		}
	}
}
