package graph

import (
	"errors"

	"github.com/sm5ve/crocos/ds"
)

// StructureFlags declares the structural rules a builder enforces:
// whether parallel edges are allowed and whether the built graph must
// be acyclic. The acyclicity predicate is checked once at Build.
type StructureFlags struct {
	Simple  bool // reject parallel edges between the same ordered pair
	Acyclic bool // require the built graph to be a DAG
}

// Builder accumulates labeled, colored vertices and labeled edges and
// emits an immutable Graph. Vertex labels must be unique; they become
// the graph's label index.
type Builder[V comparable, E any] struct {
	structure    StructureFlags
	vertexLabels []V
	vertexColors []int
	edges        []edge[E]
	out          [][]EdgeID
	in           [][]EdgeID
	labelSeen    map[V]VertexID
	edgeSeen     map[[2]VertexID]struct{}
}

func NewBuilder[V comparable, E any](structure StructureFlags) *Builder[V, E] {
	return &Builder[V, E]{
		structure: structure,
		labelSeen: make(map[V]VertexID),
		edgeSeen:  make(map[[2]VertexID]struct{}),
	}
}

func (b *Builder[V, E]) VertexCount() int { return len(b.vertexLabels) }
func (b *Builder[V, E]) EdgeCount() int   { return len(b.edges) }

// AddVertex adds a vertex with the given label and color 0.
func (b *Builder[V, E]) AddVertex(label V) (VertexID, error) {
	if _, ok := b.labelSeen[label]; ok {
		return NoVertex, ErrDuplicateLabel
	}
	v := VertexID(len(b.vertexLabels))
	b.vertexLabels = append(b.vertexLabels, label)
	b.vertexColors = append(b.vertexColors, 0)
	b.out = append(b.out, nil)
	b.in = append(b.in, nil)
	b.labelSeen[label] = v
	return v, nil
}

// VertexByLabel resolves a label added earlier.
func (b *Builder[V, E]) VertexByLabel(label V) (VertexID, bool) {
	v, ok := b.labelSeen[label]
	return v, ok
}

func (b *Builder[V, E]) VertexLabel(v VertexID) V { return b.vertexLabels[v] }

func (b *Builder[V, E]) SetVertexColor(v VertexID, color int) { b.vertexColors[v] = color }
func (b *Builder[V, E]) VertexColor(v VertexID) int           { return b.vertexColors[v] }

// AddEdge adds a directed edge src -> dst.
func (b *Builder[V, E]) AddEdge(src, dst VertexID, label E) (EdgeID, error) {
	if int(src) >= len(b.vertexLabels) || int(dst) >= len(b.vertexLabels) || src < 0 || dst < 0 {
		return -1, ErrVertexOutOfRange
	}
	if b.structure.Simple {
		key := [2]VertexID{src, dst}
		if _, ok := b.edgeSeen[key]; ok {
			return -1, ErrDuplicateEdge
		}
		b.edgeSeen[key] = struct{}{}
	}
	e := EdgeID(len(b.edges))
	b.edges = append(b.edges, edge[E]{src: src, dst: dst, label: label})
	b.out[src] = append(b.out[src], e)
	b.in[dst] = append(b.in[dst], e)
	return e, nil
}

// HasEdge reports whether an edge src -> dst already exists.
func (b *Builder[V, E]) HasEdge(src, dst VertexID) bool {
	for _, e := range b.out[src] {
		if b.edges[e].dst == dst {
			return true
		}
	}
	return false
}

// OutEdges returns the edges currently leaving v.
func (b *Builder[V, E]) OutEdges(v VertexID) []EdgeID { return b.out[v] }

// InEdges returns the edges currently entering v.
func (b *Builder[V, E]) InEdges(v VertexID) []EdgeID { return b.in[v] }

// Endpoints returns the source and destination of edge e.
func (b *Builder[V, E]) Endpoints(e EdgeID) (src, dst VertexID) {
	return b.edges[e].src, b.edges[e].dst
}

func (b *Builder[V, E]) EdgeLabel(e EdgeID) E { return b.edges[e].label }

// Build runs the structural predicate and emits the immutable graph.
// The builder remains usable afterwards; the graph shares no mutable
// state with it.
func (b *Builder[V, E]) Build() (*Graph[V, E], error) {
	if b.structure.Acyclic {
		if _, err := topoSort(len(b.vertexLabels), b.edges); err != nil {
			return nil, err
		}
	}
	g := &Graph[V, E]{
		vertexLabels: append([]V(nil), b.vertexLabels...),
		vertexColors: append([]int(nil), b.vertexColors...),
		edges:        append([]edge[E](nil), b.edges...),
		out:          make([][]EdgeID, len(b.out)),
		in:           make([][]EdgeID, len(b.in)),
		labelIndex:   ds.NewBiMap[V, VertexID](),
	}
	for i := range b.out {
		g.out[i] = append([]EdgeID(nil), b.out[i]...)
		g.in[i] = append([]EdgeID(nil), b.in[i]...)
	}
	for label, v := range b.labelSeen {
		g.labelIndex.Put(label, v)
	}
	return g, nil
}

// Constraint is consulted by a RestrictedBuilder before any edge is
// accepted, and enumerates the currently legal candidate endpoints for
// a vertex.
type Constraint[V comparable, E any] interface {
	IsEdgeAllowed(b *RestrictedBuilder[V, E], src, dst VertexID) bool
	ValidEdgesFrom(b *RestrictedBuilder[V, E], src VertexID) []VertexID
	ValidEdgesTo(b *RestrictedBuilder[V, E], dst VertexID) []VertexID
}

// RestrictedBuilder wraps a Builder with a Constraint: AddEdge rejects
// edges the constraint disallows, and the ValidEdges iterators expose
// what the constraint would currently permit.
type RestrictedBuilder[V comparable, E any] struct {
	*Builder[V, E]
	constraint Constraint[V, E]
}

var ErrEdgeNotAllowed = errors.New("edge rejected by routing constraint")

func NewRestrictedBuilder[V comparable, E any](structure StructureFlags, c Constraint[V, E]) *RestrictedBuilder[V, E] {
	return &RestrictedBuilder[V, E]{
		Builder:    NewBuilder[V, E](structure),
		constraint: c,
	}
}

// AddEdge consults the constraint, then delegates to the inner builder.
func (rb *RestrictedBuilder[V, E]) AddEdge(src, dst VertexID, label E) (EdgeID, error) {
	if !rb.constraint.IsEdgeAllowed(rb, src, dst) {
		return -1, ErrEdgeNotAllowed
	}
	return rb.Builder.AddEdge(src, dst, label)
}

// ValidEdgesFrom returns every vertex the constraint would currently
// accept as the target of an edge from src.
func (rb *RestrictedBuilder[V, E]) ValidEdgesFrom(src VertexID) []VertexID {
	return rb.constraint.ValidEdgesFrom(rb, src)
}

// ValidEdgesTo returns every vertex the constraint would currently
// accept as the source of an edge to dst.
func (rb *RestrictedBuilder[V, E]) ValidEdgesTo(dst VertexID) []VertexID {
	return rb.constraint.ValidEdgesTo(rb, dst)
}
