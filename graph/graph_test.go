package graph

import (
	"math"
	"testing"
)

func TestBuildAndLookup(t *testing.T) {
	b := NewBuilder[string, int](StructureFlags{Simple: true, Acyclic: true})
	a, err := b.AddVertex("a")
	if err != nil {
		t.Fatal(err)
	}
	v, _ := b.AddVertex("b")
	c, _ := b.AddVertex("c")
	if _, err := b.AddVertex("a"); err != ErrDuplicateLabel {
		t.Fatalf("duplicate label: %v", err)
	}
	if _, err := b.AddEdge(a, v, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := b.AddEdge(v, c, 2); err != nil {
		t.Fatal(err)
	}
	if _, err := b.AddEdge(a, v, 3); err != ErrDuplicateEdge {
		t.Fatalf("parallel edge: %v", err)
	}
	g, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	if g.VertexCount() != 3 || g.EdgeCount() != 2 {
		t.Fatalf("counts %d/%d", g.VertexCount(), g.EdgeCount())
	}
	if got, ok := g.VertexByLabel("b"); !ok || got != v {
		t.Fatalf("label lookup %v %v", got, ok)
	}
	if len(g.OutEdges(a)) != 1 || len(g.InEdges(c)) != 1 {
		t.Fatal("incidence lists wrong")
	}
}

func TestCycleRejected(t *testing.T) {
	b := NewBuilder[int, struct{}](StructureFlags{Simple: true, Acyclic: true})
	a, _ := b.AddVertex(0)
	v, _ := b.AddVertex(1)
	b.AddEdge(a, v, struct{}{})
	b.AddEdge(v, a, struct{}{})
	if _, err := b.Build(); err != ErrNotAcyclic {
		t.Fatalf("cycle accepted: %v", err)
	}
	if IsAcyclic(b) {
		t.Fatal("IsAcyclic on cyclic builder")
	}
}

func TestTopologicalOrder(t *testing.T) {
	b := NewBuilder[string, struct{}](StructureFlags{Simple: true, Acyclic: true})
	dev, _ := b.AddVertex("device")
	ioapic, _ := b.AddVertex("ioapic")
	lapic, _ := b.AddVertex("lapic")
	vec, _ := b.AddVertex("vectors")
	b.AddEdge(dev, ioapic, struct{}{})
	b.AddEdge(ioapic, lapic, struct{}{})
	b.AddEdge(lapic, vec, struct{}{})
	g, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	order := g.TopologicalOrder()
	idx := g.TopoIndex()
	if len(order) != 4 {
		t.Fatalf("order len %d", len(order))
	}
	if !(idx[dev] < idx[ioapic] && idx[ioapic] < idx[lapic] && idx[lapic] < idx[vec]) {
		t.Fatalf("order violates edges: %v", order)
	}
}

func TestShortestPaths(t *testing.T) {
	b := NewBuilder[int, uint64](StructureFlags{Simple: true, Acyclic: false})
	var vs []VertexID
	for i := 0; i < 4; i++ {
		v, _ := b.AddVertex(i)
		vs = append(vs, v)
	}
	b.AddEdge(vs[0], vs[1], 1)
	b.AddEdge(vs[1], vs[2], 1)
	b.AddEdge(vs[0], vs[2], 5)
	g, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	dist, _ := ShortestPaths(g, vs[0], func(w uint64) uint64 { return w })
	if dist[vs[2]] != 2 {
		t.Fatalf("dist %d", dist[vs[2]])
	}
	if dist[vs[3]] != math.MaxUint64 {
		t.Fatalf("unreachable dist %d", dist[vs[3]])
	}
}

type evenOnlyConstraint struct{}

func (evenOnlyConstraint) IsEdgeAllowed(b *RestrictedBuilder[int, struct{}], src, dst VertexID) bool {
	return b.VertexLabel(dst)%2 == 0
}

func (c evenOnlyConstraint) ValidEdgesFrom(b *RestrictedBuilder[int, struct{}], src VertexID) []VertexID {
	var out []VertexID
	for v := 0; v < b.VertexCount(); v++ {
		if VertexID(v) != src && c.IsEdgeAllowed(b, src, VertexID(v)) {
			out = append(out, VertexID(v))
		}
	}
	return out
}

func (c evenOnlyConstraint) ValidEdgesTo(b *RestrictedBuilder[int, struct{}], dst VertexID) []VertexID {
	if !c.IsEdgeAllowed(b, NoVertex, dst) {
		return nil
	}
	var out []VertexID
	for v := 0; v < b.VertexCount(); v++ {
		if VertexID(v) != dst {
			out = append(out, VertexID(v))
		}
	}
	return out
}

func TestRestrictedBuilder(t *testing.T) {
	rb := NewRestrictedBuilder[int, struct{}](StructureFlags{Simple: true}, evenOnlyConstraint{})
	var vs []VertexID
	for i := 0; i < 4; i++ {
		v, _ := rb.AddVertex(i)
		vs = append(vs, v)
	}
	if _, err := rb.AddEdge(vs[0], vs[2], struct{}{}); err != nil {
		t.Fatal(err)
	}
	if _, err := rb.AddEdge(vs[0], vs[1], struct{}{}); err != ErrEdgeNotAllowed {
		t.Fatalf("odd target accepted: %v", err)
	}
	from := rb.ValidEdgesFrom(vs[1])
	if len(from) != 2 || from[0] != vs[0] || from[1] != vs[2] {
		t.Fatalf("valid edges from: %v", from)
	}
}
