package interrupt

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sm5ve/crocos/graph"
)

// NodeType distinguishes routing nodes: Device when the domain is a
// pure emitter, Input otherwise.
type NodeType int

const (
	DeviceNode NodeType = iota
	InputNode
)

func (t NodeType) String() string {
	if t == DeviceNode {
		return "device"
	}
	return "input"
}

// TriggerType is the tristate trigger color a routing node carries.
type TriggerType int

const (
	TriggerUndetermined TriggerType = iota
	TriggerEdge
	TriggerLevel
)

func (t TriggerType) String() string {
	switch t {
	case TriggerEdge:
		return "edge"
	case TriggerLevel:
		return "level"
	default:
		return "undetermined"
	}
}

// RoutingNodeLabel identifies a routing node: a (domain, index) pair
// plus its node type.
type RoutingNodeLabel struct {
	Domain Domain
	Index  int
	Type   NodeType
}

func (l RoutingNodeLabel) String() string {
	return fmt.Sprintf("%s/%s:%d", l.Domain.DomainName(), l.Type, l.Index)
}

var (
	ErrNoSuchRoutingNode = errors.New("no such routing node")
	ErrRouteNotAllowed   = errors.New("routing edge not allowed")
)

// RoutingBuilder holds the partial routing graph: one node per emitter
// index of every pure emitter and per receiver index of every
// receiver-bearing domain, with trigger-type and effective-owner color
// metadata, and a constraint that encodes every edge-legality rule.
type RoutingBuilder struct {
	topo    *Topology
	tg      *graph.Graph[Domain, Connector]
	topoIdx map[Domain]int

	rb      *graph.RestrictedBuilder[RoutingNodeLabel, struct{}]
	trigger []TriggerType
	owner   []Domain

	domainNodes map[Domain][]graph.VertexID
	domainOrder []Domain
}

// routingConstraint is the legality oracle for routing edges.
type routingConstraint struct {
	b *RoutingBuilder
}

// NewRoutingGraphBuilder converts the topology into a routing graph
// skeleton: nodes for every domain, trigger types initialized from
// activation-type getters, effective owners inherited from exclusive
// connectors, and forced edges pre-installed for fixed routing domains
// and unambiguously connected pure emitters.
func NewRoutingGraphBuilder(topo *Topology) (*RoutingBuilder, error) {
	tg, err := topo.Graph()
	if err != nil {
		return nil, err
	}
	b := &RoutingBuilder{
		topo:        topo,
		tg:          tg,
		topoIdx:     make(map[Domain]int),
		domainNodes: make(map[Domain][]graph.VertexID),
	}
	b.rb = graph.NewRestrictedBuilder[RoutingNodeLabel, struct{}](
		graph.StructureFlags{Simple: true, Acyclic: true}, &routingConstraint{b: b})

	for pos, tv := range tg.TopologicalOrder() {
		d := tg.VertexLabel(tv)
		b.topoIdx[d] = pos
		b.domainOrder = append(b.domainOrder, d)

		recv, isReceiver := d.(Receiver)
		if isReceiver {
			for i := 0; i < recv.ReceiverCount(); i++ {
				b.addNode(RoutingNodeLabel{Domain: d, Index: i, Type: InputNode})
			}
			continue
		}
		if em, isEmitter := d.(Emitter); isEmitter {
			for i := 0; i < em.EmitterCount(); i++ {
				b.addNode(RoutingNodeLabel{Domain: d, Index: i, Type: DeviceNode})
			}
		}
	}

	if err := b.installForcedEdges(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *RoutingBuilder) addNode(label RoutingNodeLabel) {
	v, err := b.rb.AddVertex(label)
	if err != nil {
		panic("interrupt: duplicate routing node " + label.String())
	}
	trig := TriggerUndetermined
	if cat, ok := label.Domain.(ConfigurableActivationTypeDomain); ok && label.Type == InputNode {
		if at, known := cat.ActivationType(label.Index); known {
			if at.Level {
				trig = TriggerLevel
			} else {
				trig = TriggerEdge
			}
		}
	}
	var owner Domain
	if conn, claimed := b.topo.ExclusiveOwner(label.Domain, label.Index); claimed && label.Type == InputNode {
		owner = conn.Source()
	}
	b.trigger = append(b.trigger, trig)
	b.owner = append(b.owner, owner)
	b.domainNodes[label.Domain] = append(b.domainNodes[label.Domain], v)
}

// installForcedEdges materializes every fixed routing domain's internal
// mapping and every pure emitter's single unambiguous downstream
// choice.
func (b *RoutingBuilder) installForcedEdges() error {
	for _, d := range b.domainOrder {
		dv, _ := b.tg.VertexByLabel(d)
		if fixed, ok := d.(FixedRoutingDomain); ok {
			for i := 0; i < fixed.ReceiverCount(); i++ {
				e, routed := fixed.FixedRouting(i)
				if !routed {
					continue
				}
				for _, te := range b.tg.OutEdges(dv) {
					conn := b.tg.EdgeLabel(te)
					tgtIn, connected := conn.FromOutput(e)
					if !connected {
						continue
					}
					// a mapping the connector cannot round-trip (two
					// outputs sharing one target line) is not
					// distinctly expressible on this link
					if back, ok := conn.FromInput(tgtIn); !ok || back != e {
						continue
					}
					src := RoutingNodeLabel{Domain: d, Index: i, Type: InputNode}
					dst := RoutingNodeLabel{Domain: conn.Target(), Index: tgtIn, Type: InputNode}
					if err := b.AddRoute(src, dst); err != nil {
						return fmt.Errorf("forced edge %s -> %s: %w", src, dst, err)
					}
				}
			}
			continue
		}
		if _, isReceiver := d.(Receiver); isReceiver {
			continue
		}
		em, isEmitter := d.(Emitter)
		if !isEmitter {
			continue
		}
		for i := 0; i < em.EmitterCount(); i++ {
			var candidates []RoutingNodeLabel
			for _, te := range b.tg.OutEdges(dv) {
				conn := b.tg.EdgeLabel(te)
				tgtIn, connected := conn.FromOutput(i)
				if !connected {
					continue
				}
				if back, ok := conn.FromInput(tgtIn); !ok || back != i {
					continue
				}
				candidates = append(candidates, RoutingNodeLabel{Domain: conn.Target(), Index: tgtIn, Type: InputNode})
			}
			if len(candidates) != 1 {
				// ambiguous emitters are left to the routing policy
				continue
			}
			src := RoutingNodeLabel{Domain: d, Index: i, Type: DeviceNode}
			if err := b.AddRoute(src, candidates[0]); err != nil {
				return fmt.Errorf("forced edge %s -> %s: %w", src, candidates[0], err)
			}
		}
	}
	return nil
}

// Lookup resolves a routing node label to its vertex.
func (b *RoutingBuilder) Lookup(label RoutingNodeLabel) (graph.VertexID, bool) {
	return b.rb.VertexByLabel(label)
}

// LookupNode resolves (domain, index) by trying the input flavor first,
// then the device flavor.
func (b *RoutingBuilder) LookupNode(d Domain, index int) (graph.VertexID, bool) {
	if v, ok := b.rb.VertexByLabel(RoutingNodeLabel{Domain: d, Index: index, Type: InputNode}); ok {
		return v, true
	}
	return b.rb.VertexByLabel(RoutingNodeLabel{Domain: d, Index: index, Type: DeviceNode})
}

func (b *RoutingBuilder) NodeCount() int                           { return b.rb.VertexCount() }
func (b *RoutingBuilder) Label(v graph.VertexID) RoutingNodeLabel  { return b.rb.VertexLabel(v) }
func (b *RoutingBuilder) Trigger(v graph.VertexID) TriggerType     { return b.trigger[v] }
func (b *RoutingBuilder) Owner(v graph.VertexID) Domain            { return b.owner[v] }
func (b *RoutingBuilder) DomainsInOrder() []Domain                 { return b.domainOrder }
func (b *RoutingBuilder) NodesOf(d Domain) []graph.VertexID        { return b.domainNodes[d] }

// OutTarget returns the single downstream choice of v, or -1.
func (b *RoutingBuilder) OutTarget(v graph.VertexID) graph.VertexID {
	out := b.rb.OutEdges(v)
	if len(out) == 0 {
		return graph.NoVertex
	}
	_, dst := b.rb.Endpoints(out[0])
	return dst
}

// InSources returns the upstream nodes routed into v.
func (b *RoutingBuilder) InSources(v graph.VertexID) []graph.VertexID {
	var out []graph.VertexID
	for _, e := range b.rb.InEdges(v) {
		src, _ := b.rb.Endpoints(e)
		out = append(out, src)
	}
	return out
}

// ValidEdgesFrom returns the nodes the constraint currently accepts as
// downstream targets of src.
func (b *RoutingBuilder) ValidEdgesFrom(src graph.VertexID) []graph.VertexID {
	return b.rb.ValidEdgesFrom(src)
}

// ValidEdgesTo returns the nodes the constraint currently accepts as
// upstream sources of dst.
func (b *RoutingBuilder) ValidEdgesTo(dst graph.VertexID) []graph.VertexID {
	return b.rb.ValidEdgesTo(dst)
}

// AddRoute adds a routing edge between two labeled nodes, propagating
// trigger type into the target's component. Re-asserting an existing
// edge is a no-op.
func (b *RoutingBuilder) AddRoute(src, dst RoutingNodeLabel) error {
	sv, ok := b.Lookup(src)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchRoutingNode, src)
	}
	dv, ok := b.Lookup(dst)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchRoutingNode, dst)
	}
	return b.AddRouteByVertex(sv, dv)
}

// AddRouteByVertex is AddRoute on resolved vertices.
func (b *RoutingBuilder) AddRouteByVertex(sv, dv graph.VertexID) error {
	if cur := b.OutTarget(sv); cur == dv {
		return nil
	}
	if _, err := b.rb.AddEdge(sv, dv, struct{}{}); err != nil {
		if errors.Is(err, graph.ErrEdgeNotAllowed) {
			return fmt.Errorf("%w: %s -> %s", ErrRouteNotAllowed, b.Label(sv), b.Label(dv))
		}
		return err
	}
	b.propagateTrigger(sv, dv)
	return nil
}

// propagateTrigger back-assigns a definite source trigger along the
// target's path to the sink, and lets a device node inherit a definite
// trigger from the path it just attached under.
func (b *RoutingBuilder) propagateTrigger(sv, dv graph.VertexID) {
	tu := b.componentTrigger(sv)
	if tu != TriggerUndetermined {
		for cur := dv; cur != graph.NoVertex; cur = b.OutTarget(cur) {
			if b.trigger[cur] != TriggerUndetermined {
				break
			}
			b.trigger[cur] = tu
		}
		return
	}
	if tv := b.componentTrigger(dv); tv != TriggerUndetermined {
		b.trigger[sv] = tv
	}
}

// componentTrigger walks downstream from v along existing edges and
// returns the first definite trigger type on the path, or undetermined.
func (b *RoutingBuilder) componentTrigger(v graph.VertexID) TriggerType {
	for cur := v; cur != graph.NoVertex; cur = b.OutTarget(cur) {
		if b.trigger[cur] != TriggerUndetermined {
			return b.trigger[cur]
		}
	}
	return TriggerUndetermined
}

// connectorBetween returns the connector labeling the topology edge
// src -> dst, if one exists.
func (b *RoutingBuilder) connectorBetween(src, dst Domain) Connector {
	sv, ok := b.tg.VertexByLabel(src)
	if !ok {
		return nil
	}
	for _, e := range b.tg.OutEdges(sv) {
		if b.tg.VertexLabel(b.edgeDst(e)) == dst {
			return b.tg.EdgeLabel(e)
		}
	}
	return nil
}

func (b *RoutingBuilder) edgeDst(e graph.EdgeID) graph.VertexID {
	_, dst := b.tg.Endpoints(e)
	return dst
}

// routingBuilderView adapts the partial routing graph for
// context-dependent domains.
type routingBuilderView struct {
	b *RoutingBuilder
}

func (v routingBuilderView) RouteOf(d Domain, index int) (Domain, int, bool) {
	nv, ok := v.b.LookupNode(d, index)
	if !ok {
		return nil, 0, false
	}
	tgt := v.b.OutTarget(nv)
	if tgt == graph.NoVertex {
		return nil, 0, false
	}
	label := v.b.Label(tgt)
	return label.Domain, label.Index, true
}

// IsEdgeAllowed encodes the edge legality rules, in order: routing is a
// function (out-degree 1), trigger-type compatibility, topology
// connectivity, device emitter-index agreement, then owner
// compatibility and routable-subtype dispatch.
func (c *routingConstraint) IsEdgeAllowed(_ *graph.RestrictedBuilder[RoutingNodeLabel, struct{}], sv, dv graph.VertexID) bool {
	b := c.b
	src := b.Label(sv)
	dst := b.Label(dv)

	if cur := b.OutTarget(sv); cur != graph.NoVertex {
		return cur == dv
	}
	if dst.Type != InputNode {
		return false
	}

	tu := b.componentTrigger(sv)
	switch b.componentTrigger(dv) {
	case TriggerLevel:
		if tu != TriggerLevel && src.Type != DeviceNode {
			return false
		}
	case TriggerEdge:
		if tu == TriggerLevel {
			return false
		}
	}

	conn := b.connectorBetween(src.Domain, dst.Domain)
	if conn == nil {
		return false
	}
	srcOut, connected := conn.FromInput(dst.Index)
	if !connected {
		return false
	}

	if src.Type == DeviceNode {
		return srcOut == src.Index
	}

	if own := b.owner[dv]; own != nil && own != src.Domain {
		return false
	}
	switch d := src.Domain.(type) {
	case FreeRoutableDomain:
		return srcOut >= 0 && srcOut < d.EmitterCount()
	case FixedRoutingDomain:
		e, ok := d.FixedRouting(src.Index)
		return ok && e == srcOut
	case ContextIndependentRoutableDomain:
		return d.RoutingAllowed(src.Index, srcOut)
	case ContextDependentRoutableDomain:
		return d.RoutingAllowedInContext(src.Index, srcOut, routingBuilderView{b: b})
	default:
		return false
	}
}

// ValidEdgesFrom walks the topology's outgoing connectors from src's
// domain and enumerates every target input the constraint accepts.
func (c *routingConstraint) ValidEdgesFrom(_ *graph.RestrictedBuilder[RoutingNodeLabel, struct{}], sv graph.VertexID) []graph.VertexID {
	b := c.b
	src := b.Label(sv)
	dv, ok := b.tg.VertexByLabel(src.Domain)
	if !ok {
		return nil
	}
	var out []graph.VertexID
	for _, te := range b.tg.OutEdges(dv) {
		conn := b.tg.EdgeLabel(te)
		tgt := conn.Target()
		recv, isReceiver := tgt.(Receiver)
		if !isReceiver {
			continue
		}
		for i := 0; i < recv.ReceiverCount(); i++ {
			tv, exists := b.Lookup(RoutingNodeLabel{Domain: tgt, Index: i, Type: InputNode})
			if !exists {
				continue
			}
			if c.IsEdgeAllowed(nil, sv, tv) {
				out = append(out, tv)
			}
		}
	}
	return out
}

// ValidEdgesTo walks the topology's incoming connectors into dst's
// domain and enumerates every source node the constraint accepts.
func (c *routingConstraint) ValidEdgesTo(_ *graph.RestrictedBuilder[RoutingNodeLabel, struct{}], dv graph.VertexID) []graph.VertexID {
	b := c.b
	dst := b.Label(dv)
	tv, ok := b.tg.VertexByLabel(dst.Domain)
	if !ok {
		return nil
	}
	var out []graph.VertexID
	for _, te := range b.tg.InEdges(tv) {
		srcV, _ := b.tg.Endpoints(te)
		srcDomain := b.tg.VertexLabel(srcV)
		for _, nv := range b.domainNodes[srcDomain] {
			if c.IsEdgeAllowed(nil, nv, dv) {
				out = append(out, nv)
			}
		}
	}
	return out
}

// RoutingGraph is the immutable result of routing: every node with its
// final trigger type and single downstream choice.
type RoutingGraph struct {
	labels  []RoutingNodeLabel
	trigger []TriggerType
	owner   []Domain
	out     []int
	in      [][]int
	index   map[RoutingNodeLabel]int
	topoIdx map[Domain]int
}

// Build runs the final backward pass over the topological order: any
// node whose trigger is still undetermined inherits its successor's, so
// every routed device path ends with a definite trigger type.
func (b *RoutingBuilder) Build() (*RoutingGraph, error) {
	n := b.rb.VertexCount()
	rg := &RoutingGraph{
		labels:  make([]RoutingNodeLabel, n),
		trigger: make([]TriggerType, n),
		owner:   make([]Domain, n),
		out:     make([]int, n),
		in:      make([][]int, n),
		index:   make(map[RoutingNodeLabel]int, n),
		topoIdx: b.topoIdx,
	}
	for v := 0; v < n; v++ {
		rg.labels[v] = b.Label(graph.VertexID(v))
		rg.trigger[v] = b.trigger[v]
		rg.owner[v] = b.owner[v]
		tgt := b.OutTarget(graph.VertexID(v))
		rg.out[v] = int(tgt)
		if tgt != graph.NoVertex {
			rg.in[tgt] = append(rg.in[tgt], v)
		}
		rg.index[rg.labels[v]] = v
	}
	// nodes were created in domain topological order with ascending
	// indices, so a reverse scan visits successors before predecessors
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, bb := rg.labels[order[i]], rg.labels[order[j]]
		ta, tb := rg.topoIdx[a.Domain], rg.topoIdx[bb.Domain]
		if ta != tb {
			return ta < tb
		}
		return a.Index < bb.Index
	})
	for i := n - 1; i >= 0; i-- {
		v := order[i]
		if rg.trigger[v] == TriggerUndetermined && rg.out[v] != int(graph.NoVertex) {
			rg.trigger[v] = rg.trigger[rg.out[v]]
		}
	}
	return rg, nil
}

func (g *RoutingGraph) NodeCount() int                    { return len(g.labels) }
func (g *RoutingGraph) Label(v int) RoutingNodeLabel      { return g.labels[v] }
func (g *RoutingGraph) Trigger(v int) TriggerType         { return g.trigger[v] }
func (g *RoutingGraph) Owner(v int) Domain                { return g.owner[v] }
func (g *RoutingGraph) OutTarget(v int) int               { return g.out[v] }
func (g *RoutingGraph) InSources(v int) []int             { return g.in[v] }
func (g *RoutingGraph) TopoIndex(d Domain) int            { return g.topoIdx[d] }

// Lookup resolves a label to its node index.
func (g *RoutingGraph) Lookup(label RoutingNodeLabel) (int, bool) {
	v, ok := g.index[label]
	return v, ok
}

// PathToSink returns the nodes on v's unique routed path, starting at v
// and ending at the path's sink.
func (g *RoutingGraph) PathToSink(v int) []int {
	var path []int
	for cur := v; cur != int(graph.NoVertex); cur = g.out[cur] {
		path = append(path, cur)
	}
	return path
}
