package interrupt

import (
	"fmt"

	"github.com/sm5ve/crocos/ds"
	"github.com/sm5ve/crocos/graph"
)

// RoutingPolicy decides the concrete device-to-vector mapping over the
// skeleton a RoutingBuilder provides.
type RoutingPolicy interface {
	BuildRoutingGraph(b *RoutingBuilder) (*RoutingGraph, error)
}

// GreedyRoutingPolicy routes each receiver to the lightest-loaded legal
// target, visiting domains in topological order and never backtracking.
// Hardware combinations that defeat the greedy choice are rejected by
// the builder and reported.
type GreedyRoutingPolicy struct{}

func (GreedyRoutingPolicy) BuildRoutingGraph(b *RoutingBuilder) (*RoutingGraph, error) {
	n := b.NodeCount()

	// load[v] counts the devices whose paths pass through v: 1 at each
	// device emitter, accumulated forward through pre-existing forced
	// edges so every node's load equals the count of devices whose
	// paths pass through it
	load := make([]int, n)
	for _, d := range b.DomainsInOrder() {
		for _, v := range b.NodesOf(d) {
			if b.Label(v).Type == DeviceNode {
				load[v]++
			}
			if tgt := b.OutTarget(v); tgt != graph.NoVertex {
				load[tgt] += load[v]
			}
		}
	}

	// pick returns the lightest-loaded currently legal target of sv,
	// ties broken by topological order then index, via a max-heap keyed
	// by inverse load
	pick := func(sv graph.VertexID) (graph.VertexID, bool) {
		candidates := b.ValidEdgesFrom(sv)
		if len(candidates) == 0 {
			return graph.NoVertex, false
		}
		heap := ds.NewMaxHeap[graph.VertexID](func(a, c graph.VertexID) bool {
			if load[a] != load[c] {
				return load[a] > load[c]
			}
			la, lc := b.Label(a), b.Label(c)
			ta, tc := b.topoIdx[la.Domain], b.topoIdx[lc.Domain]
			if ta != tc {
				return ta > tc
			}
			return la.Index > lc.Index
		})
		for _, cand := range candidates {
			heap.Push(cand)
		}
		best, _ := heap.Pop()
		return best, true
	}

	route := func(sv graph.VertexID) error {
		if b.OutTarget(sv) != graph.NoVertex {
			return nil
		}
		tgt, found := pick(sv)
		if !found {
			return fmt.Errorf("%w: no legal target for %s", ErrRouteNotAllowed, b.Label(sv))
		}
		if err := b.AddRouteByVertex(sv, tgt); err != nil {
			return err
		}
		// propagate the new traffic down the chosen path
		for cur := tgt; cur != graph.NoVertex; cur = b.OutTarget(cur) {
			load[cur] += load[sv]
		}
		return nil
	}

	// one pass in topological order: devices route before the domains
	// downstream of them, so receiver loads are final by the time each
	// domain picks its targets
	for _, d := range b.DomainsInOrder() {
		if _, isReceiver := d.(Receiver); !isReceiver {
			// pure emitter: ambiguous connectors left unrouted by the
			// forced-edge pass get their choice here
			for _, sv := range b.NodesOf(d) {
				if err := route(sv); err != nil {
					return nil, err
				}
			}
			continue
		}
		if _, isRoutable := d.(RoutableDomain); !isRoutable {
			continue
		}
		if _, isFixed := d.(FixedRoutingDomain); isFixed {
			continue
		}
		nodes := b.NodesOf(d)
		if _, isFree := d.(FreeRoutableDomain); isFree {
			// receivers in descending load order so the heaviest
			// upstream traffic gets the lightest target first
			byLoad := append([]graph.VertexID(nil), nodes...)
			for i := 1; i < len(byLoad); i++ {
				for j := i; j > 0 && load[byLoad[j]] > load[byLoad[j-1]]; j-- {
					byLoad[j], byLoad[j-1] = byLoad[j-1], byLoad[j]
				}
			}
			nodes = byLoad
		}
		for _, sv := range nodes {
			if load[sv] == 0 {
				// no device points at this receiver
				continue
			}
			if err := route(sv); err != nil {
				return nil, err
			}
		}
	}

	return b.Build()
}
