package interrupt

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sm5ve/crocos/graph"
	"github.com/sm5ve/crocos/klog"
	"github.com/sm5ve/crocos/lock"
)

// Handler is invoked for every delivery on a vector a device emitter is
// routed to.
type Handler func(vector int)

// handlerSlot is the shared indirection between the per-vector table
// and handler registration: replacing the function in place is visible
// to dispatch without re-materialization.
type handlerSlot struct {
	fn atomic.Pointer[Handler]
}

// EOIChain is the ordered sequence of EOI domains that must acknowledge
// an interrupt on a vector. Multiple vectors sharing the same sorted
// chain point at one chain object.
type EOIChain struct {
	Domains []EOIDomain
}

type eoiBehavior struct {
	chain   *EOIChain
	trigger TriggerType
}

var ErrNoVectorFile = errors.New("topology has no CPU vector file domain")
var ErrUnroutedDevice = errors.New("device path does not reach the CPU vector file")

// Manager ties the topology, the routing policy, and the dispatch
// tables together. The tables it builds are read on every interrupt
// delivery; writes happen only inside UpdateRouting, serialized by
// disabling interrupts around the swap.
type Manager struct {
	topo       *Topology
	vectorFile *CPUVectorFile
	policy     RoutingPolicy
	lgr        *klog.Logger
	ic         lock.InterruptController

	mu         sync.Mutex
	registered map[RoutingNodeLabel]*handlerSlot
	warnedNoHandler map[RoutingNodeLabel]bool

	handlersByVector [][]*handlerSlot
	eoiByVector      []eoiBehavior
	vectorByNode     map[RoutingNodeLabel]int
	routing          *RoutingGraph
}

// NewManager builds a dispatch manager over the given topology. The
// vector file must already be registered as a domain.
func NewManager(topo *Topology, vf *CPUVectorFile, policy RoutingPolicy, ic lock.InterruptController, lgr *klog.Logger) *Manager {
	if lgr == nil {
		lgr = klog.NewDiscardLogger()
	}
	if ic == nil {
		ic = lock.NoopInterruptController{}
	}
	return &Manager{
		topo:            topo,
		vectorFile:      vf,
		policy:          policy,
		lgr:             lgr,
		ic:              ic,
		registered:      make(map[RoutingNodeLabel]*handlerSlot),
		warnedNoHandler: make(map[RoutingNodeLabel]bool),
	}
}

// Routing returns the most recently materialized routing graph.
func (m *Manager) Routing() *RoutingGraph { return m.routing }

// VectorOf returns the final vector number assigned to a routing node.
func (m *Manager) VectorOf(label RoutingNodeLabel) (int, bool) {
	v, ok := m.vectorByNode[label]
	return v, ok
}

// EOIChainFor returns the EOI chain bound to a vector, if any.
func (m *Manager) EOIChainFor(vector int) *EOIChain {
	if vector < 0 || vector >= len(m.eoiByVector) {
		return nil
	}
	return m.eoiByVector[vector].chain
}

// RegisterHandler binds (or replaces, in place) the handler for a
// device emitter's routing node. Re-registering on the same node
// replaces the function through the shared indirection, so no
// re-materialization is required for a handler update.
func (m *Manager) RegisterHandler(d Domain, index int, fn Handler) {
	label := RoutingNodeLabel{Domain: d, Index: index, Type: DeviceNode}
	m.mu.Lock()
	slot, ok := m.registered[label]
	if !ok {
		slot = &handlerSlot{}
		m.registered[label] = slot
	}
	m.mu.Unlock()
	slot.fn.Store(&fn)
}

// UpdateRouting rebuilds the routing graph via the policy, programs
// hardware, and swaps in fresh dispatch tables. It is idempotent on an
// unchanged topology.
func (m *Manager) UpdateRouting() error {
	builder, err := NewRoutingGraphBuilder(m.topo)
	if err != nil {
		return err
	}
	rg, err := m.policy.BuildRoutingGraph(builder)
	if err != nil {
		return err
	}
	tg, err := m.topo.Graph()
	if err != nil {
		return err
	}
	if _, ok := tg.VertexByLabel(m.vectorFile); !ok {
		return ErrNoVectorFile
	}

	connectorOf := func(src, dst Domain) Connector {
		sv, _ := tg.VertexByLabel(src)
		for _, e := range tg.OutEdges(sv) {
			_, dv := tg.Endpoints(e)
			if tg.VertexLabel(dv) == dst {
				return tg.EdgeLabel(e)
			}
		}
		return nil
	}

	// program hardware along every routed edge
	for v := 0; v < rg.NodeCount(); v++ {
		tgt := rg.OutTarget(v)
		if tgt == int(graph.NoVertex) {
			continue
		}
		src, dst := rg.Label(v), rg.Label(tgt)
		conn := connectorOf(src.Domain, dst.Domain)
		if conn == nil {
			m.lgr.Fatalf("routed edge %s -> %s has no topology connector", src, dst)
		}
		srcOut, connected := conn.FromInput(dst.Index)
		if !connected {
			m.lgr.Fatalf("routed edge %s -> %s crosses a disconnected link", src, dst)
		}
		if src.Type == InputNode {
			rd, routable := src.Domain.(RoutableDomain)
			_, fixed := src.Domain.(FixedRoutingDomain)
			if routable && !fixed {
				if !rd.RouteInterrupt(src.Index, srcOut) {
					m.lgr.Fatalf("hardware rejected route %s -> %s", src, dst)
				}
			}
		}
		if prog, ok := conn.(RouteProgrammer); ok {
			if !prog.ProgramRoute(srcOut, dst.Index) {
				m.lgr.Fatalf("connector rejected route %s -> %s", src, dst)
			}
		}
	}

	// fuse final vector numbers backward: sort edges by target-domain
	// topological order descending (vector-file targets first), target
	// index ascending, then propagate each source's vector from its
	// target
	type fuseEdge struct{ src, dst int }
	var edges []fuseEdge
	for v := 0; v < rg.NodeCount(); v++ {
		if tgt := rg.OutTarget(v); tgt != int(graph.NoVertex) {
			edges = append(edges, fuseEdge{src: v, dst: tgt})
		}
	}
	sort.SliceStable(edges, func(i, j int) bool {
		di, dj := rg.Label(edges[i].dst), rg.Label(edges[j].dst)
		ti, tj := rg.TopoIndex(di.Domain), rg.TopoIndex(dj.Domain)
		if ti != tj {
			return ti > tj
		}
		return di.Index < dj.Index
	})
	vec := make([]int, rg.NodeCount())
	for i := range vec {
		vec[i] = -1
	}
	for _, e := range edges {
		if rg.Label(e.dst).Domain == Domain(m.vectorFile) {
			vec[e.src] = rg.Label(e.dst).Index
		} else if vec[e.dst] != -1 {
			vec[e.src] = vec[e.dst]
		}
	}

	vectorCount := m.vectorFile.ReceiverCount()
	handlers := make([][]*handlerSlot, vectorCount)
	behaviors := make([]eoiBehavior, vectorCount)
	vectorByNode := make(map[RoutingNodeLabel]int)
	eoiSets := make(map[int]map[EOIDomain]bool)

	m.mu.Lock()
	for v := 0; v < rg.NodeCount(); v++ {
		label := rg.Label(v)
		if label.Type != DeviceNode {
			continue
		}
		if rg.OutTarget(v) == int(graph.NoVertex) {
			continue
		}
		if vec[v] < 0 || vec[v] >= vectorCount {
			m.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrUnroutedDevice, label)
		}
		vectorByNode[label] = vec[v]
		slot, ok := m.registered[label]
		if !ok {
			if !m.warnedNoHandler[label] {
				m.lgr.Warn("routed emitter has no registered handler",
					klog.KV("node", label.String()), klog.KVHex("vector", uint64(vec[v])))
				m.warnedNoHandler[label] = true
			}
			slot = &handlerSlot{}
			m.registered[label] = slot
		}
		handlers[vec[v]] = append(handlers[vec[v]], slot)

		set := eoiSets[vec[v]]
		if set == nil {
			set = make(map[EOIDomain]bool)
			eoiSets[vec[v]] = set
		}
		for _, pv := range rg.PathToSink(v) {
			if eoi, isEOI := rg.Label(pv).Domain.(EOIDomain); isEOI {
				set[eoi] = true
			}
		}
	}
	m.mu.Unlock()

	// per-vector EOI chains: topological order, deduplicated, shared
	// between vectors with identical chains
	chainCache := make(map[string]*EOIChain)
	for vector, set := range eoiSets {
		chain := make([]EOIDomain, 0, len(set))
		for d := range set {
			chain = append(chain, d)
		}
		sort.Slice(chain, func(i, j int) bool {
			return rg.TopoIndex(chain[i]) < rg.TopoIndex(chain[j])
		})
		key := ""
		for _, d := range chain {
			key += d.DomainName() + "\x00"
		}
		shared, ok := chainCache[key]
		if !ok {
			shared = &EOIChain{Domains: chain}
			chainCache[key] = shared
		}
		trigger := TriggerUndetermined
		if vfNode, found := rg.Lookup(RoutingNodeLabel{Domain: m.vectorFile, Index: vector, Type: InputNode}); found {
			trigger = rg.Trigger(vfNode)
		}
		behaviors[vector] = eoiBehavior{chain: shared, trigger: trigger}
	}

	// mask every maskable receiver with no downstream edge; enable the
	// routed ones
	for v := 0; v < rg.NodeCount(); v++ {
		label := rg.Label(v)
		if label.Type != InputNode {
			continue
		}
		if md, ok := label.Domain.(MaskableDomain); ok {
			md.SetReceiverMasked(label.Index, rg.OutTarget(v) == int(graph.NoVertex))
		}
	}

	token := m.ic.Disable()
	m.routing = rg
	m.handlersByVector = handlers
	m.eoiByVector = behaviors
	m.vectorByNode = vectorByNode
	m.ic.Restore(token)

	m.lgr.Info("interrupt routing materialized",
		klog.KV("nodes", rg.NodeCount()),
		klog.KV("vectors", len(eoiSets)))
	return nil
}

// Dispatch delivers interrupt vector v: the EOI chain is issued in
// stored (topological) order, then every registered handler for the
// vector runs. Null slots are skipped. Level-triggered paths rely on
// the innermost EOI domain re-asserting a still-pending line when its
// EOI is issued.
func (m *Manager) Dispatch(vector int) {
	if vector < 0 || vector >= len(m.eoiByVector) {
		m.lgr.Fatalf("dispatch on unmapped vector %d", vector)
		return
	}
	beh := m.eoiByVector[vector]
	if beh.chain != nil {
		for _, d := range beh.chain.Domains {
			d.IssueEOI()
		}
	}
	for _, slot := range m.handlersByVector[vector] {
		if fp := slot.fn.Load(); fp != nil && *fp != nil {
			(*fp)(vector)
		}
	}
}
