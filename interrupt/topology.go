package interrupt

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sm5ve/crocos/graph"
	"github.com/sm5ve/crocos/klog"
)

var (
	ErrDomainRegistered    = errors.New("domain already registered")
	ErrDomainUnknown       = errors.New("connector endpoint not registered")
	ErrNotEmitter          = errors.New("connector source does not implement emitter")
	ErrNotReceiver         = errors.New("connector target does not implement receiver")
	ErrWouldCycle          = errors.New("connector would make the topology cyclic")
	ErrExclusiveConflict   = errors.New("target input already claimed by an exclusive connector")
	ErrConnectorDuplicated = errors.New("connector between these domains already registered")
)

type endpoint struct {
	domain Domain
	index  int
}

// Topology accumulates the hardware description: domains plus the
// connectors between them. It owns a graph builder for the topology
// graph; any mutation invalidates the cached graph and the derived
// topological order.
type Topology struct {
	mu sync.Mutex

	builder    *graph.Builder[Domain, Connector]
	domains    []Domain
	connectors []Connector
	exclusive  map[endpoint]Connector

	cached *graph.Graph[Domain, Connector]

	lgr *klog.Logger
}

func NewTopology(lgr *klog.Logger) *Topology {
	if lgr == nil {
		lgr = klog.NewDiscardLogger()
	}
	return &Topology{
		builder:   graph.NewBuilder[Domain, Connector](graph.StructureFlags{Simple: true, Acyclic: true}),
		exclusive: make(map[endpoint]Connector),
		lgr:       lgr,
	}
}

// RegisterDomain adds a domain to the topology.
func (t *Topology) RegisterDomain(d Domain) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.builder.AddVertex(d); err != nil {
		return ErrDomainRegistered
	}
	t.domains = append(t.domains, d)
	t.cached = nil
	t.lgr.Debug("interrupt domain registered", klog.KV("domain", d.DomainName()))
	return nil
}

// RegisterConnector adds a connector between two pre-registered
// domains. The source must implement Emitter and the target Receiver,
// and the edge must not make the topology cyclic.
func (t *Topology) RegisterConnector(c Connector) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registerConnectorLocked(c)
}

func (t *Topology) registerConnectorLocked(c Connector) error {
	src, ok := t.builder.VertexByLabel(c.Source())
	if !ok {
		return fmt.Errorf("%w: source %s", ErrDomainUnknown, c.Source().DomainName())
	}
	dst, ok := t.builder.VertexByLabel(c.Target())
	if !ok {
		return fmt.Errorf("%w: target %s", ErrDomainUnknown, c.Target().DomainName())
	}
	if _, isEmitter := c.Source().(Emitter); !isEmitter {
		return fmt.Errorf("%w: %s", ErrNotEmitter, c.Source().DomainName())
	}
	if _, isReceiver := c.Target().(Receiver); !isReceiver {
		return fmt.Errorf("%w: %s", ErrNotReceiver, c.Target().DomainName())
	}
	if t.reaches(dst, src) {
		return fmt.Errorf("%w: %s -> %s", ErrWouldCycle, c.Source().DomainName(), c.Target().DomainName())
	}
	if _, err := t.builder.AddEdge(src, dst, c); err != nil {
		return fmt.Errorf("%w: %s -> %s", ErrConnectorDuplicated, c.Source().DomainName(), c.Target().DomainName())
	}
	t.connectors = append(t.connectors, c)
	t.cached = nil
	t.lgr.Debug("interrupt connector registered",
		klog.KV("source", c.Source().DomainName()),
		klog.KV("target", c.Target().DomainName()))
	return nil
}

// RegisterExclusiveConnector registers a connector that declares
// ownership of every target input it can drive: no other connector may
// route into those inputs. A second exclusive claim over any of the
// same target inputs fails and leaves the registry unchanged.
func (t *Topology) RegisterExclusiveConnector(c Connector) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	recv, ok := c.Target().(Receiver)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotReceiver, c.Target().DomainName())
	}
	var claims []endpoint
	for i := 0; i < recv.ReceiverCount(); i++ {
		if _, driven := c.FromInput(i); !driven {
			continue
		}
		ep := endpoint{domain: c.Target(), index: i}
		if prior, claimed := t.exclusive[ep]; claimed {
			t.lgr.Error("exclusive connector claim conflict",
				klog.KV("target", c.Target().DomainName()),
				klog.KV("input", i),
				klog.KV("holder", prior.Source().DomainName()))
			return fmt.Errorf("%w: %s input %d", ErrExclusiveConflict, c.Target().DomainName(), i)
		}
		claims = append(claims, ep)
	}
	if err := t.registerConnectorLocked(c); err != nil {
		return err
	}
	for _, ep := range claims {
		t.exclusive[ep] = c
	}
	return nil
}

// reaches reports whether dst is reachable from src through the
// currently accumulated edges.
func (t *Topology) reaches(src, dst graph.VertexID) bool {
	if src == dst {
		return true
	}
	seen := make(map[graph.VertexID]bool)
	stack := []graph.VertexID{src}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[v] {
			continue
		}
		seen[v] = true
		for _, e := range t.builder.OutEdges(v) {
			_, w := t.builder.Endpoints(e)
			if w == dst {
				return true
			}
			stack = append(stack, w)
		}
	}
	return false
}

// Graph returns the topology graph, rebuilding it if a mutation
// invalidated the cache.
func (t *Topology) Graph() (*graph.Graph[Domain, Connector], error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cached == nil {
		g, err := t.builder.Build()
		if err != nil {
			return nil, err
		}
		t.cached = g
	}
	return t.cached, nil
}

// Domains returns the registered domains in insertion order.
func (t *Topology) Domains() []Domain {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Domain(nil), t.domains...)
}

// ExclusiveOwner returns the connector owning the given target input,
// if an exclusive connector claimed it.
func (t *Topology) ExclusiveOwner(d Domain, input int) (Connector, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.exclusive[endpoint{domain: d, index: input}]
	return c, ok
}
