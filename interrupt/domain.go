// Package interrupt implements the kernel's interrupt topology and
// routing core: a declarative graph of interrupt domains connected by
// domain connectors, a routing policy that picks a concrete
// device-to-vector mapping subject to per-link constraints, and the
// materialization/dispatch layer that programs hardware, builds the
// per-vector handler tables, and issues end-of-interrupt chains in
// topological order.
package interrupt

// Domain is the base capability every interrupt domain carries. The
// richer capabilities (emitter, receiver, routable, maskable, EOI,
// configurable activation) are separately queryable facets tested with
// type assertions, so a domain advertises exactly the subset it
// implements and a cast is O(1).
type Domain interface {
	DomainName() string
}

// Emitter is a domain with N output lines, indexed 0..N-1.
type Emitter interface {
	Domain
	EmitterCount() int
}

// Receiver is a domain with M input lines, indexed 0..M-1.
type Receiver interface {
	Domain
	ReceiverCount() int
}

// RoutableDomain can map an input index to an output index and program
// that mapping into hardware.
type RoutableDomain interface {
	Receiver
	Emitter
	// RouteInterrupt programs the hardware so input fromReceiver is
	// delivered on output toEmitter.
	RouteInterrupt(fromReceiver, toEmitter int) bool
}

// FixedRoutingDomain is a routable domain whose mapping is a function
// baked into the hardware.
type FixedRoutingDomain interface {
	RoutableDomain
	// FixedRouting returns the baked-in output for the given input.
	FixedRouting(receiver int) (emitter int, ok bool)
}

// ContextIndependentRoutableDomain is a routable domain where each
// (input, output) pair is independently legal or not.
type ContextIndependentRoutableDomain interface {
	RoutableDomain
	RoutingAllowed(receiver, emitter int) bool
}

// RoutingView gives a context-dependent domain read access to the
// partial routing graph built so far.
type RoutingView interface {
	// RouteOf returns the currently chosen downstream node for the
	// given node, if any.
	RouteOf(d Domain, index int) (target Domain, targetIndex int, ok bool)
}

// ContextDependentRoutableDomain is a routable domain whose legality
// may depend on other mappings already chosen.
type ContextDependentRoutableDomain interface {
	RoutableDomain
	RoutingAllowedInContext(receiver, emitter int, view RoutingView) bool
}

// FreeRoutableDomain is a routable domain where any (input, output)
// pair is legal.
type FreeRoutableDomain interface {
	RoutableDomain
	FreelyRoutable()
}

// ActivationType describes how a receiver line is signalled.
type ActivationType struct {
	Level     bool // level-triggered when set, edge-triggered otherwise
	ActiveLow bool // active-low polarity when set, active-high otherwise
}

// ConfigurableActivationTypeDomain carries a per-receiver activation
// type.
type ConfigurableActivationTypeDomain interface {
	Receiver
	ActivationType(receiver int) (ActivationType, bool)
	SetActivationType(receiver int, at ActivationType) bool
}

// MaskableDomain can mask individual receiver lines.
type MaskableDomain interface {
	Receiver
	SetReceiverMasked(receiver int, masked bool)
	ReceiverMasked(receiver int) bool
}

// EOIDomain emits an end-of-interrupt acknowledgment.
type EOIDomain interface {
	Domain
	IssueEOI()
}

// Connector connects a source domain's emitter side to a target
// domain's receiver side via two partial functions.
type Connector interface {
	Source() Domain
	Target() Domain
	// FromOutput maps a source output line to the target input it
	// drives, when that mapping is unambiguous.
	FromOutput(srcOut int) (tgtIn int, ok bool)
	// FromInput maps a target input line back to the source output
	// that can drive it.
	FromInput(tgtIn int) (srcOut int, ok bool)
}

// RouteProgrammer is an optional connector capability for links whose
// source side must be told which target line was chosen (e.g. a timer
// comparator with a configurable interrupt route). Materialization
// invokes it for every routed edge crossing the connector.
type RouteProgrammer interface {
	ProgramRoute(srcOut, tgtIn int) bool
}

// IdentityConnector maps output i to input i for i < count.
type IdentityConnector struct {
	Src, Tgt Domain
	Count    int
}

func (c *IdentityConnector) Source() Domain { return c.Src }
func (c *IdentityConnector) Target() Domain { return c.Tgt }

func (c *IdentityConnector) FromOutput(srcOut int) (int, bool) {
	if srcOut < 0 || srcOut >= c.Count {
		return 0, false
	}
	return srcOut, true
}

func (c *IdentityConnector) FromInput(tgtIn int) (int, bool) {
	if tgtIn < 0 || tgtIn >= c.Count {
		return 0, false
	}
	return tgtIn, true
}

// OffsetConnector maps output i to input i+Offset for i < count, e.g. a
// GSI-base window into an IOAPIC.
type OffsetConnector struct {
	Src, Tgt Domain
	Offset   int
	Count    int
}

func (c *OffsetConnector) Source() Domain { return c.Src }
func (c *OffsetConnector) Target() Domain { return c.Tgt }

func (c *OffsetConnector) FromOutput(srcOut int) (int, bool) {
	if srcOut < 0 || srcOut >= c.Count {
		return 0, false
	}
	return srcOut + c.Offset, true
}

func (c *OffsetConnector) FromInput(tgtIn int) (int, bool) {
	i := tgtIn - c.Offset
	if i < 0 || i >= c.Count {
		return 0, false
	}
	return i, true
}

// MapConnector maps via an explicit table; inputs not in the table are
// unconnected.
type MapConnector struct {
	Src, Tgt  Domain
	OutToIn   map[int]int
	inToOut   map[int]int
}

func NewMapConnector(src, tgt Domain, outToIn map[int]int) *MapConnector {
	c := &MapConnector{Src: src, Tgt: tgt, OutToIn: outToIn, inToOut: make(map[int]int, len(outToIn))}
	for o, i := range outToIn {
		// when two outputs share a target line, the lowest output is
		// the one an input resolves back to
		if cur, ok := c.inToOut[i]; !ok || o < cur {
			c.inToOut[i] = o
		}
	}
	return c
}

func (c *MapConnector) Source() Domain { return c.Src }
func (c *MapConnector) Target() Domain { return c.Tgt }

func (c *MapConnector) FromOutput(srcOut int) (int, bool) {
	i, ok := c.OutToIn[srcOut]
	return i, ok
}

func (c *MapConnector) FromInput(tgtIn int) (int, bool) {
	o, ok := c.inToOut[tgtIn]
	return o, ok
}

// CPUVectorFile is the distinguished receiver at the top of every
// routing path: the CPU's interrupt vector table.
type CPUVectorFile struct {
	size int
}

// NewCPUVectorFile builds the vector-file domain with the total vector
// count.
func NewCPUVectorFile(size int) *CPUVectorFile {
	return &CPUVectorFile{size: size}
}

func (v *CPUVectorFile) DomainName() string { return "cpu-vector-file" }
func (v *CPUVectorFile) ReceiverCount() int { return v.size }
