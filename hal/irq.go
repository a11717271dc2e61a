package hal

import (
	"github.com/sm5ve/crocos/interrupt"
	"github.com/sm5ve/crocos/klog"
)

// LegacyIRQCount is the ISA IRQ space the 8259-compatible wiring
// exposes.
const LegacyIRQCount = 16

// IRQDomain is the legacy ISA IRQ demultiplexer: sixteen inputs whose
// internal routing is the identity, with firmware source overrides
// expressed in the connectors toward the IOAPICs rather than inside
// the domain.
type IRQDomain struct {
	// targets[i] is the IOAPIC input that IRQ i ultimately drives,
	// resolved when the connectors are built
	targets [LegacyIRQCount]struct {
		ioapic *IOAPIC
		line   int
	}

	lgr *klog.Logger
}

func NewIRQDomain(lgr *klog.Logger) *IRQDomain {
	if lgr == nil {
		lgr = klog.NewDiscardLogger()
	}
	d := &IRQDomain{lgr: lgr}
	for i := range d.targets {
		d.targets[i].line = -1
	}
	return d
}

func (d *IRQDomain) DomainName() string { return "irq" }
func (d *IRQDomain) ReceiverCount() int { return LegacyIRQCount }
func (d *IRQDomain) EmitterCount() int  { return LegacyIRQCount }

func (d *IRQDomain) RouteInterrupt(fromReceiver, toEmitter int) bool {
	return fromReceiver == toEmitter
}

func (d *IRQDomain) FixedRouting(receiver int) (int, bool) {
	if receiver < 0 || receiver >= LegacyIRQCount {
		return 0, false
	}
	return receiver, true
}

// Raise drives legacy IRQ irq to the given state, following the
// override-resolved wiring into the owning IOAPIC.
func (d *IRQDomain) Raise(irq int, high bool) {
	if irq < 0 || irq >= LegacyIRQCount {
		return
	}
	t := d.targets[irq]
	if t.ioapic == nil {
		d.lgr.Warn("raise of unwired legacy IRQ", klog.KV("irq", irq))
		return
	}
	t.ioapic.SetIRQ(t.line, high)
}

// Target returns the IOAPIC input IRQ irq drives, for harness
// inspection.
func (d *IRQDomain) Target(irq int) (*IOAPIC, int) {
	t := d.targets[irq]
	return t.ioapic, t.line
}

var _ interrupt.FixedRoutingDomain = (*IRQDomain)(nil)

// SourceOverride is one MADT interrupt-source-override entry: legacy
// IRQ irq on the given bus actually arrives on global system interrupt
// GSI with the stated activation type.
type SourceOverride struct {
	Bus        uint8
	IRQ        uint8
	GSI        uint32
	Activation interrupt.ActivationType
}

// BuildIRQConnectors resolves the legacy IRQ wiring against the
// discovered IOAPICs: identity GSI mapping, adjusted by the source
// overrides, expressed as one MapConnector per IOAPIC that owns any of
// the sixteen lines. Firmware anomalies (non-ISA bus, duplicate IRQ,
// GSI outside every IOAPIC) are logged and skipped.
func BuildIRQConnectors(d *IRQDomain, ioapics []*IOAPIC, overrides []SourceOverride, lgr *klog.Logger) []interrupt.Connector {
	if lgr == nil {
		lgr = klog.NewDiscardLogger()
	}
	gsiOf := make(map[int]int, LegacyIRQCount)
	for irq := 0; irq < LegacyIRQCount; irq++ {
		gsiOf[irq] = irq
	}
	seen := make(map[uint8]bool)
	activations := make(map[int]interrupt.ActivationType)
	for _, ov := range overrides {
		if ov.Bus != 0 {
			lgr.Warn("source override on non-ISA bus skipped",
				klog.KV("bus", ov.Bus), klog.KV("irq", ov.IRQ))
			continue
		}
		if ov.IRQ >= LegacyIRQCount {
			lgr.Warn("source override for out-of-range IRQ skipped", klog.KV("irq", ov.IRQ))
			continue
		}
		if seen[ov.IRQ] {
			lgr.Warn("duplicate source override skipped", klog.KV("irq", ov.IRQ))
			continue
		}
		seen[ov.IRQ] = true
		gsiOf[int(ov.IRQ)] = int(ov.GSI)
		activations[int(ov.GSI)] = ov.Activation
	}

	var conns []interrupt.Connector
	for _, ioapic := range ioapics {
		outToIn := make(map[int]int)
		for irq := 0; irq < LegacyIRQCount; irq++ {
			gsi := gsiOf[irq]
			if !ioapic.CoversGSI(gsi) {
				continue
			}
			line := gsi - ioapic.GSIBase()
			outToIn[irq] = line
			d.targets[irq].ioapic = ioapic
			d.targets[irq].line = line
			if at, ok := activations[gsi]; ok {
				ioapic.SetActivationType(line, at)
			}
		}
		if len(outToIn) > 0 {
			conns = append(conns, interrupt.NewMapConnector(d, ioapic, outToIn))
		}
	}
	for irq := 0; irq < LegacyIRQCount; irq++ {
		if d.targets[irq].ioapic == nil {
			lgr.Warn("legacy IRQ has no owning IOAPIC", klog.KV("irq", irq), klog.KV("gsi", gsiOf[irq]))
		}
	}
	return conns
}
