package hal

import (
	"github.com/sm5ve/crocos/addr"
	"github.com/sm5ve/crocos/interrupt"
	"github.com/sm5ve/crocos/klog"
)

// MADT is the pre-parsed multiple APIC description table the boot path
// hands over: the ACPI walk itself happens outside the core.
type MADT struct {
	LAPICs    []LAPICEntry
	IOAPICs   []IOAPICEntry
	Overrides []SourceOverride
}

// LAPICEntry describes one processor's local APIC.
type LAPICEntry struct {
	ProcessorID uint8
	APICID      uint8
	Enabled     bool
}

// IOAPICEntry describes one discovered I/O APIC.
type IOAPICEntry struct {
	ID      uint8
	Base    addr.PhysAddr
	GSIBase uint32
	Lines   int
}

// HPETInfo is the optional HPET table: one base address plus the
// counter's tick period.
type HPETInfo struct {
	Base        addr.PhysAddr
	PeriodFs    uint64
	Comparators int
	// RouteCaps[i] is comparator i's INT_ROUTE_CAP mask
	RouteCaps []uint32
}

// Platform is the assembled hardware description: every domain and
// adapter the MADT-driven setup produced.
type Platform struct {
	VectorFile *interrupt.CPUVectorFile
	LAPIC      *LAPIC
	LAPICTimer *LAPICTimer
	IOAPICs    []*IOAPIC
	IRQ        *IRQDomain
	HPET       *HPET
	PIT        *PIT

	ProcessorCount int
}

// VectorBase is the first vector available to device interrupts; the
// low vectors belong to CPU exceptions.
const VectorBase = 0x20

// VectorCount is the size of the CPU vector file.
const VectorCount = 256

// BuildPlatform registers the domains and connectors a MADT (plus an
// optional HPET table) describes into the topology: the vector file at
// the top, the bootstrap LAPIC under it (claiming its vector window
// exclusively), the IOAPICs, the legacy IRQ demultiplexer with its
// source overrides, and the HPET comparators with their routable-line
// connectors.
func BuildPlatform(topo *interrupt.Topology, madt *MADT, hpetInfo *HPETInfo, lgr *klog.Logger) (*Platform, error) {
	if lgr == nil {
		lgr = klog.NewDiscardLogger()
	}
	p := &Platform{}
	for _, l := range madt.LAPICs {
		if l.Enabled {
			p.ProcessorCount++
		}
	}
	if p.ProcessorCount == 0 {
		p.ProcessorCount = 1
	}

	p.VectorFile = interrupt.NewCPUVectorFile(VectorCount)
	if err := topo.RegisterDomain(p.VectorFile); err != nil {
		return nil, err
	}

	bootstrapAPICID := uint32(0)
	if len(madt.LAPICs) > 0 {
		bootstrapAPICID = uint32(madt.LAPICs[0].APICID)
	}
	p.LAPIC = NewLAPIC(bootstrapAPICID, VectorCount-VectorBase)
	p.LAPICTimer = NewLAPICTimer(p.LAPIC)
	if err := topo.RegisterDomain(p.LAPIC); err != nil {
		return nil, err
	}
	// the LAPIC owns the device-vector window outright
	if err := topo.RegisterExclusiveConnector(&interrupt.OffsetConnector{
		Src: p.LAPIC, Tgt: p.VectorFile, Offset: VectorBase, Count: VectorCount - VectorBase,
	}); err != nil {
		return nil, err
	}

	for _, e := range madt.IOAPICs {
		lines := e.Lines
		if lines == 0 {
			lines = 24
		}
		ioapic := NewIOAPIC(uint32(e.ID), int(e.GSIBase), lines, VectorBase, lgr)
		if err := topo.RegisterDomain(ioapic); err != nil {
			return nil, err
		}
		if err := topo.RegisterConnector(&interrupt.IdentityConnector{
			Src: ioapic, Tgt: p.LAPIC, Count: minInt(lines, VectorCount-VectorBase),
		}); err != nil {
			return nil, err
		}
		p.IOAPICs = append(p.IOAPICs, ioapic)
	}

	p.IRQ = NewIRQDomain(lgr)
	if err := topo.RegisterDomain(p.IRQ); err != nil {
		return nil, err
	}
	for _, conn := range BuildIRQConnectors(p.IRQ, p.IOAPICs, madt.Overrides, lgr) {
		if err := topo.RegisterConnector(conn); err != nil {
			return nil, err
		}
	}

	p.PIT = NewPIT(p.IRQ)
	if err := topo.RegisterDomain(p.PIT); err != nil {
		return nil, err
	}
	if len(p.IOAPICs) > 0 {
		// the PIT's output enters the legacy IRQ space at IRQ 0
		if err := topo.RegisterConnector(interrupt.NewMapConnector(p.PIT, p.IRQ, map[int]int{0: PITLegacyIRQ})); err != nil {
			return nil, err
		}
	}

	if hpetInfo != nil {
		p.HPET = NewHPET(hpetInfo.PeriodFs, hpetInfo.Comparators, hpetInfo.RouteCaps, lgr)
		for i := 0; i < hpetInfo.Comparators; i++ {
			cmp := p.HPET.Comparator(i)
			if err := topo.RegisterDomain(cmp); err != nil {
				return nil, err
			}
			if len(p.IOAPICs) > 0 {
				ioapic := p.IOAPICs[0]
				cmp.Pulse = func(line int) {
					ioapic.SetIRQ(line, true)
					ioapic.SetIRQ(line, false)
				}
				if err := topo.RegisterConnector(&HPETComparatorConnector{Cmp: cmp, IOAPIC: ioapic}); err != nil {
					return nil, err
				}
			}
		}
	}

	lgr.Info("platform assembled",
		klog.KV("processors", p.ProcessorCount),
		klog.KV("ioapics", len(p.IOAPICs)),
		klog.KV("hpet", p.HPET != nil))
	return p, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
