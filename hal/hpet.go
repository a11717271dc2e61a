package hal

import (
	"fmt"

	"github.com/sm5ve/crocos/interrupt"
	"github.com/sm5ve/crocos/klog"
	"github.com/sm5ve/crocos/timing"
)

// HPET register block offsets.
const (
	hpetRegGenCap      = 0x000
	hpetRegGenConfig   = 0x010
	hpetRegIntStatus   = 0x020
	hpetRegMainCounter = 0x0F0
	hpetTimerBase      = 0x100
	hpetTimerStep      = 0x20

	hpetTimerRegConfig     = 0x00
	hpetTimerRegComparator = 0x08
	hpetTimerRegFSBRoute   = 0x10
)

// General configuration bits.
const (
	hpetCfgEnableBit      uint64 = 1 << 0
	hpetCfgLegacyRouteBit uint64 = 1 << 1
)

// Comparator configuration-capabilities bits.
const (
	HPETCmpLevelTriggered  uint64 = 1 << 1
	HPETCmpInterruptEnable uint64 = 1 << 2
	HPETCmpPeriodicEnable  uint64 = 1 << 3
	HPETCmpPeriodicCapable uint64 = 1 << 4
	HPETCmp64BitCapable    uint64 = 1 << 5
	HPETCmpValueSet        uint64 = 1 << 6
	HPETCmp32BitMode       uint64 = 1 << 8
	hpetCmpRouteShift             = 9
	hpetCmpRouteMask       uint64 = 0x1F << hpetCmpRouteShift
	HPETCmpFSBEnable       uint64 = 1 << 14
	HPETCmpFSBCapable      uint64 = 1 << 15
	hpetCmpRouteCapShift          = 32
)

// hpetCmpRouteCapMask is ^uint64(0) << hpetCmpRouteCapShift, computed as a
// runtime shift rather than a constant expression because the constant
// form overflows Go's compile-time arbitrary-precision constant check.
var hpetCmpRouteCapMask = func() uint64 {
	m := ^uint64(0)
	return m << hpetCmpRouteCapShift
}()

// HPETRegs is the HPET's MMIO register block: general capabilities and
// configuration, the interrupt status register, the main counter, and
// per-comparator configuration-capabilities, comparator-value, and FSB
// route registers.
type HPETRegs struct {
	periodFs uint64 // main counter tick period in femtoseconds
	genCfg   uint64
	status   uint64
	counter  uint64

	cmpConfig []uint64
	cmpValue  []uint64
	cmpFSB    []uint64
}

func NewHPETRegs(periodFs uint64, comparators int, routeCaps []uint32) *HPETRegs {
	r := &HPETRegs{
		periodFs:  periodFs,
		cmpConfig: make([]uint64, comparators),
		cmpValue:  make([]uint64, comparators),
		cmpFSB:    make([]uint64, comparators),
	}
	for i := range r.cmpConfig {
		cfg := HPETCmpPeriodicCapable | HPETCmp64BitCapable
		if i < len(routeCaps) {
			cfg |= uint64(routeCaps[i]) << hpetCmpRouteCapShift
		}
		r.cmpConfig[i] = cfg
	}
	return r
}

// Read64 reads a register at the given block offset.
func (r *HPETRegs) Read64(off uint64) uint64 {
	switch off {
	case hpetRegGenCap:
		return r.periodFs<<32 | 0x8086<<16 | 1<<13 | uint64(len(r.cmpConfig)-1)<<8
	case hpetRegGenConfig:
		return r.genCfg
	case hpetRegIntStatus:
		return r.status
	case hpetRegMainCounter:
		return r.counter
	}
	if off >= hpetTimerBase {
		idx := int((off - hpetTimerBase) / hpetTimerStep)
		if idx >= len(r.cmpConfig) {
			return 0
		}
		switch (off - hpetTimerBase) % hpetTimerStep {
		case hpetTimerRegConfig:
			return r.cmpConfig[idx]
		case hpetTimerRegComparator:
			return r.cmpValue[idx]
		case hpetTimerRegFSBRoute:
			return r.cmpFSB[idx]
		}
	}
	return 0
}

// Write64 writes a register at the given block offset. Capability bits
// are read-only.
func (r *HPETRegs) Write64(off uint64, val uint64) {
	switch off {
	case hpetRegGenConfig:
		r.genCfg = val & (hpetCfgEnableBit | hpetCfgLegacyRouteBit)
		return
	case hpetRegIntStatus:
		r.status &^= val // write-1-to-clear
		return
	case hpetRegMainCounter:
		r.counter = val
		return
	}
	if off >= hpetTimerBase {
		idx := int((off - hpetTimerBase) / hpetTimerStep)
		if idx >= len(r.cmpConfig) {
			return
		}
		switch (off - hpetTimerBase) % hpetTimerStep {
		case hpetTimerRegConfig:
			caps := r.cmpConfig[idx] & (HPETCmpPeriodicCapable | HPETCmp64BitCapable | HPETCmpFSBCapable | hpetCmpRouteCapMask)
			writable := val & (HPETCmpLevelTriggered | HPETCmpInterruptEnable | HPETCmpPeriodicEnable |
				HPETCmpValueSet | HPETCmp32BitMode | hpetCmpRouteMask | HPETCmpFSBEnable)
			r.cmpConfig[idx] = caps | writable
		case hpetTimerRegComparator:
			r.cmpValue[idx] = val
		case hpetTimerRegFSBRoute:
			r.cmpFSB[idx] = val
		}
	}
}

// HPET models one high-precision event timer block: a main counter
// usable as a clock source and a set of comparators usable as event
// sources, each routable to a subset of IOAPIC lines.
type HPET struct {
	regs *HPETRegs
	hz   uint64

	comparators []*HPETComparator
	lgr         *klog.Logger
}

// NewHPET builds an HPET whose main counter ticks with the given
// femtosecond period. routeCaps[i] is comparator i's INT_ROUTE_CAP
// bitmask of reachable IOAPIC lines.
func NewHPET(periodFs uint64, comparators int, routeCaps []uint32, lgr *klog.Logger) *HPET {
	if lgr == nil {
		lgr = klog.NewDiscardLogger()
	}
	h := &HPET{
		regs: NewHPETRegs(periodFs, comparators, routeCaps),
		hz:   1_000_000_000_000_000 / periodFs,
		lgr:  lgr,
	}
	for i := 0; i < comparators; i++ {
		h.comparators = append(h.comparators, &HPETComparator{hpet: h, index: i})
	}
	return h
}

func (h *HPET) Regs() *HPETRegs { return h.regs }

// Enable starts the main counter.
func (h *HPET) Enable() {
	h.regs.Write64(hpetRegGenConfig, h.regs.Read64(hpetRegGenConfig)|hpetCfgEnableBit)
}

func (h *HPET) Enabled() bool {
	return h.regs.Read64(hpetRegGenConfig)&hpetCfgEnableBit != 0
}

// Comparator returns comparator i.
func (h *HPET) Comparator(i int) *HPETComparator { return h.comparators[i] }

// Advance moves the main counter forward, firing any comparator whose
// value was crossed. The embedding harness drives this in place of the
// free-running hardware counter.
func (h *HPET) Advance(ticks uint64) {
	if !h.Enabled() {
		return
	}
	prev := h.regs.counter
	h.regs.counter += ticks
	for _, cmp := range h.comparators {
		cmp.evaluate(prev, h.regs.counter)
	}
}

// Name the HPET main counter exposes as a clock source.
func (h *HPET) Name() string { return "hpet" }

func (h *HPET) Mask() uint64 { return ^uint64(0) }

func (h *HPET) Flags() timing.CSFlags { return timing.CSFixedFrequency }

func (h *HPET) Quality() int { return 50 }

// Calibration is known from the capability register's tick period, no
// measurement needed.
func (h *HPET) Calibration() timing.FrequencyData { return timing.FrequencyFromHz(h.hz) }

func (h *HPET) SetCalibration(timing.FrequencyData) {}

func (h *HPET) Read() uint64 { return h.regs.Read64(hpetRegMainCounter) }

var _ timing.ClockSource = (*HPET)(nil)

// HPETComparator is one HPET comparator: an event source driving a
// configurable IOAPIC line, and a pure emitter domain in the interrupt
// topology whose downstream choice the routing policy makes.
type HPETComparator struct {
	hpet  *HPET
	index int
	cb    func()

	// Pulse drives the routed IOAPIC line when the comparator fires;
	// boot points it at the owning IOAPIC's input pins
	Pulse func(line int)

	armedPeriod uint64
}

func (c *HPETComparator) DomainName() string {
	return fmt.Sprintf("hpet-cmp%d", c.index)
}

func (c *HPETComparator) EmitterCount() int { return 1 }

func (c *HPETComparator) config() uint64 {
	return c.hpet.regs.Read64(hpetTimerBase + uint64(c.index)*hpetTimerStep + hpetTimerRegConfig)
}

func (c *HPETComparator) writeConfig(cfg uint64) {
	c.hpet.regs.Write64(hpetTimerBase+uint64(c.index)*hpetTimerStep+hpetTimerRegConfig, cfg)
}

func (c *HPETComparator) writeComparator(val uint64) {
	c.hpet.regs.Write64(hpetTimerBase+uint64(c.index)*hpetTimerStep+hpetTimerRegComparator, val)
}

// RouteCap returns the IOAPIC lines this comparator can reach, from
// the capability half of its configuration register.
func (c *HPETComparator) RouteCap() []int {
	caps := c.config() >> hpetCmpRouteCapShift
	var lines []int
	for bit := 0; bit < 32; bit++ {
		if caps&(1<<bit) != 0 {
			lines = append(lines, bit)
		}
	}
	return lines
}

// SetIOAPICRouting programs the comparator's INT_ROUTE_CNF field.
func (c *HPETComparator) SetIOAPICRouting(line int) bool {
	allowed := false
	for _, l := range c.RouteCap() {
		if l == line {
			allowed = true
		}
	}
	if !allowed {
		return false
	}
	cfg := c.config()&^hpetCmpRouteMask | uint64(line)<<hpetCmpRouteShift
	c.writeConfig(cfg)
	return true
}

// Routing returns the currently programmed IOAPIC line.
func (c *HPETComparator) Routing() int {
	return int(c.config() & hpetCmpRouteMask >> hpetCmpRouteShift)
}

func (c *HPETComparator) Name() string { return c.DomainName() }

func (c *HPETComparator) Flags() timing.ESFlags {
	return timing.ESFixedFrequency | timing.ESOneshot | timing.ESPeriodic
}

func (c *HPETComparator) Quality() int { return 50 }

func (c *HPETComparator) Calibration() timing.FrequencyData { return c.hpet.Calibration() }

func (c *HPETComparator) SetCalibration(timing.FrequencyData) {}

func (c *HPETComparator) ArmOneshot(deltaTicks uint64) {
	cfg := c.config()&^HPETCmpPeriodicEnable | HPETCmpInterruptEnable
	c.writeConfig(cfg)
	c.writeComparator(c.hpet.Read() + deltaTicks)
	c.armedPeriod = 0
}

func (c *HPETComparator) ArmPeriodic(periodTicks uint64) {
	cfg := c.config() | HPETCmpPeriodicEnable | HPETCmpInterruptEnable | HPETCmpValueSet
	c.writeConfig(cfg)
	c.writeComparator(c.hpet.Read() + periodTicks)
	c.armedPeriod = periodTicks
}

func (c *HPETComparator) Disarm() {
	c.writeConfig(c.config() &^ HPETCmpInterruptEnable)
	c.armedPeriod = 0
}

func (c *HPETComparator) MaxOneshotDelay() uint64 { return ^uint64(0) >> 1 }
func (c *HPETComparator) MaxPeriod() uint64       { return ^uint64(0) >> 1 }

func (c *HPETComparator) TicksElapsed() uint64 { return c.hpet.Read() }

func (c *HPETComparator) RegisterCallback(cb func()) { c.cb = cb }
func (c *HPETComparator) UnregisterCallback()        { c.cb = nil }

// evaluate fires the comparator if the main counter crossed its value
// in (prev, now]; a periodic comparator fires once for every period
// boundary crossed.
func (c *HPETComparator) evaluate(prev, now uint64) {
	if c.config()&HPETCmpInterruptEnable == 0 {
		return
	}
	val := c.hpet.regs.cmpValue[c.index]
	for prev < val && now >= val {
		c.hpet.regs.status |= 1 << uint(c.index)
		if c.armedPeriod != 0 {
			c.writeComparator(val + c.armedPeriod)
		}
		if c.Pulse != nil {
			c.Pulse(c.Routing())
		}
		if c.cb != nil {
			c.cb()
		}
		if c.armedPeriod == 0 || c.config()&HPETCmpInterruptEnable == 0 {
			return
		}
		prev, val = val, c.hpet.regs.cmpValue[c.index]
	}
}

var _ timing.EventSource = (*HPETComparator)(nil)
var _ interrupt.Emitter = (*HPETComparator)(nil)

// HPETComparatorConnector links a comparator to the IOAPIC lines its
// INT_ROUTE_CAP allows; the routing policy picks the line and the
// connector programs INT_ROUTE_CNF.
type HPETComparatorConnector struct {
	Cmp    *HPETComparator
	IOAPIC *IOAPIC
}

func (c *HPETComparatorConnector) Source() interrupt.Domain { return c.Cmp }
func (c *HPETComparatorConnector) Target() interrupt.Domain { return c.IOAPIC }

// FromOutput stays ambiguous: the comparator's one output can reach
// several lines, so the routing policy chooses.
func (c *HPETComparatorConnector) FromOutput(int) (int, bool) { return 0, false }

func (c *HPETComparatorConnector) FromInput(tgtIn int) (int, bool) {
	for _, l := range c.Cmp.RouteCap() {
		if l == tgtIn {
			return 0, true
		}
	}
	return 0, false
}

// ProgramRoute commits the policy's chosen line to hardware.
func (c *HPETComparatorConnector) ProgramRoute(srcOut, tgtIn int) bool {
	return c.Cmp.SetIOAPICRouting(tgtIn)
}

var _ interrupt.Connector = (*HPETComparatorConnector)(nil)
var _ interrupt.RouteProgrammer = (*HPETComparatorConnector)(nil)
