package hal

import (
	"fmt"

	"github.com/sm5ve/crocos/addr"
	"github.com/sm5ve/crocos/interrupt"
	"github.com/sm5ve/crocos/timing"
)

// Local APIC register offsets within the 4K register page.
const (
	lapicRegID           = 0x020
	lapicRegVersion      = 0x030
	lapicRegEOI          = 0x0B0
	lapicRegSpurious     = 0x0F0
	lapicRegLVTTimer     = 0x320
	lapicRegInitialCount = 0x380
	lapicRegCurrentCount = 0x390
	lapicRegDivide       = 0x3E0
)

// LVT timer bits.
const (
	lvtMaskBit         uint32 = 1 << 16
	lvtTimerPeriodic   uint32 = 1 << 17
	lvtTimerVectorMask uint32 = 0xFF
)

// IA32_APIC_BASE MSR layout.
const (
	MSRIA32APICBase = 0x1B

	apicBaseBSPBit    uint64 = 1 << 8
	apicBaseEnableBit uint64 = 1 << 11
	apicBaseAddrMask  uint64 = ^uint64(0xFFF)
)

// APICBaseAddress extracts the LAPIC register page base from the
// IA32_APIC_BASE MSR value.
func APICBaseAddress(msr uint64) addr.PhysAddr {
	return addr.PhysAddr(msr & apicBaseAddrMask)
}

// APICGloballyEnabled reports bit 11 of IA32_APIC_BASE.
func APICGloballyEnabled(msr uint64) bool { return msr&apicBaseEnableBit != 0 }

// IsBootstrapProcessor reports bit 8 of IA32_APIC_BASE.
func IsBootstrapProcessor(msr uint64) bool { return msr&apicBaseBSPBit != 0 }

// WithAPICEnabled returns the MSR value with the global-enable bit set
// or cleared.
func WithAPICEnabled(msr uint64, enabled bool) uint64 {
	if enabled {
		return msr | apicBaseEnableBit
	}
	return msr &^ apicBaseEnableBit
}

// LAPICRegs is the local APIC's 4K register page.
type LAPICRegs struct {
	regs map[uint32]uint32
	id   uint32

	eoiCount int
}

func NewLAPICRegs(id uint32) *LAPICRegs {
	return &LAPICRegs{regs: map[uint32]uint32{lapicRegLVTTimer: lvtMaskBit}, id: id}
}

func (r *LAPICRegs) Write32(off uint32, val uint32) {
	if off == lapicRegEOI {
		r.eoiCount++
		return
	}
	r.regs[off] = val
}

func (r *LAPICRegs) Read32(off uint32) uint32 {
	if off == lapicRegID {
		return r.id << 24
	}
	return r.regs[off]
}

// LAPIC adapts the local APIC to the interrupt core: messages arriving
// on input i are delivered on vector-file slot i (the connector carries
// the vector base offset), so its routing is the identity, baked in.
type LAPIC struct {
	name  string
	regs  *LAPICRegs
	lines int
}

func NewLAPIC(apicID uint32, lines int) *LAPIC {
	return &LAPIC{
		name:  fmt.Sprintf("lapic%d", apicID),
		regs:  NewLAPICRegs(apicID),
		lines: lines,
	}
}

func (l *LAPIC) DomainName() string { return l.name }
func (l *LAPIC) ReceiverCount() int { return l.lines }
func (l *LAPIC) EmitterCount() int  { return l.lines }

func (l *LAPIC) Regs() *LAPICRegs { return l.regs }

func (l *LAPIC) RouteInterrupt(fromReceiver, toEmitter int) bool {
	return fromReceiver == toEmitter
}

func (l *LAPIC) FixedRouting(receiver int) (int, bool) {
	if receiver < 0 || receiver >= l.lines {
		return 0, false
	}
	return receiver, true
}

// IssueEOI writes the LAPIC EOI register.
func (l *LAPIC) IssueEOI() {
	l.regs.Write32(lapicRegEOI, 0)
}

// EOICount returns how many EOIs have been written, for harness
// inspection.
func (l *LAPIC) EOICount() int { return l.regs.eoiCount }

var _ interrupt.FixedRoutingDomain = (*LAPIC)(nil)
var _ interrupt.EOIDomain = (*LAPIC)(nil)

// LAPICTimer is the per-CPU LAPIC timer event source. Its frequency is
// stable but unknown until calibrated against a reference clock.
type LAPICTimer struct {
	lapic *LAPIC
	cal   timing.FrequencyData
	cb    func()

	ticks      uint64 // simulated current-count timeline
	armedAt    uint64
	armedDelta uint64
	periodic   bool
	armed      bool
}

func NewLAPICTimer(l *LAPIC) *LAPICTimer {
	return &LAPICTimer{lapic: l}
}

func (t *LAPICTimer) Name() string { return t.lapic.name + "-timer" }

func (t *LAPICTimer) Flags() timing.ESFlags {
	return timing.ESKnownStable | timing.ESPerCPU | timing.ESOneshot |
		timing.ESPeriodic | timing.ESStopsInSleep | timing.ESTracksIntermediate
}

func (t *LAPICTimer) Quality() int { return 80 }

func (t *LAPICTimer) Calibration() timing.FrequencyData     { return t.cal }
func (t *LAPICTimer) SetCalibration(f timing.FrequencyData) { t.cal = f }

func (t *LAPICTimer) ArmOneshot(deltaTicks uint64) {
	t.lapic.regs.Write32(lapicRegLVTTimer, t.lapic.regs.Read32(lapicRegLVTTimer)&^(lvtMaskBit|lvtTimerPeriodic))
	t.lapic.regs.Write32(lapicRegInitialCount, uint32(deltaTicks))
	t.armedAt = t.ticks
	t.armedDelta = deltaTicks
	t.periodic = false
	t.armed = true
}

func (t *LAPICTimer) ArmPeriodic(periodTicks uint64) {
	t.lapic.regs.Write32(lapicRegLVTTimer, t.lapic.regs.Read32(lapicRegLVTTimer)&^lvtMaskBit|lvtTimerPeriodic)
	t.lapic.regs.Write32(lapicRegInitialCount, uint32(periodTicks))
	t.armedAt = t.ticks
	t.armedDelta = periodTicks
	t.periodic = true
	t.armed = true
}

func (t *LAPICTimer) Disarm() {
	t.lapic.regs.Write32(lapicRegLVTTimer, t.lapic.regs.Read32(lapicRegLVTTimer)|lvtMaskBit)
	t.lapic.regs.Write32(lapicRegInitialCount, 0)
	t.armed = false
}

// MaxOneshotDelay is bounded by the 32-bit initial-count register.
func (t *LAPICTimer) MaxOneshotDelay() uint64 { return 0xFFFFFFFF }
func (t *LAPICTimer) MaxPeriod() uint64       { return 0xFFFFFFFF }

func (t *LAPICTimer) TicksElapsed() uint64 { return t.ticks }

func (t *LAPICTimer) RegisterCallback(cb func()) { t.cb = cb }
func (t *LAPICTimer) UnregisterCallback()        { t.cb = nil }

// Advance moves the simulated timer forward, firing the callback when
// an armed deadline passes.
func (t *LAPICTimer) Advance(ticks uint64) {
	t.ticks += ticks
	for t.armed && t.ticks-t.armedAt >= t.armedDelta {
		if t.periodic {
			t.armedAt += t.armedDelta
		} else {
			t.armed = false
		}
		if t.cb != nil {
			t.cb()
		}
	}
}

var _ timing.EventSource = (*LAPICTimer)(nil)
