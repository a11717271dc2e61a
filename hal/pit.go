package hal

import (
	"github.com/sm5ve/crocos/timing"
)

// PITFrequencyHz is the 8254's fixed input clock.
const PITFrequencyHz = 1193182

// PIT channel 0 in the legacy wiring drives IRQ 0.
const PITLegacyIRQ = 0

// PIT adapts the 8254 programmable interval timer: a low-quality but
// fixed-frequency source, which makes it the calibration bootstrap for
// everything faster. It is both a coarse clock source (counting its
// input-clock ticks) and an event source.
type PIT struct {
	irq *IRQDomain
	cb  func()

	reload uint64
	ticks  uint64
	armed  bool
	oneshotLeft uint64
}

func NewPIT(irq *IRQDomain) *PIT {
	return &PIT{irq: irq}
}

func (p *PIT) DomainName() string { return "pit" }
func (p *PIT) EmitterCount() int  { return 1 }

func (p *PIT) Name() string { return "pit" }

func (p *PIT) Mask() uint64 { return ^uint64(0) }

func (p *PIT) Flags() timing.CSFlags { return timing.CSFixedFrequency }

func (p *PIT) Quality() int { return 10 }

func (p *PIT) Calibration() timing.FrequencyData { return timing.FrequencyFromHz(PITFrequencyHz) }

func (p *PIT) SetCalibration(timing.FrequencyData) {}

func (p *PIT) Read() uint64 { return p.ticks }

// EventFlags describe the PIT's event-source side.
func (p *PIT) EventFlags() timing.ESFlags {
	return timing.ESFixedFrequency | timing.ESOneshot | timing.ESPeriodic
}

func (p *PIT) ArmOneshot(deltaTicks uint64) {
	p.armed = true
	p.reload = 0
	p.oneshotLeft = deltaTicks
}

func (p *PIT) ArmPeriodic(periodTicks uint64) {
	p.armed = true
	p.reload = periodTicks
	p.oneshotLeft = periodTicks
}

func (p *PIT) Disarm() { p.armed = false }

// MaxOneshotDelay is the 16-bit reload register's reach.
func (p *PIT) MaxOneshotDelay() uint64 { return 0xFFFF }
func (p *PIT) MaxPeriod() uint64       { return 0xFFFF }

func (p *PIT) TicksElapsed() uint64 { return p.ticks }

func (p *PIT) RegisterCallback(cb func()) { p.cb = cb }
func (p *PIT) UnregisterCallback()        { p.cb = nil }

// Advance moves the PIT's input clock forward, raising IRQ 0 and the
// callback as programmed deadlines pass.
func (p *PIT) Advance(ticks uint64) {
	p.ticks += ticks
	for p.armed && ticks >= p.oneshotLeft {
		ticks -= p.oneshotLeft
		if p.reload != 0 {
			p.oneshotLeft = p.reload
		} else {
			p.armed = false
		}
		p.fire()
	}
	if p.armed {
		p.oneshotLeft -= ticks
	}
}

func (p *PIT) fire() {
	if p.irq != nil {
		p.irq.Raise(PITLegacyIRQ, true)
		p.irq.Raise(PITLegacyIRQ, false)
	}
	if p.cb != nil {
		p.cb()
	}
}

var _ timing.ClockSource = (*PIT)(nil)

// PITEventSource is the PIT's event-source face. The clock and event
// contracts both want a Flags method, so the event side lives on a
// wrapper.
type PITEventSource struct {
	*PIT
}

func (p PITEventSource) Flags() timing.ESFlags { return p.EventFlags() }

var _ timing.EventSource = PITEventSource{}
