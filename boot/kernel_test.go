package boot

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/sm5ve/crocos/addr"
	"github.com/sm5ve/crocos/hal"
	"github.com/sm5ve/crocos/lock"
	"github.com/sm5ve/crocos/timing"
)

const testConfig = `
[global]
log-level = INFO
processor-count = 2

[memory-range "low"]
start = 0x200000
end = 0x10200000
kind = USABLE

[memory-range "acpi"]
start = 0x10200000
end = 0x10300000
kind = ACPI_RECLAIMABLE
`

func testMADT() *hal.MADT {
	return &hal.MADT{
		LAPICs: []hal.LAPICEntry{
			{ProcessorID: 0, APICID: 0, Enabled: true},
			{ProcessorID: 1, APICID: 1, Enabled: true},
		},
		IOAPICs: []hal.IOAPICEntry{{ID: 0, Base: 0xFEC00000, GSIBase: 0, Lines: 24}},
	}
}

func testHPETInfo() *hal.HPETInfo {
	return &hal.HPETInfo{
		Base:        0xFED00000,
		PeriodFs:    100_000_000, // 100ns tick: 10 MHz
		Comparators: 2,
		RouteCaps:   []uint32{1 << 2, 1 << 8},
	}
}

const (
	hpetHz      = 10_000_000
	lapicSimHz  = 100_000_000
)

// bootKernel builds and boots a kernel with the simulated devices
// coupled to one virtual timeline: every Pause (and every advanceMs)
// moves the HPET, LAPIC timer, and PIT together.
func bootKernel(t *testing.T) (*Kernel, func(ms uint64), *bytes.Buffer) {
	t.Helper()
	var console bytes.Buffer
	k, err := NewKernel([]byte(testConfig), testMADT(), testHPETInfo(), addr.PhysRange{Start: 0x400000, End: 0x500000}, &console)
	if err != nil {
		t.Fatal(err)
	}
	advanceTicks := func(hpetTicks uint64) {
		if k.Platform == nil {
			return
		}
		if k.Platform.HPET != nil {
			k.Platform.HPET.Advance(hpetTicks)
		}
		k.Platform.LAPICTimer.Advance(hpetTicks * (lapicSimHz / hpetHz))
		k.Platform.PIT.Advance(hpetTicks / 8)
	}
	oldPause := timing.Pause
	timing.Pause = func() { advanceTicks(200_000) }
	t.Cleanup(func() { timing.Pause = oldPause })

	k.Boot()
	advanceMs := func(ms uint64) { advanceTicks(ms * hpetHz / 1000) }
	return k, advanceMs, &console
}

func TestKernelBoot(t *testing.T) {
	k, _, console := bootKernel(t)
	if k.Allocator == nil || k.Interrupts == nil || k.Timers == nil {
		t.Fatal("subsystem missing after boot")
	}
	out := console.String()
	for _, want := range []string{"[BSP Phase] early boot", "page allocator", "interrupt routing", "timer queue"} {
		if !strings.Contains(out, want) {
			t.Fatalf("boot log missing %q:\n%s", want, out)
		}
	}
	// the LAPIC timer won selection and got calibrated transitively
	es := k.Timing.BestEventSource()
	if es.Name() != "lapic0-timer" {
		t.Fatalf("selected event source %s", es.Name())
	}
	hz := es.Calibration().Hz()
	if hz < lapicSimHz*99/100 || hz > lapicSimHz*101/100 {
		t.Fatalf("LAPIC timer calibrated to %d Hz", hz)
	}
}

func TestKernelTimerEndToEnd(t *testing.T) {
	k, advanceMs, _ := bootKernel(t)
	var fired []string
	k.EnqueueEvent(func() { fired = append(fired, "a") }, 20)
	k.EnqueueEvent(func() { fired = append(fired, "b") }, 40)
	cancel := k.EnqueueEvent(func() { fired = append(fired, "never") }, 60)
	if !k.CancelEvent(cancel) {
		t.Fatal("cancel failed")
	}

	before := k.MonoTimeNS()
	for i := 0; i < 10; i++ {
		advanceMs(10)
	}
	if k.MonoTimeNS() <= before {
		t.Fatal("monotonic time did not advance")
	}
	if len(fired) != 2 || fired[0] != "a" || fired[1] != "b" {
		t.Fatalf("fired %v", fired)
	}
}

func TestKernelDeferredEvent(t *testing.T) {
	k, advanceMs, _ := bootKernel(t)
	done := make(chan struct{})
	// a deferred callback may legally re-enter the timer queue
	k.EnqueueEventDeferred(func() {
		k.EnqueueEvent(func() {}, 1000)
		close(done)
	}, 10)
	deadline := time.After(2 * time.Second)
	for {
		advanceMs(5)
		select {
		case <-done:
			return
		case <-deadline:
			t.Fatal("deferred callback never ran")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestKernelInterruptEndToEnd(t *testing.T) {
	k, _, _ := bootKernel(t)
	var got []int
	k.RegisterHandler(k.Platform.PIT, 0, func(vector int) { got = append(got, vector) })

	// raise the PIT's legacy line; delivery runs the EOI chain and the
	// handler
	eoisBefore := k.Platform.LAPIC.EOICount()
	k.Platform.IRQ.Raise(hal.PITLegacyIRQ, true)
	k.Platform.IRQ.Raise(hal.PITLegacyIRQ, false)
	if len(got) != 1 {
		t.Fatalf("handler fired %d times", len(got))
	}
	if got[0] < hal.VectorBase {
		t.Fatalf("delivered vector %#x", got[0])
	}
	if k.Platform.LAPIC.EOICount() != eoisBefore+1 {
		t.Fatal("LAPIC EOI not issued")
	}
}

func TestKernelAllocatorEndToEnd(t *testing.T) {
	k, _, _ := bootKernel(t)
	free := k.Allocator.FreeBigPageCount()
	refs, ok := k.AllocatePages(3 << 20)
	if !ok {
		t.Fatal("allocation failed")
	}
	var total uint64
	for _, r := range refs {
		total += r.Bytes()
		// nothing lands in the kernel image or metadata reservations
		if r.Addr() < 0x600000 {
			t.Fatalf("allocation at %v inside a reserved window", r.Addr())
		}
	}
	if total < 3<<20 {
		t.Fatalf("allocated %d bytes", total)
	}
	k.FreePages(refs)
	if k.Allocator.FreeBigPageCount() != free {
		t.Fatalf("free big pages %d, expected %d", k.Allocator.FreeBigPageCount(), free)
	}
}

func TestKernelBootAP(t *testing.T) {
	k, _, _ := bootKernel(t)
	oldCPU := lock.CurrentCPU
	lock.CurrentCPU = func() lock.CPUID { return 1 }
	defer func() { lock.CurrentCPU = oldCPU }()
	// the bootstrap processor has finished, so the AP walks straight
	// through: per-CPU components run, bootstrap-only ones are already
	// complete
	k.BootAP(1)
}

func TestSoftIRQController(t *testing.T) {
	c := NewSoftIRQController()
	if !c.InterruptsEnabled() {
		t.Fatal("interrupts start disabled")
	}
	was := c.Disable()
	if !was || c.InterruptsEnabled() {
		t.Fatal("disable broken")
	}
	// nested disable remembers the outer state
	was2 := c.Disable()
	if was2 {
		t.Fatal("nested disable saw enabled")
	}
	c.Restore(was2)
	if c.InterruptsEnabled() {
		t.Fatal("inner restore re-enabled")
	}
	c.Restore(was)
	if !c.InterruptsEnabled() {
		t.Fatal("outer restore did not re-enable")
	}
}

func TestMemoryMapFiltering(t *testing.T) {
	k, _, _ := bootKernel(t)
	entries, err := MemoryMapFromConfig(k.Config)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("%d entries", len(entries))
	}
	if entries[0].Kind != Usable || entries[1].Kind != ACPIReclaimable {
		t.Fatalf("kinds %v %v", entries[0].Kind, entries[1].Kind)
	}
	usable := UsableRanges(entries)
	if len(usable) != 1 || usable[0].Start != 0x200000 {
		t.Fatalf("usable ranges %v", usable)
	}
}
