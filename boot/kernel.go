package boot

import (
	"errors"
	"io"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/sm5ve/crocos/addr"
	"github.com/sm5ve/crocos/bootconfig"
	"github.com/sm5ve/crocos/eventpipe"
	"github.com/sm5ve/crocos/hal"
	"github.com/sm5ve/crocos/interrupt"
	"github.com/sm5ve/crocos/klog"
	"github.com/sm5ve/crocos/lock"
	"github.com/sm5ve/crocos/mem"
	"github.com/sm5ve/crocos/timing"
)

// SoftIRQController is the hosted stand-in for the CPU interrupt flag:
// a software bit the locks save and restore.
type SoftIRQController struct {
	enabled atomic.Bool
}

func NewSoftIRQController() *SoftIRQController {
	c := &SoftIRQController{}
	c.enabled.Store(true)
	return c
}

func (c *SoftIRQController) Disable() bool {
	return c.enabled.Swap(false)
}

func (c *SoftIRQController) Restore(wasEnabled bool) {
	c.enabled.Store(wasEnabled)
}

// InterruptsEnabled reports the software interrupt flag, for
// assertions in harnesses.
func (c *SoftIRQController) InterruptsEnabled() bool { return c.enabled.Load() }

var _ lock.InterruptController = (*SoftIRQController)(nil)

var ErrNoUsableMemory = errors.New("memory map has no usable range large enough for the allocator")

// Kernel ties the subsystems together and carries the public API other
// kernel code calls.
type Kernel struct {
	Config    *bootconfig.CrocosConfig
	Log       *klog.Logger
	SessionID uuid.UUID

	Topology   *interrupt.Topology
	Platform   *hal.Platform
	Interrupts *interrupt.Manager
	Allocator  *mem.AggregateAllocator
	Timing     *timing.Registry
	Timers     *timing.TimerQueue
	Init       *InitRegistry
	IRQCtl     *SoftIRQController

	// Deferred carries timer callbacks out of event-source callback
	// context onto a dedicated consumer, for work that needs to
	// re-enter the timer queue (which is forbidden synchronously)
	Deferred *eventpipe.Queue[timing.TimerEventCallback]

	madt        *hal.MADT
	hpetInfo    *hal.HPETInfo
	kernelImage addr.PhysRange

	// per-CPU IA32_APIC_BASE shadow, written by the per-CPU LAPIC
	// setup component
	apicBaseMSR []uint64
}

// NewKernel parses the boot config and stages the init-component
// table. Boot actually runs it.
func NewKernel(configBytes []byte, madt *hal.MADT, hpetInfo *hal.HPETInfo, kernelImage addr.PhysRange, console io.Writer) (*Kernel, error) {
	cfg, err := bootconfig.GetConfig(configBytes)
	if err != nil {
		return nil, err
	}
	lgr, err := cfg.Global.GetLogger(console)
	if err != nil {
		return nil, err
	}

	k := &Kernel{
		Config:      cfg,
		Log:         lgr,
		Topology:    interrupt.NewTopology(lgr),
		Init:        NewInitRegistry(lgr),
		IRQCtl:      NewSoftIRQController(),
		madt:        madt,
		hpetInfo:    hpetInfo,
		kernelImage: kernelImage,
	}
	if id, ok := cfg.Global.SessionUUID(); ok {
		k.SessionID = id
	} else {
		k.SessionID = uuid.New()
	}
	k.registerComponents()
	return k, nil
}

func (k *Kernel) registerComponents() {
	k.Init.Register(InitComponent{
		Name: "early boot", Flags: CFPhaseMarker, Importance: ImportanceImportant,
	})
	k.Init.Register(InitComponent{
		Name: "page allocator", Bootstrap: k.initAllocator,
		Flags: CFRequired, Importance: ImportanceImportant,
	})
	k.Init.Register(InitComponent{
		Name: "interrupt topology", Bootstrap: k.initTopology,
		Flags: CFRequired, Importance: ImportanceImportant,
	})
	k.Init.Register(InitComponent{
		Name: "local APIC", Bootstrap: k.initLAPIC, AP: k.initLAPIC,
		Flags: CFRequired | CFPerCPU | CFAPIDAvailable, Importance: ImportanceImportant,
	})
	k.Init.Register(InitComponent{
		Name: "interrupt routing", Bootstrap: k.initRouting,
		Flags: CFRequired, Importance: ImportanceImportant,
	})
	k.Init.Register(InitComponent{
		Name: "timing", Bootstrap: k.initTiming,
		Flags: CFRequired, Importance: ImportanceImportant,
	})
	k.Init.Register(InitComponent{
		Name: "timer queue", Bootstrap: k.initTimerQueue,
		Flags: CFRequired, Importance: ImportanceImportant,
	})
	k.Init.Register(InitComponent{
		Name: "deferred dispatch", Bootstrap: k.initDeferred,
		Flags: CFRequired, Importance: ImportanceImportant,
	})
	k.Init.Register(InitComponent{
		Name: "steady state", Flags: CFPhaseMarker, Importance: ImportanceImportant,
	})
}

// Boot runs the component table on the bootstrap processor.
func (k *Kernel) Boot() {
	k.Log.Info("kernel boot", klog.KV("session", k.SessionID.String()))
	k.Init.KInit(true, 0, ImportanceImportant, false)
}

// BootAP runs the per-CPU components on an application processor,
// spinning on everything bootstrap-only.
func (k *Kernel) BootAP(cpu int) {
	k.Log.With(klog.KV("cpu", cpu)).Info("application processor online")
	k.Init.KInit(false, cpu, ImportanceImportant, true)
}

func (k *Kernel) initAllocator() bool {
	entries, err := MemoryMapFromConfig(k.Config)
	if err != nil {
		k.Log.Error("bad memory map", klog.KVErr(err))
		return false
	}
	usable := UsableRanges(entries)
	if len(usable) == 0 {
		k.Log.Error("no usable memory", klog.KVErr(ErrNoUsableMemory))
		return false
	}
	procs := k.Config.Global.Processor_Count
	var ranges []*mem.RangeAllocator
	for _, r := range usable {
		metaBytes := mem.RequestedBufferSizeForRange(r, procs)
		ra := mem.NewRangeAllocator(r, procs, k.IRQCtl, k.Log)
		// the metadata buffer is carved out of the front of the range
		metaPages := (metaBytes + mem.BigPageSize - 1) / mem.BigPageSize
		if metaPages > 0 {
			ra.ReservePhysicalRange(addr.PhysRange{
				Start: r.Start,
				End:   r.Start.Add(metaPages * mem.BigPageSize),
			})
		}
		ranges = append(ranges, ra)
	}
	k.Allocator = mem.NewAggregateAllocator(ranges, k.Log)
	if k.kernelImage.Size() > 0 {
		k.Allocator.ReservePhysicalRange(k.kernelImage)
	}
	return true
}

func (k *Kernel) initTopology() bool {
	p, err := hal.BuildPlatform(k.Topology, k.madt, k.hpetInfo, k.Log)
	if err != nil {
		k.Log.Error("platform assembly failed", klog.KVErr(err))
		return false
	}
	k.Platform = p
	k.Interrupts = interrupt.NewManager(k.Topology, p.VectorFile, interrupt.GreedyRoutingPolicy{}, k.IRQCtl, k.Log)
	for _, ioapic := range p.IOAPICs {
		ioapic.Deliver = k.Interrupts.Dispatch
	}
	k.apicBaseMSR = make([]uint64, p.ProcessorCount)
	return true
}

func (k *Kernel) initLAPIC() bool {
	cpu := int(lock.CurrentCPU())
	if cpu < 0 || cpu >= len(k.apicBaseMSR) {
		return false
	}
	// enable the APIC in the per-CPU IA32_APIC_BASE shadow
	msr := uint64(0xFEE00000)
	if cpu == 0 {
		msr |= 1 << 8 // BSP
	}
	msr = hal.WithAPICEnabled(msr, true)
	k.apicBaseMSR[cpu] = msr
	if !hal.APICGloballyEnabled(msr) || hal.APICBaseAddress(msr) != 0xFEE00000 {
		return false
	}
	return true
}

func (k *Kernel) initRouting() bool {
	if err := k.Interrupts.UpdateRouting(); err != nil {
		k.Log.Error("routing failed", klog.KVErr(err))
		return false
	}
	return true
}

func (k *Kernel) initTiming() bool {
	k.Timing = timing.NewRegistry(k.Config.Global.Calibration_Min_Ticks, k.Log)
	k.Timing.RegisterClockSource(k.Platform.PIT)
	k.Timing.RegisterEventSource(hal.PITEventSource{PIT: k.Platform.PIT})
	if k.Platform.HPET != nil {
		k.Timing.RegisterClockSource(k.Platform.HPET)
		for i := 0; i < k.hpetInfo.Comparators; i++ {
			k.Timing.RegisterEventSource(k.Platform.HPET.Comparator(i))
		}
		k.Platform.HPET.Enable()
	}
	k.Timing.RegisterEventSource(k.Platform.LAPICTimer)
	k.Timing.Initialize()
	es := k.Timing.BestEventSource()
	if !es.Calibration().Populated() && es.Flags()&timing.ESTracksIntermediate != 0 {
		timing.CalibrateEventSource(k.Timing.BestClock(), es, k.Config.Global.Calibration_Min_Ticks)
	}
	return k.Timing.BestEventSource().Calibration().Populated()
}

func (k *Kernel) initTimerQueue() bool {
	k.Timers = timing.NewTimerQueue(k.Timing.BestEventSource(), k.Timing.MonoTimeNS, k.IRQCtl, k.Log)
	k.Timers.SetDefaultTolerances(k.Config.Global.Timer_Late_Tolerance_Ms, k.Config.Global.Timer_Early_Tolerance_Ms)
	return true
}

func (k *Kernel) initDeferred() bool {
	k.Deferred = eventpipe.New[timing.TimerEventCallback](64)
	go k.Deferred.Run(func(cb timing.TimerEventCallback) { cb() })
	return true
}

// EnqueueEvent schedules cb delayMs milliseconds out with the
// configured default tolerances.
func (k *Kernel) EnqueueEvent(cb timing.TimerEventCallback, delayMs uint64) timing.Handle {
	return k.Timers.EnqueueEvent(cb, delayMs)
}

// EnqueueEventDeferred schedules cb like EnqueueEvent, but runs it on
// the deferred-dispatch consumer instead of inside the event-source
// callback, so cb may safely re-enter the timer queue.
func (k *Kernel) EnqueueEventDeferred(cb timing.TimerEventCallback, delayMs uint64) timing.Handle {
	return k.Timers.EnqueueEvent(func() { k.Deferred.Push(cb) }, delayMs)
}

// CancelEvent cancels a pending timer event.
func (k *Kernel) CancelEvent(h timing.Handle) bool {
	return k.Timers.CancelEvent(h)
}

// MonoTimeNS returns monotonic nanoseconds from the selected clock.
func (k *Kernel) MonoTimeNS() uint64 {
	return k.Timing.MonoTimeNS()
}

// RegisterHandler binds a handler to a device emitter's routing node.
func (k *Kernel) RegisterHandler(d interrupt.Domain, index int, h interrupt.Handler) {
	k.Interrupts.RegisterHandler(d, index, h)
}

// UpdateRouting rebuilds and re-materializes the interrupt routing.
func (k *Kernel) UpdateRouting() error {
	return k.Interrupts.UpdateRouting()
}

// AllocatePages serves a byte-capacity allocation from the aggregate
// allocator on the calling CPU's pools.
func (k *Kernel) AllocatePages(requestedBytes uint64) ([]mem.PageRef, bool) {
	return k.Allocator.AllocatePages(int(lock.CurrentCPU()), requestedBytes)
}

// FreePages returns pages to their owning ranges.
func (k *Kernel) FreePages(refs []mem.PageRef) {
	k.Allocator.FreePages(int(lock.CurrentCPU()), refs)
}
