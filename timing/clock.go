package timing

import (
	"runtime"
	"sync"

	"github.com/sm5ve/crocos/klog"
)

// CSFlags describe a clock source's properties.
type CSFlags uint8

const (
	CSFixedFrequency CSFlags = 1 << 0
	CSPerCPU         CSFlags = 1 << 1
	// CSKnownStable covers sources whose frequency is stable but still
	// needs calibration, like the LAPIC timer.
	CSKnownStable CSFlags = 1 << 2
)

// ESFlags describe an event source's properties.
type ESFlags uint8

const (
	ESFixedFrequency ESFlags = 1 << 0
	ESPerCPU         ESFlags = 1 << 1
	ESKnownStable    ESFlags = 1 << 2
	ESOneshot        ESFlags = 1 << 3
	ESPeriodic       ESFlags = 1 << 4
	// ESStopsInSleep marks sources that stop in C3 or deeper.
	ESStopsInSleep ESFlags = 1 << 5
	// ESTracksIntermediate marks sources implementing TicksElapsed.
	ESTracksIntermediate ESFlags = 1 << 6
)

// ClockSource is a monotonically counting hardware counter.
type ClockSource interface {
	Name() string
	// Mask is the counter width mask (all ones for a 64-bit counter).
	Mask() uint64
	Flags() CSFlags
	Quality() int
	Calibration() FrequencyData
	SetCalibration(FrequencyData)
	// Read returns the raw counter value.
	Read() uint64
}

// EventSource fires a callback after a programmed delay.
type EventSource interface {
	Name() string
	Flags() ESFlags
	Quality() int
	Calibration() FrequencyData
	SetCalibration(FrequencyData)
	ArmOneshot(deltaTicks uint64)
	MaxOneshotDelay() uint64
	ArmPeriodic(periodTicks uint64)
	MaxPeriod() uint64
	Disarm()
	TicksElapsed() uint64
	RegisterCallback(func())
	UnregisterCallback()
}

// ClockStable reports whether cs has a stable frequency (fixed, or
// known-stable pending calibration).
func ClockStable(cs ClockSource) bool {
	return cs.Flags()&(CSKnownStable|CSFixedFrequency) != 0
}

// ClockCalibrated reports whether cs has calibration data.
func ClockCalibrated(cs ClockSource) bool { return cs.Calibration().Populated() }

// EventStable reports whether es has a stable frequency.
func EventStable(es EventSource) bool {
	return es.Flags()&(ESKnownStable|ESFixedFrequency) != 0
}

// DefaultCalibrationMinTicks is the default minimum tick advancement a
// calibration comparison waits for: 100 ms on a 1 MHz counter, 100 µs
// on a 1 GHz one.
const DefaultCalibrationMinTicks = 100000

// Pause is the spin-wait hint between counter reads; the amd64 build
// backs it with a pause instruction.
var Pause = runtime.Gosched

type timerComparison struct {
	refDelta, targetDelta uint64
}

func timerPastMinimum(val, minTicks, initTicks uint64, overflows bool) bool {
	return val >= minTicks && (val < initTicks || !overflows)
}

// compareTimerTicks samples both counters, spins until each has
// advanced at least minTicks (accounting for counter wrap), and
// returns the observed deltas.
func compareTimerTicks(ref, target ClockSource, minTicks uint64) timerComparison {
	if minTicks >= ref.Mask()>>1 || minTicks >= target.Mask()>>1 {
		panic("timing: minTicks too large, risk of double wrap")
	}
	refInit := ref.Read()
	targetInit := target.Read()
	refMin := (refInit + minTicks) & ref.Mask()
	targetMin := (targetInit + minTicks) & target.Mask()
	refOverflows := refMin < refInit
	targetOverflows := targetMin < targetInit
	var refVal, targetVal uint64
	for {
		refVal = ref.Read()
		targetVal = target.Read()
		if timerPastMinimum(refVal, refMin, refInit, refOverflows) &&
			timerPastMinimum(targetVal, targetMin, targetInit, targetOverflows) {
			break
		}
		Pause()
	}
	return timerComparison{
		refDelta:    (refVal - refInit) & ref.Mask(),
		targetDelta: (targetVal - targetInit) & target.Mask(),
	}
}

// CalibrateClockSource calibrates target against a stable, already
// calibrated reference by watching both advance.
func CalibrateClockSource(reference, target ClockSource, minTicks uint64) {
	if !ClockStable(reference) {
		panic("timing: can't calibrate off of unstable clock source")
	}
	if !ClockCalibrated(reference) {
		panic("timing: can't calibrate off of uncalibrated clock source")
	}
	if minTicks == 0 {
		minTicks = DefaultCalibrationMinTicks
	}
	cmp := compareTimerTicks(reference, target, minTicks)
	target.SetCalibration(reference.Calibration().ScaledFrequency(cmp.targetDelta, cmp.refDelta))
}

// eventSourceClock adapts an intermediate-tracking event source to the
// counter comparison machinery so it can be calibrated like a clock.
type eventSourceClock struct {
	es EventSource
}

func (c eventSourceClock) Name() string { return c.es.Name() }
func (c eventSourceClock) Mask() uint64 { return ^uint64(0) }

func (c eventSourceClock) Flags() CSFlags {
	var f CSFlags
	if c.es.Flags()&ESFixedFrequency != 0 {
		f |= CSFixedFrequency
	}
	if c.es.Flags()&ESKnownStable != 0 {
		f |= CSKnownStable
	}
	if c.es.Flags()&ESPerCPU != 0 {
		f |= CSPerCPU
	}
	return f
}

func (c eventSourceClock) Quality() int                 { return c.es.Quality() }
func (c eventSourceClock) Calibration() FrequencyData   { return c.es.Calibration() }
func (c eventSourceClock) SetCalibration(f FrequencyData) { c.es.SetCalibration(f) }
func (c eventSourceClock) Read() uint64                 { return c.es.TicksElapsed() }

// CalibrateEventSource calibrates an event source that tracks
// intermediate time against a stable, calibrated reference clock.
func CalibrateEventSource(reference ClockSource, es EventSource, minTicks uint64) {
	if es.Flags()&ESTracksIntermediate == 0 {
		panic("timing: event source does not track intermediate time")
	}
	if minTicks == 0 {
		minTicks = DefaultCalibrationMinTicks
	}
	cmp := compareTimerTicks(reference, eventSourceClock{es: es}, minTicks)
	es.SetCalibration(reference.Calibration().ScaledFrequency(cmp.targetDelta, cmp.refDelta))
}

// Registry holds the registered clock and event sources and the
// selection results.
type Registry struct {
	mu sync.Mutex

	clockSources []ClockSource
	eventSources []EventSource

	watchdogClock ClockSource
	bestClock     ClockSource
	bestEvent     EventSource

	// monotonic extension of the best clock past counter wrap
	monoEpoch uint64
	lastRaw   uint64

	minTicks uint64
	lgr      *klog.Logger
}

func NewRegistry(calibrationMinTicks uint64, lgr *klog.Logger) *Registry {
	if lgr == nil {
		lgr = klog.NewDiscardLogger()
	}
	if calibrationMinTicks == 0 {
		calibrationMinTicks = DefaultCalibrationMinTicks
	}
	return &Registry{minTicks: calibrationMinTicks, lgr: lgr}
}

func (r *Registry) RegisterClockSource(cs ClockSource) {
	r.mu.Lock()
	r.clockSources = append(r.clockSources, cs)
	r.mu.Unlock()
	r.lgr.Debug("clock source registered",
		klog.KV("name", cs.Name()), klog.KV("quality", cs.Quality()))
}

func (r *Registry) RegisterEventSource(es EventSource) {
	r.mu.Lock()
	r.eventSources = append(r.eventSources, es)
	r.mu.Unlock()
	r.lgr.Debug("event source registered",
		klog.KV("name", es.Name()), klog.KV("quality", es.Quality()))
}

// SelectBootstrapClock picks the best already-calibrated stable clock,
// the root every other source is transitively calibrated against.
func (r *Registry) SelectBootstrapClock() ClockSource {
	var best ClockSource
	for _, cs := range r.clockSources {
		if !ClockCalibrated(cs) || !ClockStable(cs) {
			continue
		}
		if best == nil || cs.Quality() > best.Quality() {
			best = cs
		}
	}
	return best
}

// SelectWatchdogClock picks the best stable clock, calibrating it off
// the bootstrap clock if needed.
func (r *Registry) SelectWatchdogClock() ClockSource {
	var best ClockSource
	for _, cs := range r.clockSources {
		if !ClockStable(cs) {
			continue
		}
		if best == nil || cs.Quality() > best.Quality() {
			best = cs
		}
	}
	if best == nil {
		r.lgr.Fatalf("no stable clock source found")
		return nil
	}
	if !ClockCalibrated(best) {
		bootstrap := r.SelectBootstrapClock()
		if bootstrap == nil {
			r.lgr.Fatalf("no bootstrap clock source found")
			return nil
		}
		CalibrateClockSource(bootstrap, best, r.minTicks)
	}
	r.watchdogClock = best
	return best
}

// SelectBestClock picks the highest quality clock regardless of
// stability, calibrating it off the watchdog if needed.
func (r *Registry) SelectBestClock() ClockSource {
	var best ClockSource
	for _, cs := range r.clockSources {
		if best == nil || cs.Quality() > best.Quality() {
			best = cs
		}
	}
	if best == nil {
		r.lgr.Fatalf("no clock source found")
		return nil
	}
	if !ClockCalibrated(best) {
		if r.watchdogClock == nil {
			r.SelectWatchdogClock()
		}
		CalibrateClockSource(r.watchdogClock, best, r.minTicks)
	}
	r.bestClock = best
	return best
}

// SelectEventSource picks the best event source: highest quality with
// a per-CPU tiebreak, one-shot capable.
func (r *Registry) SelectEventSource() EventSource {
	var best EventSource
	for _, es := range r.eventSources {
		if es.Flags()&ESOneshot == 0 {
			continue
		}
		if best == nil || es.Quality() > best.Quality() ||
			(es.Quality() == best.Quality() && es.Flags()&ESPerCPU != 0 && best.Flags()&ESPerCPU == 0) {
			best = es
		}
	}
	if best == nil {
		r.lgr.Fatalf("no one-shot capable event source found")
		return nil
	}
	r.bestEvent = best
	return best
}

// Initialize runs source selection and calibration end to end.
func (r *Registry) Initialize() {
	r.SelectWatchdogClock()
	r.SelectBestClock()
	r.SelectEventSource()
	r.lgr.Info("timing initialized",
		klog.KV("clock", r.bestClock.Name()),
		klog.KV("watchdog", r.watchdogClock.Name()),
		klog.KV("event", r.bestEvent.Name()),
		klog.KV("frequency", r.bestClock.Calibration().String()))
}

// BestClock returns the selected clock source.
func (r *Registry) BestClock() ClockSource { return r.bestClock }

// BestEventSource returns the selected event source.
func (r *Registry) BestEventSource() EventSource { return r.bestEvent }

// MonoTimeNS returns the best clock's count converted to nanoseconds,
// extending the raw counter past its wrap; it is not offset to the
// moment the clock was selected.
func (r *Registry) MonoTimeNS() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs := r.bestClock
	if cs == nil {
		return 0
	}
	raw := cs.Read() & cs.Mask()
	if raw < r.lastRaw {
		r.monoEpoch += cs.Mask() + 1
	}
	r.lastRaw = raw
	return cs.Calibration().TicksToNanos(r.monoEpoch + raw)
}
