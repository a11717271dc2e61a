// Package timing implements the monotonic timing core: clock and event
// sources with quality/stability flags, transitive calibration against
// a bootstrap source, best-source selection, the monotonic time base,
// and the coalescing timer queue driving the selected per-CPU one-shot
// event source.
package timing

import (
	"fmt"
	"math/bits"
)

const nanosPerSecond = 1_000_000_000

// FrequencyData holds a clock's calibration as a 128-bit fixed-point
// ratio: freq is ticks-per-nanosecond in Q64.64, period is its
// reciprocal (nanoseconds-per-tick, Q64.64). Conversions are a
// multiply keeping the high word.
type FrequencyData struct {
	freqHi, freqLo     uint64
	periodHi, periodLo uint64
}

// FrequencyFromHz builds calibration data for a counter ticking hz
// times per second.
func FrequencyFromHz(hz uint64) FrequencyData {
	if hz == 0 {
		return FrequencyData{}
	}
	var fd FrequencyData
	// freq = (hz << 64) / 1e9
	fd.freqHi = hz / nanosPerSecond
	rem := hz % nanosPerSecond
	fd.freqLo, _ = bits.Div64(rem, 0, nanosPerSecond)
	// period = (1e9 << 64) / hz
	fd.periodHi = nanosPerSecond / hz
	prem := uint64(nanosPerSecond) % hz
	fd.periodLo, _ = bits.Div64(prem, 0, hz)
	return fd
}

// FrequencyFromPeriodNs builds calibration data for a counter whose
// tick period is ns nanoseconds.
func FrequencyFromPeriodNs(ns uint64) FrequencyData {
	if ns == 0 {
		return FrequencyData{}
	}
	return FrequencyFromHz(nanosPerSecond / ns)
}

// Populated reports whether the calibration has been set.
func (fd FrequencyData) Populated() bool { return fd.freqHi != 0 || fd.freqLo != 0 }

// NanosToTicks converts a nanosecond interval to counter ticks:
// (ns * freq) >> 64.
func (fd FrequencyData) NanosToTicks(ns uint64) uint64 {
	hi, _ := bits.Mul64(ns, fd.freqLo)
	return ns*fd.freqHi + hi
}

// TicksToNanos converts counter ticks to nanoseconds:
// (ticks * period) >> 64.
func (fd FrequencyData) TicksToNanos(ticks uint64) uint64 {
	hi, _ := bits.Mul64(ticks, fd.periodLo)
	return ticks*fd.periodHi + hi
}

// Hz recovers the approximate integer tick rate.
func (fd FrequencyData) Hz() uint64 {
	hi, _ := bits.Mul64(fd.freqLo, nanosPerSecond)
	return fd.freqHi*nanosPerSecond + hi
}

// ScaledFrequency returns this calibration scaled by num/denom, the
// core of transitive calibration: a target that advanced num ticks
// while the reference advanced denom ticks runs at reference * num /
// denom.
func (fd FrequencyData) ScaledFrequency(num, denom uint64) FrequencyData {
	if denom == 0 {
		return FrequencyData{}
	}
	// 128x64 multiply with an overflow guard
	pHiHi, pHiLo := bits.Mul64(fd.freqHi, num)
	pLoHi, pLoLo := bits.Mul64(fd.freqLo, num)
	t0 := pLoLo
	t1, carry := bits.Add64(pHiLo, pLoHi, 0)
	t2 := pHiHi + carry
	if t2 != 0 {
		panic("timing: calibration scale overflow")
	}
	var out FrequencyData
	out.freqHi = t1 / denom
	r := t1 % denom
	out.freqLo, _ = bits.Div64(r, t0, denom)
	// recover the period from the scaled rate
	hz := out.Hz()
	if hz == 0 {
		return FrequencyData{}
	}
	out.periodHi = nanosPerSecond / hz
	prem := uint64(nanosPerSecond) % hz
	out.periodLo, _ = bits.Div64(prem, 0, hz)
	return out
}

func (fd FrequencyData) String() string {
	if !fd.Populated() {
		return "FrequencyData{uncalibrated}"
	}
	hz := fd.Hz()
	switch {
	case hz >= 1_000_000_000:
		return fmt.Sprintf("%d.%03d GHz", hz/1_000_000_000, hz%1_000_000_000/1_000_000)
	case hz >= 1_000_000:
		return fmt.Sprintf("%d.%03d MHz", hz/1_000_000, hz%1_000_000/1_000)
	case hz >= 1_000:
		return fmt.Sprintf("%d.%03d KHz", hz/1_000, hz%1_000)
	default:
		return fmt.Sprintf("%d Hz", hz)
	}
}
