// Package lock implements the kernel's core concurrency primitives: the
// interrupt-masking priority spinlock and the reader/writer spinlock
// described in the interrupt topology and allocator subsystems. There is
// no real amd64 interrupt flag to save and restore in a hosted Go build,
// so InterruptController abstracts it behind a narrow interface the boot
// and test harnesses implement; PlainSpinlock skips that step entirely
// for callers already known to be in a critical section, matching the
// "plain" variants of the acquire/release pair.
package lock

import (
	"fmt"
	"runtime"
	"sync/atomic"
)

// InterruptController abstracts disabling/restoring the current CPU's
// interrupt-enabled state. Production code backs this with the real
// amd64 cli/sti/pushfq sequence; tests use a software flag.
type InterruptController interface {
	// Disable disables interrupts on the calling CPU and returns whether
	// they were enabled beforehand.
	Disable() (wasEnabled bool)
	// Restore sets the calling CPU's interrupt-enabled state to wasEnabled.
	Restore(wasEnabled bool)
}

// NoopInterruptController is an InterruptController for single-threaded
// tests that have no interrupt model at all.
type NoopInterruptController struct{}

func (NoopInterruptController) Disable() bool    { return true }
func (NoopInterruptController) Restore(bool)     {}

var _ InterruptController = NoopInterruptController{}

// CPUID identifies the CPU currently holding a lock, for the diagnostic
// double-acquire check. 0 is a valid CPU id; NoCPU marks "unheld".
type CPUID int32

const NoCPU CPUID = -1

// CurrentCPU reports the calling CPU. It defaults to always reporting
// CPU 0, which is correct for single-CPU use; boot reads it but does
// not replace it, so a harness with per-CPU identity (or a test) must
// assign it.
var CurrentCPU func() CPUID = func() CPUID { return 0 }

// DeadlockCheck enables the diagnostic same-CPU re-acquisition check.
// It requires CurrentCPU to report real per-CPU identity: with the
// default always-0 accessor, ordinary contention between contexts is
// indistinguishable from a deadlock.
var DeadlockCheck = false

// Spinlock is the kernel's interrupt-masking priority spinlock: a
// monotonic mutual-exclusion lock whose Acquire disables interrupts,
// spins on a CAS of an acquired flag, and whose Release restores the
// saved interrupt state. The diagnostic owner field detects same-CPU
// re-acquisition, a programmer-contract fault that must abort.
type Spinlock struct {
	ic       InterruptController
	acquired atomic.Bool
	owner    atomic.Int32
}

// NewSpinlock returns a Spinlock that uses ic to mask interrupts around
// its critical section.
func NewSpinlock(ic InterruptController) *Spinlock {
	l := &Spinlock{ic: ic}
	l.owner.Store(int32(NoCPU))
	return l
}

// Acquire disables interrupts, spins until the lock is free, and returns
// a token that must be passed to Release.
func (l *Spinlock) Acquire() (token bool) {
	wasEnabled := l.ic.Disable()
	l.spin()
	return wasEnabled
}

func (l *Spinlock) spin() {
	me := int32(CurrentCPU())
	for {
		if l.acquired.CompareAndSwap(false, true) {
			l.owner.Store(me)
			return
		}
		if DeadlockCheck && l.owner.Load() == me {
			panic(fmt.Sprintf("spinlock: CPU %d re-acquired a lock it already holds", me))
		}
		runtime.Gosched()
	}
}

// Release releases the lock and restores the interrupt state captured
// by the matching Acquire.
func (l *Spinlock) Release(token bool) {
	l.owner.Store(int32(NoCPU))
	l.acquired.Store(false)
	l.ic.Restore(token)
}

// TryAcquire attempts to acquire the lock without blocking, retrying up
// to retries times. This is the allocator's only timeout mechanism; it
// is used for cross-pool stealing so a contended remote page does not
// stall the caller.
func (l *Spinlock) TryAcquire(retries int) (token bool, ok bool) {
	wasEnabled := l.ic.Disable()
	me := int32(CurrentCPU())
	for i := 0; i <= retries; i++ {
		if l.acquired.CompareAndSwap(false, true) {
			l.owner.Store(me)
			return wasEnabled, true
		}
		runtime.Gosched()
	}
	l.ic.Restore(wasEnabled)
	return false, false
}

// PlainSpinlock is the interrupt-oblivious flavor used by callers
// already inside a critical section (e.g. a handler invoked with
// interrupts already masked). It has the same CAS-and-spin contract as
// Spinlock but never touches the interrupt-enabled state.
type PlainSpinlock struct {
	acquired atomic.Bool
	owner    atomic.Int32
}

func NewPlainSpinlock() *PlainSpinlock {
	l := &PlainSpinlock{}
	l.owner.Store(int32(NoCPU))
	return l
}

func (l *PlainSpinlock) Acquire() {
	me := int32(CurrentCPU())
	for {
		if l.acquired.CompareAndSwap(false, true) {
			l.owner.Store(me)
			return
		}
		if DeadlockCheck && l.owner.Load() == me {
			panic(fmt.Sprintf("spinlock: CPU %d re-acquired a lock it already holds", me))
		}
		runtime.Gosched()
	}
}

func (l *PlainSpinlock) Release() {
	l.owner.Store(int32(NoCPU))
	l.acquired.Store(false)
}
