package timing

import (
	"sync/atomic"

	"github.com/sm5ve/crocos/ds"
	"github.com/sm5ve/crocos/klog"
	"github.com/sm5ve/crocos/lock"
)

// Handle identifies an enqueued timer event for cancellation.
type Handle struct {
	ID uint64
}

// ExpiredEvent is returned when the requested deadline has already
// passed and the callback ran synchronously.
var ExpiredEvent = Handle{ID: ^uint64(0)}

// TimerEventCallback runs when a timer event fires.
type TimerEventCallback func()

// callbackEntry is one (callback, handle) pair on a coalesced event's
// list. Entries fire in insertion order.
type callbackEntry struct {
	cb         TimerEventCallback
	id         uint64
	prev, next *callbackEntry
	event      *timerEvent
}

// augBounds is the per-subtree pruning data: the minimum and maximum
// expiration time anywhere below.
type augBounds struct {
	earliest, latest uint64
}

// timerEvent is one coalesced deadline: every callback whose acceptable
// interval covers this expiration time.
type timerEvent struct {
	expiration uint64
	head, tail *callbackEntry
	count      int
	node       *ds.AugNode[uint64, *timerEvent, augBounds]
}

func (e *timerEvent) pushBack(entry *callbackEntry) {
	entry.event = e
	entry.prev = e.tail
	if e.tail != nil {
		e.tail.next = entry
	}
	e.tail = entry
	if e.head == nil {
		e.head = entry
	}
	e.count++
}

func (e *timerEvent) remove(entry *callbackEntry) {
	if entry.prev != nil {
		entry.prev.next = entry.next
	} else {
		e.head = entry.next
	}
	if entry.next != nil {
		entry.next.prev = entry.prev
	} else {
		e.tail = entry.prev
	}
	entry.prev, entry.next = nil, nil
	e.count--
}

// TimerQueue coalesces timer events onto an augmented tree keyed by
// expiration time and drives a single one-shot event source.
type TimerQueue struct {
	lk      *lock.Spinlock
	tree    *ds.AugmentedTree[uint64, *timerEvent, augBounds]
	entries map[uint64]*callbackEntry
	counter uint64

	es  EventSource
	now func() uint64
	lgr *klog.Logger

	// default tolerances applied by EnqueueEvent, in nanoseconds
	defaultLateTolNs  uint64
	defaultEarlyTolNs uint64
}

// NewTimerQueue builds a timer queue over the given one-shot event
// source, with now supplying monotonic nanoseconds.
func NewTimerQueue(es EventSource, now func() uint64, ic lock.InterruptController, lgr *klog.Logger) *TimerQueue {
	if lgr == nil {
		lgr = klog.NewDiscardLogger()
	}
	if ic == nil {
		ic = lock.NoopInterruptController{}
	}
	if es.Flags()&ESOneshot == 0 {
		lgr.Fatalf("timer queue requires a one-shot capable event source, got %s", es.Name())
		return nil
	}
	tq := &TimerQueue{
		lk:                lock.NewSpinlock(ic),
		entries:           make(map[uint64]*callbackEntry),
		es:                es,
		now:               now,
		lgr:               lgr,
		defaultLateTolNs:  5_000_000,
		defaultEarlyTolNs: 0,
	}
	tq.tree = ds.NewAugmentedTree[uint64, *timerEvent, augBounds](
		func(a, b uint64) int {
			switch {
			case a < b:
				return -1
			case a > b:
				return 1
			default:
				return 0
			}
		},
		func(n *ds.AugNode[uint64, *timerEvent, augBounds]) augBounds {
			bounds := augBounds{earliest: n.Key, latest: n.Key}
			if l := n.Left(); l != nil {
				if l.Augment.earliest < bounds.earliest {
					bounds.earliest = l.Augment.earliest
				}
				if l.Augment.latest > bounds.latest {
					bounds.latest = l.Augment.latest
				}
			}
			if r := n.Right(); r != nil {
				if r.Augment.earliest < bounds.earliest {
					bounds.earliest = r.Augment.earliest
				}
				if r.Augment.latest > bounds.latest {
					bounds.latest = r.Augment.latest
				}
			}
			return bounds
		},
	)
	es.RegisterCallback(tq.FlushExpiredEvents)
	return tq
}

// SetDefaultTolerances overrides the tolerances EnqueueEvent applies,
// in milliseconds.
func (tq *TimerQueue) SetDefaultTolerances(lateMs, earlyMs uint64) {
	tq.defaultLateTolNs = lateMs * 1_000_000
	tq.defaultEarlyTolNs = earlyMs * 1_000_000
}

// searchCoalescable finds a node whose expiration falls inside
// [early, late], pruning subtrees whose bounds cannot match and
// preferring earlier deadlines.
func searchCoalescable(n *ds.AugNode[uint64, *timerEvent, augBounds], early, late uint64) *timerEvent {
	if n == nil {
		return nil
	}
	if n.Augment.latest < early || n.Augment.earliest > late {
		return nil
	}
	if found := searchCoalescable(n.Left(), early, late); found != nil {
		return found
	}
	if early <= n.Key && n.Key <= late {
		return n.Value
	}
	return searchCoalescable(n.Right(), early, late)
}

// EnqueueEvent schedules cb to run delayMs milliseconds from now with
// the queue's default tolerances.
func (tq *TimerQueue) EnqueueEvent(cb TimerEventCallback, delayMs uint64) Handle {
	return tq.enqueue(cb, tq.now()+delayMs*1_000_000, tq.defaultLateTolNs, tq.defaultEarlyTolNs)
}

// EnqueueEventWithTolerance schedules cb with explicit tolerances in
// milliseconds: the callback may fire anywhere in
// [deadline - earlyTol, deadline + lateTol], letting nearby deadlines
// coalesce onto one hardware event.
func (tq *TimerQueue) EnqueueEventWithTolerance(cb TimerEventCallback, delayMs, lateTolMs, earlyTolMs uint64) Handle {
	return tq.enqueue(cb, tq.now()+delayMs*1_000_000, lateTolMs*1_000_000, earlyTolMs*1_000_000)
}

func (tq *TimerQueue) enqueue(cb TimerEventCallback, expiration, lateTolNs, earlyTolNs uint64) Handle {
	earlyTime := expiration - earlyTolNs
	lateTime := expiration + lateTolNs

	if tq.now() >= earlyTime {
		cb()
		return ExpiredEvent
	}

	var handle Handle
	token := tq.lk.Acquire()
	tq.counter++
	handle = Handle{ID: tq.counter}
	entry := &callbackEntry{cb: cb, id: handle.ID}
	if event := searchCoalescable(tq.tree.Root(), earlyTime, lateTime); event != nil {
		event.pushBack(entry)
	} else {
		event := &timerEvent{expiration: expiration}
		event.node = tq.tree.Insert(expiration, event)
		event.pushBack(entry)
	}
	tq.entries[handle.ID] = entry
	tq.lk.Release(token)

	tq.FlushExpiredEvents()
	return handle
}

// CancelEvent removes an enqueued event by handle. Returns false when
// the handle does not name a pending event (already fired, cancelled,
// or expired at enqueue).
func (tq *TimerQueue) CancelEvent(handle Handle) bool {
	token := tq.lk.Acquire()
	entry, ok := tq.entries[handle.ID]
	if !ok {
		tq.lk.Release(token)
		return false
	}
	event := entry.event
	event.remove(entry)
	delete(tq.entries, handle.ID)
	if event.count == 0 {
		tq.tree.Delete(event.node)
	}
	tq.lk.Release(token)
	tq.FlushExpiredEvents()
	return true
}

// PendingEvents returns the number of distinct coalesced deadlines in
// the queue.
func (tq *TimerQueue) PendingEvents() int {
	n := 0
	token := tq.lk.Acquire()
	for node := tq.tree.Min(); node != nil; {
		n++
		// successor walk: leftmost of right subtree, else climb
		if node.Right() != nil {
			node = node.Right()
			for node.Left() != nil {
				node = node.Left()
			}
		} else {
			for node.Parent() != nil && node.Parent().Right() == node {
				node = node.Parent()
			}
			node = node.Parent()
		}
	}
	tq.lk.Release(token)
	return n
}

// FlushExpiredEvents fires every due event and re-arms the event source
// for the next pending deadline. Callbacks run outside the queue lock;
// they must not synchronously re-enter the queue on the same CPU
// without a deferred path.
func (tq *TimerQueue) FlushExpiredEvents() {
	var callbacks []TimerEventCallback
	for {
		token := tq.lk.Acquire()
		for {
			min := tq.tree.Min()
			if min == nil || tq.now() < min.Key {
				break
			}
			event := min.Value
			for entry := event.head; entry != nil; entry = entry.next {
				callbacks = append(callbacks, entry.cb)
				delete(tq.entries, entry.id)
			}
			tq.tree.Delete(min)
		}
		tq.lk.Release(token)

		for _, cb := range callbacks {
			cb()
		}
		callbacks = callbacks[:0]

		token = tq.lk.Acquire()
		min := tq.tree.Min()
		if min == nil {
			tq.es.Disarm()
			tq.lk.Release(token)
			return
		}
		now := tq.now()
		if now >= min.Key {
			tq.lk.Release(token)
			continue
		}
		delta := tq.es.Calibration().NanosToTicks(min.Key - now)
		if max := tq.es.MaxOneshotDelay(); max != 0 && delta > max {
			delta = max
		}
		tq.es.ArmOneshot(delta)
		tq.lk.Release(token)
		return
	}
}

// BlockingSleep halts the calling CPU until at least ms milliseconds
// have elapsed. Halt is the architecture's wait-for-interrupt hint.
func (tq *TimerQueue) BlockingSleep(ms uint64) {
	var done atomic.Bool
	tq.EnqueueEvent(func() { done.Store(true) }, ms)
	for !done.Load() {
		Halt()
	}
}

// SleepNS spin-waits for at least ns nanoseconds without involving the
// event source.
func (tq *TimerQueue) SleepNS(ns uint64) {
	deadline := tq.now() + ns
	for tq.now() < deadline {
		Pause()
	}
}

// Halt is the wait-for-interrupt primitive BlockingSleep parks on; the
// amd64 build backs it with hlt.
var Halt = Pause
