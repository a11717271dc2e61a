// Package eventpipe provides the kernel's deferred-work queue. Timer
// and interrupt code runs in (simulated) interrupt context and must
// never block handing completed work to a consumer: Push lands on a
// lock-free MPMC ring when there is room and spills to an overflow
// list when there is not, so the producer always returns immediately.
// A single consumer goroutine parks on a wakeup signal and drains both
// stages in order.
package eventpipe

import (
	"sync"
	"sync/atomic"

	"github.com/sm5ve/crocos/ring"
)

const drainBatch = 32

// Queue is a bounded-fast-path, unbounded-total deferred-work queue.
// Any number of producers may Push concurrently; Drain and Run belong
// to a single consumer.
type Queue[T any] struct {
	fast *ring.OverflowSafeRingBuffer[T]

	mu       sync.Mutex
	overflow []T

	// wake holds at most one pending signal; coalescing repeated
	// pushes into one consumer wakeup mirrors how a level-triggered
	// doorbell behaves
	wake   chan struct{}
	closed atomic.Bool

	// Spilled counts pushes that missed the ring, for pressure
	// diagnostics.
	Spilled atomic.Uint64
}

// New builds a queue whose lock-free stage holds capacity entries
// (rounded up to a power of two).
func New[T any](capacity uint32) *Queue[T] {
	return &Queue[T]{
		fast: ring.NewOverflowSafeRingBuffer[T](capacity),
		wake: make(chan struct{}, 1),
	}
}

// Push enqueues v and signals the consumer. It never blocks and never
// drops: when the ring is full the entry goes to the overflow list.
func (q *Queue[T]) Push(v T) {
	if !q.fast.TryBulkWrite([]T{v}) {
		q.mu.Lock()
		q.overflow = append(q.overflow, v)
		q.mu.Unlock()
		q.Spilled.Add(1)
	}
	q.signal()
}

func (q *Queue[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Drain delivers every currently queued entry to fn: the ring first
// (its entries predate anything that spilled past it), then the
// overflow list.
func (q *Queue[T]) Drain(fn func(T)) {
	var buf [drainBatch]T
	for {
		n := q.fast.TryBulkRead(buf[:])
		if n == 0 {
			break
		}
		for _, v := range buf[:n] {
			fn(v)
		}
	}
	q.mu.Lock()
	spilled := q.overflow
	q.overflow = nil
	q.mu.Unlock()
	for _, v := range spilled {
		fn(v)
	}
}

// Run services the queue until Close: the consumer parks on the wakeup
// signal, drains on every push, and performs one final drain on the
// way out so nothing queued before Close is lost.
func (q *Queue[T]) Run(fn func(T)) {
	for {
		q.Drain(fn)
		if q.closed.Load() {
			q.Drain(fn)
			return
		}
		<-q.wake
	}
}

// Close stops Run after a final drain. Pushes after Close still land
// in the queue but nothing will consume them.
func (q *Queue[T]) Close() {
	q.closed.Store(true)
	q.signal()
}

// Len returns the number of queued entries across both stages.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	o := len(q.overflow)
	q.mu.Unlock()
	return int(q.fast.Occupied()) + o
}
