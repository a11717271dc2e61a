package ring

import (
	"runtime"
	"sync/atomic"
)

// OverflowSafeRingBuffer is the overflow-tolerant MPMC queue: a fourth head,
// `reading`, sits strictly between `written` and `read`. Consumers claim
// a batch by CASing `reading` forward (optimistic: claims only that a
// read is starting, not that it has finished), copy data out, then
// publish completion by advancing `read` in strict claim order exactly
// like producers do for `written`. Producers check available room
// against `reading` rather than `read` — it is always ≥ `read`, so this
// lets a producer reuse a slot as soon as some consumer has claimed it,
// without waiting for that consumer to finish copying — but a producer
// must still spin, per slot, until `read` (not just `reading`) has
// passed that slot's previous occupant before it overwrites it, which
// is the actual correctness guarantee: a slot is never overwritten while
// a consumer might still be reading it.
type OverflowSafeRingBuffer[T any] struct {
	mask uint32
	buf  []T

	write   atomic.Uint32
	written atomic.Uint32
	reading atomic.Uint32
	read    atomic.Uint32

	Stats Stats
}

func NewOverflowSafeRingBuffer[T any](capacity uint32) *OverflowSafeRingBuffer[T] {
	cap := nextPowerOf2(capacity)
	return &OverflowSafeRingBuffer[T]{
		mask: cap - 1,
		buf:  make([]T, cap),
	}
}

func (r *OverflowSafeRingBuffer[T]) Capacity() uint32 { return r.mask + 1 }

// TryBulkWrite claims room optimistically against `reading`, then for
// each slot spins until `read` (true completion) has passed that slot's
// prior tenant before writing it, so overflow can never corrupt data a
// consumer has claimed but not finished copying.
func (r *OverflowSafeRingBuffer[T]) TryBulkWrite(items []T) bool {
	n := uint32(len(items))
	cap := r.Capacity()
	if n > cap {
		r.Stats.EnqFailed.Add(1)
		return false
	}
	for {
		start := r.write.Load()
		reading := r.reading.Load()
		if start+n-reading > cap {
			r.Stats.EnqFailed.Add(1)
			return false
		}
		if r.write.CompareAndSwap(start, start+n) {
			for i, v := range items {
				idx := start + uint32(i)
				// The slot at idx was last occupied by index idx-cap;
				// wait for that generation to be fully read before
				// reusing it.
				for idx >= cap && r.read.Load() < idx-cap+1 {
					runtime.Gosched()
				}
				r.buf[idx&r.mask] = v
			}
			for r.written.Load() != start {
				runtime.Gosched()
			}
			r.written.Store(start + n)
			r.Stats.Enqueued.Add(uint64(n))
			return true
		}
	}
}

// TryBulkRead claims a batch against `written`, copies data out, then
// publishes completion via `read` in strict claim order.
func (r *OverflowSafeRingBuffer[T]) TryBulkRead(out []T) uint32 {
	for {
		start := r.reading.Load()
		written := r.written.Load()
		avail := written - start
		n := uint32(len(out))
		if n > avail {
			n = avail
		}
		if n == 0 {
			r.Stats.DeqFailed.Add(1)
			return 0
		}
		if r.reading.CompareAndSwap(start, start+n) {
			for i := uint32(0); i < n; i++ {
				out[i] = r.buf[(start+i)&r.mask]
			}
			for r.read.Load() != start {
				runtime.Gosched()
			}
			r.read.Store(start + n)
			r.Stats.Dequeued.Add(uint64(n))
			return n
		}
	}
}

// Occupied returns the number of slots holding published, unclaimed data.
func (r *OverflowSafeRingBuffer[T]) Occupied() uint32 {
	return r.written.Load() - r.reading.Load()
}
