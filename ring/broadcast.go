package ring

import (
	"sync/atomic"
)

// BroadcastRingBuffer is the fan-out queue: every consumer gets its own
// read head (so each consumer sees every published item, not a
// competing share of it), and a slot is only returned to the producer's
// free pool once every consumer has acknowledged it.
//
// Publication uses scan-on-complete coalescing: each producer, after
// filling its claimed slots, stores a completion
// generation tag into those slots with sequentially consistent ordering
// and makes exactly one CAS attempt to advance the shared `written`
// head. The CAS's winner (not necessarily the producer whose batch
// triggered it) then scans forward across every contiguous slot whose
// generation tag is already stamped, coalescing as many finished
// batches as are currently ready into a single head advancement instead
// of leaving every producer to spin for its predecessor. This is why
// the generation tags must be SC: the scanner's reads of them must be
// totally ordered against every other producer's failed CAS, or it can
// miss a batch that finished just before the scan reached it.
//
// Slot reclamation works the same way in reverse: each consumer
// increments a per-slot ack counter after reading; when a slot's count
// reaches the consumer count, one winning acker CASes the shared `freed`
// head forward and scans ahead coalescing any further already-acked
// slots, exactly mirroring the publish-side scan.
type BroadcastRingBuffer[T any] struct {
	mask          uint32
	buf           []T
	gen           []atomic.Uint32 // per-slot publish generation tag; 0 = not yet published for its current cycle
	ackCount      []atomic.Uint32
	numConsumers  uint32

	write   atomic.Uint32
	written atomic.Uint32
	freed   atomic.Uint32

	readHeads []atomic.Uint32

	Stats Stats
}

func NewBroadcastRingBuffer[T any](capacity uint32, numConsumers uint32) *BroadcastRingBuffer[T] {
	cap := nextPowerOf2(capacity)
	r := &BroadcastRingBuffer[T]{
		mask:         cap - 1,
		buf:          make([]T, cap),
		gen:          make([]atomic.Uint32, cap),
		ackCount:     make([]atomic.Uint32, cap),
		numConsumers: numConsumers,
		readHeads:    make([]atomic.Uint32, numConsumers),
	}
	return r
}

func (r *BroadcastRingBuffer[T]) Capacity() uint32 { return r.mask + 1 }

// cycleGen returns the generation tag a slot must carry once index idx
// has been published, given the ring wraps every Capacity() claims.
func (r *BroadcastRingBuffer[T]) cycleGen(idx uint32) uint32 {
	return idx/r.Capacity() + 1
}

// TryBulkWrite claims len(items) slots (checked against the shared
// `freed` head so a producer never races a slot still awaiting acks),
// fills them, stamps each with its publish generation, then makes one
// CAS attempt on `written` and, if it wins, scans forward coalescing.
func (r *BroadcastRingBuffer[T]) TryBulkWrite(items []T) bool {
	n := uint32(len(items))
	cap := r.Capacity()
	if n > cap {
		r.Stats.EnqFailed.Add(1)
		return false
	}
	var start uint32
	for {
		start = r.write.Load()
		freed := r.freed.Load()
		if start+n-freed > cap {
			r.Stats.EnqFailed.Add(1)
			return false
		}
		if r.write.CompareAndSwap(start, start+n) {
			break
		}
	}
	for i, v := range items {
		idx := start + uint32(i)
		r.buf[idx&r.mask] = v
		r.gen[idx&r.mask].Store(r.cycleGen(idx)) // sequentially consistent store
	}
	r.Stats.Enqueued.Add(uint64(n))
	if r.written.CompareAndSwap(start, start+n) {
		r.scanPublish(start + n)
	}
	return true
}

// scanPublish is the winning CAS's coalescing scan: it advances
// `written` across every contiguously-ready slot beyond from.
func (r *BroadcastRingBuffer[T]) scanPublish(from uint32) {
	idx := from
	for r.gen[idx&r.mask].Load() == r.cycleGen(idx) {
		idx++
	}
	if idx != from {
		r.written.CompareAndSwap(from, idx)
	}
}

// Read drains every slot published since consumer id last read, up to
// len(out), returning the count read. Each consumer's read head is
// single-writer: it must be driven by one goroutine.
func (r *BroadcastRingBuffer[T]) Read(id uint32, out []T) uint32 {
	start := r.readHeads[id].Load()
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
	for i := uint32(0); i < n; i++ {
		idx := start + i
		out[i] = r.buf[idx&r.mask]
		r.ack(idx)
	}
	r.readHeads[id].Store(start + n)
	r.Stats.Dequeued.Add(uint64(n))
	return n
}

// ack increments idx's ack counter; once every consumer has acked, it
// is eligible for the `freed` scan.
func (r *BroadcastRingBuffer[T]) ack(idx uint32) {
	slot := idx & r.mask
	if r.ackCount[slot].Add(1) != r.numConsumers {
		return
	}
	if r.freed.CompareAndSwap(idx, idx+1) {
		r.ackCount[slot].Store(0)
		r.scanFree(idx + 1)
	}
}

func (r *BroadcastRingBuffer[T]) scanFree(from uint32) {
	idx := from
	for r.ackCount[idx&r.mask].Load() == r.numConsumers {
		r.ackCount[idx&r.mask].Store(0)
		idx++
	}
	if idx != from {
		r.freed.CompareAndSwap(from, idx)
	}
}
