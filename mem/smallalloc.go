package mem

// smallPageAllocator hands out the small-page indices of one big page.
// It keeps a forward/backward permutation of indices partitioned by an
// occupiedStart marker: slots below the marker are allocated, slots at
// or above it are free. Allocation takes the slot at the marker and
// advances it; free swaps the page's slot with the last allocated slot
// and retreats the marker.
//
// The permutation is lazily initialized: entries past the high-water
// mark are logically the identity without ever being written, so a big
// page that never sees allocation costs no metadata writes.
type smallPageAllocator struct {
	forward  []int32
	backward []int32
	occupied int32
	inited   int32
}

func newSmallPageAllocator(forward, backward []int32) *smallPageAllocator {
	return &smallPageAllocator{forward: forward, backward: backward}
}

func (a *smallPageAllocator) fwd(slot int32) int32 {
	if slot >= a.inited {
		return slot
	}
	return a.forward[slot]
}

func (a *smallPageAllocator) bwd(page int32) int32 {
	if page >= a.inited {
		return page
	}
	return a.backward[page]
}

func (a *smallPageAllocator) materialize(upTo int32) {
	for a.inited <= upTo {
		a.forward[a.inited] = a.inited
		a.backward[a.inited] = a.inited
		a.inited++
	}
}

func (a *smallPageAllocator) swapSlots(i, j int32) {
	if i == j {
		return
	}
	hi := i
	if j > hi {
		hi = j
	}
	a.materialize(hi)
	pi, pj := a.forward[i], a.forward[j]
	a.forward[i], a.forward[j] = pj, pi
	a.backward[pi], a.backward[pj] = j, i
}

// allocate returns the next free small-page index, or -1 when the big
// page is full.
func (a *smallPageAllocator) allocate() int {
	if int(a.occupied) >= len(a.forward) {
		return -1
	}
	page := a.fwd(a.occupied)
	a.occupied++
	return int(page)
}

// free returns small-page index page to the free side. Freeing a page
// that is not allocated is a programmer-contract fault.
func (a *smallPageAllocator) free(page int) bool {
	slot := a.bwd(int32(page))
	if slot >= a.occupied {
		return false
	}
	a.swapSlots(slot, a.occupied-1)
	a.occupied--
	return true
}

// claimAll marks every small page allocated, used when the whole big
// page is handed out at once.
func (a *smallPageAllocator) claimAll() { a.occupied = int32(len(a.forward)) }

// releaseAll marks every small page free. The permutation stays valid;
// only the partition marker moves.
func (a *smallPageAllocator) releaseAll() { a.occupied = 0 }

func (a *smallPageAllocator) allocatedCount() int { return int(a.occupied) }
func (a *smallPageAllocator) freeCount() int      { return len(a.forward) - int(a.occupied) }
