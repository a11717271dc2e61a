package mem

import (
	"testing"

	"github.com/sm5ve/crocos/addr"
	"github.com/sm5ve/crocos/ds"
)

func testRange() addr.PhysRange {
	return addr.PhysRange{Start: 0x200000, End: 0x10200000} // 128 MiB
}

// checkAccounting verifies the pool-membership and count invariants:
// every big page sits in exactly the list its state says, and the
// cached counts match the lists.
func checkAccounting(t *testing.T, ra *RangeAllocator) {
	t.Helper()
	for _, pool := range ra.pools {
		freeCount, smallCount := 0, 0
		pool.free.Each(func(bp int) bool {
			if ra.state[bp] != bpFree {
				t.Fatalf("page %d in free list with state %d", bp, ra.state[bp])
			}
			freeCount++
			smallCount += SmallPagesPerBigPage
			return true
		})
		pool.partial.Each(func(bp int) bool {
			if ra.state[bp] != bpPartial {
				t.Fatalf("page %d in partial list with state %d", bp, ra.state[bp])
			}
			smallCount += ra.smallAlloc[bp].freeCount()
			return true
		})
		pool.full.Each(func(bp int) bool {
			if ra.state[bp] != bpFull {
				t.Fatalf("page %d in full list with state %d", bp, ra.state[bp])
			}
			return true
		})
		if pool.freeBigPages != freeCount {
			t.Fatalf("pool %d freeBigPages %d, list says %d", pool.id, pool.freeBigPages, freeCount)
		}
		if pool.freeSmallPages != smallCount {
			t.Fatalf("pool %d freeSmallPages %d, lists say %d", pool.id, pool.freeSmallPages, smallCount)
		}
		// exactly one pressure bit per pool
		set := 0
		for lvl := ds.Surplus; lvl <= ds.Desperate; lvl++ {
			for _, key := range ra.pressure.KeysAt(lvl) {
				if key == pool.id {
					set++
				}
			}
		}
		if set != 1 {
			t.Fatalf("pool %d holds %d pressure bits", pool.id, set)
		}
	}
}

func TestSingleCPUAllocateAndFreeAll(t *testing.T) {
	ra := NewRangeAllocator(testRange(), 1, nil, nil)
	if ra.FreeBigPageCount() != 64 {
		t.Fatalf("initial free big pages %d", ra.FreeBigPageCount())
	}

	var refs []PageRef
	for i := 0; i < 512; i++ {
		ref, ok := ra.AllocateSmallPage(0)
		if !ok {
			t.Fatalf("small allocation %d failed", i)
		}
		refs = append(refs, ref)
	}
	big, ok := ra.AllocateBigPage(0)
	if !ok {
		t.Fatal("big allocation failed")
	}
	refs = append(refs, big)
	checkAccounting(t, ra)

	ra.FreePages(0, refs)
	checkAccounting(t, ra)

	if ra.FreeBigPageCount() != 64 {
		t.Fatalf("post-free free big pages %d", ra.FreeBigPageCount())
	}
	if ra.Pool(0).Pressure() != ds.Surplus {
		t.Fatalf("post-free pool pressure %v", ra.Pool(0).Pressure())
	}
	for bp := 0; bp < ra.nBig; bp++ {
		if ra.state[bp] != bpFree {
			t.Fatalf("page %d state %d after free-all", bp, ra.state[bp])
		}
	}
}

func TestColoredAllocation(t *testing.T) {
	ra := NewRangeAllocator(testRange(), 1, nil, nil)
	r1, ok := ra.AllocateColoredSmallPage(0, 3)
	if !ok {
		t.Fatal("colored allocation failed")
	}
	r2, ok := ra.AllocateColoredSmallPage(0, 3)
	if !ok {
		t.Fatal("second colored allocation failed")
	}
	// same color class lands in the same (now colored, partial) big page
	bp1 := ra.bigPageIndex(r1.Addr())
	bp2 := ra.bigPageIndex(r2.Addr())
	if bp1 != bp2 {
		t.Fatalf("color 3 split across pages %d and %d", bp1, bp2)
	}
	if ra.pageColor[bp1] != 3 {
		t.Fatalf("page color %d", ra.pageColor[bp1])
	}
	r3, ok := ra.AllocateColoredSmallPage(0, 7)
	if !ok {
		t.Fatal("different color allocation failed")
	}
	if bp3 := ra.bigPageIndex(r3.Addr()); bp3 == bp1 {
		t.Fatal("different colors share a big page without desperation")
	}
	checkAccounting(t, ra)
}

func TestStealFromRemotePool(t *testing.T) {
	ra := NewRangeAllocator(testRange(), 2, nil, nil)
	pool0 := ra.Pool(0)

	// drain cpu0's pool entirely: allocate all of its big pages as big
	// pages (its share is nBig/3)
	var refs []PageRef
	for pool0.FreeBigPageCount() > 0 {
		ref, ok := ra.AllocateBigPage(0)
		if !ok {
			t.Fatal("draining allocation failed")
		}
		refs = append(refs, ref)
	}
	if pool0.Pressure() != ds.Desperate {
		t.Fatalf("drained pool pressure %v", pool0.Pressure())
	}
	// next allocation must steal from a surplus pool and still succeed
	ref, ok := ra.AllocateSmallPage(0)
	if !ok {
		t.Fatal("post-drain allocation failed")
	}
	refs = append(refs, ref)
	checkAccounting(t, ra)

	ra.FreePages(0, refs)
	checkAccounting(t, ra)
	if ra.FreeBigPageCount() != 64 {
		t.Fatalf("free big pages %d after restore", ra.FreeBigPageCount())
	}
}

func TestRemoteFreeIsDeferred(t *testing.T) {
	ra := NewRangeAllocator(testRange(), 2, nil, nil)
	// allocate from cpu0's pool, free from cpu1
	ref, ok := ra.AllocateSmallPage(0)
	if !ok {
		t.Fatal("allocation failed")
	}
	bp := ra.bigPageIndex(ref.Addr())
	owner := ra.poolOf[bp]

	ra.FreePages(1, []PageRef{ref})
	if ra.pools[owner].deferred.Occupied() != 1 {
		t.Fatalf("deferred queue holds %d entries", ra.pools[owner].deferred.Occupied())
	}
	// the owner's next allocation drains the deferred queue
	ref2, ok := ra.AllocateSmallPage(int(owner))
	if !ok {
		t.Fatal("owner allocation failed")
	}
	if ra.pools[owner].deferred.Occupied() != 0 {
		t.Fatal("deferred queue not drained")
	}
	ra.FreePages(int(owner), []PageRef{ref2})
	checkAccounting(t, ra)
}

func TestRunCoalescingFree(t *testing.T) {
	ra := NewRangeAllocator(testRange(), 1, nil, nil)
	var refs []PageRef
	for i := 0; i < 8; i++ {
		ref, ok := ra.AllocateSmallPage(0)
		if !ok {
			t.Fatal("allocation failed")
		}
		refs = append(refs, ref)
	}
	// free as a single run reference covering all eight pages
	start := refs[0].Addr()
	contiguous := true
	for i, r := range refs {
		if r.Addr() != start.Add(uint64(i)*SmallPageSize) {
			contiguous = false
		}
	}
	if !contiguous {
		// allocation order is an implementation detail; fall back to
		// the individual refs if the pages came out shuffled
		ra.FreePages(0, refs)
	} else {
		ra.FreePages(0, []PageRef{SmallPageRef(start, 8)})
	}
	checkAccounting(t, ra)
	if ra.FreeSmallPageCount() != 64*SmallPagesPerBigPage {
		t.Fatalf("free small pages %d", ra.FreeSmallPageCount())
	}
}

func TestReservePhysicalRange(t *testing.T) {
	ra := NewRangeAllocator(testRange(), 1, nil, nil)
	// reserve the first two big pages (e.g. the kernel image)
	ra.ReservePhysicalRange(addr.PhysRange{Start: 0x200000, End: 0x600000})
	if ra.FreeBigPageCount() != 62 {
		t.Fatalf("free big pages %d after reservation", ra.FreeBigPageCount())
	}
	// allocations never land in the reserved window
	for i := 0; i < 100; i++ {
		ref, ok := ra.AllocateSmallPage(0)
		if !ok {
			t.Fatal("allocation failed")
		}
		if ref.Addr() < 0x600000 {
			t.Fatalf("allocation %v inside reserved window", ref.Addr())
		}
	}
	checkAccounting(t, ra)
}

func TestRequestedBufferSizeForRange(t *testing.T) {
	size := RequestedBufferSizeForRange(testRange(), 1)
	if size == 0 {
		t.Fatal("zero metadata size for usable range")
	}
	// 64 big pages of permutations alone
	if size < 64*2*2*uint64(SmallPagesPerBigPage) {
		t.Fatalf("metadata size %d implausibly small", size)
	}
	// a sliver holding no aligned big page measures zero
	if RequestedBufferSizeForRange(addr.PhysRange{Start: 0x1000, End: 0x2000}, 1) != 0 {
		t.Fatal("sub-big-page range measured nonzero")
	}
}
