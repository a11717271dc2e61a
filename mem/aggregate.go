package mem

import (
	"github.com/sm5ve/crocos/addr"
	"github.com/sm5ve/crocos/ds"
	"github.com/sm5ve/crocos/klog"
)

// AggregateAllocator serves cross-range traffic: allocations are routed
// to the range whose pressure bitmap claims the most surplus (ties
// broken by range index), and frees are routed to the owning range by
// an augmented tree over the ranges' physical spans. A free whose
// address no range covers is a hard fault.
type AggregateAllocator struct {
	ranges   []*RangeAllocator
	tree     *ds.AugmentedTree[addr.PhysAddr, *RangeAllocator, addr.PhysRange]
	pressure *ds.PressureBitmap
	lgr      *klog.Logger
}

// NewAggregateAllocator wires the per-range allocators together. The
// ranges must not overlap.
func NewAggregateAllocator(ranges []*RangeAllocator, lgr *klog.Logger) *AggregateAllocator {
	if lgr == nil {
		lgr = klog.NewDiscardLogger()
	}
	agg := &AggregateAllocator{
		ranges:   ranges,
		pressure: ds.NewPressureBitmap(len(ranges)),
		lgr:      lgr,
	}
	agg.tree = ds.NewAugmentedTree[addr.PhysAddr, *RangeAllocator, addr.PhysRange](
		func(a, b addr.PhysAddr) int {
			switch {
			case a < b:
				return -1
			case a > b:
				return 1
			default:
				return 0
			}
		},
		func(n *ds.AugNode[addr.PhysAddr, *RangeAllocator, addr.PhysRange]) addr.PhysRange {
			r := n.Value.Range()
			if l := n.Left(); l != nil {
				r = r.Union(l.Augment)
			}
			if rr := n.Right(); rr != nil {
				r = r.Union(rr.Augment)
			}
			return r
		},
	)
	for i, ra := range ranges {
		idx := i
		ra.onPressureChange = func(changed *RangeAllocator) {
			agg.pressure.Set(idx, changed.BestPressure())
		}
		agg.tree.Insert(ra.Range().Start, ra)
		agg.pressure.Set(i, ra.BestPressure())
	}
	return agg
}

// rangeFor locates the range covering a via the augmented tree,
// pruning subtrees whose spans cannot contain the address.
func (agg *AggregateAllocator) rangeFor(a addr.PhysAddr) *RangeAllocator {
	return searchRange(agg.tree.Root(), a)
}

func searchRange(n *ds.AugNode[addr.PhysAddr, *RangeAllocator, addr.PhysRange], a addr.PhysAddr) *RangeAllocator {
	if n == nil || !n.Augment.Contains(a) {
		return nil
	}
	if n.Value.Contains(a) {
		return n.Value
	}
	if found := searchRange(n.Left(), a); found != nil {
		return found
	}
	return searchRange(n.Right(), a)
}

// AllocateSmallPage allocates one small page from the least-pressured
// range.
func (agg *AggregateAllocator) AllocateSmallPage(cpu int) (PageRef, bool) {
	return agg.AllocateColoredSmallPage(cpu, Uncolored)
}

// AllocateColoredSmallPage allocates one small page of the requested
// color class.
func (agg *AggregateAllocator) AllocateColoredSmallPage(cpu, color int) (PageRef, bool) {
	for lvl := ds.Surplus; lvl <= ds.Desperate; lvl++ {
		for _, key := range agg.pressure.KeysAt(lvl) {
			if ref, ok := agg.ranges[key].AllocateColoredSmallPage(cpu, color); ok {
				return ref, true
			}
		}
	}
	return 0, false
}

// AllocateBigPage allocates one big page from the least-pressured
// range.
func (agg *AggregateAllocator) AllocateBigPage(cpu int) (PageRef, bool) {
	for lvl := ds.Surplus; lvl <= ds.Desperate; lvl++ {
		for _, key := range agg.pressure.KeysAt(lvl) {
			if ref, ok := agg.ranges[key].AllocateBigPage(cpu); ok {
				return ref, true
			}
		}
	}
	return 0, false
}

// AllocatePages serves a capacity request in bytes: whole big pages for
// the bulk, small pages for the remainder. On failure everything
// already allocated is returned and ok is false.
func (agg *AggregateAllocator) AllocatePages(cpu int, requestedBytes uint64) ([]PageRef, bool) {
	var refs []PageRef
	remaining := requestedBytes
	for remaining >= BigPageSize {
		ref, ok := agg.AllocateBigPage(cpu)
		if !ok {
			break
		}
		refs = append(refs, ref)
		remaining -= BigPageSize
	}
	for remaining > 0 {
		ref, ok := agg.AllocateSmallPage(cpu)
		if !ok {
			agg.FreePages(cpu, refs)
			return nil, false
		}
		refs = append(refs, ref)
		if remaining < SmallPageSize {
			remaining = 0
		} else {
			remaining -= SmallPageSize
		}
	}
	return refs, true
}

// FreePages routes each reference to its owning range. A reference no
// range covers is a hard fault.
func (agg *AggregateAllocator) FreePages(cpu int, refs []PageRef) {
	// group consecutive refs belonging to the same range so each range
	// sees one batched call
	var batch []PageRef
	var owner *RangeAllocator
	flush := func() {
		if owner != nil && len(batch) > 0 {
			owner.FreePages(cpu, batch)
		}
		batch = batch[:0]
	}
	for _, ref := range refs {
		ra := agg.rangeFor(ref.Addr())
		if ra == nil {
			agg.lgr.Fatalf("free of %v not covered by any range", ref.Addr())
			return
		}
		if ra != owner {
			flush()
			owner = ra
		}
		batch = append(batch, ref)
	}
	flush()
}

// FreeBigPageCount totals free big pages across every range.
func (agg *AggregateAllocator) FreeBigPageCount() int {
	total := 0
	for _, ra := range agg.ranges {
		total += ra.FreeBigPageCount()
	}
	return total
}

// FreeSmallPageCount totals free small pages across every range.
func (agg *AggregateAllocator) FreeSmallPageCount() int {
	total := 0
	for _, ra := range agg.ranges {
		total += ra.FreeSmallPageCount()
	}
	return total
}

// ReservePhysicalRange reserves r out of whichever ranges it overlaps.
func (agg *AggregateAllocator) ReservePhysicalRange(r addr.PhysRange) {
	for _, ra := range agg.ranges {
		if ra.Range().Overlaps(r) {
			ra.ReservePhysicalRange(r)
		}
	}
}
