package mem

import (
	"sort"

	"github.com/sm5ve/crocos/addr"
	"github.com/sm5ve/crocos/ds"
	"github.com/sm5ve/crocos/klog"
	"github.com/sm5ve/crocos/lock"
	"github.com/sm5ve/crocos/ring"
)

// Tuning constants for the pool machinery.
const (
	ModerateThresholdMinimum = 4
	LockRetryCount           = 4
	MaxBatchSize             = 32
	deferredRingCapacity     = 256
)

// Desperation is the caller's escalation level: how hard the allocator
// should fight for a page before giving up. The ladder starts at
// RELAXED; on failure it escalates and retries including stealing from
// surplus pools, then MODERATE (comfortable pools too), finally
// DESPERATE (any pool, and blocking on remote locks is permitted).
type Desperation int

const (
	DesperationRelaxed Desperation = iota
	DesperationModerate
	DesperationDesperate
)

type bigPageState uint8

const (
	bpFree bigPageState = iota
	bpPartial
	bpFull
)

const uncoloredList = MaxColorCount

// reservedPool marks a big page pulled out of circulation entirely
// (kernel image, firmware holes).
const reservedPool = -1

// Pool is the per-CPU (or global) allocation cache: a spinlock, the
// free/partial/full intrusive lists, per-color lists, and free counts.
type Pool struct {
	id int
	lk *lock.Spinlock

	free    *ds.ArenaList
	partial *ds.ArenaList
	full    *ds.ArenaList
	color   [MaxColorCount + 1]*ds.ArenaList

	freeBigPages   int
	freeSmallPages int
	level          ds.Pressure

	// deferred absorbs frees arriving from remote CPUs; the owner
	// drains it on its next lock acquisition
	deferred *ring.OverflowSafeRingBuffer[PageRef]
}

func (p *Pool) ID() int                { return p.id }
func (p *Pool) FreeBigPageCount() int  { return p.freeBigPages }
func (p *Pool) FreeSmallPageCount() int { return p.freeSmallPages }
func (p *Pool) Pressure() ds.Pressure  { return p.level }

// RangeAllocator serves physical-page allocations for one contiguous
// memory range.
type RangeAllocator struct {
	rng          addr.PhysRange
	alignedStart addr.PhysAddr
	nBig         int

	processorCount int
	pools          []*Pool // processorCount per-CPU pools plus the global pool

	state      []bigPageState
	poolOf     []int32
	pageColor  []int16
	smallAlloc []*smallPageAllocator
	pageLocks  []*lock.PriorityRWLock
	stateLinks []ds.Link
	colorLinks []ds.Link

	pressure *ds.PressureBitmap

	surplusThreshold  int
	comfortThreshold  int
	moderateThreshold int

	ic  lock.InterruptController
	lgr *klog.Logger

	// onPressureChange lets the aggregate allocator track this range's
	// best pool pressure
	onPressureChange func(*RangeAllocator)
}

// Metadata sizing constants for the measuring pass: what one big page
// and one pool cost in a pre-reserved metadata buffer.
const (
	perBigPageMetaBytes = 1 + 4 + 2 + 16 + 16 + 16 + 24 + // state, pool, color, two link pairs, lock, allocator header
		2 * 2 * uint64(SmallPagesPerBigPage) // forward+backward permutations
	perPoolMetaBytes = 256
)

// RequestedBufferSizeForRange is the measuring pass of the allocator
// constructor: the metadata buffer the boot path must reserve for a
// range before the allocator can be initialized over it.
func RequestedBufferSizeForRange(rng addr.PhysRange, processorCount int) uint64 {
	start := rng.Start.AlignDown(BigPageSize)
	if start < rng.Start {
		start = start.Add(BigPageSize)
	}
	end := rng.End.AlignDown(BigPageSize)
	if end <= start {
		return 0
	}
	nBig := uint64(end-start) / BigPageSize
	pools := uint64(processorCount + 1)
	bitmapWords := (pools + 63) / 64 * 8 * 4
	return nBig*perBigPageMetaBytes + pools*perPoolMetaBytes + bitmapWords
}

// NewRangeAllocator initializes a range allocator over [rng.Start,
// rng.End), partitioning the big pages between the per-CPU pools and
// the global pool.
func NewRangeAllocator(rng addr.PhysRange, processorCount int, ic lock.InterruptController, lgr *klog.Logger) *RangeAllocator {
	if lgr == nil {
		lgr = klog.NewDiscardLogger()
	}
	if ic == nil {
		ic = lock.NoopInterruptController{}
	}
	alignedStart := rng.Start.AlignDown(BigPageSize)
	if alignedStart < rng.Start {
		alignedStart = alignedStart.Add(BigPageSize)
	}
	alignedEnd := rng.End.AlignDown(BigPageSize)
	nBig := 0
	if alignedEnd > alignedStart {
		nBig = int(uint64(alignedEnd-alignedStart) / BigPageSize)
	}

	ra := &RangeAllocator{
		rng:            rng,
		alignedStart:   alignedStart,
		nBig:           nBig,
		processorCount: processorCount,
		state:          make([]bigPageState, nBig),
		poolOf:         make([]int32, nBig),
		pageColor:      make([]int16, nBig),
		smallAlloc:     make([]*smallPageAllocator, nBig),
		pageLocks:      make([]*lock.PriorityRWLock, nBig),
		stateLinks:     make([]ds.Link, nBig),
		colorLinks:     make([]ds.Link, nBig),
		pressure:       ds.NewPressureBitmap(processorCount + 1),
		ic:             ic,
		lgr:            lgr,
	}

	bigPagesPerCPU := 0
	if processorCount > 0 {
		bigPagesPerCPU = nBig / processorCount
	}
	ra.surplusThreshold = maxInt(bigPagesPerCPU/2, 4*ModerateThresholdMinimum)
	ra.comfortThreshold = maxInt(bigPagesPerCPU/4, 2*ModerateThresholdMinimum)
	ra.moderateThreshold = maxInt(bigPagesPerCPU/8, ModerateThresholdMinimum)

	for i := 0; i < nBig; i++ {
		ra.pageColor[i] = Uncolored
		fwd := make([]int32, SmallPagesPerBigPage)
		bwd := make([]int32, SmallPagesPerBigPage)
		ra.smallAlloc[i] = newSmallPageAllocator(fwd, bwd)
		ra.pageLocks[i] = lock.NewPriorityRWLock(ic)
	}

	poolCount := processorCount + 1
	ra.pools = make([]*Pool, poolCount)
	for p := 0; p < poolCount; p++ {
		pool := &Pool{
			id:       p,
			lk:       lock.NewSpinlock(ic),
			deferred: ring.NewOverflowSafeRingBuffer[PageRef](deferredRingCapacity),
			level:    ds.Surplus,
		}
		ra.pools[p] = pool
	}
	// the lists share the two link arenas; build them all before any
	// page is inserted since construction resets the arena
	for p := 0; p < poolCount; p++ {
		pool := ra.pools[p]
		pool.free = ds.NewArenaList(ra.stateLinks)
		pool.partial = ds.NewArenaList(ra.stateLinks)
		pool.full = ds.NewArenaList(ra.stateLinks)
		for c := range pool.color {
			pool.color[c] = ds.NewArenaList(ra.colorLinks)
		}
	}

	// contiguous chunks: each CPU pool gets an equal share, the global
	// pool takes the remainder
	perPool := nBig / poolCount
	for bp := 0; bp < nBig; bp++ {
		p := bp / maxInt(perPool, 1)
		if p >= poolCount {
			p = poolCount - 1
		}
		if perPool == 0 {
			p = poolCount - 1
		}
		ra.poolOf[bp] = int32(p)
		pool := ra.pools[p]
		pool.free.PushBack(bp)
		pool.color[uncoloredList].PushBack(bp)
		pool.freeBigPages++
		pool.freeSmallPages += SmallPagesPerBigPage
	}
	for _, pool := range ra.pools {
		ra.recomputePressureLocked(pool)
	}
	lgr.Info("range allocator initialized",
		klog.KV("start", rng.Start), klog.KV("end", rng.End),
		klog.KV("bigPages", nBig), klog.KV("pools", poolCount))
	return ra
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (ra *RangeAllocator) Range() addr.PhysRange { return ra.rng }

// Contains reports whether a falls inside this allocator's range.
func (ra *RangeAllocator) Contains(a addr.PhysAddr) bool { return ra.rng.Contains(a) }

// GlobalPool returns the pool id of the global pool.
func (ra *RangeAllocator) GlobalPool() int { return ra.processorCount }

func (ra *RangeAllocator) Pool(id int) *Pool { return ra.pools[id] }

// PoolsWithPressure yields the pools currently at pressure level p in
// ascending pool id order.
func (ra *RangeAllocator) PoolsWithPressure(p ds.Pressure) []int {
	return ra.pressure.KeysAt(p)
}

// FreeBigPageCount returns the total free big pages across all pools.
func (ra *RangeAllocator) FreeBigPageCount() int {
	total := 0
	for _, p := range ra.pools {
		total += p.freeBigPages
	}
	return total
}

// FreeSmallPageCount returns the total free small pages (sub-pages of
// partially allocated big pages included).
func (ra *RangeAllocator) FreeSmallPageCount() int {
	total := 0
	for _, p := range ra.pools {
		total += p.freeSmallPages
	}
	return total
}

// BestPressure returns the most favorable pressure level any pool in
// the range currently holds.
func (ra *RangeAllocator) BestPressure() ds.Pressure {
	for lvl := ds.Surplus; lvl <= ds.Desperate; lvl++ {
		if len(ra.pressure.KeysAt(lvl)) > 0 {
			return lvl
		}
	}
	return ds.Desperate
}

func (ra *RangeAllocator) recomputePressureLocked(p *Pool) {
	var lvl ds.Pressure
	switch {
	case p.freeBigPages == 0:
		lvl = ds.Desperate
	case p.freeBigPages < ra.moderateThreshold:
		lvl = ds.Moderate
	case p.freeBigPages < ra.comfortThreshold:
		lvl = ds.Comfortable
	default:
		lvl = ds.Surplus
	}
	if lvl != p.level {
		p.level = lvl
		ra.pressure.Set(p.id, lvl)
		if ra.onPressureChange != nil {
			ra.onPressureChange(ra)
		}
	}
}

func (ra *RangeAllocator) bigPageAddr(bp int) addr.PhysAddr {
	return ra.alignedStart.Add(uint64(bp) * BigPageSize)
}

func (ra *RangeAllocator) bigPageIndex(a addr.PhysAddr) int {
	if a < ra.alignedStart {
		return -1
	}
	bp := int(uint64(a-ra.alignedStart) / BigPageSize)
	if bp >= ra.nBig {
		return -1
	}
	return bp
}

// poolFor maps a CPU to its pool, clamping out-of-range CPUs (and the
// bootstrap path before per-CPU identity exists) to the global pool.
func (ra *RangeAllocator) poolFor(cpu int) *Pool {
	if cpu < 0 || cpu >= ra.processorCount {
		return ra.pools[ra.processorCount]
	}
	return ra.pools[cpu]
}

// pickBigPageLocked selects a big page to allocate from, honoring the
// color request. Under DESPERATE we fall back to any color.
func (ra *RangeAllocator) pickBigPageLocked(pool *Pool, color int, desp Desperation) int {
	if color >= 0 && color < MaxColorCount {
		// colored partial pages first, then colored free pages
		for bp := pool.color[color].Head(); bp != -1; bp = pool.color[color].Next(bp) {
			if ra.state[bp] == bpPartial {
				return bp
			}
		}
		for bp := pool.color[color].Head(); bp != -1; bp = pool.color[color].Next(bp) {
			if ra.state[bp] == bpFree {
				return bp
			}
		}
		// an uncolored free page adopts the color on first allocation
		if bp := pool.color[uncoloredList].Head(); bp != -1 {
			ra.moveColorLocked(pool, bp, color)
			return bp
		}
		if desp < DesperationDesperate {
			return -1
		}
		// fall through to any-color under desperation
	}
	if bp := pool.partial.Head(); bp != -1 {
		return bp
	}
	if bp := pool.free.Head(); bp != -1 {
		return bp
	}
	return -1
}

func (ra *RangeAllocator) moveColorLocked(pool *Pool, bp, color int) {
	old := int(ra.pageColor[bp])
	oldList := uncoloredList
	if old >= 0 {
		oldList = old
	}
	pool.color[oldList].Remove(bp)
	ra.pageColor[bp] = int16(color)
	pool.color[color].PushBack(bp)
}

// allocSmallLocked carves one small page out of bp. The pool lock must
// be held.
func (ra *RangeAllocator) allocSmallLocked(pool *Pool, bp int) (addr.PhysAddr, bool) {
	ptoken := ra.pageLocks[bp].AcquireNormal()
	idx := ra.smallAlloc[bp].allocate()
	full := ra.smallAlloc[bp].freeCount() == 0
	ra.pageLocks[bp].ReleaseNormal(ptoken)
	if idx < 0 {
		return 0, false
	}
	wasFree := ra.state[bp] == bpFree
	if wasFree {
		pool.free.Remove(bp)
		pool.partial.PushBack(bp)
		ra.state[bp] = bpPartial
		pool.freeBigPages--
	}
	if full {
		pool.partial.Remove(bp)
		pool.full.PushBack(bp)
		ra.state[bp] = bpFull
		colorList := uncoloredList
		if ra.pageColor[bp] >= 0 {
			colorList = int(ra.pageColor[bp])
		}
		pool.color[colorList].Remove(bp)
	}
	pool.freeSmallPages--
	ra.recomputePressureLocked(pool)
	return ra.bigPageAddr(bp).Add(uint64(idx) * SmallPageSize), true
}

// AllocateSmallPage allocates one small page for the given CPU,
// climbing the desperation ladder: local pool, steal from surplus,
// then progressively less picky stealing.
func (ra *RangeAllocator) AllocateSmallPage(cpu int) (PageRef, bool) {
	return ra.AllocateColoredSmallPage(cpu, Uncolored)
}

// AllocateColoredSmallPage allocates one small page from a big page of
// the requested color class.
func (ra *RangeAllocator) AllocateColoredSmallPage(cpu, color int) (PageRef, bool) {
	pool := ra.poolFor(cpu)
	for desp := DesperationRelaxed; desp <= DesperationDesperate; desp++ {
		for {
			token := pool.lk.Acquire()
			ra.drainDeferredLocked(pool)
			bp := ra.pickBigPageLocked(pool, color, desp)
			if bp != -1 {
				a, ok := ra.allocSmallLocked(pool, bp)
				pool.lk.Release(token)
				if ok {
					return SmallPageRef(a, 1), true
				}
				continue
			}
			pool.lk.Release(token)
			if !ra.steal(pool, desp) {
				break
			}
		}
	}
	return 0, false
}

// AllocateBigPage allocates one whole big page.
func (ra *RangeAllocator) AllocateBigPage(cpu int) (PageRef, bool) {
	pool := ra.poolFor(cpu)
	for desp := DesperationRelaxed; desp <= DesperationDesperate; desp++ {
		for {
			token := pool.lk.Acquire()
			ra.drainDeferredLocked(pool)
			bp := pool.free.Head()
			if bp != -1 {
				pool.free.Remove(bp)
				pool.full.PushBack(bp)
				ra.state[bp] = bpFull
				colorList := uncoloredList
				if ra.pageColor[bp] >= 0 {
					colorList = int(ra.pageColor[bp])
				}
				pool.color[colorList].Remove(bp)
				ptoken := ra.pageLocks[bp].AcquireNormal()
				ra.smallAlloc[bp].claimAll()
				ra.pageLocks[bp].ReleaseNormal(ptoken)
				pool.freeBigPages--
				pool.freeSmallPages -= SmallPagesPerBigPage
				ra.recomputePressureLocked(pool)
				pool.lk.Release(token)
				return BigPageRef(ra.bigPageAddr(bp)), true
			}
			pool.lk.Release(token)
			if !ra.steal(pool, desp) {
				break
			}
		}
	}
	return 0, false
}

// steal moves one free big page from a remote pool into pool. The
// victim is picked via the pressure bitmap: surplus pools first, then
// (as desperation climbs) comfortable and moderate ones. The victim's
// pool lock is taken with bounded retries below DESPERATE; the page's
// own priority spinlock is always bounded, giving up and trying the
// next candidate when contended.
func (ra *RangeAllocator) steal(pool *Pool, desp Desperation) bool {
	maxLevel := ds.Surplus
	switch desp {
	case DesperationModerate:
		maxLevel = ds.Comfortable
	case DesperationDesperate:
		maxLevel = ds.Moderate
	}
	for lvl := ds.Surplus; lvl <= maxLevel; lvl++ {
		for _, victimID := range ra.pressure.KeysAt(lvl) {
			if victimID == pool.id {
				continue
			}
			victim := ra.pools[victimID]
			var token bool
			if desp >= DesperationDesperate {
				token = victim.lk.Acquire()
			} else {
				var ok bool
				token, ok = victim.lk.TryAcquire(LockRetryCount)
				if !ok {
					continue
				}
			}
			bp := victim.free.Head()
			if bp == -1 {
				victim.lk.Release(token)
				continue
			}
			ptoken, ok := ra.pageLocks[bp].TryAcquirePriority(LockRetryCount)
			if !ok {
				victim.lk.Release(token)
				continue
			}
			victim.free.Remove(bp)
			colorList := uncoloredList
			if ra.pageColor[bp] >= 0 {
				colorList = int(ra.pageColor[bp])
			}
			victim.color[colorList].Remove(bp)
			victim.freeBigPages--
			victim.freeSmallPages -= SmallPagesPerBigPage
			ra.recomputePressureLocked(victim)
			victim.lk.Release(token)

			mtoken := pool.lk.Acquire()
			ra.poolOf[bp] = int32(pool.id)
			pool.free.PushBack(bp)
			pool.color[colorList].PushBack(bp)
			pool.freeBigPages++
			pool.freeSmallPages += SmallPagesPerBigPage
			ra.recomputePressureLocked(pool)
			pool.lk.Release(mtoken)

			ra.pageLocks[bp].ReleasePriority(ptoken)
			ra.lgr.Debug("stole big page",
				klog.KV("page", ra.bigPageAddr(bp)),
				klog.KV("from", victimID), klog.KV("to", pool.id))
			return true
		}
	}
	return false
}

// freeRunLocked returns n consecutive small pages of bp starting at
// firstIdx. The owning pool's lock must be held.
func (ra *RangeAllocator) freeRunLocked(pool *Pool, bp, firstIdx, n int) {
	ptoken := ra.pageLocks[bp].AcquireNormal()
	for i := 0; i < n; i++ {
		if !ra.smallAlloc[bp].free(firstIdx + i) {
			ra.pageLocks[bp].ReleaseNormal(ptoken)
			ra.lgr.Fatalf("double free of small page %v",
				ra.bigPageAddr(bp).Add(uint64(firstIdx+i)*SmallPageSize))
			return
		}
	}
	empty := ra.smallAlloc[bp].allocatedCount() == 0
	ra.pageLocks[bp].ReleaseNormal(ptoken)

	colorList := uncoloredList
	if ra.pageColor[bp] >= 0 {
		colorList = int(ra.pageColor[bp])
	}
	if ra.state[bp] == bpFull {
		pool.full.Remove(bp)
		pool.partial.PushBack(bp)
		ra.state[bp] = bpPartial
		pool.color[colorList].PushBack(bp)
	}
	if empty && ra.state[bp] == bpPartial {
		pool.partial.Remove(bp)
		pool.free.PushBack(bp)
		ra.state[bp] = bpFree
		pool.freeBigPages++
	}
	pool.freeSmallPages += n
	ra.recomputePressureLocked(pool)
}

// freeBigLocked returns a whole big page.
func (ra *RangeAllocator) freeBigLocked(pool *Pool, bp int) {
	if ra.state[bp] != bpFull {
		ra.lgr.Fatalf("big page free of %v in state %d", ra.bigPageAddr(bp), ra.state[bp])
		return
	}
	ptoken := ra.pageLocks[bp].AcquireNormal()
	ra.smallAlloc[bp].releaseAll()
	ra.pageLocks[bp].ReleaseNormal(ptoken)
	pool.full.Remove(bp)
	pool.free.PushBack(bp)
	ra.state[bp] = bpFree
	colorList := uncoloredList
	if ra.pageColor[bp] >= 0 {
		colorList = int(ra.pageColor[bp])
	}
	pool.color[colorList].PushBack(bp)
	pool.freeBigPages++
	pool.freeSmallPages += SmallPagesPerBigPage
	ra.recomputePressureLocked(pool)
}

// FreePages returns a batch of page references. Adjacent runs in the
// same big page are coalesced and freed under one acquisition of the
// owning page's lock; pages owned by a remote pool are enqueued to
// that pool's deferred queue (blocking on its lock only when the queue
// is full or the caller is desperate).
func (ra *RangeAllocator) FreePages(cpu int, refs []PageRef) {
	pool := ra.poolFor(cpu)

	type run struct {
		bp       int
		firstIdx int
		n        int
		big      bool
	}
	var runs []run
	for _, ref := range refs {
		bp := ra.bigPageIndex(ref.Addr())
		if bp < 0 {
			ra.lgr.Fatalf("free of %v outside range [%v, %v)", ref.Addr(), ra.rng.Start, ra.rng.End)
			return
		}
		if ref.IsBig() {
			runs = append(runs, run{bp: bp, big: true})
			continue
		}
		idx := int(uint64(ref.Addr()-ra.bigPageAddr(bp)) / SmallPageSize)
		runs = append(runs, run{bp: bp, firstIdx: idx, n: ref.RunLength()})
	}
	// coalesce adjacent runs within the same big page
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].bp != runs[j].bp {
			return runs[i].bp < runs[j].bp
		}
		return runs[i].firstIdx < runs[j].firstIdx
	})
	var merged []run
	for _, r := range runs {
		if len(merged) > 0 {
			last := &merged[len(merged)-1]
			if !last.big && !r.big && last.bp == r.bp && last.firstIdx+last.n == r.firstIdx {
				last.n += r.n
				continue
			}
		}
		merged = append(merged, r)
	}

	for _, r := range merged {
		if ra.poolOf[r.bp] == reservedPool {
			ra.lgr.Fatalf("free of reserved page %v", ra.bigPageAddr(r.bp))
			return
		}
		owner := ra.pools[ra.poolOf[r.bp]]
		if owner == pool {
			token := pool.lk.Acquire()
			ra.drainDeferredLocked(pool)
			if r.big {
				ra.freeBigLocked(pool, r.bp)
			} else {
				ra.freeRunLocked(pool, r.bp, r.firstIdx, r.n)
			}
			pool.lk.Release(token)
			continue
		}
		// remote owner: defer unless we have to block
		var ref PageRef
		if r.big {
			ref = BigPageRef(ra.bigPageAddr(r.bp))
		} else {
			ref = SmallPageRef(ra.bigPageAddr(r.bp).Add(uint64(r.firstIdx)*SmallPageSize), r.n)
		}
		if pool.level < ds.Desperate && owner.deferred.TryBulkWrite([]PageRef{ref}) {
			continue
		}
		token := owner.lk.Acquire()
		ra.drainDeferredLocked(owner)
		if r.big {
			ra.freeBigLocked(owner, r.bp)
		} else {
			ra.freeRunLocked(owner, r.bp, r.firstIdx, r.n)
		}
		owner.lk.Release(token)
	}
}

// drainDeferredLocked applies frees remote CPUs queued for this pool.
// The pool lock must be held.
func (ra *RangeAllocator) drainDeferredLocked(pool *Pool) {
	var buf [MaxBatchSize]PageRef
	for {
		n := pool.deferred.TryBulkRead(buf[:])
		if n == 0 {
			return
		}
		for _, ref := range buf[:n] {
			bp := ra.bigPageIndex(ref.Addr())
			if ref.IsBig() {
				ra.freeBigLocked(pool, bp)
				continue
			}
			idx := int(uint64(ref.Addr()-ra.bigPageAddr(bp)) / SmallPageSize)
			ra.freeRunLocked(pool, bp, idx, ref.RunLength())
		}
	}
}

// ReservePhysicalRange pulls every page overlapping r out of
// circulation, used to reserve the kernel image back into the
// allocator after initialization.
func (ra *RangeAllocator) ReservePhysicalRange(r addr.PhysRange) {
	for bp := 0; bp < ra.nBig; bp++ {
		pageRange := addr.PhysRange{Start: ra.bigPageAddr(bp), End: ra.bigPageAddr(bp).Add(BigPageSize)}
		if !pageRange.Overlaps(r) {
			continue
		}
		pool := ra.pools[ra.poolOf[bp]]
		token := pool.lk.Acquire()
		if ra.state[bp] != bpFree {
			pool.lk.Release(token)
			ra.lgr.Fatalf("reserving already-allocated page %v", pageRange.Start)
			return
		}
		pool.free.Remove(bp)
		colorList := uncoloredList
		if ra.pageColor[bp] >= 0 {
			colorList = int(ra.pageColor[bp])
		}
		pool.color[colorList].Remove(bp)
		pool.freeBigPages--
		pool.freeSmallPages -= SmallPagesPerBigPage
		ra.state[bp] = bpFull
		ra.poolOf[bp] = reservedPool
		ra.recomputePressureLocked(pool)
		pool.lk.Release(token)
	}
}
