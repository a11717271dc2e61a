package ds

import (
	"testing"
)

func TestPermutationScenario(t *testing.T) {
	p := NewIdentityPermutation(32)
	p.Swap(5, 7)
	p.RotateRight(3, 5, 7)
	if p.Forward[3] != 7 || p.Forward[5] != 3 || p.Forward[7] != 5 {
		t.Fatalf("forward after rotation: [3]=%d [5]=%d [7]=%d", p.Forward[3], p.Forward[5], p.Forward[7])
	}
	for i := 0; i < 32; i++ {
		if i == 3 || i == 5 || i == 7 {
			continue
		}
		if p.Forward[i] != i {
			t.Fatalf("index %d moved to %d", i, p.Forward[i])
		}
	}
	if !p.Validate() {
		t.Fatal("permutation invalid")
	}
}

func TestPermutationInverse(t *testing.T) {
	p := NewIdentityPermutation(16)
	p.Swap(0, 15)
	p.Swap(3, 9)
	p.Swap(3, 0)
	if !p.Validate() {
		t.Fatal("forward/backward no longer mutual inverses")
	}
}

func TestPressureBitmapExclusivity(t *testing.T) {
	pb := NewPressureBitmap(9)
	pb.Set(4, Desperate)
	pb.Set(4, Comfortable)
	count := 0
	for lvl := Surplus; lvl <= Desperate; lvl++ {
		for _, k := range pb.KeysAt(lvl) {
			if k == 4 {
				count++
				if lvl != Comfortable {
					t.Fatalf("key 4 at level %v", lvl)
				}
			}
		}
	}
	if count != 1 {
		t.Fatalf("key 4 holds %d bits", count)
	}
	if pb.Level(4) != Comfortable {
		t.Fatalf("level %v", pb.Level(4))
	}
}

func TestPressureBitmapIterationOrder(t *testing.T) {
	pb := NewPressureBitmap(80)
	for _, k := range []int{71, 3, 40, 12} {
		pb.Set(k, Moderate)
	}
	got := pb.KeysAt(Moderate)
	want := []int{3, 12, 40, 71}
	if len(got) != len(want) {
		t.Fatalf("keys %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("keys out of order: %v", got)
		}
	}
}

func TestMaxHeap(t *testing.T) {
	h := NewMaxHeap[int](func(a, b int) bool { return a < b })
	for _, v := range []int{5, 1, 9, 3, 7} {
		h.Push(v)
	}
	var got []int
	for h.Len() > 0 {
		v, _ := h.Pop()
		got = append(got, v)
	}
	want := []int{9, 7, 5, 3, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pop order %v", got)
		}
	}
}

func TestMaxHeapRebuild(t *testing.T) {
	priorities := map[int]int{0: 10, 1: 20, 2: 30}
	h := NewMaxHeap[int](func(a, b int) bool { return priorities[a] < priorities[b] })
	h.Push(0)
	h.Push(1)
	h.Push(2)
	priorities[0] = 100
	h.Rebuild()
	if top, _ := h.Peek(); top != 0 {
		t.Fatalf("peek %d after rebuild", top)
	}
}

func TestArenaList(t *testing.T) {
	links := make([]Link, 8)
	l := NewArenaList(links)
	if !l.Empty() {
		t.Fatal("fresh list not empty")
	}
	l.PushBack(2)
	l.PushBack(5)
	l.PushFront(7)
	var got []int
	l.Each(func(i int) bool { got = append(got, i); return true })
	want := []int{7, 2, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order %v", got)
		}
	}
	l.Remove(2)
	if l.Head() != 7 || l.Tail() != 5 || l.Next(7) != 5 || l.Prev(5) != 7 {
		t.Fatal("links broken after middle removal")
	}
	l.Remove(7)
	l.Remove(5)
	if !l.Empty() {
		t.Fatal("list not empty after removing everything")
	}
}

func TestArenaListSharedArena(t *testing.T) {
	// two lists over one arena: membership moves between them the way
	// a big page moves between the free and partial lists
	links := make([]Link, 4)
	free := NewArenaList(links)
	partial := NewArenaList(links)
	free.PushBack(0)
	free.PushBack(1)
	free.Remove(0)
	partial.PushBack(0)
	if free.Head() != 1 || partial.Head() != 0 {
		t.Fatalf("heads %d %d", free.Head(), partial.Head())
	}
}

func TestBiMap(t *testing.T) {
	b := NewBiMap[string, int]()
	b.Put("a", 1)
	b.Put("b", 2)
	if v, ok := b.Forward("a"); !ok || v != 1 {
		t.Fatalf("forward a: %d %v", v, ok)
	}
	if k, ok := b.Reverse(2); !ok || k != "b" {
		t.Fatalf("reverse 2: %q %v", k, ok)
	}
	// rebinding a key evicts its old value binding both ways
	b.Put("a", 2)
	if _, ok := b.Reverse(1); ok {
		t.Fatal("stale reverse binding survived")
	}
	if k, _ := b.Reverse(2); k != "a" {
		t.Fatalf("reverse 2 now %q", k)
	}
	if _, ok := b.Forward("b"); ok {
		t.Fatal("evicted key still resolves")
	}
	if b.Len() != 1 {
		t.Fatalf("len %d", b.Len())
	}
}
