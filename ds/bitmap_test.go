package ds

import "testing"

func TestAtomicBitmapSetClearTest(t *testing.T) {
	b := NewAtomicBitmap(130)
	if b.Test(5) {
		t.Fatal("bit 5 should start clear")
	}
	b.Set(5)
	b.Set(129)
	if !b.Test(5) || !b.Test(129) {
		t.Fatal("expected bits 5 and 129 set")
	}
	b.Clear(5)
	if b.Test(5) {
		t.Fatal("bit 5 should be clear after Clear")
	}
	if !b.Test(129) {
		t.Fatal("bit 129 should remain set")
	}
}

func TestAtomicBitmapEachAscendingOrder(t *testing.T) {
	b := NewAtomicBitmap(200)
	want := []int{0, 3, 64, 65, 127, 199}
	for _, i := range want {
		b.Set(i)
	}
	var got []int
	b.Each(func(i int) bool {
		got = append(got, i)
		return true
	})
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestAtomicBitmapEachEarlyExit(t *testing.T) {
	b := NewAtomicBitmap(64)
	b.Set(1)
	b.Set(2)
	b.Set(3)
	var seen []int
	b.Each(func(i int) bool {
		seen = append(seen, i)
		return i < 2
	})
	if len(seen) != 2 {
		t.Fatalf("expected early exit after 2 bits, got %v", seen)
	}
}
