package ring

import (
	"runtime"
	"sync"
	"testing"
)

func TestSimpleRingBufferOverflowBoundary(t *testing.T) {
	r := NewSimpleRingBuffer[int](8)
	items := make([]int, 9)
	if r.TryBulkWrite(items) {
		t.Fatal("TryBulkWrite(capacity+1) should fail")
	}
	n := r.BulkWriteBestEffort(items)
	if n != 8 {
		t.Fatalf("BulkWriteBestEffort(capacity+1) = %d, want 8", n)
	}
}

func TestSimpleRingBufferRoundTrip(t *testing.T) {
	r := NewSimpleRingBuffer[int](8)
	in := []int{1, 2, 3, 4}
	if !r.TryBulkWrite(in) {
		t.Fatal("write failed")
	}
	out := make([]int, 4)
	n := r.TryBulkRead(out)
	if n != 4 {
		t.Fatalf("read %d, want 4", n)
	}
	for i, v := range in {
		if out[i] != v {
			t.Fatalf("out[%d] = %d, want %d", i, out[i], v)
		}
	}
}

// TestTwoProducersOneConsumer: capacity 8, two
// producers each tryBulkWrite(4), one consumer tryBulkRead(8). The
// consumer must observe all 8 elements as one producer's 4 followed by
// the other's 4, never an interleaving of fewer than 4.
func TestTwoProducersOneConsumer(t *testing.T) {
	for trial := 0; trial < 50; trial++ {
		r := NewSimpleRingBuffer[int](8)
		a := []int{1, 1, 1, 1}
		b := []int{2, 2, 2, 2}
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); r.TryBulkWrite(a) }()
		go func() { defer wg.Done(); r.TryBulkWrite(b) }()
		wg.Wait()

		out := make([]int, 8)
		for r.Len() < 8 {
			runtime.Gosched()
		}
		got := r.TryBulkRead(out)
		if got != 8 {
			t.Fatalf("read %d, want 8", got)
		}
		runs := 1
		for i := 1; i < 8; i++ {
			if out[i] != out[i-1] {
				runs++
			}
		}
		if runs != 2 {
			t.Fatalf("expected exactly two runs of 4, got sequence %v", out)
		}
		if out[0] == out[4] {
			t.Fatalf("expected two distinct producer runs, got %v", out)
		}
	}
}

func TestOverflowSafeRingBufferRoundTrip(t *testing.T) {
	r := NewOverflowSafeRingBuffer[int](4)
	if !r.TryBulkWrite([]int{1, 2, 3, 4}) {
		t.Fatal("initial write failed")
	}
	out := make([]int, 4)
	if n := r.TryBulkRead(out); n != 4 {
		t.Fatalf("read %d, want 4", n)
	}
	if !r.TryBulkWrite([]int{5, 6, 7, 8}) {
		t.Fatal("reuse write failed")
	}
	out2 := make([]int, 4)
	if n := r.TryBulkRead(out2); n != 4 {
		t.Fatalf("read %d, want 4", n)
	}
	for i, v := range []int{5, 6, 7, 8} {
		if out2[i] != v {
			t.Fatalf("out2[%d] = %d, want %d", i, out2[i], v)
		}
	}
}

func TestBroadcastRingBufferAllConsumersSeeEverything(t *testing.T) {
	r := NewBroadcastRingBuffer[int](4, 3)
	if !r.TryBulkWrite([]int{1, 2, 3, 4}) {
		t.Fatal("write failed")
	}
	for c := uint32(0); c < 3; c++ {
		out := make([]int, 4)
		n := r.Read(c, out)
		if n != 4 {
			t.Fatalf("consumer %d read %d, want 4", c, n)
		}
		for i, v := range []int{1, 2, 3, 4} {
			if out[i] != v {
				t.Fatalf("consumer %d out[%d] = %d, want %d", c, i, out[i], v)
			}
		}
	}
	// Slot is only freed once every consumer acked; now a full reuse
	// write should succeed since all three have read.
	if !r.TryBulkWrite([]int{5, 6, 7, 8}) {
		t.Fatal("reuse write after full ack should succeed")
	}
}

func TestBroadcastRingBufferBlocksUntilSlowConsumerAcks(t *testing.T) {
	r := NewBroadcastRingBuffer[int](4, 2)
	if !r.TryBulkWrite([]int{1, 2, 3, 4}) {
		t.Fatal("write failed")
	}
	out := make([]int, 4)
	r.Read(0, out) // only consumer 0 has acked; consumer 1 has not
	if r.TryBulkWrite([]int{5, 6, 7, 8}) {
		t.Fatal("reuse write should fail until consumer 1 acks")
	}
	r.Read(1, out)
	if !r.TryBulkWrite([]int{5, 6, 7, 8}) {
		t.Fatal("reuse write should succeed once all consumers acked")
	}
}
