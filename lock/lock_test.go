package lock

import (
	"sync"
	"testing"
)

func TestSpinlockMutualExclusion(t *testing.T) {
	l := NewSpinlock(NoopInterruptController{})
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok := l.Acquire()
			counter++
			l.Release(tok)
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("counter = %d, want 50", counter)
	}
}

func TestSpinlockDoubleAcquirePanics(t *testing.T) {
	prev := CurrentCPU
	CurrentCPU = func() CPUID { return 7 }
	DeadlockCheck = true
	defer func() {
		CurrentCPU = prev
		DeadlockCheck = false
	}()

	l := NewSpinlock(NoopInterruptController{})
	tok := l.Acquire()
	defer l.Release(tok)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on same-CPU re-acquire")
		}
	}()
	l.spin()
}

func TestRWSpinlockReadersConcurrentWritersExclusive(t *testing.T) {
	l := NewRWSpinlock(NoopInterruptController{})
	shared := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok := l.AcquireWrite()
			shared++
			l.ReleaseWrite(tok)
		}()
	}
	wg.Wait()
	if shared != 20 {
		t.Fatalf("shared = %d, want 20", shared)
	}

	tok := l.AcquireRead()
	tok2 := l.AcquireRead()
	l.ReleaseRead(tok)
	l.ReleaseRead(tok2)
}

func TestPriorityRWLockStealWaitsForLocalHolder(t *testing.T) {
	l := NewPriorityRWLock(NoopInterruptController{})
	tok := l.AcquireNormal()
	if _, ok := l.TryAcquirePriority(2); ok {
		t.Fatal("priority acquire should not succeed while normal holder present")
	}
	l.ReleaseNormal(tok)
	tok2, ok := l.TryAcquirePriority(2)
	if !ok {
		t.Fatal("priority acquire should succeed once normal holder releases")
	}
	l.ReleasePriority(tok2)
}
