package id

import (
	"sync"
	"testing"

	"github.com/maxpert/cqnwatch/hlc"
)

var (
	_ Generator = (*HLCGenerator)(nil)
	_ Generator = (*Sequence)(nil)
)

func TestHLCGenerator_UniqueAndIncreasing(t *testing.T) {
	gen := NewHLCGenerator(hlc.NewClock(1))

	prev := gen.NextID()
	if prev == 0 {
		t.Fatal("Expected non-zero id")
	}
	for i := 0; i < 10000; i++ {
		next := gen.NextID()
		if next <= prev {
			t.Fatalf("id %d not greater than %d", next, prev)
		}
		prev = next
	}
}

func TestSequence_Concurrent(t *testing.T) {
	var seq Sequence
	const goroutines, perGoroutine = 8, 1000

	ids := make(chan uint64, goroutines*perGoroutine)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				ids <- seq.NextID()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool)
	for id := range ids {
		if id == 0 {
			t.Fatal("Sequence returned zero")
		}
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
	if len(seen) != goroutines*perGoroutine {
		t.Errorf("Expected %d ids, got %d", goroutines*perGoroutine, len(seen))
	}
}
