// ABOUTME: Tests for the single-value settings slot
// ABOUTME: Verifies last-writer-wins and take-once semantics
package playback

import (
	"sync"
	"testing"
)

func TestSlotTakeOnce(t *testing.T) {
	var s Slot[int]

	if _, ok := s.Take(); ok {
		t.Fatal("expected empty slot")
	}

	s.Store(1)
	s.Store(2)
	if !s.Pending() {
		t.Fatal("expected a pending value")
	}

	v, ok := s.Take()
	if !ok || v != 2 {
		t.Errorf("expected last value 2, got %d (%v)", v, ok)
	}
	if _, ok := s.Take(); ok {
		t.Error("expected value taken only once")
	}
}

func TestSlotConcurrentWriters(t *testing.T) {
	var s Slot[int]
	var wg sync.WaitGroup

	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				s.Store(v)
			}
		}(i)
	}
	wg.Wait()

	v, ok := s.Take()
	if !ok || v < 1 || v > 8 {
		t.Errorf("expected one of the written values, got %d (%v)", v, ok)
	}
}
