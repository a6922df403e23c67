// ABOUTME: Single-value mailbox for handing settings to the playback goroutine
// ABOUTME: Last writer wins; the reader takes the value at most once
package playback

import "sync/atomic"

// Slot holds one pending value of T. Store replaces any value not yet taken.
type Slot[T any] struct {
	p atomic.Pointer[T]
}

// Store publishes v, discarding an untaken earlier value
func (s *Slot[T]) Store(v T) {
	s.p.Store(&v)
}

// Take removes and returns the pending value, if any
func (s *Slot[T]) Take() (T, bool) {
	p := s.p.Swap(nil)
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}

// Pending reports whether a value is waiting
func (s *Slot[T]) Pending() bool {
	return s.p.Load() != nil
}
