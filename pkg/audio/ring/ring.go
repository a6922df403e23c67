// ABOUTME: Lock-free single-producer/single-consumer byte ring buffer
// ABOUTME: Hands raw interleaved PCM from the producer to the playback goroutine
package ring

import "sync/atomic"

// Buffer is a fixed-capacity circular byte buffer. Exactly one goroutine may
// call Write and exactly one (other) goroutine may call Read; neither blocks.
//
// The cursors count bytes ever written and read. They only grow, so
// occupancy is always head-tail and no count needs to be shared.
type Buffer struct {
	buf  []byte
	size uint64

	head atomic.Uint64 // advanced by the producer only
	tail atomic.Uint64 // advanced by the consumer only
}

// New creates a ring buffer holding capacity bytes
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		buf:  make([]byte, capacity),
		size: uint64(capacity),
	}
}

// Write appends as much of p as fits and returns the number of bytes taken.
// A short count means the buffer is full; the rest of p is the caller's to
// drop or retry.
func (b *Buffer) Write(p []byte) int {
	head := b.head.Load()
	tail := b.tail.Load()

	free := b.size - (head - tail)
	n := uint64(len(p))
	if n > free {
		n = free
	}
	if n == 0 {
		return 0
	}

	off := head % b.size
	first := b.size - off
	if first > n {
		first = n
	}
	copy(b.buf[off:off+first], p[:first])
	copy(b.buf, p[first:n])

	b.head.Store(head + n)
	return int(n)
}

// Read fills p from the buffer. If fewer than len(p) bytes are available the
// remainder of p is zeroed (silence). It returns the number of real bytes
// copied.
func (b *Buffer) Read(p []byte) int {
	tail := b.tail.Load()
	head := b.head.Load()

	n := uint64(len(p))
	if avail := head - tail; n > avail {
		n = avail
	}

	if n > 0 {
		off := tail % b.size
		first := b.size - off
		if first > n {
			first = n
		}
		copy(p[:first], b.buf[off:off+first])
		copy(p[first:n], b.buf)
		b.tail.Store(tail + n)
	}

	// Zero-fill remaining if underrun
	clear(p[n:])

	return int(n)
}

// Occupied returns a snapshot of the number of readable bytes. From a third
// goroutine the value may be up to one operation stale.
func (b *Buffer) Occupied() int {
	tail := b.tail.Load()
	head := b.head.Load()
	n := head - tail
	if n > b.size {
		n = b.size
	}
	return int(n)
}

// Free returns a snapshot of the number of writable bytes
func (b *Buffer) Free() int {
	return int(b.size) - b.Occupied()
}

// Capacity returns the fixed size of the buffer in bytes
func (b *Buffer) Capacity() int {
	return int(b.size)
}

// Reset discards all buffered data. The caller must guarantee that neither
// the producer nor the consumer is active.
func (b *Buffer) Reset() {
	b.head.Store(0)
	b.tail.Store(0)
}
