// ABOUTME: Device-side byte queue shared by the sink implementations
// ABOUTME: Tracks playback state and turns a starved pull into an underrun
package output

import (
	"sync"

	"github.com/team-phoenix/phoenix-audio/pkg/audio"
	"github.com/team-phoenix/phoenix-audio/pkg/audio/ring"
)

// queue bridges the push side (Write from the playback goroutine) and a
// device that pulls bytes on its own schedule.
type queue struct {
	format audio.Format
	buf    *ring.Buffer
	period int

	mu        sync.Mutex
	state     State
	err       error
	underruns uint64
}

func newQueue(format audio.Format, opts Options) *queue {
	opts = opts.withDefaults()

	size := format.BytesForDuration(opts.BufferDuration)
	period := size / opts.Periods / format.FrameSize() * format.FrameSize()
	if period <= 0 {
		period = format.FrameSize()
	}
	if size < period {
		size = period
	}

	return &queue{
		format: format,
		buf:    ring.New(size),
		period: period,
		state:  StateIdle,
	}
}

// write queues whole frames of p. The first data after Open or Restart
// makes the queue active.
func (q *queue) write(p []byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state == StateStopped {
		return 0
	}

	fs := q.format.FrameSize()
	free := q.buf.Free() / fs * fs
	if len(p) > free {
		p = p[:free]
	}
	p = p[:len(p)/fs*fs]

	n := q.buf.Write(p)
	if n > 0 && q.state == StateIdle && q.err == nil {
		q.state = StateActive
	}
	return n
}

// pull fills p for the device. It returns the number of real bytes; the rest
// of p is silence. A short pull while active is an underrun.
func (q *queue) pull(p []byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state != StateActive {
		clear(p)
		return 0
	}

	n := q.buf.Read(p)
	if n < len(p) {
		q.state = StateIdle
		q.err = ErrUnderrun
		q.underruns++
	}
	return n
}

func (q *queue) restart() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state == StateStopped {
		return
	}
	q.state = StateIdle
	q.err = nil
	if q.buf.Occupied() > 0 {
		q.state = StateActive
	}
}

func (q *queue) suspend() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state == StateActive || q.state == StateIdle {
		q.state = StateSuspended
	}
}

func (q *queue) resume() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state != StateSuspended {
		return
	}
	q.err = nil
	q.state = StateIdle
	if q.buf.Occupied() > 0 {
		q.state = StateActive
	}
}

func (q *queue) stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.state = StateStopped
	q.err = nil
}

func (q *queue) status() (State, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state, q.err
}

func (q *queue) free() int {
	return q.buf.Free()
}

func (q *queue) occupied() int {
	return q.buf.Occupied()
}

func (q *queue) capacity() int {
	return q.buf.Capacity()
}

// Underruns returns how many times the device was starved
func (q *queue) Underruns() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.underruns
}
