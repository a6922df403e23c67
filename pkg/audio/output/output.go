// ABOUTME: Audio sink interface definition
// ABOUTME: Push-model contract shared by device and virtual playback backends
package output

import (
	"errors"
	"time"

	"github.com/team-phoenix/phoenix-audio/pkg/audio"
)

var (
	// ErrUnderrun is reported by Err after the device ran out of queued audio
	ErrUnderrun = errors.New("output: buffer underrun")

	// ErrNoDevice means no playback device could be opened
	ErrNoDevice = errors.New("output: no audio device")

	// ErrFormatUnsupported means the device cannot play the requested format
	ErrFormatUnsupported = errors.New("output: format not supported")
)

// State is the device-side playback state
type State int

const (
	StateStopped State = iota
	StateActive
	StateSuspended
	StateIdle
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateActive:
		return "active"
	case StateSuspended:
		return "suspended"
	case StateIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// Sink is a push-model audio output. The caller asks how many bytes the
// device can take and writes at most that many; Write never blocks.
//
// All methods except the device's own pull side are called from a single
// goroutine.
type Sink interface {
	// Open configures the device for format. A device that cannot change
	// format may open at another one. It returns an error wrapping
	// ErrNoDevice or ErrFormatUnsupported when playback is impossible.
	Open(format audio.Format) error

	// Format returns the format the device actually opened at
	Format() audio.Format

	// BufferSize is the device queue capacity in bytes
	BufferSize() int

	// PeriodSize is the device's preferred write granularity in bytes
	PeriodSize() int

	// BytesFree is how many bytes Write would accept right now
	BytesFree() int

	// Write queues up to BytesFree bytes and returns how many were taken
	Write(p []byte) int

	Suspend()
	Resume()

	// Restart recovers from an underrun
	Restart() error

	State() State

	// Err returns the error behind the last state change, if any
	Err() error

	// SetVolume sets the linear gain, 0 (silent) to 1 (full)
	SetVolume(volume float64)

	Close() error
}

// Options sizes a sink's queue
type Options struct {
	// BufferDuration is the device queue length (default 100ms)
	BufferDuration time.Duration

	// Periods splits the buffer into write periods (default 4)
	Periods int
}

func (o Options) withDefaults() Options {
	if o.BufferDuration <= 0 {
		o.BufferDuration = 100 * time.Millisecond
	}
	if o.Periods <= 0 {
		o.Periods = 4
	}
	return o
}

// clampVolume limits volume to [0, 1]
func clampVolume(volume float64) float64 {
	if volume < 0 {
		return 0
	}
	if volume > 1 {
		return 1
	}
	return volume
}
