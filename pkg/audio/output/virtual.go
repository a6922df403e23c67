// ABOUTME: Virtual audio sink that consumes audio on its own clock
// ABOUTME: Supports headless playback, clock skew simulation and WAV capture
package output

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/team-phoenix/phoenix-audio/pkg/audio"
)

// VirtualOptions configures a Virtual sink
type VirtualOptions struct {
	Options

	// SkewPPM makes the virtual device clock run fast (positive) or slow
	// (negative) by parts per million
	SkewPPM float64

	// Record, when set, receives everything the device plays as a WAV file
	Record io.WriteSeeker

	// Manual disables the internal clock; the caller drives Drain
	Manual bool
}

// Virtual is a Sink with no hardware behind it. It drains its queue at the
// nominal rate of the opened format, adjusted by SkewPPM.
type Virtual struct {
	*queue

	opts VirtualOptions

	mu      sync.Mutex
	volume  float64
	encoder *wav.Encoder
	played  uint64
	frac    float64
	scratch []byte
	samples []float64

	quit chan struct{}
	done chan struct{}
}

// NewVirtual creates an unopened virtual sink
func NewVirtual(opts VirtualOptions) *Virtual {
	opts.Options = opts.Options.withDefaults()
	return &Virtual{
		opts:   opts,
		volume: 1,
	}
}

// Open configures the queue and starts the virtual clock
func (v *Virtual) Open(format audio.Format) error {
	if !format.Valid() {
		return fmt.Errorf("%w: %s", ErrFormatUnsupported, format)
	}

	v.stopClock()
	if err := v.closeEncoder(); err != nil {
		log.Printf("Failed to finish recording: %v", err)
	}

	v.queue = newQueue(format, v.opts.Options)

	if v.opts.Record != nil {
		if _, err := v.opts.Record.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to rewind recording: %w", err)
		}
		v.mu.Lock()
		v.encoder = wav.NewEncoder(v.opts.Record, format.SampleRate, recordDepth(format), format.Channels, 1)
		v.mu.Unlock()
	}

	if !v.opts.Manual {
		v.quit = make(chan struct{})
		v.done = make(chan struct{})
		go v.clock(v.queue, v.quit, v.done)
	}

	log.Printf("Virtual output initialized: %s, buffer %d bytes, period %d bytes, skew %.0fppm",
		format, v.capacity(), v.period, v.opts.SkewPPM)
	return nil
}

// clock pulls one period per period duration, carrying the fractional
// remainder so skewed rates average out exactly.
func (v *Virtual) clock(q *queue, quit, done chan struct{}) {
	defer close(done)

	interval := q.format.DurationForBytes(q.period)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-quit:
			return
		case now := <-ticker.C:
			elapsed := now.Sub(last)
			last = now

			frames := elapsed.Seconds()*float64(q.format.SampleRate)*(1+v.opts.SkewPPM/1e6) + v.frac
			whole := int(frames)
			v.frac = frames - float64(whole)
			v.Drain(whole * q.format.FrameSize())
		}
	}
}

// Drain plays n bytes from the queue as the device would, returning how many
// were real audio rather than underrun silence.
func (v *Virtual) Drain(n int) int {
	q := v.queue
	if q == nil || n <= 0 {
		return 0
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if cap(v.scratch) < n {
		v.scratch = make([]byte, n)
	}
	p := v.scratch[:n]

	if s, _ := q.status(); s == StateSuspended || s == StateStopped {
		return 0
	}

	got := q.pull(p)
	v.samples = applyVolume(v.samples[:0], p, q.format, v.volume)
	v.played += uint64(n)

	if v.encoder != nil {
		if err := v.encoder.Write(intBuffer(v.samples, q.format)); err != nil {
			log.Printf("Failed to record audio, disabling capture: %v", err)
			v.encoder = nil
		}
	}
	return got
}

// Played returns the total bytes the device consumed, including silence
func (v *Virtual) Played() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.played
}

// Format returns the opened format
func (v *Virtual) Format() audio.Format {
	if v.queue == nil {
		return audio.Format{}
	}
	return v.queue.format
}

// BufferSize returns the queue capacity in bytes
func (v *Virtual) BufferSize() int {
	if v.queue == nil {
		return 0
	}
	return v.capacity()
}

// PeriodSize returns the drain granularity in bytes
func (v *Virtual) PeriodSize() int {
	if v.queue == nil {
		return 0
	}
	return v.period
}

// BytesFree returns the free queue space
func (v *Virtual) BytesFree() int {
	if v.queue == nil {
		return 0
	}
	return v.free()
}

// Write queues PCM for the virtual device
func (v *Virtual) Write(p []byte) int {
	if v.queue == nil {
		return 0
	}
	return v.write(p)
}

// Suspend stops consumption without dropping queued audio
func (v *Virtual) Suspend() {
	if v.queue != nil {
		v.suspend()
	}
}

// Resume continues consumption after Suspend
func (v *Virtual) Resume() {
	if v.queue != nil {
		v.resume()
	}
}

// Restart clears an underrun
func (v *Virtual) Restart() error {
	if v.queue == nil {
		return fmt.Errorf("output not initialized")
	}
	v.restart()
	return nil
}

// State returns the playback state
func (v *Virtual) State() State {
	if v.queue == nil {
		return StateStopped
	}
	s, _ := v.status()
	return s
}

// Err returns the error behind the current state
func (v *Virtual) Err() error {
	if v.queue == nil {
		return nil
	}
	_, err := v.status()
	return err
}

// SetVolume sets the software gain applied while draining
func (v *Virtual) SetVolume(volume float64) {
	v.mu.Lock()
	v.volume = clampVolume(volume)
	v.mu.Unlock()
}

// Close stops the clock and finalizes any recording
func (v *Virtual) Close() error {
	v.stopClock()
	if v.queue != nil {
		v.stop()
	}
	if err := v.closeEncoder(); err != nil {
		return fmt.Errorf("failed to finish recording: %w", err)
	}
	return nil
}

func (v *Virtual) stopClock() {
	if v.quit == nil {
		return
	}
	close(v.quit)
	<-v.done
	v.quit = nil
	v.done = nil
}

func (v *Virtual) closeEncoder() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.encoder == nil {
		return nil
	}
	err := v.encoder.Close()
	v.encoder = nil
	return err
}

// recordDepth picks the WAV bit depth; float sinks are captured as 24-bit PCM
func recordDepth(f audio.Format) int {
	if f.Encoding == audio.EncodingFloat {
		return 24
	}
	return f.BitDepth
}

func intBuffer(samples []float64, f audio.Format) *goaudio.IntBuffer {
	depth := recordDepth(f)
	scale := float64(int64(1) << (depth - 1))

	data := make([]int, len(samples))
	for i, s := range samples {
		v := s * scale
		if v > scale-1 {
			v = scale - 1
		}
		if depth == 8 {
			// WAV stores 8-bit PCM unsigned
			v += 128
		}
		data[i] = int(v)
	}

	return &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: f.Channels,
			SampleRate:  f.SampleRate,
		},
		Data:           data,
		SourceBitDepth: depth,
	}
}
