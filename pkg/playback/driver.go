// ABOUTME: Playback driver with drift correction
// ABOUTME: Owns the ring buffer, clock corrector, resampler and the playback goroutine
package playback

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/team-phoenix/phoenix-audio/pkg/audio"
	"github.com/team-phoenix/phoenix-audio/pkg/audio/clock"
	"github.com/team-phoenix/phoenix-audio/pkg/audio/output"
	"github.com/team-phoenix/phoenix-audio/pkg/audio/resample"
	"github.com/team-phoenix/phoenix-audio/pkg/audio/ring"
)

var (
	// ErrFormatUnsupported means the requested format cannot be played. The
	// driver stays configured without output until a new format arrives.
	ErrFormatUnsupported = errors.New("playback: format not supported")

	// ErrNoDeviceAvailable means no output device could be opened. Pushed
	// audio is discarded at the playback rate.
	ErrNoDeviceAvailable = errors.New("playback: no audio device available")
)

// State is the driver lifecycle state
type State int32

const (
	StateUninitialized State = iota
	StateConfigured
	StateSuspended
	StateActive
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConfigured:
		return "configured"
	case StateSuspended:
		return "suspended"
	case StateActive:
		return "active"
	case StateTornDown:
		return "torn down"
	default:
		return "unknown"
	}
}

// Config holds driver configuration
type Config struct {
	// Sink is the output device (required)
	Sink output.Sink

	// DeviceFormat fixes the sink format. Zero opens the sink at each
	// producer format.
	DeviceFormat audio.Format

	// Deviation is the maximum fractional rate correction (default 0.005)
	Deviation float64

	// RingDuration sizes the producer ring buffer (default 200ms)
	RingDuration time.Duration

	// Quality selects the rate conversion filter
	Quality resample.Quality

	// IdleInterval is the discard tick period without a device (default 20ms)
	IdleInterval time.Duration

	// Debug logs every tick
	Debug bool

	// OnTick is called after every tick with the corrected rate
	OnTick func(TickStats)

	// OnStateChange is called when the driver state changes
	OnStateChange func(State)

	// OnFormatApplied is called once a format has been applied, with a
	// non-nil error if playback in that format is impossible
	OnFormatApplied func(audio.Format, error)

	// OnError is called for device errors
	OnError func(error)
}

// Driver moves audio from a producer to a sink at a continuously corrected
// rate. PushSamples and the Set methods are safe from any goroutine; the
// sink, corrector and resampler are only touched by the playback goroutine.
type Driver struct {
	config Config
	sink   output.Sink

	ring    atomic.Pointer[ring.Buffer]
	state   atomic.Int32
	session atomic.Pointer[uuid.UUID]

	format Slot[audio.Format]
	run    Slot[bool]
	volume Slot[float64]
	wake   chan struct{}

	statsMu sync.Mutex
	stats   Stats

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	started   atomic.Bool

	// owned by the playback goroutine
	corrector *clock.Corrector
	resampler *resample.Resampler
	current   audio.Format
	device    audio.Format
	ready     bool // a format is applied and the sink accepted it
	noDevice  bool
	running   bool
	ticker    *time.Ticker
	interval  time.Duration
	in        []byte
	carry     []byte
	discard   []byte

	underrunLogged  bool
	carryDropLogged bool
	noDeviceWarned  bool
}

// NewDriver creates a driver. It does nothing until a format is set and the
// playback goroutine is started.
func NewDriver(config Config) (*Driver, error) {
	if config.Sink == nil {
		return nil, fmt.Errorf("playback: sink is required")
	}
	if config.DeviceFormat != (audio.Format{}) && !config.DeviceFormat.Valid() {
		return nil, fmt.Errorf("%w: device format %s", ErrFormatUnsupported, config.DeviceFormat)
	}

	// Set defaults
	if config.Deviation <= 0 {
		config.Deviation = clock.DefaultDeviation
	}
	if config.RingDuration <= 0 {
		config.RingDuration = 200 * time.Millisecond
	}
	if config.IdleInterval <= 0 {
		config.IdleInterval = 20 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Driver{
		config:    config,
		sink:      config.Sink,
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		corrector: clock.NewCorrector(config.Deviation),
	}
	return d, nil
}

// Start launches the playback goroutine. It stops when ctx is cancelled or
// Close is called.
func (d *Driver) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		if d.State() == StateTornDown {
			return
		}
		d.started.Store(true)

		go func() {
			select {
			case <-ctx.Done():
				d.cancel()
			case <-d.ctx.Done():
			}
		}()
		go d.loop()
	})
}

// PushSamples copies producer audio into the ring buffer. It never blocks; a
// short count means the buffer is full. Before a format is applied nothing is
// accepted.
func (d *Driver) PushSamples(p []byte) int {
	r := d.ring.Load()
	if r == nil {
		return 0
	}
	return r.Write(p)
}

// SetFormat requests a new producer format, applied between ticks
func (d *Driver) SetFormat(format audio.Format) {
	d.format.Store(format)
	d.notify()
}

// SetRunning starts or pauses playback
func (d *Driver) SetRunning(run bool) {
	d.run.Store(run)
	d.notify()
}

// SetVolume sets the output gain, clamped to [0, 1]
func (d *Driver) SetVolume(volume float64) {
	if volume < 0 {
		volume = 0
	} else if volume > 1 {
		volume = 1
	}
	d.volume.Store(volume)
	d.notify()
}

// State returns the current lifecycle state
func (d *Driver) State() State {
	return State(d.state.Load())
}

// Session identifies the currently applied format; it changes on every
// format application
func (d *Driver) Session() uuid.UUID {
	if id := d.session.Load(); id != nil {
		return *id
	}
	return uuid.Nil
}

// Buffered returns the bytes waiting in the ring buffer
func (d *Driver) Buffered() int {
	if r := d.ring.Load(); r != nil {
		return r.Occupied()
	}
	return 0
}

// Close stops the playback goroutine at a tick boundary and releases the
// sink. It is safe to call from any state and more than once.
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		// Prevent a later Start from launching the loop
		d.startOnce.Do(func() {})

		d.cancel()
		if d.started.Load() {
			<-d.done
		} else {
			d.release()
		}
	})
	return nil
}

func (d *Driver) notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Driver) loop() {
	defer close(d.done)
	defer d.release()

	for {
		d.applyPending()

		var tick <-chan time.Time
		if d.ticker != nil {
			tick = d.ticker.C
		}

		select {
		case <-d.ctx.Done():
			return
		case <-d.wake:
		case <-tick:
			d.tick()
		}
	}
}

// applyPending takes queued settings. Format goes first so a run request
// sent alongside it applies to the new configuration.
func (d *Driver) applyPending() {
	if f, ok := d.format.Take(); ok {
		d.applyFormat(f)
	}
	if run, ok := d.run.Take(); ok {
		d.applyRun(run)
	}
	if v, ok := d.volume.Take(); ok {
		d.sink.SetVolume(v)
	}
}

func (d *Driver) applyRun(run bool) {
	d.running = run
	if !d.ready {
		return
	}

	switch {
	case run && d.State() != StateActive:
		d.activate()
	case !run && d.State() == StateActive:
		d.stopTicker()
		if !d.noDevice {
			d.sink.Suspend()
		}
		d.setState(StateSuspended)
	}
}

func (d *Driver) startTicker() {
	interval := d.interval
	if d.noDevice || interval <= 0 {
		interval = d.config.IdleInterval
	}
	if d.ticker != nil {
		d.ticker.Reset(interval)
		return
	}
	d.ticker = time.NewTicker(interval)
}

func (d *Driver) stopTicker() {
	if d.ticker != nil {
		d.ticker.Stop()
		d.ticker = nil
	}
}

func (d *Driver) setState(s State) {
	if State(d.state.Swap(int32(s))) == s {
		return
	}
	if d.config.Debug {
		log.Printf("Playback state: %s", s)
	}
	if d.config.OnStateChange != nil {
		d.config.OnStateChange(s)
	}
}

func (d *Driver) notifyError(err error) {
	if d.config.OnError != nil {
		d.config.OnError(err)
	} else {
		log.Printf("Playback error: %v", err)
	}
}

// tick moves one period of audio. It runs only on the playback goroutine.
func (d *Driver) tick() {
	r := d.ring.Load()
	if r == nil || !d.ready {
		return
	}

	if d.noDevice {
		d.drain(r)
		return
	}

	state := d.sink.State()
	err := d.sink.Err()
	underrun := state == output.StateIdle && errors.Is(err, output.ErrUnderrun)

	switch {
	case underrun:
		if !d.underrunLogged {
			log.Printf("Audio underrun, restarting output")
			d.underrunLogged = true
		}
		d.countUnderrun()
		if err := d.sink.Restart(); err != nil {
			d.deviceFailed(fmt.Errorf("failed to restart output: %w", err))
			return
		}
	case err != nil:
		d.deviceFailed(fmt.Errorf("output device error: %w", err))
		return
	case state == output.StateActive:
		d.underrunLogged = false
	}

	free := d.sink.BytesFree()
	if free == 0 {
		d.record(TickStats{Free: 0, Rate: d.corrector.State().Current})
		return
	}

	capacity := d.sink.BufferSize()
	rate := d.corrector.Correct(free, capacity, d.current.SampleRate)

	var padded bool
	if want := free - len(d.carry); want > 0 {
		// Only buffered audio is played, so the device fill follows what
		// the producer supplied
		fs := d.current.FrameSize()
		n := d.resampler.InputBytesFor(want, rate)
		if avail := r.Occupied() / fs * fs; n > avail {
			n = avail
		}
		// Dry ring with less than a period queued: pad one period of silence
		if n == 0 && capacity-free < d.sink.PeriodSize() {
			n = d.resampler.InputBytesFor(min(want, d.sink.PeriodSize()), rate)
			padded = n > 0
		}

		if n > 0 {
			if cap(d.in) < n {
				d.in = make([]byte, n)
			}
			in := d.in[:n]
			r.Read(in)

			out, err := d.resampler.Process(in, rate)
			if err != nil {
				d.notifyError(fmt.Errorf("resample failed: %w", err))
				return
			}
			d.carry = append(d.carry, out...)
		}
	}

	written := d.sink.Write(d.carry)
	short := written < len(d.carry)
	d.carry = d.carry[:copy(d.carry, d.carry[written:])]

	// Never hold more than the device can queue
	var dropped int
	if limit := capacity / d.device.FrameSize() * d.device.FrameSize(); len(d.carry) > limit {
		dropped = len(d.carry) - limit
		d.carry = d.carry[:copy(d.carry, d.carry[dropped:])]
		if !d.carryDropLogged {
			log.Printf("Output accepted less than it reported free, dropped %d bytes", dropped)
			d.carryDropLogged = true
		}
	} else if !short {
		d.carryDropLogged = false
	}

	cs := d.corrector.State()
	d.record(TickStats{
		Rate:      rate,
		Nominal:   cs.Nominal,
		Direction: cs.Direction,
		Free:      free,
		Capacity:  capacity,
		Buffered:  r.Occupied(),
		Written:   written,
		Carry:     len(d.carry),
		Short:     short,
		Dropped:   dropped,
		Padded:    padded,
	})
}

// drain discards buffered input at the playback rate when there is no device
func (d *Driver) drain(r *ring.Buffer) {
	n := r.Occupied()
	if cap(d.discard) < n {
		d.discard = make([]byte, n)
	}
	r.Read(d.discard[:n])
	d.record(TickStats{Dropped: n, Rate: float64(d.current.SampleRate)})
}

// deviceFailed handles an unrecoverable sink error: stop ticking and
// suspend until the run state or format changes
func (d *Driver) deviceFailed(err error) {
	d.stopTicker()
	d.sink.Suspend()
	d.setState(StateSuspended)
	d.notifyError(err)
}

// release tears everything down. It runs on the playback goroutine, or on
// the caller of Close when the goroutine was never started.
func (d *Driver) release() {
	d.stopTicker()
	if err := d.sink.Close(); err != nil {
		log.Printf("Failed to close output: %v", err)
	}
	if d.resampler != nil {
		d.resampler.Close()
		d.resampler = nil
	}
	d.ring.Store(nil)
	d.carry = nil
	d.ready = false
	d.setState(StateTornDown)
}
