// ABOUTME: Playback driver tests
// ABOUTME: Drives ticks by hand against a scriptable sink
package playback

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/team-phoenix/phoenix-audio/pkg/audio"
	"github.com/team-phoenix/phoenix-audio/pkg/audio/output"
)

// fakeSink is an output.Sink whose fill level and state are set by the test
type fakeSink struct {
	mu sync.Mutex

	format     audio.Format
	pinned     audio.Format // the format the sink opens at whatever is asked
	opens      []audio.Format
	openErr    error
	bufferSize int
	periodSize int
	free       int
	limit      int // max bytes per Write, 0 for no limit
	written    []byte
	state      output.State
	err        error
	volume     float64

	suspends int
	resumes  int
	restarts int
	closes   int
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		bufferSize: 4096,
		periodSize: 1024,
		free:       4096,
		state:      output.StateStopped,
	}
}

func (f *fakeSink) Open(format audio.Format) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens = append(f.opens, format)
	if f.openErr != nil {
		return f.openErr
	}
	f.format = format
	if f.pinned != (audio.Format{}) {
		f.format = f.pinned
	}
	f.state = output.StateIdle
	f.err = nil
	return nil
}

func (f *fakeSink) Format() audio.Format {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.format
}

func (f *fakeSink) BufferSize() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bufferSize
}

func (f *fakeSink) PeriodSize() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.periodSize
}

func (f *fakeSink) BytesFree() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.free
}

func (f *fakeSink) Write(p []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(p)
	if n > f.free {
		n = f.free
	}
	if f.limit > 0 && n > f.limit {
		n = f.limit
	}
	f.written = append(f.written, p[:n]...)
	f.free -= n
	if n > 0 && f.state == output.StateIdle && f.err == nil {
		f.state = output.StateActive
	}
	return n
}

func (f *fakeSink) Suspend() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suspends++
	f.state = output.StateSuspended
}

func (f *fakeSink) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes++
	f.state = output.StateIdle
}

func (f *fakeSink) Restart() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	f.state = output.StateIdle
	f.err = nil
	return nil
}

func (f *fakeSink) State() output.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSink) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeSink) SetVolume(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = v
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.state = output.StateStopped
	return nil
}

// set adjusts the fake's fill level and state under its lock
func (f *fakeSink) set(fn func(f *fakeSink)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeSink) takeWritten() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := f.written
	f.written = nil
	return w
}

func newTestDriver(t *testing.T, sink *fakeSink, config Config) *Driver {
	t.Helper()
	config.Sink = sink
	d, err := NewDriver(config)
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func nonZero(p []byte) bool {
	for _, b := range p {
		if b != 0 {
			return true
		}
	}
	return false
}

func tone(f audio.Format, frames int) []byte {
	samples := make([]float64, frames*f.Channels)
	for i := range samples {
		samples[i] = 0.5 * math.Sin(float64(i/f.Channels)*0.05)
	}
	return audio.Encode(nil, samples, f)
}

func TestNewDriverRequiresSink(t *testing.T) {
	if _, err := NewDriver(Config{}); err == nil {
		t.Error("expected error without a sink")
	}
	_, err := NewDriver(Config{Sink: newFakeSink(), DeviceFormat: audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 12}})
	if !errors.Is(err, ErrFormatUnsupported) {
		t.Errorf("expected ErrFormatUnsupported for a bad device format, got %v", err)
	}
}

func TestLifecycle(t *testing.T) {
	sink := newFakeSink()
	var states []State
	d := newTestDriver(t, sink, Config{OnStateChange: func(s State) { states = append(states, s) }})

	if d.State() != StateUninitialized {
		t.Fatalf("expected uninitialized, got %s", d.State())
	}
	if n := d.PushSamples([]byte{1, 2, 3, 4}); n != 0 {
		t.Errorf("expected no samples accepted before a format, got %d", n)
	}

	d.SetFormat(audio.S16Stereo48K)
	d.applyPending()
	if d.State() != StateConfigured {
		t.Fatalf("expected configured, got %s", d.State())
	}
	if d.ticker != nil {
		t.Error("configured driver must not tick")
	}

	d.SetRunning(true)
	d.applyPending()
	if d.State() != StateActive || d.ticker == nil {
		t.Fatalf("expected active and ticking, got %s", d.State())
	}

	d.SetRunning(false)
	d.applyPending()
	if d.State() != StateSuspended || d.ticker != nil {
		t.Fatalf("expected suspended without ticker, got %s", d.State())
	}

	d.Close()
	if d.State() != StateTornDown {
		t.Fatalf("expected torn down, got %s", d.State())
	}

	expected := []State{StateConfigured, StateActive, StateSuspended, StateTornDown}
	if len(states) != len(expected) {
		t.Fatalf("expected transitions %v, got %v", expected, states)
	}
	for i := range expected {
		if states[i] != expected[i] {
			t.Errorf("transition %d: expected %s, got %s", i, expected[i], states[i])
		}
	}
}

func TestTickInterval(t *testing.T) {
	sink := newFakeSink()
	d := newTestDriver(t, sink, Config{})

	d.SetFormat(audio.S16Stereo48K)
	d.applyPending()

	// 1.5 periods of 1024 bytes = 384 frames at 48kHz
	if d.interval != 8*time.Millisecond {
		t.Errorf("expected 8ms tick, got %v", d.interval)
	}
}

func TestTickWritesCorrectedAudio(t *testing.T) {
	sink := newFakeSink()
	var ticks []TickStats
	d := newTestDriver(t, sink, Config{OnTick: func(ts TickStats) { ticks = append(ticks, ts) }})

	d.SetFormat(audio.S16Stereo48K)
	d.SetRunning(true)
	d.applyPending()

	pcm := tone(audio.S16Stereo48K, 2048)
	if n := d.PushSamples(pcm); n != len(pcm) {
		t.Fatalf("expected %d bytes pushed, got %d", len(pcm), n)
	}

	d.tick()

	written := sink.takeWritten()
	if len(written) != 4096 {
		t.Fatalf("expected device filled with 4096 bytes, got %d", len(written))
	}
	if !nonZero(written) {
		t.Error("expected audio, got silence")
	}
	if len(ticks) != 1 {
		t.Fatalf("expected 1 tick, got %d", len(ticks))
	}

	// empty device: maximum speed-up
	if math.Abs(ticks[0].Rate-48240) > 1e-6 {
		t.Errorf("expected rate 48240, got %f", ticks[0].Rate)
	}
	if ticks[0].Session != d.Session() || d.Session() == uuid.Nil {
		t.Errorf("expected tick tagged with session %s, got %s", d.Session(), ticks[0].Session)
	}

	stats := d.Stats()
	if stats.Ticks != 1 || stats.BytesWritten != 4096 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestTickSkipsFullDevice(t *testing.T) {
	sink := newFakeSink()
	d := newTestDriver(t, sink, Config{})

	d.SetFormat(audio.S16Stereo48K)
	d.SetRunning(true)
	d.applyPending()
	d.PushSamples(tone(audio.S16Stereo48K, 100))
	before := d.Buffered()

	sink.set(func(f *fakeSink) { f.free = 0 })
	d.tick()

	if len(sink.takeWritten()) != 0 {
		t.Error("expected no write to a full device")
	}
	if d.Buffered() != before {
		t.Errorf("expected ring untouched, %d -> %d bytes", before, d.Buffered())
	}
	if d.corrector.State().Nominal != 0 {
		t.Error("expected no correction on a skipped tick")
	}
}

func TestRingUnderflowPlaysSilence(t *testing.T) {
	sink := newFakeSink()
	d := newTestDriver(t, sink, Config{})

	d.SetFormat(audio.S16Stereo48K)
	d.SetRunning(true)
	d.applyPending()

	d.tick()

	written := sink.takeWritten()
	if len(written) == 0 {
		t.Fatal("expected silence to be written")
	}
	if nonZero(written) {
		t.Error("expected zero-filled output from an empty ring")
	}
	if len(written) > sink.PeriodSize() {
		t.Errorf("expected at most one period of silence, got %d bytes", len(written))
	}
	if d.Stats().SilenceTicks != 1 {
		t.Errorf("expected 1 silence tick, got %d", d.Stats().SilenceTicks)
	}
}

func TestDryRingKeepsQueuedAudio(t *testing.T) {
	sink := newFakeSink()
	d := newTestDriver(t, sink, Config{})

	d.SetFormat(audio.S16Stereo48K)
	d.SetRunning(true)
	d.applyPending()

	// half the device is still queued
	sink.set(func(f *fakeSink) { f.free = 2048 })
	d.tick()

	if n := len(sink.takeWritten()); n != 0 {
		t.Errorf("expected nothing written while the device holds audio, got %d bytes", n)
	}
	if d.Stats().SilenceTicks != 0 {
		t.Error("expected no silence padding")
	}
}

func TestPartialRingPlaysOnlyBufferedAudio(t *testing.T) {
	sink := newFakeSink()
	d := newTestDriver(t, sink, Config{})

	d.SetFormat(audio.S16Stereo48K)
	d.SetRunning(true)
	d.applyPending()

	d.PushSamples(tone(audio.S16Stereo48K, 100))
	d.tick()

	written := sink.takeWritten()
	// 100 frames stretched by at most 0.5%, less the held interpolation frame
	if len(written) == 0 || len(written) > 101*4 {
		t.Errorf("expected about 100 frames, got %d bytes", len(written))
	}
	if d.Buffered() != 0 {
		t.Errorf("expected ring drained, %d bytes left", d.Buffered())
	}
}

func TestClosedLoopKeepsRingBounded(t *testing.T) {
	tests := []struct {
		name string
		skew float64 // producer clock error in ppm
	}{
		{"matched clocks", 0},
		{"fast producer", 500},
		{"slow producer", -500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := newFakeSink()
			var rates []float64
			d := newTestDriver(t, sink, Config{
				RingDuration: 60 * time.Millisecond,
				OnTick:       func(ts TickStats) { rates = append(rates, ts.Rate) },
			})

			d.SetFormat(audio.S16Stereo48K)
			d.SetRunning(true)
			d.applyPending()

			// the device plays 5ms per tick; the producer pushes the same
			// amount by its own clock
			const drain, frameSize = 960, 4
			var owed float64
			refused, maxBuffered := 0, 0
			for i := 0; i < 4000; i++ {
				sink.set(func(f *fakeSink) { f.free = min(f.free+drain, f.bufferSize) })

				owed += drain * (1 + tt.skew*1e-6)
				push := int(owed) / frameSize * frameSize
				owed -= float64(push)
				refused += push - d.PushSamples(make([]byte, push))

				d.tick()
				sink.takeWritten()
				maxBuffered = max(maxBuffered, d.Buffered())
			}

			if refused != 0 {
				t.Errorf("expected no refused producer bytes, got %d", refused)
			}
			if maxBuffered > 2*drain {
				t.Errorf("expected ring to stay below %d bytes, peaked at %d", 2*drain, maxBuffered)
			}

			var sum float64
			last := rates[len(rates)-1000:]
			for _, r := range last {
				sum += r
			}
			mean := sum / float64(len(last))
			expected := 48000 / (1 + tt.skew*1e-6)
			if math.Abs(mean-expected) > 2 {
				t.Errorf("expected rate to settle at %.1f, got %.1f", expected, mean)
			}
		})
	}
}

func TestFormatChangeAppliesNextTick(t *testing.T) {
	sink := newFakeSink()
	var applied []audio.Format
	d := newTestDriver(t, sink, Config{OnFormatApplied: func(f audio.Format, err error) {
		if err != nil {
			t.Errorf("unexpected format error: %v", err)
		}
		applied = append(applied, f)
	}})

	d.SetFormat(audio.S16Stereo48K)
	d.SetRunning(true)
	d.applyPending()
	first := d.Session()
	d.PushSamples(tone(audio.S16Stereo48K, 512))
	d.tick()
	sink.takeWritten()

	mono := audio.Format{SampleRate: 22050, Channels: 1, BitDepth: 8, Encoding: audio.EncodingUnsigned}
	d.SetFormat(mono)
	d.applyPending()

	if d.State() != StateActive {
		t.Errorf("expected run state restored to active, got %s", d.State())
	}
	if d.Session() == first {
		t.Error("expected a new session for the new format")
	}
	if got := sink.Format(); got != mono {
		t.Fatalf("expected sink reopened at %s, got %s", mono, got)
	}
	if d.corrector.State().Nominal != 0 {
		t.Error("expected baseline reset on format change")
	}

	sink.set(func(f *fakeSink) { f.free = 1000 })
	if n := d.PushSamples(tone(mono, 2000)); n == 0 {
		t.Fatal("expected the resized ring to accept samples")
	}
	d.tick()

	written := sink.takeWritten()
	if len(written) != 1000 {
		t.Errorf("expected 1000 bytes in the new format, got %d", len(written))
	}
	if d.corrector.State().Nominal != 22050 {
		t.Errorf("expected baseline latched at 22050, got %d", d.corrector.State().Nominal)
	}
	if len(applied) != 2 || applied[1] != mono {
		t.Errorf("expected formats applied [48k, mono], got %v", applied)
	}
}

func TestFormatChangeWhileSuspended(t *testing.T) {
	sink := newFakeSink()
	d := newTestDriver(t, sink, Config{})

	d.SetFormat(audio.S16Stereo48K)
	d.SetRunning(true)
	d.applyPending()
	d.SetRunning(false)
	d.applyPending()

	d.SetFormat(audio.S16Stereo44K)
	d.applyPending()
	if d.State() != StateSuspended {
		t.Errorf("expected to stay suspended, got %s", d.State())
	}
	if d.ticker != nil {
		t.Error("expected no ticker while suspended")
	}
}

func TestDeviceFormatConversion(t *testing.T) {
	sink := newFakeSink()
	d := newTestDriver(t, sink, Config{DeviceFormat: audio.S16Stereo48K, Quality: 0})

	d.SetFormat(audio.S16Stereo44K)
	d.SetRunning(true)
	d.applyPending()

	if got := sink.Format(); got != audio.S16Stereo48K {
		t.Fatalf("expected sink at the fixed device format, got %s", got)
	}
	if d.resampler.In() != audio.S16Stereo44K || d.resampler.Out() != audio.S16Stereo48K {
		t.Errorf("expected 44.1k to 48k conversion, got %s -> %s", d.resampler.In(), d.resampler.Out())
	}

	var total int
	for i := 0; i < 20; i++ {
		d.PushSamples(tone(audio.S16Stereo44K, 1024))
		sink.set(func(f *fakeSink) { f.free = 2048 })
		d.tick()
		total += len(sink.takeWritten())
	}
	if total == 0 {
		t.Error("expected converted audio to reach the device")
	}
	if total%audio.S16Stereo48K.FrameSize() != 0 {
		t.Errorf("expected whole frames, got %d bytes", total)
	}
}

func TestUnderrunRecovery(t *testing.T) {
	sink := newFakeSink()
	d := newTestDriver(t, sink, Config{})

	d.SetFormat(audio.S16Stereo48K)
	d.SetRunning(true)
	d.applyPending()
	d.PushSamples(tone(audio.S16Stereo48K, 1024))
	d.tick()
	sink.takeWritten()

	baseline := d.corrector.State().Nominal
	session := d.Session()
	sink.set(func(f *fakeSink) {
		f.state = output.StateIdle
		f.err = output.ErrUnderrun
		f.free = f.bufferSize
	})

	d.PushSamples(tone(audio.S16Stereo48K, 1024))
	d.tick()

	sink.mu.Lock()
	restarts := sink.restarts
	state := sink.state
	sink.mu.Unlock()

	if restarts != 1 {
		t.Errorf("expected 1 restart, got %d", restarts)
	}
	if !nonZero(sink.takeWritten()) {
		t.Error("expected audio within the recovering tick")
	}
	if state != output.StateActive {
		t.Errorf("expected sink active again, got %s", state)
	}
	if d.corrector.State().Nominal != baseline || d.Session() != session {
		t.Error("underrun recovery must not reset the baseline or session")
	}
	if d.Stats().Underruns != 1 {
		t.Errorf("expected 1 underrun counted, got %d", d.Stats().Underruns)
	}
	if d.State() != StateActive {
		t.Errorf("expected driver to stay active, got %s", d.State())
	}
}

func TestDeviceErrorSuspends(t *testing.T) {
	sink := newFakeSink()
	var reported error
	d := newTestDriver(t, sink, Config{OnError: func(err error) { reported = err }})

	d.SetFormat(audio.S16Stereo48K)
	d.SetRunning(true)
	d.applyPending()

	lost := errors.New("device unplugged")
	sink.set(func(f *fakeSink) { f.err = lost })
	d.tick()

	if !errors.Is(reported, lost) {
		t.Errorf("expected device error reported, got %v", reported)
	}
	if d.State() != StateSuspended || d.ticker != nil {
		t.Errorf("expected suspended without ticker, got %s", d.State())
	}
}

func TestNoDevice(t *testing.T) {
	sink := newFakeSink()
	sink.openErr = output.ErrNoDevice
	var applyErr error
	d := newTestDriver(t, sink, Config{OnFormatApplied: func(_ audio.Format, err error) { applyErr = err }})

	d.SetFormat(audio.S16Stereo48K)
	d.SetRunning(true)
	d.applyPending()

	if !errors.Is(applyErr, ErrNoDeviceAvailable) {
		t.Fatalf("expected ErrNoDeviceAvailable, got %v", applyErr)
	}
	if d.State() != StateActive {
		t.Fatalf("expected active discard mode, got %s", d.State())
	}

	d.PushSamples(tone(audio.S16Stereo48K, 256))
	d.tick()
	if d.Buffered() != 0 {
		t.Errorf("expected ring drained, %d bytes left", d.Buffered())
	}
	if len(sink.takeWritten()) != 0 {
		t.Error("expected nothing written without a device")
	}
	if d.Stats().BytesDropped != 1024 {
		t.Errorf("expected 1024 bytes dropped, got %d", d.Stats().BytesDropped)
	}

	// the warning is not repeated on the next format
	d.SetFormat(audio.S16Stereo44K)
	d.applyPending()
	if !d.noDeviceWarned {
		t.Error("expected no-device warning to stay latched")
	}
}

func TestFormatUnsupported(t *testing.T) {
	sink := newFakeSink()
	var applyErr error
	d := newTestDriver(t, sink, Config{OnFormatApplied: func(_ audio.Format, err error) { applyErr = err }})

	tests := []struct {
		name   string
		format audio.Format
		setup  func()
	}{
		{"invalid format", audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 12}, func() {}},
		{"sink rejects", audio.S16Stereo48K, func() { sink.set(func(f *fakeSink) { f.openErr = output.ErrFormatUnsupported }) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			d.SetFormat(tt.format)
			d.SetRunning(true)
			d.applyPending()

			if !errors.Is(applyErr, ErrFormatUnsupported) {
				t.Errorf("expected ErrFormatUnsupported, got %v", applyErr)
			}
			if d.State() != StateConfigured {
				t.Errorf("expected configured, got %s", d.State())
			}
			if d.ticker != nil {
				t.Error("expected no ticks for an unsupported format")
			}
			if n := d.PushSamples([]byte{1, 2, 3, 4}); n != 0 {
				t.Errorf("expected push rejected, got %d", n)
			}
			sink.set(func(f *fakeSink) { f.openErr = nil })
		})
	}

	// the run request made while unsupported is honoured
	// once a playable format arrives
	d.SetFormat(audio.Format{SampleRate: 48000, Channels: 6, BitDepth: 16, Encoding: audio.EncodingSigned})
	d.applyPending()
	if applyErr != nil {
		t.Errorf("expected format applied, got %v", applyErr)
	}
	if d.State() != StateActive {
		t.Errorf("expected active after a supported format, got %s", d.State())
	}
}

func TestSuspendResumeIdempotent(t *testing.T) {
	sink := newFakeSink()
	d := newTestDriver(t, sink, Config{})

	d.SetFormat(audio.S16Stereo48K)
	d.SetRunning(true)
	d.applyPending()

	d.SetRunning(true)
	d.applyPending()

	for i := 0; i < 3; i++ {
		d.SetRunning(false)
		d.applyPending()
	}

	sink.mu.Lock()
	resumes, suspends := sink.resumes, sink.suspends
	sink.mu.Unlock()

	if resumes != 1 {
		t.Errorf("expected 1 resume, got %d", resumes)
	}
	// the first comes from applying the format before the run request
	if suspends != 2 {
		t.Errorf("expected 2 suspends, got %d", suspends)
	}
}

func TestSettingsLastWriterWins(t *testing.T) {
	sink := newFakeSink()
	d := newTestDriver(t, sink, Config{})

	d.SetFormat(audio.S16Stereo44K)
	d.SetFormat(audio.S16Stereo48K)
	d.SetVolume(0.2)
	d.SetVolume(1.7)
	d.applyPending()

	sink.mu.Lock()
	opens, volume := len(sink.opens), sink.volume
	sink.mu.Unlock()

	if opens != 1 || sink.Format() != audio.S16Stereo48K {
		t.Errorf("expected a single open at 48k, got %d opens at %s", opens, sink.Format())
	}
	if volume != 1 {
		t.Errorf("expected clamped volume 1, got %f", volume)
	}
}

func TestCarryBounded(t *testing.T) {
	sink := newFakeSink()
	d := newTestDriver(t, sink, Config{})

	d.SetFormat(audio.S16Stereo48K)
	d.SetRunning(true)
	d.applyPending()

	// the device reports space but takes only a sliver
	sink.set(func(f *fakeSink) { f.limit = 4 })
	for i := 0; i < 10; i++ {
		d.PushSamples(tone(audio.S16Stereo48K, 1024))
		sink.set(func(f *fakeSink) { f.free = f.bufferSize })
		d.tick()
		if len(d.carry) > sink.BufferSize() {
			t.Fatalf("carry grew to %d bytes", len(d.carry))
		}
	}
	if d.Stats().ShortWrites == 0 {
		t.Error("expected short writes to be counted")
	}
}

func TestCarryTrimWarnsOncePerBurst(t *testing.T) {
	sink := newFakeSink()
	d := newTestDriver(t, sink, Config{})

	d.SetFormat(audio.S16Stereo48K)
	d.SetRunning(true)
	d.applyPending()

	sink.set(func(f *fakeSink) { f.limit = 4 })
	for i := 0; i < 3; i++ {
		d.carry = append(d.carry[:0], make([]byte, sink.BufferSize()+64)...)
		d.tick()
		if len(d.carry) > sink.BufferSize() {
			t.Fatalf("expected carry trimmed to %d, got %d", sink.BufferSize(), len(d.carry))
		}
		if !d.carryDropLogged {
			t.Fatal("expected the drop to be logged")
		}
	}
	if got := d.Stats().BytesDropped; got != 3*60 {
		t.Errorf("expected 180 bytes dropped, got %d", got)
	}

	// a tick the device fully accepts re-arms the warning
	sink.set(func(f *fakeSink) {
		f.limit = 0
		f.free = f.bufferSize
	})
	d.carry = d.carry[:0]
	d.tick()
	if d.carryDropLogged {
		t.Error("expected the warning to re-arm once the device keeps up")
	}
}

func TestPinnedSinkFormat(t *testing.T) {
	sink := newFakeSink()
	sink.pinned = audio.S16Stereo48K
	var applyErr error
	d := newTestDriver(t, sink, Config{OnFormatApplied: func(_ audio.Format, err error) { applyErr = err }})

	d.SetFormat(audio.S16Stereo48K)
	d.SetRunning(true)
	d.applyPending()

	mono := audio.Format{SampleRate: 44100, Channels: 1, BitDepth: 32, Encoding: audio.EncodingFloat}
	d.SetFormat(mono)
	d.applyPending()

	if applyErr != nil {
		t.Fatalf("expected the switch to succeed, got %v", applyErr)
	}
	if d.State() != StateActive {
		t.Fatalf("expected active, got %s", d.State())
	}
	if d.resampler.In() != mono || d.resampler.Out() != audio.S16Stereo48K {
		t.Errorf("expected conversion to the running device format, got %s -> %s", d.resampler.In(), d.resampler.Out())
	}

	var written []byte
	for i := 0; i < 10; i++ {
		d.PushSamples(tone(mono, 1024))
		sink.set(func(f *fakeSink) { f.free = 2048 })
		d.tick()
		written = append(written, sink.takeWritten()...)
	}
	if !nonZero(written) {
		t.Error("expected converted audio after the switch")
	}
	if len(written)%audio.S16Stereo48K.FrameSize() != 0 {
		t.Errorf("expected whole device frames, got %d bytes", len(written))
	}
}

func TestCloseFromAnyState(t *testing.T) {
	tests := []struct {
		name  string
		setup func(d *Driver)
	}{
		{"uninitialized", func(d *Driver) {}},
		{"configured", func(d *Driver) {
			d.SetFormat(audio.S16Stereo48K)
			d.applyPending()
		}},
		{"active", func(d *Driver) {
			d.SetFormat(audio.S16Stereo48K)
			d.SetRunning(true)
			d.applyPending()
		}},
		{"suspended", func(d *Driver) {
			d.SetFormat(audio.S16Stereo48K)
			d.SetRunning(true)
			d.applyPending()
			d.SetRunning(false)
			d.applyPending()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := newFakeSink()
			d := newTestDriver(t, sink, Config{})
			tt.setup(d)

			if err := d.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}
			if err := d.Close(); err != nil {
				t.Fatalf("second Close failed: %v", err)
			}
			if d.State() != StateTornDown {
				t.Errorf("expected torn down, got %s", d.State())
			}
			if n := d.PushSamples([]byte{1, 2, 3, 4}); n != 0 {
				t.Errorf("expected push rejected after close, got %d", n)
			}
			sink.mu.Lock()
			closes := sink.closes
			sink.mu.Unlock()
			if closes != 1 {
				t.Errorf("expected sink closed once, got %d", closes)
			}

			// a late Start must not revive the driver
			d.Start(context.Background())
			if d.State() != StateTornDown {
				t.Errorf("expected torn down after late start, got %s", d.State())
			}
		})
	}
}

func TestRunningLoop(t *testing.T) {
	sink := newFakeSink()
	sink.periodSize = 192 // 1ms at 48kHz stereo s16

	ticked := make(chan struct{}, 1)
	d := newTestDriver(t, sink, Config{OnTick: func(TickStats) {
		select {
		case ticked <- struct{}{}:
		default:
		}
	}})

	d.Start(context.Background())
	d.SetFormat(audio.S16Stereo48K)
	d.SetRunning(true)

	select {
	case <-ticked:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the playback goroutine to tick")
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if d.State() != StateTornDown {
		t.Errorf("expected torn down, got %s", d.State())
	}
}

func TestContextCancelStopsLoop(t *testing.T) {
	sink := newFakeSink()
	d := newTestDriver(t, sink, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	cancel()

	select {
	case <-d.done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the loop to exit on cancel")
	}
	if d.State() != StateTornDown {
		t.Errorf("expected torn down, got %s", d.State())
	}
}
