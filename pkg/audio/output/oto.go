// ABOUTME: Oto-based audio sink implementation
// ABOUTME: Feeds a persistent oto player from a byte queue with hardware volume
package output

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/team-phoenix/phoenix-audio/pkg/audio"
)

// oto allows one context per process, so the first opened format wins
var (
	otoMu     sync.Mutex
	otoCtx    *oto.Context
	otoFormat audio.Format
	otoErr    error
)

// otoDeviceFormat picks the format to open for a requested one. Once a
// context is running every later open plays at its format.
func otoDeviceFormat(requested, running audio.Format) (audio.Format, error) {
	if !requested.Valid() {
		return audio.Format{}, fmt.Errorf("%w: %s", ErrFormatUnsupported, requested)
	}
	if running != (audio.Format{}) {
		return running, nil
	}
	if !otoSupports(requested) {
		return audio.Format{}, fmt.Errorf("%w: oto cannot play %s", ErrFormatUnsupported, requested)
	}
	return requested, nil
}

// otoContext returns the process context and the format it runs at,
// creating it on first use
func otoContext(format audio.Format, opts Options) (*oto.Context, audio.Format, error) {
	otoMu.Lock()
	defer otoMu.Unlock()

	if otoErr != nil {
		return nil, audio.Format{}, fmt.Errorf("%w: failed to create oto context: %v", ErrNoDevice, otoErr)
	}

	device, err := otoDeviceFormat(format, otoFormat)
	if err != nil {
		return nil, audio.Format{}, err
	}
	if otoCtx != nil {
		return otoCtx, device, nil
	}

	op := &oto.NewContextOptions{
		SampleRate:   device.SampleRate,
		ChannelCount: device.Channels,
		Format:       otoSampleFormat(device),
		BufferSize:   opts.BufferDuration / time.Duration(opts.Periods),
	}

	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		otoErr = err
		return nil, audio.Format{}, fmt.Errorf("%w: failed to create oto context: %v", ErrNoDevice, err)
	}
	<-ready

	otoCtx = ctx
	otoFormat = device
	return otoCtx, otoFormat, nil
}

func otoSampleFormat(f audio.Format) oto.Format {
	switch {
	case f.Encoding == audio.EncodingFloat && f.BitDepth == 32:
		return oto.FormatFloat32LE
	case f.Encoding == audio.EncodingUnsigned && f.BitDepth == 8:
		return oto.FormatUnsignedInt8
	default:
		return oto.FormatSignedInt16LE
	}
}

func otoSupports(f audio.Format) bool {
	if !f.Valid() || f.Channels > 2 {
		return false
	}
	switch {
	case f.Encoding == audio.EncodingFloat && f.BitDepth == 32:
		return true
	case f.Encoding == audio.EncodingUnsigned && f.BitDepth == 8:
		return true
	case f.Encoding == audio.EncodingSigned && f.BitDepth == 16:
		return true
	}
	return false
}

// Oto plays through the system audio device
type Oto struct {
	*queue

	opts   Options
	player *oto.Player
	volume float64
}

// NewOto creates an unopened Oto sink
func NewOto(opts Options) *Oto {
	return &Oto{
		opts:   opts.withDefaults(),
		volume: 1,
	}
}

// Open initializes the device. The first open fixes the device format for
// the life of the process; later opens play at that format and Format
// reports it so the caller can convert.
func (o *Oto) Open(format audio.Format) error {
	ctx, device, err := otoContext(format, o.opts)
	if err != nil {
		return err
	}
	if device != format {
		log.Printf("Audio output running at %s, %s will be converted", device, format)
	}

	if o.player != nil && o.queue.format == device {
		log.Printf("Audio output already initialized with same format, reusing player")
		return nil
	}

	if err := ctx.Resume(); err != nil {
		return fmt.Errorf("%w: failed to resume oto context: %v", ErrNoDevice, err)
	}

	o.closePlayer()
	o.queue = newQueue(device, o.opts)

	// player-side buffering counts against BytesFree, keep it to one period
	o.player = ctx.NewPlayer(pullReader{o.queue})
	o.player.SetBufferSize(o.queue.period)
	o.player.SetVolume(o.volume)
	o.player.Play()

	log.Printf("Audio output initialized: %s, buffer %d bytes, period %d bytes",
		device, o.queue.capacity(), o.queue.period)
	return nil
}

// Format returns the opened format
func (o *Oto) Format() audio.Format {
	if o.queue == nil {
		return audio.Format{}
	}
	return o.queue.format
}

// BufferSize returns the queue capacity in bytes
func (o *Oto) BufferSize() int {
	if o.queue == nil {
		return 0
	}
	return o.capacity()
}

// PeriodSize returns the player's read granularity in bytes
func (o *Oto) PeriodSize() int {
	if o.queue == nil {
		return 0
	}
	return o.queue.period
}

// BytesFree counts audio already handed to the player as occupied
func (o *Oto) BytesFree() int {
	if o.queue == nil || o.player == nil {
		return 0
	}
	free := o.capacity() - o.occupied() - o.player.BufferedSize()
	if free < 0 {
		return 0
	}
	return free
}

// Write queues PCM for the player
func (o *Oto) Write(p []byte) int {
	if o.queue == nil {
		return 0
	}
	if limit := o.BytesFree(); len(p) > limit {
		p = p[:limit]
	}
	return o.write(p)
}

// Suspend pauses the player without dropping queued audio
func (o *Oto) Suspend() {
	if o.player == nil {
		return
	}
	o.player.Pause()
	o.suspend()
}

// Resume continues playback after Suspend
func (o *Oto) Resume() {
	if o.player == nil {
		return
	}
	o.resume()
	o.player.Play()
}

// Restart clears an underrun so the next write resumes playback
func (o *Oto) Restart() error {
	if o.player == nil {
		return fmt.Errorf("output not initialized")
	}
	o.restart()
	if !o.player.IsPlaying() {
		o.player.Play()
	}
	return nil
}

// State returns the playback state
func (o *Oto) State() State {
	if o.queue == nil {
		return StateStopped
	}
	s, _ := o.status()
	return s
}

// Err returns the error behind the current state
func (o *Oto) Err() error {
	if o.queue == nil {
		return nil
	}
	if o.player != nil {
		if err := o.player.Err(); err != nil {
			return err
		}
	}
	_, err := o.status()
	return err
}

// SetVolume sets the player gain
func (o *Oto) SetVolume(volume float64) {
	o.volume = clampVolume(volume)
	if o.player != nil {
		o.player.SetVolume(o.volume)
	}
}

// Close stops playback. The process-wide oto context stays alive for reuse.
func (o *Oto) Close() error {
	o.closePlayer()
	if o.queue != nil {
		o.stop()
	}
	return nil
}

func (o *Oto) closePlayer() {
	if o.player == nil {
		return
	}
	if err := o.player.Close(); err != nil {
		log.Printf("Failed to close oto player: %v", err)
	}
	o.player = nil
}

// pullReader adapts the queue to the io.Reader the oto player drains. It
// never reports EOF: a starved read is silence.
type pullReader struct {
	q *queue
}

func (r pullReader) Read(p []byte) (int, error) {
	r.q.pull(p)
	return len(p), nil
}
