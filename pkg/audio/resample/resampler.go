// ABOUTME: Two-stage resampler: fractional drift correction plus soxr rate conversion
// ABOUTME: Keeps interpolation state across calls to avoid boundary clicks
package resample

import (
	"errors"
	"fmt"
	"math"

	"github.com/team-phoenix/phoenix-audio/pkg/audio"
	resampling "github.com/tphakala/go-audio-resampling"
)

// ErrFormatUnsupported is returned when the input/output pair cannot be
// converted. It is not worth retrying until one of the formats changes.
var ErrFormatUnsupported = errors.New("resample: unsupported format")

// Quality selects the rate conversion filter
type Quality int

const (
	QualityQuick Quality = iota
	QualityLow
	QualityMedium
	QualityHigh
	QualityVeryHigh
)

func (q Quality) qualitySpec() resampling.QualitySpec {
	switch q {
	case QualityQuick:
		return resampling.QualitySpec{Preset: resampling.QualityQuick}
	case QualityLow:
		return resampling.QualitySpec{Preset: resampling.QualityLow}
	case QualityHigh:
		return resampling.QualitySpec{Preset: resampling.QualityHigh}
	case QualityVeryHigh:
		return resampling.QualitySpec{Preset: resampling.QualityVeryHigh}
	default:
		return resampling.QualitySpec{Preset: resampling.QualityMedium}
	}
}

// ParseQuality maps a quality name to a Quality
func ParseQuality(s string) (Quality, error) {
	switch s {
	case "quick":
		return QualityQuick, nil
	case "low":
		return QualityLow, nil
	case "", "medium":
		return QualityMedium, nil
	case "high":
		return QualityHigh, nil
	case "veryhigh", "very-high":
		return QualityVeryHigh, nil
	}
	return QualityMedium, fmt.Errorf("unknown resampler quality: %q", s)
}

// Resampler converts PCM blocks from an input format to an output format.
// It is not safe for concurrent use; the playback goroutine owns it.
type Resampler struct {
	in      audio.Format
	out     audio.Format
	quality Quality

	// rate stage, nil when in and out rates match
	soxr resampling.Resampler

	// drift stage
	pos    float64   // read position relative to prev, in input frames
	prev   []float64 // last input frame of the previous block
	primed bool

	partial    []byte // trailing bytes of an incomplete input frame
	configured bool

	inBuf   []byte
	decoded []float64
	mixed   []float64
	drifted []float64
	encoded []byte
}

// New creates a resampler from in to out
func New(in, out audio.Format, quality Quality) (*Resampler, error) {
	r := &Resampler{quality: quality}
	if err := r.Reconfigure(in, out); err != nil {
		return nil, err
	}
	return r, nil
}

// Reconfigure switches to a new format pair. On error the previous
// configuration is kept. Only the carried partial frame and interpolation
// history are lost.
func (r *Resampler) Reconfigure(in, out audio.Format) error {
	if r.configured && in == r.in && out == r.out {
		return nil
	}
	if !in.Valid() {
		return fmt.Errorf("%w: input %s", ErrFormatUnsupported, in)
	}
	if !out.Valid() {
		return fmt.Errorf("%w: output %s", ErrFormatUnsupported, out)
	}
	if !canRemix(in.Channels, out.Channels) {
		return fmt.Errorf("%w: %d to %d channels", ErrFormatUnsupported, in.Channels, out.Channels)
	}

	var soxr resampling.Resampler
	if in.SampleRate != out.SampleRate {
		config := &resampling.Config{
			InputRate:  float64(in.SampleRate),
			OutputRate: float64(out.SampleRate),
			Channels:   out.Channels,
			Quality:    r.quality.qualitySpec(),
		}
		var err error
		soxr, err = resampling.New(config)
		if err != nil {
			return fmt.Errorf("%w: failed to create resampler: %v", ErrFormatUnsupported, err)
		}
	}

	r.in = in
	r.out = out
	r.soxr = soxr
	r.configured = true
	r.prev = make([]float64, out.Channels)
	r.Reset()
	return nil
}

// Reset clears carried state without changing formats
func (r *Resampler) Reset() {
	r.pos = 0
	r.primed = false
	r.partial = r.partial[:0]
	clear(r.prev)
}

// In returns the input format
func (r *Resampler) In() audio.Format { return r.in }

// Out returns the output format
func (r *Resampler) Out() audio.Format { return r.out }

// step returns input frames consumed per drift-stage output frame. A
// corrected rate above nominal stretches the input, below it compresses.
func (r *Resampler) step(rate float64) float64 {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return 1
	}
	return float64(r.in.SampleRate) / rate
}

// InputBytesFor returns how many whole-frame input bytes are needed to
// produce roughly outBytes of output at the given corrected rate.
func (r *Resampler) InputBytesFor(outBytes int, rate float64) int {
	outFrames := outBytes / r.out.FrameSize()
	if outFrames <= 0 {
		return 0
	}
	inFrames := math.Ceil(float64(outFrames) * r.step(rate) *
		float64(r.in.SampleRate) / float64(r.out.SampleRate))
	return int(inFrames) * r.in.FrameSize()
}

// Process converts p, playing it out at rate (the corrected rate) instead of
// the nominal input rate: each input second yields rate/nominal seconds of
// output. The returned slice is only valid until the next call.
func (r *Resampler) Process(p []byte, rate float64) ([]byte, error) {
	fs := r.in.FrameSize()

	// Prepend any incomplete frame from the previous call
	src := p
	if len(r.partial) > 0 {
		r.inBuf = append(append(r.inBuf[:0], r.partial...), p...)
		src = r.inBuf
		r.partial = r.partial[:0]
	}
	whole := len(src) / fs * fs
	r.partial = append(r.partial, src[whole:]...)
	src = src[:whole]

	r.decoded = audio.Decode(r.decoded[:0], src, r.in)
	r.mixed = remix(r.mixed[:0], r.decoded, r.in.Channels, r.out.Channels)
	r.drifted = r.drift(r.drifted[:0], r.mixed, r.step(rate))

	samples := r.drifted
	if r.soxr != nil && len(samples) > 0 {
		out, err := r.soxr.Process(samples)
		if err != nil {
			return nil, fmt.Errorf("resample error: %w", err)
		}
		samples = out[:len(out)/r.out.Channels*r.out.Channels]
	}

	r.encoded = audio.Encode(r.encoded[:0], samples, r.out)
	return r.encoded, nil
}

// Close releases the rate stage
func (r *Resampler) Close() error {
	r.soxr = nil
	r.Reset()
	return nil
}

// drift performs linear interpolation at step input frames per output frame.
// Conceptually the input is extended with the previous block's last frame at
// index 0, so interpolation runs across the block boundary.
func (r *Resampler) drift(dst, src []float64, step float64) []float64 {
	ch := r.out.Channels
	n := len(src) / ch
	if n == 0 {
		return dst
	}

	if !r.primed {
		copy(r.prev, src[:ch])
		src = src[ch:]
		n--
		r.pos = 0
		r.primed = true
	}

	at := func(i, c int) float64 {
		if i == 0 {
			return r.prev[c]
		}
		return src[(i-1)*ch+c]
	}

	for {
		i := int(r.pos)
		if i >= n {
			break
		}
		frac := r.pos - float64(i)
		for c := 0; c < ch; c++ {
			a := at(i, c)
			b := at(i+1, c)
			dst = append(dst, a+(b-a)*frac)
		}
		r.pos += step
	}

	// Keep the fractional part relative to the new last frame
	r.pos -= float64(n)
	if n > 0 {
		copy(r.prev, src[(n-1)*ch:n*ch])
	}
	return dst
}

func canRemix(in, out int) bool {
	return in == out || in == 1 || out == 1
}

// remix converts interleaved samples between channel counts: equal counts
// pass through, mono is duplicated and anything to mono is averaged.
func remix(dst, src []float64, in, out int) []float64 {
	if in == out {
		return append(dst, src...)
	}
	frames := len(src) / in
	for f := 0; f < frames; f++ {
		frame := src[f*in : (f+1)*in]
		if in == 1 {
			for c := 0; c < out; c++ {
				dst = append(dst, frame[0])
			}
			continue
		}
		var sum float64
		for _, s := range frame {
			sum += s
		}
		dst = append(dst, sum/float64(in))
	}
	return dst
}
