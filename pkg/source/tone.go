// ABOUTME: Test tone generator source
// ABOUTME: Produces an endless sine wave in any PCM format
package source

import (
	"fmt"
	"math"

	"github.com/team-phoenix/phoenix-audio/pkg/audio"
)

// Tone generates a sine wave at half amplitude
type Tone struct {
	format      audio.Format
	frequency   float64
	sampleIndex uint64
	samples     []float64
}

// NewTone creates a tone generator. A zero frequency selects 440Hz (A4).
func NewTone(format audio.Format, frequency float64) (*Tone, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("invalid tone format: %s", format)
	}
	if frequency <= 0 {
		frequency = 440.0
	}
	return &Tone{
		format:    format,
		frequency: frequency,
	}, nil
}

func (s *Tone) Read(p []byte) (int, error) {
	frames := len(p) / s.format.FrameSize()
	ch := s.format.Channels

	s.samples = s.samples[:0]
	for i := 0; i < frames; i++ {
		t := float64(s.sampleIndex+uint64(i)) / float64(s.format.SampleRate)
		v := 0.5 * math.Sin(2*math.Pi*s.frequency*t)

		// Duplicate to all channels
		for c := 0; c < ch; c++ {
			s.samples = append(s.samples, v)
		}
	}
	s.sampleIndex += uint64(frames)

	return len(audio.Encode(p[:0], s.samples, s.format)), nil
}

func (s *Tone) Format() audio.Format { return s.format }
func (s *Tone) Metadata() (string, string, string) {
	return "Test Tone", "Phoenix", "Test Signal"
}
func (s *Tone) Close() error { return nil }
