// ABOUTME: Opus transport hop for any source
// ABOUTME: Encodes 20ms frames to Opus and decodes them again, as a networked producer would deliver
package source

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/team-phoenix/phoenix-audio/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// Opus passes a source through an Opus codec. The wrapped source must be
// 16-bit PCM at a rate Opus supports.
type Opus struct {
	src     Source
	format  audio.Format
	encoder *opus.Encoder
	decoder *opus.Decoder

	frameSize int // samples per channel in one 20ms frame
	raw       []byte
	pcm       []int16
	packet    []byte
	eof       bool
	pending
}

// NewOpus wraps src. A bitrate of zero keeps the encoder default.
func NewOpus(src Source, bitrate int) (*Opus, error) {
	f := src.Format()
	if f.Encoding != audio.EncodingSigned || f.BitDepth != 16 {
		return nil, fmt.Errorf("opus needs 16-bit input, got %s", f)
	}
	switch f.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return nil, fmt.Errorf("opus does not support %dHz", f.SampleRate)
	}

	enc, err := opus.NewEncoder(f.SampleRate, f.Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}
	if bitrate > 0 {
		if err := enc.SetBitrate(bitrate); err != nil {
			return nil, fmt.Errorf("failed to set opus bitrate: %w", err)
		}
	}

	dec, err := opus.NewDecoder(f.SampleRate, f.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	// Opus frame size depends on sample rate
	frameSize := f.SampleRate / 50

	return &Opus{
		src:       src,
		format:    f,
		encoder:   enc,
		decoder:   dec,
		frameSize: frameSize,
		raw:       make([]byte, frameSize*f.FrameSize()),
		pcm:       make([]int16, frameSize*f.Channels),
		packet:    make([]byte, 4000), // Max Opus packet size
	}, nil
}

func (s *Opus) Read(p []byte) (int, error) {
	fs := s.format.FrameSize()
	p = p[:len(p)/fs*fs]

	n := s.drain(p)
	for n < len(p) {
		if s.eof {
			if n > 0 {
				return n, nil
			}
			return 0, io.EOF
		}
		if err := s.hop(); err != nil {
			return n, err
		}
		n += s.drain(p[n:])
	}
	return n, nil
}

// hop moves one 20ms frame through the codec
func (s *Opus) hop() error {
	got, err := io.ReadFull(s.src, s.raw)
	if err != nil {
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return err
		}
		s.eof = true
		if got == 0 {
			return nil
		}
		// Pad the final frame with silence
		clear(s.raw[got:])
	}

	for i := range s.pcm {
		s.pcm[i] = int16(binary.LittleEndian.Uint16(s.raw[i*2:]))
	}

	size, err := s.encoder.Encode(s.pcm, s.packet)
	if err != nil {
		return fmt.Errorf("opus encode error: %w", err)
	}

	frames, err := s.decoder.Decode(s.packet[:size], s.pcm)
	if err != nil {
		return fmt.Errorf("opus decode failed: %w", err)
	}

	for _, v := range s.pcm[:frames*s.format.Channels] {
		s.buf = append(s.buf, byte(v), byte(v>>8))
	}
	return nil
}

func (s *Opus) Format() audio.Format { return s.format }

func (s *Opus) Metadata() (string, string, string) {
	return s.src.Metadata()
}

func (s *Opus) Close() error {
	return s.src.Close()
}
