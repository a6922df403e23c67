// ABOUTME: WAV file source
// ABOUTME: Streams integer PCM from WAV files using go-audio
package source

import (
	"fmt"
	"io"
	"log"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/team-phoenix/phoenix-audio/pkg/audio"
)

// WAV reads integer PCM from a WAV file
type WAV struct {
	fileSource
	decoder *wav.Decoder
	format  audio.Format
	intBuf  *goaudio.IntBuffer
	pending
}

// NewWAV creates a new WAV audio source
func NewWAV(path string, loop bool) (*WAV, error) {
	f, err := openFile(path, "WAV")
	if err != nil {
		return nil, err
	}

	decoder, format, err := newWAVDecoder(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	s := &WAV{
		fileSource: fileSource{file: f, path: path, title: titleFromPath(path), loop: loop},
		decoder:    decoder,
		format:     format,
		intBuf: &goaudio.IntBuffer{
			Format: decoder.Format(),
			Data:   make([]int, 4096*format.Channels),
		},
	}

	log.Printf("Loaded WAV: %s (%s)", s.title, s.format)
	return s, nil
}

func newWAVDecoder(r io.ReadSeeker) (*wav.Decoder, audio.Format, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, audio.Format{}, fmt.Errorf("not a valid wav file")
	}
	if decoder.WavAudioFormat != 1 {
		return nil, audio.Format{}, fmt.Errorf("unsupported wav encoding %d (only integer PCM)", decoder.WavAudioFormat)
	}

	format := audio.Format{
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
		BitDepth:   int(decoder.BitDepth),
		Encoding:   audio.EncodingSigned,
	}
	if format.BitDepth == 8 {
		format.Encoding = audio.EncodingUnsigned
	}
	if !format.Valid() {
		return nil, audio.Format{}, fmt.Errorf("unsupported wav layout: %s", format)
	}

	if err := decoder.FwdToPCM(); err != nil {
		return nil, audio.Format{}, fmt.Errorf("failed to find wav data: %w", err)
	}
	return decoder, format, nil
}

func (s *WAV) Read(p []byte) (int, error) {
	fs := s.format.FrameSize()
	p = p[:len(p)/fs*fs]

	n := s.drain(p)
	for n < len(p) {
		got, err := s.decoder.PCMBuffer(s.intBuf)
		if err != nil && err != io.EOF {
			return n, fmt.Errorf("wav decode failed: %w", err)
		}
		if got == 0 {
			if !s.loop {
				if n > 0 {
					return n, nil
				}
				return 0, io.EOF
			}
			if err := s.rewind(); err != nil {
				return n, err
			}
			decoder, _, err := newWAVDecoder(s.file)
			if err != nil {
				return n, err
			}
			s.decoder = decoder
			continue
		}

		got = got / s.format.Channels * s.format.Channels
		for _, v := range s.intBuf.Data[:got] {
			switch s.format.BitDepth {
			case 8:
				s.buf = append(s.buf, byte(v))
			case 16:
				s.buf = append(s.buf, byte(v), byte(v>>8))
			case 24:
				b := audio.SampleTo24Bit(int32(v))
				s.buf = append(s.buf, b[:]...)
			default:
				s.buf = append(s.buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
			}
		}
		n += s.drain(p[n:])
	}
	return n, nil
}

func (s *WAV) Format() audio.Format { return s.format }
