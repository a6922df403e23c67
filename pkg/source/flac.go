// ABOUTME: FLAC file source
// ABOUTME: Decodes FLAC frames to packed little-endian PCM at the stream bit depth
package source

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/mewkiz/flac"
	"github.com/team-phoenix/phoenix-audio/pkg/audio"
)

// FLAC reads from a FLAC file
type FLAC struct {
	fileSource
	stream *flac.Stream
	format audio.Format
	shift  int // left shift from stream bits to output bits
	pending
}

// NewFLAC creates a new FLAC audio source
func NewFLAC(path string, loop bool) (*FLAC, error) {
	f, err := openFile(path, "FLAC")
	if err != nil {
		return nil, err
	}

	stream, err := flac.New(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}

	info := stream.Info
	bits := int(info.BitsPerSample)

	// Output at the nearest packed depth the pipeline handles
	depth := 32
	switch {
	case bits <= 16:
		depth = 16
	case bits <= 24:
		depth = 24
	}

	s := &FLAC{
		fileSource: fileSource{file: f, path: path, title: titleFromPath(path), loop: loop},
		stream:     stream,
		format: audio.Format{
			SampleRate: int(info.SampleRate),
			Channels:   int(info.NChannels),
			BitDepth:   depth,
			Encoding:   audio.EncodingSigned,
		},
		shift: depth - bits,
	}

	log.Printf("Loaded FLAC: %s (%s, %d-bit stream)", s.title, s.format, bits)
	return s, nil
}

func (s *FLAC) Read(p []byte) (int, error) {
	fs := s.format.FrameSize()
	p = p[:len(p)/fs*fs]

	n := s.drain(p)
	for n < len(p) {
		frame, err := s.stream.ParseNext()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return n, err
			}
			if !s.loop {
				if n > 0 {
					return n, nil
				}
				return 0, io.EOF
			}
			if err := s.rewind(); err != nil {
				return n, err
			}
			stream, err := flac.New(s.file)
			if err != nil {
				return n, fmt.Errorf("failed to create new stream: %w", err)
			}
			s.stream = stream
			continue
		}

		ss := s.format.SampleSize()
		for i := 0; i < int(frame.BlockSize); i++ {
			for ch := 0; ch < s.format.Channels; ch++ {
				v := frame.Subframes[ch].Samples[i] << s.shift
				switch ss {
				case 2:
					s.buf = append(s.buf, byte(v), byte(v>>8))
				case 3:
					b := audio.SampleTo24Bit(v)
					s.buf = append(s.buf, b[:]...)
				default:
					s.buf = append(s.buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
				}
			}
		}
		n += s.drain(p[n:])
	}
	return n, nil
}

func (s *FLAC) Format() audio.Format { return s.format }
