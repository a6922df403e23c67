// ABOUTME: MP3 file source
// ABOUTME: Decodes MP3 to 16-bit stereo PCM with optional looping
package source

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/hajimehoshi/go-mp3"
	"github.com/team-phoenix/phoenix-audio/pkg/audio"
)

// MP3 reads from an MP3 file
type MP3 struct {
	fileSource
	decoder *mp3.Decoder
	format  audio.Format
}

// NewMP3 creates a new MP3 audio source
func NewMP3(path string, loop bool) (*MP3, error) {
	f, err := openFile(path, "MP3")
	if err != nil {
		return nil, err
	}

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}

	s := &MP3{
		fileSource: fileSource{file: f, path: path, title: titleFromPath(path), loop: loop},
		decoder:    decoder,
		// MP3 decoder outputs 16-bit stereo
		format: audio.Format{
			SampleRate: decoder.SampleRate(),
			Channels:   2,
			BitDepth:   16,
			Encoding:   audio.EncodingSigned,
		},
	}

	log.Printf("Loaded MP3: %s (%s)", s.title, s.format)
	return s, nil
}

func (s *MP3) Read(p []byte) (int, error) {
	p = p[:len(p)/s.format.FrameSize()*s.format.FrameSize()]
	if len(p) == 0 {
		return 0, nil
	}

	n, err := io.ReadFull(s.decoder, p)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return n, err
	}

	n = n / s.format.FrameSize() * s.format.FrameSize()
	if !s.loop {
		if n > 0 {
			return n, nil
		}
		return 0, io.EOF
	}

	if err := s.rewind(); err != nil {
		return n, err
	}
	decoder, err := mp3.NewDecoder(s.file)
	if err != nil {
		return n, fmt.Errorf("failed to create new decoder: %w", err)
	}
	s.decoder = decoder
	return n, nil
}

func (s *MP3) Format() audio.Format { return s.format }
