// ABOUTME: Audio source abstraction for playing from files or generating test tones
// ABOUTME: Picks a decoder by file extension
package source

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/team-phoenix/phoenix-audio/pkg/audio"
)

// Source provides PCM audio in a fixed format
type Source interface {
	// Read fills p with whole frames of PCM in Format. It returns io.EOF
	// at the end of a non-looping source.
	Read(p []byte) (int, error)

	// Format returns the PCM layout Read produces
	Format() audio.Format

	// Metadata returns title, artist, album
	Metadata() (title, artist, album string)

	// Close releases the source
	Close() error
}

// Options configures Open
type Options struct {
	// Loop restarts file sources at the end instead of returning io.EOF
	Loop bool

	// Frequency is the test tone pitch when no file is given (default 440Hz)
	Frequency float64

	// Format is the test tone format (default 48kHz s16 stereo)
	Format audio.Format
}

// Open creates a source from a file path. An empty path gives a test tone.
func Open(path string, opts Options) (Source, error) {
	if path == "" {
		format := opts.Format
		if format == (audio.Format{}) {
			format = audio.S16Stereo48K
		}
		return NewTone(format, opts.Frequency)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("audio file not found: %s", path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".mp3":
		return NewMP3(path, opts.Loop)
	case ".flac":
		return NewFLAC(path, opts.Loop)
	case ".wav":
		return NewWAV(path, opts.Loop)
	default:
		return nil, fmt.Errorf("unsupported audio format: %s (supported: .mp3, .flac, .wav)", ext)
	}
}

// titleFromPath uses the file name as the track title
func titleFromPath(path string) string {
	filename := filepath.Base(path)
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}

// fileSource holds the reopen-on-EOF logic shared by the file decoders
type fileSource struct {
	file  *os.File
	path  string
	title string
	loop  bool
}

func openFile(path, kind string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s file: %w", kind, err)
	}
	return f, nil
}

// rewind seeks back to the start for looping
func (s *fileSource) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to start: %w", err)
	}
	log.Printf("Looping %s", s.title)
	return nil
}

func (s *fileSource) Metadata() (string, string, string) {
	return s.title, "Unknown Artist", "Unknown Album"
}

func (s *fileSource) Close() error {
	return s.file.Close()
}

// pending buffers decoded bytes that did not fit the caller's slice
type pending struct {
	buf []byte
}

func (p *pending) drain(dst []byte) int {
	n := copy(dst, p.buf)
	p.buf = p.buf[:copy(p.buf, p.buf[n:])]
	return n
}
