// ABOUTME: Clocked producer loop feeding a playback driver
// ABOUTME: Pushes source audio at its nominal rate with optional clock skew
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Pusher accepts producer audio without blocking. A short count means the
// receiver is full.
type Pusher interface {
	PushSamples(p []byte) int
}

// PumpConfig configures Pump
type PumpConfig struct {
	// Interval between pushes (default 10ms)
	Interval time.Duration

	// DriftPPM runs the producer clock fast (positive) or slow (negative)
	DriftPPM float64

	// OnPush is called after every push with the offered and accepted sizes
	OnPush func(offered, accepted int)
}

// Pump reads src and pushes it into dst in real time until ctx is done or
// the source ends. Audio the receiver does not accept is retried on the next
// interval rather than dropped.
func Pump(ctx context.Context, src Source, dst Pusher, config PumpConfig) error {
	if config.Interval <= 0 {
		config.Interval = 10 * time.Millisecond
	}

	format := src.Format()
	fs := format.FrameSize()
	rate := float64(format.SampleRate) * (1 + config.DriftPPM/1e6)

	ticker := time.NewTicker(config.Interval)
	defer ticker.Stop()

	var (
		pending []byte
		buf     []byte
		frac    float64
		eof     bool
		last    = time.Now()
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			elapsed := now.Sub(last)
			last = now

			due := elapsed.Seconds()*rate + frac
			frames := int(due)
			frac = due - float64(frames)

			// Back-pressure: do not produce ahead of what was refused
			if want := frames*fs - len(pending); want > 0 && !eof {
				if cap(buf) < want {
					buf = make([]byte, want)
				}
				n, err := io.ReadFull(src, buf[:want])
				if err != nil {
					if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
						return fmt.Errorf("source read failed: %w", err)
					}
					eof = true
				}
				pending = append(pending, buf[:n/fs*fs]...)
			}

			accepted := dst.PushSamples(pending)
			if config.OnPush != nil {
				config.OnPush(len(pending), accepted)
			}
			pending = pending[:copy(pending, pending[accepted:])]

			if eof && len(pending) == 0 {
				return nil
			}
		}
	}
}
