// ABOUTME: Format changes for the playback driver
// ABOUTME: Reconfigures sink, resampler and ring sizing, then restores the run state
package playback

import (
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/team-phoenix/phoenix-audio/pkg/audio"
	"github.com/team-phoenix/phoenix-audio/pkg/audio/output"
	"github.com/team-phoenix/phoenix-audio/pkg/audio/resample"
	"github.com/team-phoenix/phoenix-audio/pkg/audio/ring"
)

// applyFormat switches the whole pipeline to f. It runs only on the playback
// goroutine, between ticks.
func (d *Driver) applyFormat(f audio.Format) {
	prev := d.State()
	if prev == StateTornDown {
		return
	}

	d.stopTicker()
	d.corrector.Reset()
	d.carry = d.carry[:0]
	d.ready = false
	d.noDevice = false

	if !f.Valid() {
		d.unsupported(f, fmt.Errorf("%w: %s", ErrFormatUnsupported, f))
		return
	}

	device := d.config.DeviceFormat
	if device == (audio.Format{}) {
		device = f
	}

	var applyErr error
	if err := d.sink.Open(device); err != nil {
		if errors.Is(err, output.ErrFormatUnsupported) {
			d.unsupported(f, fmt.Errorf("%w: %v", ErrFormatUnsupported, err))
			return
		}

		d.noDevice = true
		applyErr = fmt.Errorf("%w: %v", ErrNoDeviceAvailable, err)
		if !d.noDeviceWarned {
			log.Printf("Audio device was not found, discarding audio: %v", err)
			d.noDeviceWarned = true
		}
	}

	if !d.noDevice {
		d.noDeviceWarned = false
		// The sink may have opened at a format of its own
		if opened := d.sink.Format(); opened.Valid() {
			device = opened
		}
		if err := d.configureResampler(f, device); err != nil {
			d.unsupported(f, fmt.Errorf("%w: %v", ErrFormatUnsupported, err))
			return
		}
		d.interval = device.DurationForBytes(d.sink.PeriodSize() * 3 / 2)
	}

	// Old bytes are meaningless in a new format
	if old := d.ring.Load(); old == nil || d.current != f {
		d.ring.Store(ring.New(f.BytesForDuration(d.config.RingDuration)))
	}

	d.current = f
	d.device = device
	d.ready = true
	id := uuid.New()
	d.session.Store(&id)

	log.Printf("Audio format applied: %s -> %s, tick %v", f, device, d.interval)

	// Return to the run state in effect before the change
	if d.running {
		d.activate()
	} else {
		if !d.noDevice {
			d.sink.Suspend()
		}
		if prev == StateActive || prev == StateSuspended {
			d.setState(StateSuspended)
		} else {
			d.setState(StateConfigured)
		}
	}

	d.formatApplied(f, applyErr)
}

func (d *Driver) configureResampler(in, out audio.Format) error {
	if d.resampler == nil {
		r, err := resample.New(in, out, d.config.Quality)
		if err != nil {
			return err
		}
		d.resampler = r
		return nil
	}
	if err := d.resampler.Reconfigure(in, out); err != nil {
		return err
	}
	d.resampler.Reset()
	return nil
}

func (d *Driver) activate() {
	if !d.noDevice {
		d.sink.Resume()
	}
	d.startTicker()
	d.setState(StateActive)
}

// unsupported parks the driver in Configured with no output until the next
// format change
func (d *Driver) unsupported(f audio.Format, err error) {
	d.sink.Suspend()
	d.ring.Store(nil)
	d.current = f
	d.setState(StateConfigured)
	d.formatApplied(f, err)
}

func (d *Driver) formatApplied(f audio.Format, err error) {
	if err != nil {
		log.Printf("Failed to apply audio format %s: %v", f, err)
	}
	if d.config.OnFormatApplied != nil {
		d.config.OnFormatApplied(f, err)
	}
}
