// ABOUTME: Drift-correcting playback driver package
// ABOUTME: Moves producer audio through a ring buffer and resampler to a sink
// Package playback connects an independently clocked audio producer to an
// output device without skipping or repeating audio.
//
// The producer pushes PCM with Driver.PushSamples from its own goroutine. A
// single playback goroutine wakes on a fixed ticker, asks the sink how much
// it can take, derives a corrected playback rate from that fill level and
// resamples the matching amount of buffered input. Over time the producer's
// rate and the device's rate converge.
//
// Format, run state and volume changes are asynchronous: they are stored
// in a Slot and applied by the playback goroutine between ticks.
//
// Example:
//
//	d, err := playback.NewDriver(playback.Config{Sink: output.NewOto(output.Options{})})
//	if err != nil {
//	    return err
//	}
//	d.Start(ctx)
//	defer d.Close()
//
//	d.SetFormat(audio.S16Stereo48K)
//	d.SetRunning(true)
//	n := d.PushSamples(pcm)
package playback
