// ABOUTME: Audio producers for driving playback
// ABOUTME: Decodes files or generates tones and pushes them on an independent clock
// Package source provides audio producers with their own clock.
//
// A Source yields interleaved PCM in its Format. Sources decode MP3, FLAC
// and WAV files, generate a test tone, or route another source through an
// Opus encode/decode hop. Pump pushes a source into a playback driver at the
// source's nominal rate, optionally skewed to imitate a producer whose clock
// disagrees with the output device.
//
// Example:
//
//	src, err := source.Open("track.flac", source.Options{Loop: true})
//	if err != nil {
//	    return err
//	}
//	defer src.Close()
//
//	driver.SetFormat(src.Format())
//	err = source.Pump(ctx, src, driver, source.PumpConfig{DriftPPM: 300})
package source
