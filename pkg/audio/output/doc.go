// ABOUTME: Audio output package for playing audio
// ABOUTME: Provides the Sink interface with oto and virtual implementations
// Package output provides push-model audio sinks.
//
// A Sink reports how many bytes it can accept and never blocks on Write.
// Oto plays through the system device; Virtual consumes audio on its own
// clock and can record what it plays to a WAV file.
//
// Example:
//
//	sink := output.NewOto(output.Options{})
//	if err := sink.Open(audio.S16Stereo48K); err != nil {
//	    return err
//	}
//	n := sink.Write(pcm[:min(len(pcm), sink.BytesFree())])
package output
