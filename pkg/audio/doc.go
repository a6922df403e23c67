// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines the Format value type and PCM sample conversion functions
// Package audio provides the fundamental PCM types shared by the playback core.
//
// This package defines:
//   - Format: describes an interleaved PCM stream (rate, channels, bit depth, encoding)
//   - Decode / Encode: conversions between packed PCM bytes and normalized float64
//
// Example:
//
//	format := audio.Format{
//	    SampleRate: 48000,
//	    Channels:   2,
//	    BitDepth:   16,
//	    Encoding:   audio.EncodingSigned,
//	}
//
//	samples := audio.Decode(nil, pcm, format)
//	pcm = audio.Encode(pcm[:0], samples, format)
package audio
