// ABOUTME: Audio resampling package for drift-corrected playback
// ABOUTME: Converts producer PCM to the device format at a per-call corrected rate
// Package resample converts audio from a producer's format to an output
// device's fixed format while following a continuously corrected rate.
//
// Conversion runs in two stages:
//   - drift: fractional linear interpolation producing corrected/nominal
//     output frames per input frame, with the read position and last frame
//     carried across calls so block edges are seamless
//   - rate: high-quality polyphase conversion (a pure Go soxr port) from the
//     nominal producer rate to the device rate, skipped when they match
//
// Channel up/down-mixing (mono to N, N to mono) and sample encoding
// conversion are applied on the way through.
//
// Example:
//
//	r, err := resample.New(audio.S16Stereo44K, audio.S16Stereo48K, resample.QualityMedium)
//	if err != nil {
//	    return err
//	}
//	in := make([]byte, r.InputBytesFor(free, rate))
//	out, err := r.Process(in, rate)
package resample
