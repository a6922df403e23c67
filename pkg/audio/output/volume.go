// ABOUTME: Software volume for sinks without a hardware gain control
// ABOUTME: Scales decoded PCM with clipping protection
package output

import "github.com/team-phoenix/phoenix-audio/pkg/audio"

// applyVolume decodes p and scales it by volume, appending normalized samples
// to dst
func applyVolume(dst []float64, p []byte, f audio.Format, volume float64) []float64 {
	start := len(dst)
	dst = audio.Decode(dst, p, f)

	multiplier := clampVolume(volume)
	if multiplier == 1 {
		return dst
	}
	for i := start; i < len(dst); i++ {
		scaled := dst[i] * multiplier

		// Clamp to keep re-encoding in range
		if scaled > 1 {
			scaled = 1
		} else if scaled < -1 {
			scaled = -1
		}
		dst[i] = scaled
	}
	return dst
}
