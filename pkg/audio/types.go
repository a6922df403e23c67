// ABOUTME: Audio type definitions
// ABOUTME: Defines audio formats and PCM sample conversions
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23
)

// Encoding describes how a single sample is stored
type Encoding int

const (
	EncodingSigned   Encoding = iota // little-endian two's complement (16, 24 packed, 32 bit)
	EncodingUnsigned                 // unsigned 8-bit, 128 is silence
	EncodingFloat                    // little-endian IEEE 754 float32
)

func (e Encoding) String() string {
	switch e {
	case EncodingSigned:
		return "s"
	case EncodingUnsigned:
		return "u"
	case EncodingFloat:
		return "f"
	default:
		return fmt.Sprintf("Encoding(%d)", int(e))
	}
}

// Format describes interleaved PCM audio. A Format is a value: a new format
// replaces the old one completely.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Encoding   Encoding
}

// Common formats
var (
	S16Stereo48K = Format{SampleRate: 48000, Channels: 2, BitDepth: 16, Encoding: EncodingSigned}
	S16Stereo44K = Format{SampleRate: 44100, Channels: 2, BitDepth: 16, Encoding: EncodingSigned}
	F32Stereo48K = Format{SampleRate: 48000, Channels: 2, BitDepth: 32, Encoding: EncodingFloat}
)

// Valid reports whether the format describes a sample layout this package can
// convert.
func (f Format) Valid() bool {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return false
	}
	switch f.Encoding {
	case EncodingSigned:
		return f.BitDepth == 16 || f.BitDepth == 24 || f.BitDepth == 32
	case EncodingUnsigned:
		return f.BitDepth == 8
	case EncodingFloat:
		return f.BitDepth == 32
	}
	return false
}

// SampleSize returns bytes per sample for one channel
func (f Format) SampleSize() int {
	return f.BitDepth / 8
}

// FrameSize returns bytes per interleaved frame (one sample per channel)
func (f Format) FrameSize() int {
	return f.SampleSize() * f.Channels
}

// BytesForDuration returns the number of whole-frame bytes covering d
func (f Format) BytesForDuration(d time.Duration) int {
	frames := int64(d) * int64(f.SampleRate) / int64(time.Second)
	return int(frames) * f.FrameSize()
}

// DurationForBytes returns how long n bytes take to play at the nominal rate
func (f Format) DurationForBytes(n int) time.Duration {
	fs := f.FrameSize()
	if fs == 0 || f.SampleRate == 0 {
		return 0
	}
	frames := int64(n / fs)
	return time.Duration(frames * int64(time.Second) / int64(f.SampleRate))
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz %dch %s%d", f.SampleRate, f.Channels, f.Encoding, f.BitDepth)
}

// SampleFrom24Bit converts 24-bit packed bytes to int32 (little-endian)
func SampleFrom24Bit(b [3]byte) int32 {
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	// Sign extend from 24-bit to 32-bit
	if val&0x800000 != 0 {
		val |= ^0xFFFFFF
	}
	return val
}

// SampleTo24Bit converts int32 to 24-bit packed bytes (little-endian)
func SampleTo24Bit(sample int32) [3]byte {
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}

// Decode converts whole frames of p into normalized float64 samples in the
// range [-1, 1], appending to dst. Trailing partial frames are ignored.
func Decode(dst []float64, p []byte, f Format) []float64 {
	ss := f.SampleSize()
	n := len(p) / f.FrameSize() * f.Channels

	for i := 0; i < n; i++ {
		b := p[i*ss:]
		var v float64
		switch {
		case f.Encoding == EncodingFloat:
			v = float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		case f.Encoding == EncodingUnsigned:
			v = (float64(b[0]) - 128) / 128
		case f.BitDepth == 16:
			v = float64(int16(binary.LittleEndian.Uint16(b))) / 32768
		case f.BitDepth == 24:
			v = float64(SampleFrom24Bit([3]byte{b[0], b[1], b[2]})) / (Max24Bit + 1)
		case f.BitDepth == 32:
			v = float64(int32(binary.LittleEndian.Uint32(b))) / (math.MaxInt32 + 1.0)
		}
		dst = append(dst, v)
	}
	return dst
}

// Encode converts normalized float64 samples to the byte layout of f,
// appending to dst. Values outside [-1, 1] are clipped.
func Encode(dst []byte, samples []float64, f Format) []byte {
	ss := f.SampleSize()
	start := len(dst)
	need := start + len(samples)*ss
	if cap(dst) < need {
		grown := make([]byte, start, need)
		copy(grown, dst)
		dst = grown
	}
	dst = dst[:need]

	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		b := dst[start+i*ss:]
		switch {
		case f.Encoding == EncodingFloat:
			binary.LittleEndian.PutUint32(b, math.Float32bits(float32(s)))
		case f.Encoding == EncodingUnsigned:
			b[0] = uint8(clampInt(math.Round(s*128)+128, 0, 255))
		case f.BitDepth == 16:
			binary.LittleEndian.PutUint16(b, uint16(int16(clampInt(math.Round(s*32768), math.MinInt16, math.MaxInt16))))
		case f.BitDepth == 24:
			v := SampleTo24Bit(int32(clampInt(math.Round(s*(Max24Bit+1)), Min24Bit, Max24Bit)))
			copy(b, v[:])
		case f.BitDepth == 32:
			binary.LittleEndian.PutUint32(b, uint32(int32(clampInt(math.Round(s*(math.MaxInt32+1.0)), math.MinInt32, math.MaxInt32))))
		}
	}
	return dst
}

func clampInt(v, lo, hi float64) int64 {
	if v < lo {
		return int64(lo)
	}
	if v > hi {
		return int64(hi)
	}
	return int64(v)
}
