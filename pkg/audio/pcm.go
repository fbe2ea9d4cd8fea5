package audio

import (
	"encoding/binary"
	"math"
)

// CanonicalSampleRate, CanonicalChannels and CanonicalFrameSamples define
// the broker's canonical frame: mono 16kHz s16le, 1280 samples (80ms).
const (
	CanonicalSampleRate   = 16000
	CanonicalChannels     = 1
	CanonicalFrameSamples = 1280
	CanonicalFrameBytes   = CanonicalFrameSamples * 2
)

// S16ToFloat32 converts little-endian s16 PCM into [-1,1] float32 samples.
// Positive and negative samples are scaled by their own side's magnitude
// (32767 and 32768 respectively) rather than a single shared divisor, so
// that Float32ToS16 can invert it exactly across the full s16 range.
func S16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		if s >= 0 {
			out[i] = float32(s) / 32767.0
		} else {
			out[i] = float32(s) / 32768.0
		}
	}
	return out
}

// Float32ToS16 converts [-1,1] float32 samples back to little-endian s16
// PCM, clamping on overflow rather than wrapping. Rounds to the nearest
// integer (rather than truncating) so that re-encoding a value produced by
// S16ToFloat32 recovers the original sample exactly.
func Float32ToS16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		var s int32
		if f >= 0 {
			s = int32(math.Round(float64(f) * 32767.0))
		} else {
			s = int32(math.Round(float64(f) * 32768.0))
		}
		if s > 32767 {
			s = 32767
		} else if s < -32768 {
			s = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s)))
	}
	return out
}

// MixS16 sums N equal-length s16 PCM buffers sample-by-sample with a
// saturating clamp to the int16 range, matching the broker's output
// mixer semantics (spec §4.1).
func MixS16(streams [][]byte) []byte {
	if len(streams) == 0 {
		return nil
	}
	maxLen := 0
	for _, s := range streams {
		if len(s) > maxLen {
			maxLen = len(s)
		}
	}
	out := make([]byte, maxLen)
	acc := make([]int32, maxLen/2)
	for _, s := range streams {
		n := len(s) / 2
		for i := 0; i < n; i++ {
			acc[i] += int32(int16(binary.LittleEndian.Uint16(s[i*2 : i*2+2])))
		}
	}
	for i, v := range acc {
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}
