package audio

import (
	"encoding/binary"
	"errors"
)

// DecodePCM16LE converts little-endian PCM16 bytes into samples.
func DecodePCM16LE(b []byte) ([]int16, error) {
	if len(b)%2 != 0 {
		return nil, errors.New("pcm16 length must be even")
	}
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out, nil
}

// EncodePCM16LE is the inverse of DecodePCM16LE.
func EncodePCM16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// ToFloat32 normalises samples into [-1, 1).
func ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// ToInt16 scales float samples back to PCM16, clamping out-of-range values.
func ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, f := range samples {
		v := f * 32768.0
		switch {
		case v > 32767:
			v = 32767
		case v < -32768:
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}

// ResampleLinear converts samples from inRate to outRate using linear
// interpolation. Equal rates return a copy.
func ResampleLinear(samples []float32, inRate, outRate int) []float32 {
	if len(samples) == 0 || inRate <= 0 || outRate <= 0 {
		return samples
	}
	if inRate == outRate {
		return append([]float32(nil), samples...)
	}
	ratio := float64(outRate) / float64(inRate)
	n := int(float64(len(samples)) * ratio)
	if n < 1 {
		n = 1
	}
	last := len(samples) - 1
	out := make([]float32, n)
	for i := range out {
		pos := float64(i) / ratio
		i0 := int(pos)
		if i0 >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(i0))
		out[i] = samples[i0] + (samples[i0+1]-samples[i0])*frac
	}
	return out
}

// Normalize converts samples at any rate into 16 kHz PCM16.
func Normalize(samples []float32, rate int) []int16 {
	if rate > 0 && rate != SampleRate {
		samples = ResampleLinear(samples, rate, SampleRate)
	}
	return ToInt16(samples)
}
