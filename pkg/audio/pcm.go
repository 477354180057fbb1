package audio

import "math"

// EncodeFloat32 converts normalised float samples in [-1, 1] to signed
// 16-bit PCM. Each sample is clamped first and then rounded, so values at
// or beyond the range saturate rather than wrap: s >= 1.0 encodes to 32767
// and s <= -1.0 encodes to -32768.
func EncodeFloat32(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = EncodeSample(s)
	}
	return out
}

// EncodeSample converts a single normalised float sample to int16 with
// saturating clamp semantics.
func EncodeSample(s float32) int16 {
	f := float64(s)
	if f > 1 {
		f = 1
	} else if f < -1 {
		f = -1
	}
	v := math.Round(f * 32768)
	if v > 32767 {
		v = 32767
	} else if v < -32768 {
		v = -32768
	}
	return int16(v)
}

// DecodeToFloat32 converts signed 16-bit PCM samples back to normalised
// floats in [-1, 1) using the same 1/32768 quantisation step as
// EncodeFloat32.
func DecodeToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// DecodeFloat32LE interprets raw bytes as little-endian IEEE 754 float32
// samples, the layout delivered by float-format capture devices.
func DecodeFloat32LE(data []byte) []float32 {
	n := len(data) / 4
	out := make([]float32, n)
	for i := range n {
		bits := uint32(data[i*4]) |
			uint32(data[i*4+1])<<8 |
			uint32(data[i*4+2])<<16 |
			uint32(data[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}
