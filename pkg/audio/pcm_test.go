package audio_test

import (
	"math"
	"testing"
	"time"

	"github.com/stuartw843/flow-learning-hub/pkg/audio"
)

func TestEncodeSample_Saturation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   float32
		want int16
	}{
		{"zero", 0, 0},
		{"positive full scale clamps", 1.0, 32767},
		{"above full scale clamps", 2.5, 32767},
		{"negative full scale", -1.0, -32768},
		{"below negative full scale clamps", -3.0, -32768},
		{"half scale", 0.5, 16384},
		{"negative half scale", -0.5, -16384},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := audio.EncodeSample(tc.in); got != tc.want {
				t.Errorf("EncodeSample(%v) = %d, want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestEncodeSample_Rounds(t *testing.T) {
	t.Parallel()

	// 100.7 / 32768 should round to 101, not truncate to 100.
	in := float32(100.7 / 32768.0)
	if got := audio.EncodeSample(in); got != 101 {
		t.Errorf("EncodeSample(%v) = %d, want 101", in, got)
	}
}

func TestEncodeDecode_SmallError(t *testing.T) {
	t.Parallel()

	// Quantising then decoding must stay within one quantisation step.
	inputs := []float32{0, 0.1, -0.1, 0.33, -0.99, 0.9999}
	encoded := audio.EncodeFloat32(inputs)
	decoded := audio.DecodeToFloat32(encoded)

	const step = 1.0 / 32768.0
	for i, in := range inputs {
		if diff := math.Abs(float64(decoded[i] - in)); diff > step {
			t.Errorf("sample %d: round trip error %v exceeds %v (in=%v out=%v)", i, diff, step, in, decoded[i])
		}
	}
}

func TestDecodeFloat32LE(t *testing.T) {
	t.Parallel()

	// 0.5 as little-endian IEEE 754: 0x3F000000.
	data := []byte{0x00, 0x00, 0x00, 0x3F}
	out := audio.DecodeFloat32LE(data)
	if len(out) != 1 {
		t.Fatalf("got %d samples, want 1", len(out))
	}
	if out[0] != 0.5 {
		t.Errorf("got %v, want 0.5", out[0])
	}
}

func TestFrame_Duration(t *testing.T) {
	t.Parallel()

	frame := audio.NewFrame(make([]int16, 1600), audio.DefaultSampleRate)
	if got := frame.Duration(); got != 100*time.Millisecond {
		t.Errorf("Duration() = %v, want 100ms", got)
	}
}

func TestFrame_BytesRoundTrip(t *testing.T) {
	t.Parallel()

	in := audio.NewFrame([]int16{0, 1, -1, 32767, -32768}, audio.DefaultSampleRate)
	out, err := audio.FrameFromBytes(in.Bytes(), audio.DefaultSampleRate)
	if err != nil {
		t.Fatalf("FrameFromBytes: %v", err)
	}
	if len(out.Samples) != len(in.Samples) {
		t.Fatalf("got %d samples, want %d", len(out.Samples), len(in.Samples))
	}
	for i := range in.Samples {
		if out.Samples[i] != in.Samples[i] {
			t.Errorf("sample %d: got %d, want %d", i, out.Samples[i], in.Samples[i])
		}
	}
}

func TestFrameFromBytes_OddLength(t *testing.T) {
	t.Parallel()

	if _, err := audio.FrameFromBytes([]byte{0x01, 0x02, 0x03}, audio.DefaultSampleRate); err == nil {
		t.Fatal("expected error for odd byte count, got nil")
	}
}
