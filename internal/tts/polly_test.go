package tts

import (
	"context"
	"math"
	"testing"
)

func TestDecodePCM16(t *testing.T) {
	// Little-endian: 0, MaxInt16, MinInt16.
	raw := []byte{0x00, 0x00, 0xFF, 0x7F, 0x00, 0x80}
	samples := decodePCM16(raw)
	if len(samples) != 3 {
		t.Fatalf("got %d samples", len(samples))
	}
	if samples[0] != 0 {
		t.Fatalf("zero sample decoded as %v", samples[0])
	}
	if samples[1] != 1 {
		t.Fatalf("max sample decoded as %v", samples[1])
	}
	if samples[2] >= -1 || samples[2] < -1.001 {
		t.Fatalf("min sample decoded as %v", samples[2])
	}
}

func TestDecodePCM16IgnoresTrailingByte(t *testing.T) {
	raw := []byte{0x00, 0x00, 0xFF}
	if got := len(decodePCM16(raw)); got != 1 {
		t.Fatalf("got %d samples, want 1", got)
	}
}

func TestResampleLinearSameRateIsIdentity(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3}
	out := resampleLinear(in, 16000, 16000)
	if len(out) != len(in) {
		t.Fatalf("length changed: %d", len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("sample %d changed: %v", i, out[i])
		}
	}
}

func TestResampleLinearUpsamplesLength(t *testing.T) {
	in := make([]float32, 16000) // 1s at 16kHz
	out := resampleLinear(in, 16000, SampleRate)
	if len(out) != SampleRate {
		t.Fatalf("got %d samples, want %d", len(out), SampleRate)
	}
}

func TestResampleLinearInterpolates(t *testing.T) {
	// Upsampling a ramp must stay monotonic and bounded by the endpoints.
	in := []float32{0, 1}
	out := resampleLinear(in, 8000, 24000)
	prev := float32(-1)
	for i, v := range out {
		if v < prev || v < 0 || v > 1 {
			t.Fatalf("sample %d out of order or range: %v", i, v)
		}
		prev = v
	}
}

func TestResampleLinearEmptyInput(t *testing.T) {
	if out := resampleLinear(nil, 16000, 24000); len(out) != 0 {
		t.Fatalf("got %d samples from empty input", len(out))
	}
}

func TestMockSynthesizerDuration(t *testing.T) {
	m := NewMockSynthesizer()
	samples, err := m.Synthesize(context.Background(), "hello", "en")
	if err != nil {
		t.Fatal(err)
	}
	perRune := SampleRate / 100 // 10ms of silence per rune
	if len(samples) != 5*perRune {
		t.Fatalf("got %d samples, want %d", len(samples), 5*perRune)
	}
	for _, v := range samples {
		if math.Abs(float64(v)) > 0 {
			t.Fatal("mock output is not silence")
		}
	}
}
