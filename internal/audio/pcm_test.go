package audio

import (
	"encoding/base64"
	"encoding/binary"
	"math"
	"testing"
)

// encodeFloat32 builds the base64 little-endian float32 capture format
func encodeFloat32(samples []float32) string {
	raw := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(s))
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func TestDecodeFloat32(t *testing.T) {
	samples := []float32{0.0, 0.5, -0.5, 1.0, -1.0}
	encoded := encodeFloat32(samples)

	buf, err := DecodeFloat32(encoded, 16000)
	if err != nil {
		t.Fatalf("DecodeFloat32 failed: %v", err)
	}

	if buf.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", buf.SampleRate)
	}

	if len(buf.Samples) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(buf.Samples))
	}

	for i, want := range samples {
		if buf.Samples[i] != want {
			t.Errorf("Sample %d: expected %f, got %f", i, want, buf.Samples[i])
		}
	}
}

func TestDecodeFloat32InvalidInput(t *testing.T) {
	if _, err := DecodeFloat32("", 16000); err == nil {
		t.Error("Expected error for empty input")
	}

	if _, err := DecodeFloat32("not base64!!!", 16000); err == nil {
		t.Error("Expected error for invalid base64")
	}

	// Length not divisible by 4
	short := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	if _, err := DecodeFloat32(short, 16000); err == nil {
		t.Error("Expected error for misaligned payload")
	}

	// NaN sample
	nanEncoded := encodeFloat32([]float32{0.5, float32(math.NaN())})
	if _, err := DecodeFloat32(nanEncoded, 16000); err == nil {
		t.Error("Expected error for NaN sample")
	}
}

func TestBufferDuration(t *testing.T) {
	buf := &Buffer{Samples: make([]float32, 8000), SampleRate: 16000}
	if d := buf.Duration(); math.Abs(d-0.5) > 1e-9 {
		t.Errorf("Expected duration 0.5s, got %f", d)
	}

	empty := &Buffer{SampleRate: 0}
	if d := empty.Duration(); d != 0 {
		t.Errorf("Expected zero duration for invalid sample rate, got %f", d)
	}
}

func TestFloat32ToPCM16Clamping(t *testing.T) {
	pcm := Float32ToPCM16([]float32{0.0, 1.0, -1.0, 2.0, -2.0})

	if len(pcm) != 10 {
		t.Fatalf("Expected 10 bytes, got %d", len(pcm))
	}

	read := func(i int) int16 {
		return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}

	if read(0) != 0 {
		t.Errorf("Expected 0, got %d", read(0))
	}
	if read(1) != 32767 {
		t.Errorf("Expected 32767, got %d", read(1))
	}
	if read(2) != -32767 {
		t.Errorf("Expected -32767, got %d", read(2))
	}
	// Out-of-range values clamp to full scale
	if read(3) != 32767 {
		t.Errorf("Expected clamped 32767, got %d", read(3))
	}
	if read(4) != -32767 {
		t.Errorf("Expected clamped -32767, got %d", read(4))
	}
}

func TestPCM16Float32RoundTrip(t *testing.T) {
	original := []float32{0.0, 0.25, -0.25, 0.75, -0.75}

	pcm := Float32ToPCM16(original)
	decoded, err := PCM16ToFloat32(pcm)
	if err != nil {
		t.Fatalf("PCM16ToFloat32 failed: %v", err)
	}

	if len(decoded) != len(original) {
		t.Fatalf("Expected %d samples, got %d", len(original), len(decoded))
	}

	for i, want := range original {
		if math.Abs(float64(decoded[i]-want)) > 1.0/32768.0 {
			t.Errorf("Sample %d: expected %f, got %f", i, want, decoded[i])
		}
	}
}

func TestPCM16ToFloat32Misaligned(t *testing.T) {
	if _, err := PCM16ToFloat32([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for odd-length PCM data")
	}
}
