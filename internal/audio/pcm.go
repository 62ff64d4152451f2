package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// Buffer holds one captured utterance of raw mono PCM samples in the
// float32 [-1, 1] range. Buffers are transient and owned by the caller for
// the duration of a single pipeline invocation.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the nominal duration of the buffer in seconds
func (b *Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}

// DecodeFloat32 converts base64-encoded little-endian float32 PCM, the
// capture format used on the inbound wire, into a sample buffer.
func DecodeFloat32(audioB64 string, sampleRate int) (*Buffer, error) {
	if audioB64 == "" {
		return nil, fmt.Errorf("no audio data provided")
	}

	raw, err := base64.StdEncoding.DecodeString(audioB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 audio: %w", err)
	}

	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("invalid float32 PCM length: %d bytes", len(raw))
	}

	samples := make([]float32, len(raw)/4)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(raw[i*4:])
		sample := math.Float32frombits(bits)
		if math.IsNaN(float64(sample)) || math.IsInf(float64(sample), 0) {
			return nil, fmt.Errorf("invalid sample at index %d", i)
		}
		samples[i] = sample
	}

	return &Buffer{Samples: samples, SampleRate: sampleRate}, nil
}

// Float32ToPCM16 converts float32 samples in [-1, 1] to little-endian
// 16-bit PCM bytes, clamping out-of-range values.
func Float32ToPCM16(samples []float32) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(s*32767)))
	}
	return pcm
}

// PCM16ToFloat32 converts little-endian 16-bit PCM bytes to float32 samples
func PCM16ToFloat32(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("invalid PCM16 length: %d bytes", len(pcm))
	}

	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return samples, nil
}
