package vad

import (
	"math"
	"testing"
)

// sineWave generates a test signal with the given amplitude
func sineWave(amplitude float64, numSamples int) []float32 {
	samples := make([]float32, numSamples)
	for i := range samples {
		t := float64(i) / 16000.0
		samples[i] = float32(amplitude * math.Sin(2*math.Pi*220*t))
	}
	return samples
}

func TestDetectRejectsSilence(t *testing.T) {
	d, err := NewDetector(DefaultConfig())
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}

	// All-zero buffer is below any energy threshold
	samples := make([]float32, 16000)
	decision := d.Detect(samples, 1.0)

	if decision.IsSpeech {
		t.Error("Expected silence to be rejected")
	}
	if decision.Reason != ReasonEnergy {
		t.Errorf("Expected reason %q, got %q", ReasonEnergy, decision.Reason)
	}
}

func TestDetectRejectsLowEnergy(t *testing.T) {
	d, err := NewDetector(DefaultConfig())
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}

	// Amplitude well below the 0.015 RMS floor
	samples := sineWave(0.005, 16000)
	decision := d.Detect(samples, 1.0)

	if decision.IsSpeech {
		t.Errorf("Expected low-energy buffer to be rejected, energy=%f", decision.Energy)
	}
	if decision.Reason != ReasonEnergy {
		t.Errorf("Expected reason %q, got %q", ReasonEnergy, decision.Reason)
	}
}

func TestDetectRejectsShortDuration(t *testing.T) {
	d, err := NewDetector(DefaultConfig())
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}

	// Loud enough, but only 0.2s against a 0.4s minimum
	samples := sineWave(0.5, 3200)
	decision := d.Detect(samples, 0.2)

	if decision.IsSpeech {
		t.Error("Expected short buffer to be rejected")
	}
	if decision.Reason != ReasonDuration {
		t.Errorf("Expected reason %q, got %q", ReasonDuration, decision.Reason)
	}
}

func TestDetectRejectsLowVariation(t *testing.T) {
	d, err := NewDetector(DefaultConfig())
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}

	// Constant DC offset: passes the energy check but has zero variance
	samples := make([]float32, 16000)
	for i := range samples {
		samples[i] = 0.1
	}
	decision := d.Detect(samples, 1.0)

	if decision.IsSpeech {
		t.Error("Expected steady-state buffer to be rejected")
	}
	if decision.Reason != ReasonVariation {
		t.Errorf("Expected reason %q, got %q", ReasonVariation, decision.Reason)
	}
}

func TestDetectAcceptsSpeech(t *testing.T) {
	d, err := NewDetector(DefaultConfig())
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}

	samples := sineWave(0.5, 16000)
	decision := d.Detect(samples, 1.0)

	if !decision.IsSpeech {
		t.Errorf("Expected speech-like buffer to be accepted, reason=%q energy=%f variation=%f",
			decision.Reason, decision.Energy, decision.Variation)
	}
	if decision.Reason != ReasonAccepted {
		t.Errorf("Expected reason %q, got %q", ReasonAccepted, decision.Reason)
	}
}

func TestDetectEnergyThresholdBoundary(t *testing.T) {
	d, err := NewDetector(Config{SilenceThreshold: 0.1, MinSpeechDuration: 0.4})
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}

	// RMS of a constant-magnitude alternating signal equals its amplitude.
	// Exactly at the threshold is not below it, so the energy check passes.
	samples := make([]float32, 16000)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 0.1
		} else {
			samples[i] = -0.1
		}
	}

	decision := d.Detect(samples, 1.0)
	if decision.Reason == ReasonEnergy {
		t.Errorf("Buffer at exactly the threshold should not be rejected for energy, got %q", decision.Reason)
	}
	if !decision.IsSpeech {
		t.Errorf("Expected buffer at threshold to be accepted, reason=%q", decision.Reason)
	}
}

func TestDetectorStats(t *testing.T) {
	d, err := NewDetector(DefaultConfig())
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}

	d.Detect(sineWave(0.5, 16000), 1.0)   // accepted
	d.Detect(make([]float32, 16000), 1.0) // rejected
	d.Detect(sineWave(0.5, 16000), 1.0)   // accepted

	stats := d.GetStats()
	if stats.TotalBuffers != 3 {
		t.Errorf("Expected 3 total buffers, got %d", stats.TotalBuffers)
	}
	if stats.SpeechBuffers != 2 {
		t.Errorf("Expected 2 speech buffers, got %d", stats.SpeechBuffers)
	}
	if math.Abs(stats.SpeechPercentage-66.666) > 0.1 {
		t.Errorf("Expected speech percentage near 66.7, got %f", stats.SpeechPercentage)
	}

	d.Reset()
	stats = d.GetStats()
	if stats.TotalBuffers != 0 || stats.SpeechBuffers != 0 {
		t.Errorf("Expected stats cleared after reset, got %+v", stats)
	}
}

func TestNewDetectorInvalidConfig(t *testing.T) {
	if _, err := NewDetector(Config{SilenceThreshold: 0, MinSpeechDuration: 0.4}); err == nil {
		t.Error("Expected error for zero silence threshold")
	}

	if _, err := NewDetector(Config{SilenceThreshold: 1.5, MinSpeechDuration: 0.4}); err == nil {
		t.Error("Expected error for silence threshold above 1")
	}

	if _, err := NewDetector(Config{SilenceThreshold: 0.015, MinSpeechDuration: 0}); err == nil {
		t.Error("Expected error for zero min speech duration")
	}
}

func TestDetectEmptyBuffer(t *testing.T) {
	d, err := NewDetector(DefaultConfig())
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}

	decision := d.Detect(nil, 0)
	if decision.IsSpeech {
		t.Error("Expected empty buffer to be rejected")
	}
	if decision.Reason != ReasonEnergy {
		t.Errorf("Expected reason %q, got %q", ReasonEnergy, decision.Reason)
	}
}
