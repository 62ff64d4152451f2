package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Rejection reasons reported in Decision and statistics.
const (
	ReasonEnergy    = "low_energy"
	ReasonDuration  = "too_short"
	ReasonVariation = "low_variation"
	ReasonAccepted  = "accepted"
)

// Config contains gate thresholds. The silence threshold must stay aligned
// with the segmentation thresholds downstream since both assume the same
// definition of silence.
type Config struct {
	SilenceThreshold  float64
	MinSpeechDuration float64 // seconds
}

// DefaultConfig returns gate thresholds tuned for 16kHz captured speech
func DefaultConfig() Config {
	return Config{
		SilenceThreshold:  0.015,
		MinSpeechDuration: 0.4,
	}
}

// Decision is the per-buffer classification result. Derived, never persisted.
type Decision struct {
	IsSpeech  bool    `json:"is_speech"`
	Energy    float64 `json:"energy"`
	Variation float64 `json:"variation"`
	Reason    string  `json:"reason"`
}

// Detector classifies audio buffers as speech or non-speech
type Detector struct {
	cfg Config

	// Statistics
	totalBuffers  uint64
	speechBuffers uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// DetectorStats represents gate statistics for monitoring
type DetectorStats struct {
	TotalBuffers     uint64    `json:"total_buffers"`
	SpeechBuffers    uint64    `json:"speech_buffers"`
	SpeechPercentage float64   `json:"speech_percentage"`
	LastProcessed    time.Time `json:"last_processed"`
	SilenceThreshold float64   `json:"silence_threshold"`
}

// NewDetector creates a new voice activity detector
func NewDetector(cfg Config) (*Detector, error) {
	if cfg.SilenceThreshold <= 0 || cfg.SilenceThreshold >= 1 {
		return nil, fmt.Errorf("silence threshold must be in (0, 1), got %f", cfg.SilenceThreshold)
	}

	if cfg.MinSpeechDuration <= 0 {
		return nil, fmt.Errorf("min speech duration must be positive, got %f", cfg.MinSpeechDuration)
	}

	return &Detector{cfg: cfg}, nil
}

// Detect classifies a buffer of float32 samples with the given nominal
// duration in seconds. The checks run in fixed order: energy, duration,
// then variation; each rejection is independent of the others.
func (d *Detector) Detect(samples []float32, duration float64) Decision {
	energy := rmsEnergy(samples)
	variation := stddev(samples)

	decision := Decision{Energy: energy, Variation: variation}

	switch {
	case energy < d.cfg.SilenceThreshold:
		decision.Reason = ReasonEnergy
	case duration < d.cfg.MinSpeechDuration:
		decision.Reason = ReasonDuration
	case variation < d.cfg.SilenceThreshold*0.5:
		// Steady-state noise can pass the energy test but lacks the
		// sample variance of real speech.
		decision.Reason = ReasonVariation
	default:
		decision.IsSpeech = true
		decision.Reason = ReasonAccepted
	}

	d.mu.Lock()
	d.totalBuffers++
	if decision.IsSpeech {
		d.speechBuffers++
	}
	d.lastProcessed = time.Now()
	d.mu.Unlock()

	return decision
}

// IsSpeech reports whether the buffer contains speech worth processing
func (d *Detector) IsSpeech(samples []float32, duration float64) bool {
	return d.Detect(samples, duration).IsSpeech
}

// GetStats returns current detector statistics
func (d *Detector) GetStats() DetectorStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	speechPercentage := float64(0)
	if d.totalBuffers > 0 {
		speechPercentage = float64(d.speechBuffers) / float64(d.totalBuffers) * 100
	}

	return DetectorStats{
		TotalBuffers:     d.totalBuffers,
		SpeechBuffers:    d.speechBuffers,
		SpeechPercentage: speechPercentage,
		LastProcessed:    d.lastProcessed,
		SilenceThreshold: d.cfg.SilenceThreshold,
	}
}

// Reset clears detector statistics
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.totalBuffers = 0
	d.speechBuffers = 0
	d.lastProcessed = time.Time{}
}

// rmsEnergy computes the root-mean-square energy of the samples
func rmsEnergy(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// stddev computes the standard deviation of the samples
func stddev(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var mean float64
	for _, s := range samples {
		mean += float64(s)
	}
	mean /= float64(len(samples))

	var sum float64
	for _, s := range samples {
		diff := float64(s) - mean
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(samples)))
}
