// Package vad provides the energy-based voice activity gate that decides
// whether a captured audio buffer contains speech worth processing.
// It combines an RMS energy threshold, a minimum duration check, and a
// sample-variance guard against steady-state noise.
package vad
