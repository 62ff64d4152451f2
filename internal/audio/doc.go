// Package audio handles PCM sample conversion and WAV container framing.
// It converts between the float32 capture format used on the wire and the
// int16 PCM produced by synthesis, and wraps raw PCM in a standard 44-byte
// RIFF/WAVE header for delivery to clients.
package audio
