// Package synth provides the HTTP client for the text-to-speech backend.
// One request converts one text chunk into PCM16 audio at the synthesis
// sample rate.
package synth
