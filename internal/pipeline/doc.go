// Package pipeline coordinates a full speech-to-speech turn: gating captured
// audio through voice activity detection, streaming generated tokens through
// the semantic chunker, synthesizing each chunk and handing the audio to the
// per-conversation delivery queue. A new accepted utterance interrupts any
// turn still in flight for the same conversation.
package pipeline
