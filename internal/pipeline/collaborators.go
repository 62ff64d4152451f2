package pipeline

import (
	"context"
)

// TokenFragment is one raw text fragment produced by the generation model
type TokenFragment struct {
	Text      string
	TokenID   int
	Timestamp float64
}

// TokenStream is a pull-based iterator over generated token fragments.
// Next returns io.EOF when the stream is exhausted; any other error is
// terminal. Close releases the underlying connection and may be called
// more than once.
type TokenStream interface {
	Next(ctx context.Context) (TokenFragment, error)
	Close() error
}

// Generator produces a streaming token response for an utterance
type Generator interface {
	GenerateTokens(ctx context.Context, samples []float32) (TokenStream, error)
}

// Synthesizer converts one text chunk into raw PCM16 audio bytes
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string, speed float64) ([]byte, error)
}
