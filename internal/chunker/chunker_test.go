package chunker

import (
	"strings"
	"testing"
)

// wideConfig raises the hard limits so individual boundary rules can be
// exercised without the forced split firing first.
func wideConfig(minWords int) Config {
	cfg := DefaultConfig()
	cfg.MinWordsPerChunk = minWords
	cfg.MaxWordsPerChunk = 50
	cfg.MaxTokensPerChunk = 100
	return cfg
}

func TestAddTokenStreamProducesChunks(t *testing.T) {
	c, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	tokens := []string{
		"Hello", ",", " I", " am", " fine", ",", " thank", " you",
		" for", " asking", ".", " How", " are", " you", "?",
	}

	var chunks []*Chunk
	for i, tok := range tokens {
		if chunk := c.AddToken(tok, 1000+i, float64(i)); chunk != nil {
			chunks = append(chunks, chunk)
		}
	}
	if chunk := c.Finalize(float64(len(tokens))); chunk != nil {
		chunks = append(chunks, chunk)
	}

	if len(chunks) < 3 {
		t.Fatalf("Expected at least 3 chunks from conversational stream, got %d", len(chunks))
	}

	for i, chunk := range chunks {
		if chunk.Text == "" {
			t.Errorf("Chunk %d has empty text", i)
		}
		if chunk.Confidence < 0.3 {
			t.Errorf("Chunk %d confidence %f below threshold", i, chunk.Confidence)
		}
		if chunk.WordCount != len(strings.Fields(chunk.Text)) {
			t.Errorf("Chunk %d word count %d does not match text %q", i, chunk.WordCount, chunk.Text)
		}
	}
}

func TestSentenceBoundary(t *testing.T) {
	c, err := New(wideConfig(1))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	chunk := c.AddToken("Hi.", 1, 0)
	if chunk == nil {
		t.Fatal("Expected chunk at sentence punctuation")
	}
	if chunk.Boundary != BoundarySentenceEnd {
		t.Errorf("Expected boundary %q, got %q", BoundarySentenceEnd, chunk.Boundary)
	}
	if chunk.Confidence != 0.95 {
		t.Errorf("Expected confidence 0.95, got %f", chunk.Confidence)
	}
}

func TestClauseBoundary(t *testing.T) {
	c, err := New(wideConfig(3))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if chunk := c.AddToken("I", 1, 0); chunk != nil {
		t.Fatalf("Unexpected chunk below word minimum: %+v", chunk)
	}
	if chunk := c.AddToken(" was", 2, 0); chunk != nil {
		t.Fatalf("Unexpected chunk below word minimum: %+v", chunk)
	}

	chunk := c.AddToken(" there,", 3, 0)
	if chunk == nil {
		t.Fatal("Expected chunk at clause punctuation with 3 words")
	}
	if chunk.Boundary != BoundaryClauseBreak {
		t.Errorf("Expected boundary %q, got %q", BoundaryClauseBreak, chunk.Boundary)
	}
	if chunk.Confidence != 0.8 {
		t.Errorf("Expected confidence 0.8, got %f", chunk.Confidence)
	}
}

func TestPhrasePatternBoundary(t *testing.T) {
	c, err := New(wideConfig(2))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if chunk := c.AddToken("thank", 1, 0); chunk != nil {
		t.Fatalf("Unexpected chunk below word minimum: %+v", chunk)
	}

	chunk := c.AddToken(" you", 2, 0)
	if chunk == nil {
		t.Fatal("Expected chunk at phrase pattern")
	}
	if chunk.Boundary != BoundaryPhraseBreak {
		t.Errorf("Expected boundary %q, got %q", BoundaryPhraseBreak, chunk.Boundary)
	}
	if chunk.Confidence != 0.75 {
		t.Errorf("Expected confidence 0.75, got %f", chunk.Confidence)
	}
}

func TestTrailingConnectiveBoundary(t *testing.T) {
	cfg := wideConfig(3)
	// Remove phrase patterns so only the connective rule can fire
	cfg.PhrasePatterns = nil

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	c.AddToken("we", 1, 0)
	c.AddToken(" left", 2, 0)
	chunk := c.AddToken(" early and", 3, 0)
	if chunk == nil {
		t.Fatal("Expected chunk at trailing connective")
	}
	if chunk.Boundary != BoundaryPhraseBreak {
		t.Errorf("Expected boundary %q, got %q", BoundaryPhraseBreak, chunk.Boundary)
	}
	if chunk.Confidence != 0.7 {
		t.Errorf("Expected confidence 0.7, got %f", chunk.Confidence)
	}
}

func TestForcedBoundary(t *testing.T) {
	c, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	chunk := c.AddToken("Hello there", 1, 0)
	if chunk == nil {
		t.Fatal("Expected forced chunk at max word count")
	}
	if chunk.Boundary != BoundaryForced {
		t.Errorf("Expected boundary %q, got %q", BoundaryForced, chunk.Boundary)
	}
	if chunk.Confidence != 1.0 {
		t.Errorf("Expected confidence 1.0, got %f", chunk.Confidence)
	}
}

func TestForcedBoundaryByTokenCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxWordsPerChunk = 50
	cfg.ConfidenceThreshold = 0.6 // suppress the word-count fallback

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// Four sub-word fragments forming one long word hit the token limit
	c.AddToken("in", 1, 0)
	c.AddToken("com", 2, 0)
	c.AddToken("pre", 3, 0)
	chunk := c.AddToken("hensible", 4, 0)
	if chunk == nil {
		t.Fatal("Expected forced chunk at max token count")
	}
	if chunk.Boundary != BoundaryForced {
		t.Errorf("Expected boundary %q, got %q", BoundaryForced, chunk.Boundary)
	}
	if len(chunk.Tokens) != 4 {
		t.Errorf("Expected 4 tokens, got %d", len(chunk.Tokens))
	}
}

func TestConfidenceThresholdSuppressesWeakBoundaries(t *testing.T) {
	cfg := wideConfig(1)
	cfg.ConfidenceThreshold = 0.6

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// Word-count fallback confidence 0.5 is below the 0.6 threshold
	if chunk := c.AddToken("Hello", 1, 0); chunk != nil {
		t.Fatalf("Expected weak boundary to be suppressed, got %+v", chunk)
	}

	// Sentence punctuation at 0.95 clears it
	chunk := c.AddToken(".", 2, 0)
	if chunk == nil {
		t.Fatal("Expected chunk at sentence boundary")
	}
	if chunk.Boundary != BoundarySentenceEnd {
		t.Errorf("Expected boundary %q, got %q", BoundarySentenceEnd, chunk.Boundary)
	}
	if chunk.Text != "Hello." {
		t.Errorf("Expected text %q, got %q", "Hello.", chunk.Text)
	}
}

func TestInvalidContentDiscardedWithoutCounting(t *testing.T) {
	c, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// Pure punctuation triggers a boundary but is not synthesizable
	if chunk := c.AddToken(",", 1, 0); chunk != nil {
		t.Fatalf("Expected punctuation-only content to be discarded, got %+v", chunk)
	}

	stats := c.GetStats()
	if stats.ChunksCreated != 0 {
		t.Errorf("Expected chunk counter unchanged after discard, got %d", stats.ChunksCreated)
	}
	if stats.ChunksDiscarded != 1 {
		t.Errorf("Expected 1 discarded accumulation, got %d", stats.ChunksDiscarded)
	}
	if stats.PendingTextLength != 0 {
		t.Errorf("Expected pending buffer cleared after discard, got length %d", stats.PendingTextLength)
	}

	// The next valid chunk keeps the original numbering
	chunk := c.AddToken("Hello", 2, 0)
	if chunk == nil {
		t.Fatal("Expected chunk for valid content")
	}
	if chunk.ChunkID != "chunk_0" {
		t.Errorf("Expected chunk_0 after discard, got %s", chunk.ChunkID)
	}
}

func TestFinalize(t *testing.T) {
	cfg := wideConfig(1)
	cfg.ConfidenceThreshold = 0.6 // suppress the word-count fallback

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if chunk := c.AddToken("Goodbye", 1, 0); chunk != nil {
		t.Fatalf("Unexpected chunk before finalize: %+v", chunk)
	}

	chunk := c.Finalize(1.5)
	if chunk == nil {
		t.Fatal("Expected final chunk from pending text")
	}
	if chunk.Boundary != BoundaryEndOfStream {
		t.Errorf("Expected boundary %q, got %q", BoundaryEndOfStream, chunk.Boundary)
	}
	if chunk.Confidence != 1.0 {
		t.Errorf("Expected confidence 1.0, got %f", chunk.Confidence)
	}
	if chunk.ChunkID != "chunk_0_final" {
		t.Errorf("Expected chunk_0_final, got %s", chunk.ChunkID)
	}
	if chunk.Timestamp != 1.5 {
		t.Errorf("Expected timestamp 1.5, got %f", chunk.Timestamp)
	}
}

func TestFinalizeEmptyBuffer(t *testing.T) {
	c, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if chunk := c.Finalize(0); chunk != nil {
		t.Errorf("Expected nil from empty finalize, got %+v", chunk)
	}

	c.AddToken("   ", 1, 0)
	if chunk := c.Finalize(0); chunk != nil {
		t.Errorf("Expected nil from whitespace-only finalize, got %+v", chunk)
	}
}

func TestReset(t *testing.T) {
	c, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	c.AddToken("Hello", 1, 0)
	c.Reset()

	stats := c.GetStats()
	if stats.ChunksCreated != 0 || stats.PendingTextLength != 0 || stats.PendingTokenCount != 0 {
		t.Errorf("Expected clean state after reset, got %+v", stats)
	}

	chunk := c.AddToken("Hi", 1, 0)
	if chunk == nil {
		t.Fatal("Expected chunk after reset")
	}
	if chunk.ChunkID != "chunk_0" {
		t.Errorf("Expected numbering restarted at chunk_0, got %s", chunk.ChunkID)
	}
}

func TestNewInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinWordsPerChunk = 0
	if _, err := New(cfg); err == nil {
		t.Error("Expected error for zero min_words_per_chunk")
	}

	cfg = DefaultConfig()
	cfg.MaxWordsPerChunk = 0
	if _, err := New(cfg); err == nil {
		t.Error("Expected error for max below min words")
	}

	cfg = DefaultConfig()
	cfg.ConfidenceThreshold = 1.5
	if _, err := New(cfg); err == nil {
		t.Error("Expected error for out-of-range confidence threshold")
	}

	cfg = DefaultConfig()
	cfg.PhrasePatterns = []string{"[invalid"}
	if _, err := New(cfg); err == nil {
		t.Error("Expected error for invalid phrase pattern")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("Default config must validate, got %v", err)
	}

	cfg := DefaultConfig()
	cfg.MinTokensPerChunk = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for zero min_tokens_per_chunk")
	}

	cfg = DefaultConfig()
	cfg.PhrasePatterns = []string{"[invalid"}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for invalid phrase pattern")
	}
}

func TestCloneStartsEmpty(t *testing.T) {
	base, err := New(wideConfig(2))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	base.AddToken("partial", 1, 0)

	clone := base.Clone()
	stats := clone.GetStats()
	if stats.ChunksCreated != 0 || stats.PendingTextLength != 0 || stats.PendingTokenCount != 0 {
		t.Errorf("Expected clean state in clone, got %+v", stats)
	}

	// Compiled patterns carry over, so boundary detection still works
	clone.AddToken("Hi ", 1, 0)
	chunk := clone.AddToken("there.", 2, 1)
	if chunk == nil {
		t.Fatal("Expected chunk from clone")
	}
	if chunk.Boundary != BoundarySentenceEnd {
		t.Errorf("Expected boundary %q, got %q", BoundarySentenceEnd, chunk.Boundary)
	}
	if chunk.ChunkID != "chunk_0" {
		t.Errorf("Expected clone numbering to start at chunk_0, got %s", chunk.ChunkID)
	}

	// The original's pending buffer is untouched
	if base.GetStats().PendingTokenCount != 1 {
		t.Error("Clone must not share accumulation state with its source")
	}
}
