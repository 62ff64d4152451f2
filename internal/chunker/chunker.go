package chunker

import (
	"fmt"
	"regexp"
	"strings"
)

// BoundaryType classifies why a chunk was emitted
type BoundaryType string

const (
	BoundarySentenceEnd BoundaryType = "sentence_end"  // . ! ?
	BoundaryClauseBreak BoundaryType = "clause_break"  // , ; :
	BoundaryPhraseBreak BoundaryType = "phrase_break"  // natural phrase boundaries
	BoundaryWordCount   BoundaryType = "word_count"    // minimum word count reached
	BoundaryForced      BoundaryType = "forced"        // maximum token limit reached
	BoundaryEndOfStream BoundaryType = "end_of_stream" // final chunk at end of generation
)

// Chunk is an immutable text unit ready for immediate synthesis
type Chunk struct {
	Text       string       `json:"text"`
	Tokens     []int        `json:"tokens"`
	WordCount  int          `json:"word_count"`
	Boundary   BoundaryType `json:"boundary_type"`
	Confidence float64      `json:"confidence"`
	ChunkID    string       `json:"chunk_id"`
	Timestamp  float64      `json:"timestamp"`
}

// Config contains segmentation thresholds and boundary pattern data.
// The connective and phrase lists are tuned empirically for conversational
// English and are configuration, not fixed logic.
type Config struct {
	MinWordsPerChunk    int      `yaml:"min_words_per_chunk"`
	MaxWordsPerChunk    int      `yaml:"max_words_per_chunk"`
	MinTokensPerChunk   int      `yaml:"min_tokens_per_chunk"`
	MaxTokensPerChunk   int      `yaml:"max_tokens_per_chunk"`
	ConfidenceThreshold float64  `yaml:"confidence_threshold"`
	Connectives         []string `yaml:"connectives"`
	PhrasePatterns      []string `yaml:"phrase_patterns"`
}

// DefaultConfig returns the aggressive low-latency segmentation defaults
func DefaultConfig() Config {
	return Config{
		MinWordsPerChunk:    1,
		MaxWordsPerChunk:    2,
		MinTokensPerChunk:   1,
		MaxTokensPerChunk:   4,
		ConfidenceThreshold: 0.3,
		Connectives: []string{
			"and", "but", "or", "so", "then", "now", "well", "also",
			"however", "therefore", "meanwhile", "furthermore",
		},
		PhrasePatterns: []string{
			`\b(hello|hi|hey)\b`,
			`\b(thank you|thanks)\b`,
			`\b(how are you|how's it going)\b`,
			`\b(i am|i'm)\b`,
			`\b(you are|you're)\b`,
			`\b(what is|what's)\b`,
			`\b(that is|that's)\b`,
			`\b(it is|it's)\b`,
		},
	}
}

// Chunker accumulates incoming text fragments and emits chunks at detected
// boundaries. It owns a single accumulation buffer which is cleared exactly
// when a chunk is emitted or the pending content is discarded as invalid.
// Not safe for concurrent use; each generation stream owns one Chunker.
type Chunker struct {
	cfg           Config
	phraseRes     []*regexp.Regexp
	connectives   map[string]struct{}
	pendingText   string
	pendingTokens []int
	chunkCounter  int
	discarded     int
}

// Stats represents chunker state for monitoring
type Stats struct {
	ChunksCreated     int `json:"chunks_created"`
	ChunksDiscarded   int `json:"chunks_discarded"`
	PendingTextLength int `json:"pending_text_length"`
	PendingTokenCount int `json:"pending_token_count"`
}

// Validate checks the segmentation thresholds and pattern data
func (cfg Config) Validate() error {
	if cfg.MinWordsPerChunk < 1 {
		return fmt.Errorf("min_words_per_chunk must be at least 1, got %d", cfg.MinWordsPerChunk)
	}

	if cfg.MaxWordsPerChunk < cfg.MinWordsPerChunk {
		return fmt.Errorf("max_words_per_chunk (%d) must be >= min_words_per_chunk (%d)",
			cfg.MaxWordsPerChunk, cfg.MinWordsPerChunk)
	}

	if cfg.MinTokensPerChunk < 1 {
		return fmt.Errorf("min_tokens_per_chunk must be at least 1, got %d", cfg.MinTokensPerChunk)
	}

	if cfg.MaxTokensPerChunk < cfg.MinTokensPerChunk {
		return fmt.Errorf("max_tokens_per_chunk (%d) must be >= min_tokens_per_chunk (%d)",
			cfg.MaxTokensPerChunk, cfg.MinTokensPerChunk)
	}

	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in [0, 1], got %f", cfg.ConfidenceThreshold)
	}

	for _, pattern := range cfg.PhrasePatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid phrase pattern %q: %w", pattern, err)
		}
	}

	return nil
}

// New creates a chunker, compiling the configured phrase patterns
func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	res := make([]*regexp.Regexp, 0, len(cfg.PhrasePatterns))
	for _, pattern := range cfg.PhrasePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid phrase pattern %q: %w", pattern, err)
		}
		res = append(res, re)
	}

	connectives := make(map[string]struct{}, len(cfg.Connectives))
	for _, w := range cfg.Connectives {
		connectives[strings.ToLower(w)] = struct{}{}
	}

	return &Chunker{
		cfg:         cfg,
		phraseRes:   res,
		connectives: connectives,
	}, nil
}

// Clone returns a chunker with empty accumulation state that shares the
// compiled pattern data, so each generation stream gets its own buffer
// without recompiling the configuration.
func (c *Chunker) Clone() *Chunker {
	return &Chunker{
		cfg:         c.cfg,
		phraseRes:   c.phraseRes,
		connectives: c.connectives,
	}
}

// AddToken appends a text fragment to the accumulation buffer and returns a
// chunk if a boundary is detected, nil otherwise. If a boundary fires but
// the cleaned text is not synthesizable, the pending content is silently
// discarded and the chunk counter is not incremented.
func (c *Chunker) AddToken(text string, tokenID int, timestamp float64) *Chunk {
	c.pendingText += text
	c.pendingTokens = append(c.pendingTokens, tokenID)

	boundary, confidence, ok := c.detectBoundary(c.pendingText, len(c.pendingTokens))
	if !ok || confidence < c.cfg.ConfidenceThreshold {
		return nil
	}

	return c.emit(boundary, confidence, timestamp, fmt.Sprintf("chunk_%d", c.chunkCounter))
}

// Finalize forces emission of whatever remains in the buffer at
// end-of-stream. Returns nil if nothing valid remains.
func (c *Chunker) Finalize(timestamp float64) *Chunk {
	if strings.TrimSpace(c.pendingText) == "" {
		c.discard()
		return nil
	}

	return c.emit(BoundaryEndOfStream, 1.0, timestamp, fmt.Sprintf("chunk_%d_final", c.chunkCounter))
}

// Reset clears the buffer and counters for reuse across independent generations
func (c *Chunker) Reset() {
	c.discard()
	c.chunkCounter = 0
	c.discarded = 0
}

// GetStats returns current chunker statistics
func (c *Chunker) GetStats() Stats {
	return Stats{
		ChunksCreated:     c.chunkCounter,
		ChunksDiscarded:   c.discarded,
		PendingTextLength: len(c.pendingText),
		PendingTokenCount: len(c.pendingTokens),
	}
}

// PendingWordCount returns the whitespace-delimited word count of the buffer
func (c *Chunker) PendingWordCount() int {
	return len(strings.Fields(c.pendingText))
}

// emit runs cleanup and validity checks on the pending buffer, then either
// returns the finished chunk or discards the accumulation. The buffer never
// survives a flush partially: whole-buffer emission or whole-buffer discard.
func (c *Chunker) emit(boundary BoundaryType, confidence, timestamp float64, chunkID string) *Chunk {
	cleaned := CleanText(c.pendingText)
	if !IsValidText(cleaned) {
		c.discard()
		c.discarded++
		return nil
	}

	chunk := &Chunk{
		Text:       cleaned,
		Tokens:     append([]int(nil), c.pendingTokens...),
		WordCount:  len(strings.Fields(cleaned)),
		Boundary:   boundary,
		Confidence: confidence,
		ChunkID:    chunkID,
		Timestamp:  timestamp,
	}

	c.discard()
	c.chunkCounter++

	return chunk
}

// discard resets the accumulation buffer without touching the counter
func (c *Chunker) discard() {
	c.pendingText = ""
	c.pendingTokens = c.pendingTokens[:0]
}

// detectBoundary evaluates the pending text against the boundary rules in
// priority order and returns the boundary type and confidence when one fires.
func (c *Chunker) detectBoundary(text string, tokenCount int) (BoundaryType, float64, bool) {
	words := strings.Fields(text)
	wordCount := len(words)

	// Forced split when the buffer hits the hard limits
	if wordCount >= c.cfg.MaxWordsPerChunk || tokenCount >= c.cfg.MaxTokensPerChunk {
		return BoundaryForced, 1.0, true
	}

	// Never split below the minimums
	if wordCount < c.cfg.MinWordsPerChunk || tokenCount < c.cfg.MinTokensPerChunk {
		return "", 0, false
	}

	if strings.ContainsAny(text, ".!?") {
		return BoundarySentenceEnd, 0.95, true
	}

	if strings.ContainsAny(text, ",;:") && wordCount >= 3 {
		return BoundaryClauseBreak, 0.8, true
	}

	lower := strings.ToLower(text)
	if wordCount >= 2 {
		for _, re := range c.phraseRes {
			if re.MatchString(lower) {
				return BoundaryPhraseBreak, 0.75, true
			}
		}
	}

	if wordCount >= 3 {
		last := words
		if len(last) > 2 {
			last = last[len(last)-2:]
		}
		for _, w := range last {
			if _, ok := c.connectives[strings.ToLower(w)]; ok {
				return BoundaryPhraseBreak, 0.7, true
			}
		}
	}

	// Aggressive single-word chunking for minimum latency
	if wordCount >= 1 {
		return BoundaryWordCount, 0.5, true
	}

	if tokenCount >= 1 && len(strings.TrimSpace(text)) >= 2 {
		return BoundaryWordCount, 0.4, true
	}

	return "", 0, false
}
