package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxloop/voxloop/internal/chunker"
	"github.com/voxloop/voxloop/internal/metrics"
	"github.com/voxloop/voxloop/internal/protocol"
	"github.com/voxloop/voxloop/internal/queue"
	"github.com/voxloop/voxloop/internal/vad"
)

// Pipeline stages reported in processing and error events
const (
	StageGate       = "vad"
	StageGeneration = "generation"
	StageSynthesis  = "synthesis"
)

// Config contains coordinator tuning parameters
type Config struct {
	DefaultVoice        string
	DefaultSpeed        float64
	CaptureSampleRate   int
	SynthesisSampleRate int
	Chunker             chunker.Config
}

// DefaultConfig returns coordinator defaults
func DefaultConfig() Config {
	return Config{
		DefaultVoice:        "tara",
		DefaultSpeed:        1.0,
		CaptureSampleRate:   16000,
		SynthesisSampleRate: 24000,
		Chunker:             chunker.DefaultConfig(),
	}
}

// TurnRequest is one utterance submitted for a speech-to-speech turn
type TurnRequest struct {
	ConversationID string
	Samples        []float32
	SampleRate     int
	Voice          string
	Speed          float64
	Transport      queue.Transport
}

// TurnReport summarizes the outcome of one turn
type TurnReport struct {
	ConversationID      string
	Accepted            bool
	RejectReason        string
	Interrupted         bool
	ResponseText        string
	TotalChunks         int
	TotalAudioChunks    int
	FirstChunkLatencyMs float64
	FirstAudioLatencyMs float64
	TotalLatencyMs      float64
	Success             bool
}

// Coordinator drives speech-to-speech turns. At most one turn is in flight
// per conversation: an accepted utterance cancels the previous turn and
// purges its undelivered audio before starting its own.
type Coordinator struct {
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	detector  *vad.Detector
	generator Generator
	synth     Synthesizer
	queues    *queue.Manager
	chunker   *chunker.Chunker

	mu       sync.Mutex
	active   map[string]*activeTurn
	chunkSeq map[string]int
}

// activeTurn identifies one in-flight turn; the pointer doubles as the
// ownership token for registry cleanup.
type activeTurn struct {
	cancel context.CancelFunc
}

// NewCoordinator wires the pipeline stages together. The chunker
// configuration is compiled once here; each turn clones it for its own
// accumulation state.
func NewCoordinator(logger *slog.Logger, cfg Config, detector *vad.Detector, generator Generator, synth Synthesizer, queues *queue.Manager, m *metrics.Metrics) (*Coordinator, error) {
	base, err := chunker.New(cfg.Chunker)
	if err != nil {
		return nil, fmt.Errorf("invalid chunker configuration: %w", err)
	}

	return &Coordinator{
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		detector:  detector,
		generator: generator,
		synth:     synth,
		queues:    queues,
		chunker:   base,
		active:    make(map[string]*activeTurn),
		chunkSeq:  make(map[string]int),
	}, nil
}

// ProcessTurn runs one full turn. Silent audio is rejected without any
// client-visible event. Accepted audio interrupts any in-flight turn for the
// same conversation before generation starts.
func (c *Coordinator) ProcessTurn(ctx context.Context, req *TurnRequest) (*TurnReport, error) {
	report := &TurnReport{ConversationID: req.ConversationID}

	if len(req.Samples) == 0 || req.SampleRate <= 0 {
		report.RejectReason = "empty_audio"
		return report, fmt.Errorf("empty audio buffer")
	}

	duration := float64(len(req.Samples)) / float64(req.SampleRate)
	decision := c.detector.Detect(req.Samples, duration)
	c.metrics.RecordGateDecision(decision.IsSpeech, decision.Reason)

	if !decision.IsSpeech {
		c.logger.Debug("Audio rejected by VAD gate",
			slog.String("conversation_id", req.ConversationID),
			slog.String("reason", decision.Reason),
			slog.Float64("energy", decision.Energy),
			slog.Float64("duration", duration),
		)
		report.RejectReason = decision.Reason
		return report, nil
	}

	report.Accepted = true
	voice := req.Voice
	if voice == "" {
		voice = c.cfg.DefaultVoice
	}
	speed := req.Speed
	if speed <= 0 {
		speed = c.cfg.DefaultSpeed
	}

	turnCtx, turn := c.takeOver(ctx, req.ConversationID)
	defer c.release(req.ConversationID, turn)

	c.queues.StartConversationQueue(req.ConversationID, req.Transport)

	c.metrics.TurnsStarted.Inc()
	turnStart := time.Now()

	c.sendProcessing(req.Transport, req.ConversationID, StageGeneration, "Generating response...")

	err := c.runTurn(turnCtx, req, voice, speed, turnStart, report)
	if err != nil {
		if errors.Is(err, context.Canceled) && turnCtx.Err() != nil {
			report.Interrupted = true
			c.logger.Info("Turn interrupted",
				slog.String("conversation_id", req.ConversationID),
			)
			return report, nil
		}
		return report, err
	}

	report.Success = true
	report.TotalLatencyMs = msSince(turnStart)
	c.metrics.TurnsCompleted.Inc()
	c.metrics.TurnLatency.Observe(time.Since(turnStart).Seconds())

	c.sendComplete(req.Transport, report)

	c.logger.Info("Turn completed",
		slog.String("conversation_id", req.ConversationID),
		slog.Int("chunks", report.TotalChunks),
		slog.Int("audio_chunks", report.TotalAudioChunks),
		slog.Float64("total_latency_ms", report.TotalLatencyMs),
	)

	return report, nil
}

// runTurn streams tokens, chunks them, and synthesizes each chunk in order
func (c *Coordinator) runTurn(ctx context.Context, req *TurnRequest, voice string, speed float64, turnStart time.Time, report *TurnReport) error {
	ck := c.chunker.Clone()

	stream, err := c.generator.GenerateTokens(ctx, req.Samples)
	if err != nil {
		c.metrics.TurnsFailed.WithLabelValues(StageGeneration).Inc()
		c.sendError(req.Transport, req.ConversationID, StageGeneration, "generation failed")
		return fmt.Errorf("generation failed: %w", err)
	}
	defer stream.Close()

	var fullText strings.Builder
	tokenSeq := 0

	for {
		frag, err := stream.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			c.metrics.TurnsFailed.WithLabelValues(StageGeneration).Inc()
			c.sendError(req.Transport, req.ConversationID, StageGeneration, "token stream failed")
			return fmt.Errorf("token stream failed: %w", err)
		}

		fullText.WriteString(frag.Text)
		c.metrics.TokensStreamed.Inc()

		c.sendJSON(req.Transport, protocol.TextChunkMessage{
			Type:           protocol.TypeTokenChunk,
			ConversationID: req.ConversationID,
			Text:           frag.Text,
			FullTextSoFar:  fullText.String(),
			ChunkID:        fmt.Sprintf("token_%d", tokenSeq),
			ChunkSequence:  tokenSeq,
			Timestamp:      protocol.Now(),
		})
		tokenSeq++

		if sc := ck.AddToken(frag.Text, frag.TokenID, protocol.Now()); sc != nil {
			if err := c.handleChunk(ctx, req, sc, voice, speed, turnStart, report); err != nil {
				return err
			}
		}
	}

	if sc := ck.Finalize(protocol.Now()); sc != nil {
		if err := c.handleChunk(ctx, req, sc, voice, speed, turnStart, report); err != nil {
			return err
		}
	}

	if discarded := ck.GetStats().ChunksDiscarded; discarded > 0 {
		c.metrics.ChunksDiscarded.Add(float64(discarded))
	}

	report.ResponseText = strings.TrimSpace(fullText.String())
	return nil
}

// handleChunk announces a semantic chunk, synthesizes it, and enqueues the
// audio. A synthesis failure ends the turn with a single error event.
func (c *Coordinator) handleChunk(ctx context.Context, req *TurnRequest, sc *chunker.Chunk, voice string, speed float64, turnStart time.Time, report *TurnReport) error {
	report.TotalChunks++
	c.metrics.RecordChunkEmitted(string(sc.Boundary))

	if report.FirstChunkLatencyMs == 0 {
		report.FirstChunkLatencyMs = msSince(turnStart)
		c.metrics.FirstChunkLatency.Observe(time.Since(turnStart).Seconds())
	}

	c.sendJSON(req.Transport, protocol.TextChunkMessage{
		Type:           protocol.TypeSemanticChunk,
		ConversationID: req.ConversationID,
		Text:           sc.Text,
		ChunkID:        sc.ChunkID,
		ChunkSequence:  report.TotalChunks - 1,
		BoundaryType:   string(sc.Boundary),
		Confidence:     sc.Confidence,
		Timestamp:      protocol.Now(),
	})

	synthStart := time.Now()
	pcm, err := c.synth.Synthesize(ctx, sc.Text, voice, speed)
	c.metrics.RecordSynthesis(time.Since(synthStart).Seconds(), err)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		c.metrics.TurnsFailed.WithLabelValues(StageSynthesis).Inc()
		c.logger.Error("Synthesis failed, ending turn",
			slog.String("conversation_id", req.ConversationID),
			slog.String("chunk_id", sc.ChunkID),
			slog.String("error", err.Error()),
		)
		c.sendError(req.Transport, req.ConversationID, StageSynthesis, "synthesis failed")
		return fmt.Errorf("synthesis failed for chunk %s: %w", sc.ChunkID, err)
	}
	if len(pcm) == 0 {
		c.logger.Warn("Synthesis produced no audio",
			slog.String("conversation_id", req.ConversationID),
			slog.String("chunk_id", sc.ChunkID),
		)
		return nil
	}

	enqueued := c.queues.EnqueueAudio(&queue.AudioChunk{
		PCM:            pcm,
		ChunkID:        uuid.NewString(),
		Voice:          voice,
		SampleRate:     c.cfg.SynthesisSampleRate,
		ChunkIndex:     c.nextChunkIndex(req.ConversationID),
		Timestamp:      protocol.Now(),
		TextSource:     sc.Text,
		ConversationID: req.ConversationID,
	})
	if !enqueued {
		c.logger.Warn("Failed to enqueue audio chunk",
			slog.String("conversation_id", req.ConversationID),
			slog.String("chunk_id", sc.ChunkID),
		)
		return nil
	}

	report.TotalAudioChunks++
	if report.FirstAudioLatencyMs == 0 {
		report.FirstAudioLatencyMs = msSince(turnStart)
		c.metrics.FirstAudioLatency.Observe(time.Since(turnStart).Seconds())
	}

	return nil
}

// nextChunkIndex allocates the next audio chunk index for a conversation.
// Indexes are strictly increasing for the lifetime of the conversation, not
// per turn, so clients can order audio across turns and barge-ins.
func (c *Coordinator) nextChunkIndex(conversationID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.chunkSeq[conversationID]
	c.chunkSeq[conversationID] = idx + 1
	return idx
}

// Interrupt cancels the in-flight turn for a conversation, if any, and
// purges its undelivered audio. Returns true if a turn was cancelled.
func (c *Coordinator) Interrupt(conversationID string) bool {
	c.mu.Lock()
	turn, ok := c.active[conversationID]
	if ok {
		delete(c.active, conversationID)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}

	turn.cancel()
	c.queues.InterruptPlayback(conversationID)
	c.metrics.TurnsInterrupted.Inc()
	return true
}

// EndConversation cancels any in-flight turn and tears down the
// conversation's delivery queue.
func (c *Coordinator) EndConversation(conversationID string) {
	c.mu.Lock()
	if turn, ok := c.active[conversationID]; ok {
		delete(c.active, conversationID)
		turn.cancel()
	}
	delete(c.chunkSeq, conversationID)
	c.mu.Unlock()

	c.queues.StopConversationQueue(conversationID)
}

// takeOver registers a new turn as the active one for the conversation,
// cancelling and purging a previous turn if one is still running.
func (c *Coordinator) takeOver(ctx context.Context, conversationID string) (context.Context, *activeTurn) {
	turnCtx, cancel := context.WithCancel(ctx)
	turn := &activeTurn{cancel: cancel}

	c.mu.Lock()
	prev, hadPrev := c.active[conversationID]
	c.active[conversationID] = turn
	c.mu.Unlock()

	if hadPrev {
		c.logger.Info("New utterance interrupts in-flight turn",
			slog.String("conversation_id", conversationID),
		)
		prev.cancel()
		c.queues.InterruptPlayback(conversationID)
		c.metrics.TurnsInterrupted.Inc()
	}

	return turnCtx, turn
}

// release clears the active-turn registration if it still belongs to this
// turn, then cancels the turn context.
func (c *Coordinator) release(conversationID string, turn *activeTurn) {
	c.mu.Lock()
	// A newer turn may have replaced the registration already; only remove
	// our own entry.
	if current, ok := c.active[conversationID]; ok && current == turn {
		delete(c.active, conversationID)
	}
	c.mu.Unlock()
	turn.cancel()
}

func (c *Coordinator) sendProcessing(t queue.Transport, conversationID, stage, message string) {
	c.sendJSON(t, protocol.ProcessingMessage{
		Type:           protocol.TypeProcessing,
		ConversationID: conversationID,
		Stage:          stage,
		Message:        message,
	})
}

func (c *Coordinator) sendError(t queue.Transport, conversationID, stage, message string) {
	c.sendJSON(t, protocol.ErrorMessage{
		Type:           protocol.TypeError,
		ConversationID: conversationID,
		Message:        message,
		Stage:          stage,
	})
}

func (c *Coordinator) sendComplete(t queue.Transport, report *TurnReport) {
	c.sendJSON(t, protocol.CompleteMessage{
		Type:                protocol.TypeComplete,
		ConversationID:      report.ConversationID,
		ResponseText:        report.ResponseText,
		TotalChunks:         report.TotalChunks,
		TotalAudioChunks:    report.TotalAudioChunks,
		TotalLatencyMs:      report.TotalLatencyMs,
		FirstChunkLatencyMs: report.FirstChunkLatencyMs,
		FirstAudioLatencyMs: report.FirstAudioLatencyMs,
		Success:             report.Success,
		Timestamp:           protocol.Now(),
	})
}

func (c *Coordinator) sendJSON(t queue.Transport, v any) {
	if err := t.SendJSON(v); err != nil {
		c.logger.Warn("Failed to send pipeline event",
			slog.String("error", err.Error()),
		)
		c.metrics.SendErrors.Inc()
	}
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
