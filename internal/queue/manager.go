package queue

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync"
	"time"

	"github.com/voxloop/voxloop/internal/audio"
	"github.com/voxloop/voxloop/internal/metrics"
	"github.com/voxloop/voxloop/internal/protocol"
)

// Transport is the outbound side of a client connection. Implementations
// must be safe for concurrent use: the delivery worker and the interrupt
// path both send on it.
type Transport interface {
	SendJSON(v any) error
}

// AudioChunk is one synthesized audio segment awaiting ordered delivery.
// Created by the synthesis stage, consumed exactly once by the delivery
// worker of its conversation.
type AudioChunk struct {
	PCM            []byte
	ChunkID        string
	Voice          string
	SampleRate     int
	ChunkIndex     int
	Timestamp      float64
	TextSource     string
	ConversationID string
}

// SizeBytes returns the raw PCM payload size
func (c *AudioChunk) SizeBytes() int {
	return len(c.PCM)
}

// Config contains delivery tuning parameters
type Config struct {
	QueueCapacity int           // buffered chunks per conversation
	PacingDelay   time.Duration // delay between sends to avoid saturating the transport
	StopTimeout   time.Duration // bounded wait for worker termination on stop
	LatencyWindow int           // rolling latency samples kept per conversation
	IdleTimeout   time.Duration // stop conversations idle longer than this; 0 disables
}

// DefaultConfig returns delivery defaults
func DefaultConfig() Config {
	return Config{
		QueueCapacity: 256,
		PacingDelay:   5 * time.Millisecond,
		StopTimeout:   2 * time.Second,
		LatencyWindow: 100,
		IdleTimeout:   0,
	}
}

// Stats represents per-conversation queue statistics
type Stats struct {
	ConversationID    string  `json:"conversation_id"`
	QueueDepth        int     `json:"queue_depth"`
	ChunksSent        int     `json:"chunks_sent"`
	CurrentVoice      string  `json:"current_voice"`
	IsPlaying         bool    `json:"is_playing"`
	AvgQueueLatencyMs float64 `json:"avg_queue_latency_ms"`
	MaxQueueLatencyMs float64 `json:"max_queue_latency_ms"`
	AvgSendLatencyMs  float64 `json:"avg_send_latency_ms"`
	MaxSendLatencyMs  float64 `json:"max_send_latency_ms"`
}

// conversation holds the delivery state bound 1:1 with one worker goroutine
type conversation struct {
	id        string
	transport Transport
	chunks    chan *AudioChunk
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc

	mu           sync.Mutex
	currentVoice string
	chunksSent   int
	isPlaying    bool
	lastActivity time.Time
	queueLatency *LatencyRing
	sendLatency  *LatencyRing
}

// Manager owns the registry of conversation queues. The registry mutex
// guards structural mutation only; per-conversation enqueue and dequeue are
// independently safe.
type Manager struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu            sync.RWMutex
	conversations map[string]*conversation

	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a queue manager and starts its cleanup routine
func NewManager(logger *slog.Logger, cfg Config, m *metrics.Metrics) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		cfg:           cfg,
		logger:        logger,
		metrics:       m,
		conversations: make(map[string]*conversation),
		ctx:           ctx,
		cancel:        cancel,
		cleanup:       make(chan struct{}),
	}

	go mgr.cleanupRoutine()

	return mgr
}

// StartConversationQueue allocates a queue and spawns its delivery worker.
// Returns false if a queue already exists for the conversation; double-start
// is an idempotency guard, not an error.
func (m *Manager) StartConversationQueue(conversationID string, transport Transport) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conversations[conversationID]; exists {
		m.logger.Warn("Queue already exists for conversation",
			slog.String("conversation_id", conversationID),
		)
		return false
	}

	ctx, cancel := context.WithCancel(m.ctx)
	conv := &conversation{
		id:           conversationID,
		transport:    transport,
		chunks:       make(chan *AudioChunk, m.cfg.QueueCapacity),
		done:         make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
		lastActivity: time.Now(),
		queueLatency: NewLatencyRing(m.cfg.LatencyWindow),
		sendLatency:  NewLatencyRing(m.cfg.LatencyWindow),
	}

	m.conversations[conversationID] = conv
	go m.deliveryWorker(conv)

	m.metrics.QueuesStarted.Inc()
	m.metrics.ConversationsActive.Set(float64(len(m.conversations)))

	m.logger.Info("Started audio queue for conversation",
		slog.String("conversation_id", conversationID),
	)

	return true
}

// EnqueueAudio appends a chunk to its conversation's FIFO queue.
// Returns false if no queue exists for the chunk's conversation. A voice
// change is tolerated and logged; the last-seen voice is updated either way.
func (m *Manager) EnqueueAudio(chunk *AudioChunk) bool {
	enqueueStart := time.Now()

	m.mu.RLock()
	conv, exists := m.conversations[chunk.ConversationID]
	m.mu.RUnlock()

	if !exists {
		m.logger.Error("No queue exists for conversation",
			slog.String("conversation_id", chunk.ConversationID),
			slog.String("chunk_id", chunk.ChunkID),
		)
		return false
	}

	conv.mu.Lock()
	if conv.currentVoice != "" && conv.currentVoice != chunk.Voice {
		m.logger.Warn("Voice change detected in conversation",
			slog.String("conversation_id", chunk.ConversationID),
			slog.String("previous_voice", conv.currentVoice),
			slog.String("new_voice", chunk.Voice),
		)
	}
	conv.currentVoice = chunk.Voice
	conv.isPlaying = true
	conv.lastActivity = time.Now()
	conv.mu.Unlock()

	select {
	case conv.chunks <- chunk:
	case <-conv.ctx.Done():
		return false
	}

	enqueueMs := float64(time.Since(enqueueStart)) / float64(time.Millisecond)
	conv.mu.Lock()
	conv.queueLatency.Add(enqueueMs)
	conv.mu.Unlock()

	m.metrics.AudioChunksEnqueued.Inc()
	m.metrics.EnqueueLatency.Observe(time.Since(enqueueStart).Seconds())

	m.logger.Debug("Enqueued audio chunk",
		slog.String("conversation_id", chunk.ConversationID),
		slog.Int("chunk_index", chunk.ChunkIndex),
		slog.Int("queue_depth", len(conv.chunks)),
	)

	return true
}

// deliveryWorker drains one conversation's queue sequentially. It blocks
// only on dequeue and on the pacing delay, and terminates on the nil
// sentinel or forced cancellation.
func (m *Manager) deliveryWorker(conv *conversation) {
	defer close(conv.done)

	m.logger.Debug("Delivery worker started",
		slog.String("conversation_id", conv.id),
	)

	for {
		select {
		case <-conv.ctx.Done():
			m.logger.Debug("Delivery worker cancelled",
				slog.String("conversation_id", conv.id),
			)
			return
		case chunk := <-conv.chunks:
			if chunk == nil {
				m.logger.Debug("Delivery worker terminating",
					slog.String("conversation_id", conv.id),
				)
				return
			}

			m.deliverChunk(conv, chunk)

			select {
			case <-conv.ctx.Done():
				return
			case <-time.After(m.cfg.PacingDelay):
			}
		}
	}
}

// deliverChunk packages one chunk as a wire message and sends it. A send
// failure drops the chunk and delivery proceeds to the next one.
func (m *Manager) deliverChunk(conv *conversation, chunk *AudioChunk) {
	sendStart := time.Now()

	wavData, err := audio.PCMToWAV(chunk.PCM, chunk.SampleRate, 1, 16)
	if err != nil {
		m.logger.Error("Failed to frame audio chunk",
			slog.String("conversation_id", conv.id),
			slog.String("chunk_id", chunk.ChunkID),
			slog.String("error", err.Error()),
		)
		m.metrics.AudioChunksDropped.Inc()
		return
	}

	conv.mu.Lock()
	queuePosition := conv.chunksSent
	conv.mu.Unlock()

	msg := protocol.SequentialAudioMessage{
		Type:           protocol.TypeSequentialAudio,
		ConversationID: conv.id,
		AudioData:      base64.StdEncoding.EncodeToString(wavData),
		SampleRate:     chunk.SampleRate,
		ChunkIndex:     chunk.ChunkIndex,
		Voice:          chunk.Voice,
		TextSource:     chunk.TextSource,
		ChunkID:        chunk.ChunkID,
		ChunkSizeBytes: chunk.SizeBytes(),
		QueuePosition:  queuePosition,
		Format:         "wav",
		Timestamp:      protocol.Now(),
	}

	if err := conv.transport.SendJSON(msg); err != nil {
		m.logger.Error("Failed to send audio chunk",
			slog.String("conversation_id", conv.id),
			slog.String("chunk_id", chunk.ChunkID),
			slog.String("error", err.Error()),
		)
		m.metrics.AudioChunksDropped.Inc()
		m.metrics.SendErrors.Inc()
		return
	}

	sendMs := float64(time.Since(sendStart)) / float64(time.Millisecond)
	conv.mu.Lock()
	conv.chunksSent++
	// Playback is over once the last queued chunk has gone out.
	conv.isPlaying = len(conv.chunks) > 0
	conv.lastActivity = time.Now()
	conv.sendLatency.Add(sendMs)
	sent := conv.chunksSent
	conv.mu.Unlock()

	m.metrics.AudioChunksSent.Inc()
	m.metrics.SendLatency.Observe(time.Since(sendStart).Seconds())

	m.logger.Debug("Sent audio chunk",
		slog.String("conversation_id", conv.id),
		slog.Int("chunk_index", chunk.ChunkIndex),
		slog.Int("total_sent", sent),
	)
}

// InterruptPlayback synchronously discards all queued chunks without
// terminating the worker and notifies the transport. This is the barge-in
// primitive. Returns the number of cleared chunks and whether the
// conversation was known.
func (m *Manager) InterruptPlayback(conversationID string) (int, bool) {
	m.mu.RLock()
	conv, exists := m.conversations[conversationID]
	m.mu.RUnlock()

	if !exists {
		m.logger.Warn("Interrupt for unknown conversation",
			slog.String("conversation_id", conversationID),
		)
		return 0, false
	}

	cleared := drainChunks(conv.chunks)

	conv.mu.Lock()
	conv.isPlaying = false
	conv.lastActivity = time.Now()
	conv.mu.Unlock()

	msg := protocol.AudioInterruptedMessage{
		Type:           protocol.TypeAudioInterrupted,
		ConversationID: conversationID,
		ClearedChunks:  cleared,
		Timestamp:      protocol.Now(),
	}
	if err := conv.transport.SendJSON(msg); err != nil {
		m.logger.Warn("Failed to send interruption notice",
			slog.String("conversation_id", conversationID),
			slog.String("error", err.Error()),
		)
		m.metrics.SendErrors.Inc()
	}

	m.metrics.Interruptions.Inc()
	m.metrics.AudioChunksCleared.Add(float64(cleared))

	m.logger.Info("Playback interrupted",
		slog.String("conversation_id", conversationID),
		slog.Int("cleared_chunks", cleared),
	)

	return cleared, true
}

// StopConversationQueue drains the queue, signals the worker to terminate,
// waits for it with a bounded timeout, and releases all state. Idempotent:
// stopping an unknown conversation is a logged no-op.
func (m *Manager) StopConversationQueue(conversationID string) {
	m.mu.Lock()
	conv, exists := m.conversations[conversationID]
	if !exists {
		m.mu.Unlock()
		m.logger.Warn("Stop for unknown conversation",
			slog.String("conversation_id", conversationID),
		)
		return
	}
	delete(m.conversations, conversationID)
	active := len(m.conversations)
	m.mu.Unlock()

	cleared := drainChunks(conv.chunks)

	// Stop sentinel; the queue was just drained so capacity is available,
	// but never block the teardown path on it.
	select {
	case conv.chunks <- nil:
	default:
	}

	select {
	case <-conv.done:
	case <-time.After(m.cfg.StopTimeout):
		m.logger.Warn("Worker join timeout, forcing cancellation",
			slog.String("conversation_id", conversationID),
		)
		conv.cancel()
		<-conv.done
	}
	conv.cancel()

	m.metrics.QueuesStopped.Inc()
	m.metrics.ConversationsActive.Set(float64(active))
	if cleared > 0 {
		m.metrics.AudioChunksCleared.Add(float64(cleared))
	}

	conv.mu.Lock()
	sent := conv.chunksSent
	conv.mu.Unlock()

	m.logger.Info("Queue stopped for conversation",
		slog.String("conversation_id", conversationID),
		slog.Int("chunks_sent", sent),
		slog.Int("cleared_chunks", cleared),
	)
}

// GetStats returns queue statistics for one conversation
func (m *Manager) GetStats(conversationID string) (Stats, bool) {
	m.mu.RLock()
	conv, exists := m.conversations[conversationID]
	m.mu.RUnlock()

	if !exists {
		return Stats{}, false
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()

	return Stats{
		ConversationID:    conversationID,
		QueueDepth:        len(conv.chunks),
		ChunksSent:        conv.chunksSent,
		CurrentVoice:      conv.currentVoice,
		IsPlaying:         conv.isPlaying,
		AvgQueueLatencyMs: conv.queueLatency.Average(),
		MaxQueueLatencyMs: conv.queueLatency.Max(),
		AvgSendLatencyMs:  conv.sendLatency.Average(),
		MaxSendLatencyMs:  conv.sendLatency.Max(),
	}, true
}

// GetAllStats returns statistics for every active conversation
func (m *Manager) GetAllStats() map[string]Stats {
	m.mu.RLock()
	ids := make([]string, 0, len(m.conversations))
	for id := range m.conversations {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	all := make(map[string]Stats, len(ids))
	for _, id := range ids {
		if stats, ok := m.GetStats(id); ok {
			all[id] = stats
		}
	}
	return all
}

// ActiveConversations returns the number of active conversation queues
func (m *Manager) ActiveConversations() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conversations)
}

// Stop gracefully stops all conversation queues and the cleanup routine
func (m *Manager) Stop() {
	m.logger.Info("Stopping queue manager...")

	m.mu.RLock()
	ids := make([]string, 0, len(m.conversations))
	for id := range m.conversations {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.StopConversationQueue(id)
	}

	m.cancel()
	<-m.cleanup

	m.logger.Info("Queue manager stopped",
		slog.Int("stopped_conversations", len(ids)),
	)
}

// cleanupRoutine stops conversations that have been idle for longer than
// the configured timeout.
func (m *Manager) cleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if m.cfg.IdleTimeout > 0 {
				m.cleanupIdleConversations()
			}
		}
	}
}

// cleanupIdleConversations finds and stops expired conversations
func (m *Manager) cleanupIdleConversations() {
	now := time.Now()
	expired := make([]string, 0)

	m.mu.RLock()
	for id, conv := range m.conversations {
		conv.mu.Lock()
		last := conv.lastActivity
		conv.mu.Unlock()

		if now.Sub(last) > m.cfg.IdleTimeout {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		m.logger.Info("Stopping idle conversation",
			slog.String("conversation_id", id),
		)
		m.StopConversationQueue(id)
	}
}

// drainChunks removes all queued chunks without blocking. A drained stop
// sentinel is put back so a concurrent teardown is not lost.
func drainChunks(ch chan *AudioChunk) int {
	cleared := 0
	for {
		select {
		case chunk := <-ch:
			if chunk == nil {
				select {
				case ch <- nil:
				default:
				}
				return cleared
			}
			cleared++
		default:
			return cleared
		}
	}
}
