// Package metrics defines the Prometheus instrumentation for the streaming
// pipeline: gate decisions, chunking, synthesis, queue delivery, and the
// transport surfaces.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the streaming service
type Metrics struct {
	// Transport metrics
	ConnectionsActive prometheus.Gauge
	MessagesReceived  *prometheus.CounterVec
	SendErrors        prometheus.Counter

	// VAD gate metrics
	BuffersAccepted prometheus.Counter
	BuffersRejected *prometheus.CounterVec

	// Turn metrics
	TurnsStarted      prometheus.Counter
	TurnsCompleted    prometheus.Counter
	TurnsInterrupted  prometheus.Counter
	TurnsFailed       *prometheus.CounterVec
	TurnLatency       prometheus.Histogram
	FirstChunkLatency prometheus.Histogram
	FirstAudioLatency prometheus.Histogram

	// Chunking metrics
	TokensStreamed  prometheus.Counter
	ChunksEmitted   *prometheus.CounterVec
	ChunksDiscarded prometheus.Counter

	// Synthesis metrics
	SynthesisRequests prometheus.Counter
	SynthesisFailures prometheus.Counter
	SynthesisDuration prometheus.Histogram

	// Queue metrics
	ConversationsActive prometheus.Gauge
	QueuesStarted       prometheus.Counter
	QueuesStopped       prometheus.Counter
	AudioChunksEnqueued prometheus.Counter
	AudioChunksSent     prometheus.Counter
	AudioChunksDropped  prometheus.Counter
	AudioChunksCleared  prometheus.Counter
	Interruptions       prometheus.Counter
	EnqueueLatency      prometheus.Histogram
	SendLatency         prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// New creates all metrics and registers them with the given registerer.
// Tests pass a private registry; main passes prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voxloop_connections_active",
			Help: "Current number of connected clients",
		}),
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxloop_messages_received_total",
			Help: "Total number of inbound messages by type",
		}, []string{"type"}),
		SendErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxloop_send_errors_total",
			Help: "Total number of failed outbound sends",
		}),

		BuffersAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxloop_vad_buffers_accepted_total",
			Help: "Total number of audio buffers classified as speech",
		}),
		BuffersRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxloop_vad_buffers_rejected_total",
			Help: "Total number of audio buffers rejected by the VAD gate",
		}, []string{"reason"}),

		TurnsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxloop_turns_started_total",
			Help: "Total number of conversational turns started",
		}),
		TurnsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxloop_turns_completed_total",
			Help: "Total number of conversational turns completed",
		}),
		TurnsInterrupted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxloop_turns_interrupted_total",
			Help: "Total number of turns interrupted by barge-in",
		}),
		TurnsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxloop_turns_failed_total",
			Help: "Total number of failed turns by pipeline stage",
		}, []string{"stage"}),
		TurnLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxloop_turn_latency_seconds",
			Help:    "End-to-end latency of completed turns",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		FirstChunkLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxloop_first_chunk_latency_seconds",
			Help:    "Latency from turn start to first semantic chunk",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		}),
		FirstAudioLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxloop_first_audio_latency_seconds",
			Help:    "Latency from turn start to first enqueued audio chunk",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),

		TokensStreamed: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxloop_tokens_streamed_total",
			Help: "Total number of token fragments consumed from generation",
		}),
		ChunksEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxloop_semantic_chunks_total",
			Help: "Total number of semantic chunks emitted by boundary type",
		}, []string{"boundary"}),
		ChunksDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxloop_chunks_discarded_total",
			Help: "Total number of accumulations discarded as invalid",
		}),

		SynthesisRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxloop_synthesis_requests_total",
			Help: "Total number of synthesis requests issued",
		}),
		SynthesisFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxloop_synthesis_failures_total",
			Help: "Total number of failed synthesis requests",
		}),
		SynthesisDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxloop_synthesis_duration_seconds",
			Help:    "Duration of synthesis requests",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),

		ConversationsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voxloop_conversations_active",
			Help: "Current number of active conversation queues",
		}),
		QueuesStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxloop_queues_started_total",
			Help: "Total number of conversation queues started",
		}),
		QueuesStopped: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxloop_queues_stopped_total",
			Help: "Total number of conversation queues stopped",
		}),
		AudioChunksEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxloop_audio_chunks_enqueued_total",
			Help: "Total number of audio chunks enqueued for delivery",
		}),
		AudioChunksSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxloop_audio_chunks_sent_total",
			Help: "Total number of audio chunks delivered to clients",
		}),
		AudioChunksDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxloop_audio_chunks_dropped_total",
			Help: "Total number of audio chunks dropped after send failure",
		}),
		AudioChunksCleared: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxloop_audio_chunks_cleared_total",
			Help: "Total number of queued audio chunks discarded on interruption",
		}),
		Interruptions: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxloop_interruptions_total",
			Help: "Total number of playback interruptions",
		}),
		EnqueueLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxloop_enqueue_latency_seconds",
			Help:    "Time spent enqueuing audio chunks",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		SendLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxloop_send_latency_seconds",
			Help:    "Time spent sending audio chunks to the transport",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxloop_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voxloop_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxloop_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordGateDecision records a VAD gate classification
func (m *Metrics) RecordGateDecision(accepted bool, reason string) {
	if accepted {
		m.BuffersAccepted.Inc()
	} else {
		m.BuffersRejected.WithLabelValues(reason).Inc()
	}
}

// RecordChunkEmitted records a semantic chunk by boundary type
func (m *Metrics) RecordChunkEmitted(boundary string) {
	m.ChunksEmitted.WithLabelValues(boundary).Inc()
}

// RecordSynthesis records a synthesis request and its outcome
func (m *Metrics) RecordSynthesis(durationSeconds float64, err error) {
	m.SynthesisRequests.Inc()
	m.SynthesisDuration.Observe(durationSeconds)
	if err != nil {
		m.SynthesisFailures.Inc()
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
