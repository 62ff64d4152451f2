package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Inbound message types
const (
	TypeAudio  = "audio"
	TypePing   = "ping"
	TypeStatus = "status"
	TypeStop   = "stop"
)

// Outbound message types
const (
	TypeConnection       = "connection"
	TypeProcessing       = "processing"
	TypeTokenChunk       = "token_chunk"
	TypeSemanticChunk    = "semantic_chunk"
	TypeSequentialAudio  = "sequential_audio"
	TypeAudioInterrupted = "audio_interrupted"
	TypeComplete         = "chunked_streaming_complete"
	TypePong             = "pong"
	TypeError            = "error"
)

// Processing modes accepted on inbound audio messages
const (
	ModeSpeechToSpeech = "speech_to_speech"
)

// Envelope carries only the discriminator field of an inbound message
type Envelope struct {
	Type string `json:"type"`
}

// ParseType extracts the message type from a raw inbound frame
func ParseType(data []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("invalid JSON format: %w", err)
	}

	if env.Type == "" {
		return "", fmt.Errorf("missing message type")
	}

	return env.Type, nil
}

// AudioMessage is an inbound audio submission: base64 little-endian float32
// PCM plus processing preferences.
type AudioMessage struct {
	Type           string  `json:"type"`
	AudioData      string  `json:"audio_data"`
	Mode           string  `json:"mode"`
	ConversationID string  `json:"conversation_id,omitempty"`
	Voice          string  `json:"voice,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
}

// ParseAudioMessage decodes and validates an inbound audio frame
func ParseAudioMessage(data []byte) (*AudioMessage, error) {
	var msg AudioMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	if msg.AudioData == "" {
		return nil, fmt.Errorf("no audio data provided")
	}

	return &msg, nil
}

// ParseInto decodes a raw inbound frame into the given message struct
func ParseInto(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid JSON format: %w", err)
	}
	return nil
}

// StopMessage is a client-initiated conversation teardown
type StopMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// ConnectionMessage is the greeting sent after a successful handshake
type ConnectionMessage struct {
	Type         string           `json:"type"`
	Status       string           `json:"status"`
	Message      string           `json:"message"`
	ServerConfig ConnectionConfig `json:"server_config"`
}

// ConnectionConfig advertises the audio parameters the server expects
type ConnectionConfig struct {
	CaptureSampleRate   int `json:"capture_sample_rate"`
	SynthesisSampleRate int `json:"synthesis_sample_rate"`
	LatencyTargetMs     int `json:"latency_target_ms"`
}

// ProcessingMessage reports a pipeline stage transition for a conversation
type ProcessingMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Stage          string `json:"stage"`
	Message        string `json:"message"`
}

// TextChunkMessage carries a token fragment or semantic chunk event.
// Type distinguishes the two: token_chunk events stream every raw fragment,
// semantic_chunk events mark synthesizable units.
type TextChunkMessage struct {
	Type           string  `json:"type"`
	ConversationID string  `json:"conversation_id"`
	Text           string  `json:"text"`
	FullTextSoFar  string  `json:"full_text_so_far,omitempty"`
	ChunkID        string  `json:"chunk_id"`
	ChunkSequence  int     `json:"chunk_sequence"`
	BoundaryType   string  `json:"boundary_type"`
	Confidence     float64 `json:"confidence"`
	Timestamp      float64 `json:"timestamp"`
}

// SequentialAudioMessage carries one synthesized audio chunk, WAV-framed and
// base64-encoded, delivered strictly in enqueue order per conversation.
type SequentialAudioMessage struct {
	Type           string  `json:"type"`
	ConversationID string  `json:"conversation_id"`
	AudioData      string  `json:"audio_data"`
	SampleRate     int     `json:"sample_rate"`
	ChunkIndex     int     `json:"chunk_index"`
	Voice          string  `json:"voice"`
	TextSource     string  `json:"text_source"`
	ChunkID        string  `json:"chunk_id"`
	ChunkSizeBytes int     `json:"chunk_size_bytes"`
	QueuePosition  int     `json:"queue_position"`
	Format         string  `json:"format"`
	Timestamp      float64 `json:"timestamp"`
}

// AudioInterruptedMessage signals a barge-in: queued audio was discarded
// and the client should stop playback immediately.
type AudioInterruptedMessage struct {
	Type           string  `json:"type"`
	ConversationID string  `json:"conversation_id"`
	ClearedChunks  int     `json:"cleared_chunks"`
	Timestamp      float64 `json:"timestamp"`
}

// CompleteMessage reports aggregate timing for a finished turn
type CompleteMessage struct {
	Type                string  `json:"type"`
	ConversationID      string  `json:"conversation_id"`
	ResponseText        string  `json:"response_text"`
	TotalChunks         int     `json:"total_chunks"`
	TotalAudioChunks    int     `json:"total_audio_chunks"`
	TotalLatencyMs      float64 `json:"total_latency_ms"`
	FirstChunkLatencyMs float64 `json:"first_chunk_latency_ms"`
	FirstAudioLatencyMs float64 `json:"first_audio_latency_ms"`
	Success             bool    `json:"success"`
	Timestamp           float64 `json:"timestamp"`
}

// PongMessage answers an inbound ping
type PongMessage struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
}

// ErrorMessage reports a failed turn or an invalid request
type ErrorMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
	Stage          string `json:"stage,omitempty"`
}

// StatusMessage reports server-side state for an inbound status request
type StatusMessage struct {
	Type                string         `json:"type"`
	ConnectedClients    int            `json:"connected_clients"`
	ActiveConversations int            `json:"active_conversations"`
	Conversations       map[string]any `json:"conversations,omitempty"`
}

// Now returns the wall-clock timestamp used in wire messages, as fractional
// seconds since the Unix epoch.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
