package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/voxloop/voxloop/internal/chunker"
)

// Config represents the complete service configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	HTTP      HTTPConfig      `yaml:"http"`
	Audio     AudioConfig     `yaml:"audio"`
	VAD       VADConfig       `yaml:"vad"`
	Chunking  chunker.Config  `yaml:"chunking"`
	Queue     QueueConfig     `yaml:"queue"`
	Generate  GenerateConfig  `yaml:"generation"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains WebSocket server configuration
type ServerConfig struct {
	Port            int    `yaml:"port"`
	BindAddress     string `yaml:"bind_address"`
	MaxMessageBytes int64  `yaml:"max_message_bytes"`
	WriteTimeout    int    `yaml:"write_timeout"` // seconds
	PingInterval    int    `yaml:"ping_interval"` // seconds
	MaxConnections  int    `yaml:"max_connections"`
	LatencyTargetMs int    `yaml:"latency_target_ms"`
}

// HTTPConfig contains the monitoring HTTP API configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// AudioConfig contains audio format parameters
type AudioConfig struct {
	CaptureSampleRate   int `yaml:"capture_sample_rate"`   // Hz, inbound utterances
	SynthesisSampleRate int `yaml:"synthesis_sample_rate"` // Hz, outbound audio
	Channels            int `yaml:"channels"`
	BitDepth            int `yaml:"bit_depth"`
}

// VADConfig contains voice activity gate configuration
type VADConfig struct {
	SilenceThreshold  float64 `yaml:"silence_threshold"`   // RMS energy floor
	MinSpeechDuration float64 `yaml:"min_speech_duration"` // seconds
}

// QueueConfig contains audio delivery queue configuration
type QueueConfig struct {
	Capacity      int     `yaml:"capacity"`
	PacingDelayMs int     `yaml:"pacing_delay_ms"`
	StopTimeout   float64 `yaml:"stop_timeout"` // seconds
	LatencyWindow int     `yaml:"latency_window"`
	IdleTimeout   int     `yaml:"idle_timeout"` // seconds, 0 disables cleanup
}

// GenerateConfig contains generation backend configuration
type GenerateConfig struct {
	Endpoint      string  `yaml:"endpoint"`
	APIKey        string  `yaml:"api_key"`
	Model         string  `yaml:"model"`
	Timeout       int     `yaml:"timeout"` // seconds
	MaxRetries    int     `yaml:"max_retries"`
	MaxConcurrent int     `yaml:"max_concurrent"`
	Temperature   float64 `yaml:"temperature"`
	MaxTokens     int     `yaml:"max_tokens"`
}

// SynthesisConfig contains synthesis backend configuration
type SynthesisConfig struct {
	Endpoint      string  `yaml:"endpoint"`
	APIKey        string  `yaml:"api_key"`
	Timeout       int     `yaml:"timeout"` // seconds
	MaxRetries    int     `yaml:"max_retries"`
	MaxConcurrent int     `yaml:"max_concurrent"`
	DefaultVoice  string  `yaml:"default_voice"`
	DefaultSpeed  float64 `yaml:"default_speed"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Chunking.Validate(); err != nil {
		return fmt.Errorf("chunking config: %w", err)
	}

	if err := c.Queue.Validate(); err != nil {
		return fmt.Errorf("queue config: %w", err)
	}

	if err := c.Generate.Validate(); err != nil {
		return fmt.Errorf("generation config: %w", err)
	}

	if err := c.Synthesis.Validate(); err != nil {
		return fmt.Errorf("synthesis config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.MaxMessageBytes < 1024 {
		return fmt.Errorf("max_message_bytes must be at least 1024, got %d", s.MaxMessageBytes)
	}

	if s.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", s.WriteTimeout)
	}

	if s.PingInterval < 1 {
		return fmt.Errorf("ping_interval must be at least 1 second, got %d", s.PingInterval)
	}

	if s.MaxConnections < 1 {
		return fmt.Errorf("max_connections must be at least 1, got %d", s.MaxConnections)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.CaptureSampleRate < 8000 {
		return fmt.Errorf("capture_sample_rate must be at least 8000 Hz, got %d", a.CaptureSampleRate)
	}

	if a.SynthesisSampleRate < 8000 {
		return fmt.Errorf("synthesis_sample_rate must be at least 8000 Hz, got %d", a.SynthesisSampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.SilenceThreshold <= 0 || v.SilenceThreshold >= 1 {
		return fmt.Errorf("silence_threshold must be between 0 and 1 (exclusive), got %f", v.SilenceThreshold)
	}

	if v.MinSpeechDuration <= 0 {
		return fmt.Errorf("min_speech_duration must be positive, got %f", v.MinSpeechDuration)
	}

	return nil
}

// Validate validates queue configuration
func (q *QueueConfig) Validate() error {
	if q.Capacity < 1 {
		return fmt.Errorf("capacity must be at least 1, got %d", q.Capacity)
	}

	if q.PacingDelayMs < 0 {
		return fmt.Errorf("pacing_delay_ms cannot be negative, got %d", q.PacingDelayMs)
	}

	if q.StopTimeout <= 0 {
		return fmt.Errorf("stop_timeout must be positive, got %f", q.StopTimeout)
	}

	if q.LatencyWindow < 1 {
		return fmt.Errorf("latency_window must be at least 1, got %d", q.LatencyWindow)
	}

	if q.IdleTimeout < 0 {
		return fmt.Errorf("idle_timeout cannot be negative, got %d", q.IdleTimeout)
	}

	return nil
}

// Validate validates generation backend configuration
func (g *GenerateConfig) Validate() error {
	if g.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if g.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", g.Timeout)
	}

	if g.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", g.MaxRetries)
	}

	if g.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", g.MaxConcurrent)
	}

	return nil
}

// Validate validates synthesis backend configuration
func (s *SynthesisConfig) Validate() error {
	if s.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
	}

	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", s.MaxRetries)
	}

	if s.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", s.MaxConcurrent)
	}

	if s.DefaultVoice == "" {
		return fmt.Errorf("default_voice cannot be empty")
	}

	if s.DefaultSpeed <= 0 {
		return fmt.Errorf("default_speed must be positive, got %f", s.DefaultSpeed)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetWriteTimeout returns the WebSocket write timeout as a time.Duration
func (s *ServerConfig) GetWriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// GetPingInterval returns the WebSocket ping interval as a time.Duration
func (s *ServerConfig) GetPingInterval() time.Duration {
	return time.Duration(s.PingInterval) * time.Second
}

// GetPacingDelay returns the inter-chunk pacing delay as a time.Duration
func (q *QueueConfig) GetPacingDelay() time.Duration {
	return time.Duration(q.PacingDelayMs) * time.Millisecond
}

// GetStopTimeout returns the worker join timeout as a time.Duration
func (q *QueueConfig) GetStopTimeout() time.Duration {
	return time.Duration(q.StopTimeout * float64(time.Second))
}

// GetIdleTimeout returns the idle conversation timeout as a time.Duration
func (q *QueueConfig) GetIdleTimeout() time.Duration {
	return time.Duration(q.IdleTimeout) * time.Second
}

// GetTimeoutDuration returns the generation timeout as a time.Duration
func (g *GenerateConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(g.Timeout) * time.Second
}

// GetTimeoutDuration returns the synthesis timeout as a time.Duration
func (s *SynthesisConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}
