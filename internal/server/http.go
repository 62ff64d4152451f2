package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxloop/voxloop/internal/config"
	"github.com/voxloop/voxloop/internal/generate"
	"github.com/voxloop/voxloop/internal/metrics"
	"github.com/voxloop/voxloop/internal/queue"
	"github.com/voxloop/voxloop/internal/synth"
	"github.com/voxloop/voxloop/internal/vad"
)

// HTTPServer provides HTTP API endpoints for monitoring and management
type HTTPServer struct {
	server    *http.Server
	logger    *slog.Logger
	config    *config.Config
	queues    *queue.Manager
	wsServer  *WSServer
	detector  *vad.Detector
	generator *generate.Client
	synth     *synth.Client
	metrics   *metrics.Metrics

	// Server state
	startTime time.Time
	mu        sync.RWMutex
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, queues *queue.Manager, wsServer *WSServer,
	detector *vad.Detector, generator *generate.Client, synthClient *synth.Client, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		queues:    queues,
		wsServer:  wsServer,
		detector:  detector,
		generator: generator,
		synth:     synthClient,
		metrics:   m,
		startTime: time.Now(),
	}

	// Create HTTP server with routes
	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Conversation monitoring endpoints
	mux.HandleFunc("/conversations", h.withMetrics("/conversations", h.handleConversations))
	mux.HandleFunc("/conversations/", h.withMetrics("/conversations/{id}", h.handleConversationDetail))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		// Call the original handler
		handler(ww, r)

		// Record metrics
		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		// Record error if status code indicates an error
		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	vadStats := h.detector.GetStats()
	generateStats := h.generator.GetStats()
	synthStats := h.synth.GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "voxloop",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"websocket_server": map[string]interface{}{
				"status":            "running",
				"connected_clients": h.wsServer.ConnectedClients(),
			},
			"queue_manager": map[string]interface{}{
				"status":               "running",
				"active_conversations": h.queues.ActiveConversations(),
			},
			"vad": map[string]interface{}{
				"total_buffers":     vadStats.TotalBuffers,
				"speech_buffers":    vadStats.SpeechBuffers,
				"speech_percentage": vadStats.SpeechPercentage,
			},
			"generation": map[string]interface{}{
				"status":          "running",
				"total_requests":  generateStats.TotalRequests,
				"success_rate":    generateStats.SuccessRate,
				"active_requests": generateStats.ActiveRequests,
			},
			"synthesis": map[string]interface{}{
				"status":          "running",
				"total_requests":  synthStats.TotalRequests,
				"success_rate":    synthStats.SuccessRate,
				"active_requests": synthStats.ActiveRequests,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleConversations implements the /conversations endpoint
func (h *HTTPServer) handleConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	allStats := h.queues.GetAllStats()
	conversations := make([]queue.Stats, 0, len(allStats))
	for _, st := range allStats {
		conversations = append(conversations, st)
	}

	response := map[string]interface{}{
		"total_conversations": len(conversations),
		"timestamp":           time.Now().UTC(),
		"conversations":       conversations,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleConversationDetail implements the /conversations/{id} endpoint
func (h *HTTPServer) handleConversationDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Extract conversation ID from URL path
	conversationID := r.URL.Path[len("/conversations/"):]
	if conversationID == "" {
		http.Error(w, "Conversation ID required", http.StatusBadRequest)
		return
	}

	stats, exists := h.queues.GetStats(conversationID)
	if !exists {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"port":              h.config.Server.Port,
			"bind_address":      h.config.Server.BindAddress,
			"max_message_bytes": h.config.Server.MaxMessageBytes,
			"max_connections":   h.config.Server.MaxConnections,
			"latency_target_ms": h.config.Server.LatencyTargetMs,
		},
		"audio": map[string]interface{}{
			"capture_sample_rate":   h.config.Audio.CaptureSampleRate,
			"synthesis_sample_rate": h.config.Audio.SynthesisSampleRate,
			"channels":              h.config.Audio.Channels,
			"bit_depth":             h.config.Audio.BitDepth,
		},
		"vad": map[string]interface{}{
			"silence_threshold":   h.config.VAD.SilenceThreshold,
			"min_speech_duration": h.config.VAD.MinSpeechDuration,
		},
		"chunking": map[string]interface{}{
			"min_words_per_chunk":  h.config.Chunking.MinWordsPerChunk,
			"max_words_per_chunk":  h.config.Chunking.MaxWordsPerChunk,
			"min_tokens_per_chunk": h.config.Chunking.MinTokensPerChunk,
			"max_tokens_per_chunk": h.config.Chunking.MaxTokensPerChunk,
			"confidence_threshold": h.config.Chunking.ConfidenceThreshold,
		},
		"queue": map[string]interface{}{
			"capacity":        h.config.Queue.Capacity,
			"pacing_delay_ms": h.config.Queue.PacingDelayMs,
			"stop_timeout":    h.config.Queue.StopTimeout,
			"latency_window":  h.config.Queue.LatencyWindow,
			"idle_timeout":    h.config.Queue.IdleTimeout,
		},
		"generation": map[string]interface{}{
			"endpoint":       h.config.Generate.Endpoint,
			"model":          h.config.Generate.Model,
			"timeout":        h.config.Generate.Timeout,
			"max_retries":    h.config.Generate.MaxRetries,
			"max_concurrent": h.config.Generate.MaxConcurrent,
			// Note: API key is intentionally omitted for security
		},
		"synthesis": map[string]interface{}{
			"endpoint":       h.config.Synthesis.Endpoint,
			"timeout":        h.config.Synthesis.Timeout,
			"max_retries":    h.config.Synthesis.MaxRetries,
			"max_concurrent": h.config.Synthesis.MaxConcurrent,
			"default_voice":  h.config.Synthesis.DefaultVoice,
			"default_speed":  h.config.Synthesis.DefaultSpeed,
			// Note: API key is intentionally omitted for security
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	vadStats := h.detector.GetStats()
	uptime := time.Since(h.startTime)

	stats := map[string]interface{}{
		"uptime":    uptime.String(),
		"timestamp": time.Now().UTC(),
		"connections": map[string]interface{}{
			"connected_clients": h.wsServer.ConnectedClients(),
		},
		"vad":        vadStats,
		"generation": h.generator.GetStats(),
		"synthesis":  h.synth.GetStats(),
		"conversations": map[string]interface{}{
			"active_count": h.queues.ActiveConversations(),
			"queues":       h.queues.GetAllStats(),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Voxloop Speech-to-Speech Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                   "API documentation",
			"GET /health":             "Service health check",
			"GET /conversations":      "List all active conversations",
			"GET /conversations/{id}": "Get detailed conversation information",
			"GET /config":             "Get service configuration",
			"GET /stats":              "Get service statistics",
			"GET /metrics":            "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
