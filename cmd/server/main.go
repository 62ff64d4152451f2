package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/voxloop/voxloop/internal/config"
	"github.com/voxloop/voxloop/internal/generate"
	"github.com/voxloop/voxloop/internal/metrics"
	"github.com/voxloop/voxloop/internal/pipeline"
	"github.com/voxloop/voxloop/internal/queue"
	"github.com/voxloop/voxloop/internal/server"
	"github.com/voxloop/voxloop/internal/synth"
	"github.com/voxloop/voxloop/internal/vad"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "voxloop"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("ws_port", cfg.Server.Port),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("max_connections", cfg.Server.MaxConnections),
		slog.Int("capture_sample_rate", cfg.Audio.CaptureSampleRate),
		slog.Int("synthesis_sample_rate", cfg.Audio.SynthesisSampleRate),
		slog.Float64("vad_silence_threshold", cfg.VAD.SilenceThreshold),
		slog.Float64("vad_min_speech_duration", cfg.VAD.MinSpeechDuration),
		slog.String("generation_endpoint", cfg.Generate.Endpoint),
		slog.String("synthesis_endpoint", cfg.Synthesis.Endpoint),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.New(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	// Initialize the VAD gate
	detector, err := vad.NewDetector(vad.Config{
		SilenceThreshold:  cfg.VAD.SilenceThreshold,
		MinSpeechDuration: cfg.VAD.MinSpeechDuration,
	})
	if err != nil {
		logger.Error("Failed to create VAD detector", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize the generation backend client
	generator, err := generate.NewClient(generate.Config{
		Endpoint:      cfg.Generate.Endpoint,
		APIKey:        cfg.Generate.APIKey,
		Model:         cfg.Generate.Model,
		Timeout:       cfg.Generate.GetTimeoutDuration(),
		MaxRetries:    cfg.Generate.MaxRetries,
		MaxConcurrent: cfg.Generate.MaxConcurrent,
		SampleRate:    cfg.Audio.CaptureSampleRate,
		Temperature:   cfg.Generate.Temperature,
		MaxTokens:     cfg.Generate.MaxTokens,
	})
	if err != nil {
		logger.Error("Failed to create generation client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize the synthesis backend client
	synthClient, err := synth.NewClient(synth.Config{
		Endpoint:      cfg.Synthesis.Endpoint,
		APIKey:        cfg.Synthesis.APIKey,
		Timeout:       cfg.Synthesis.GetTimeoutDuration(),
		MaxRetries:    cfg.Synthesis.MaxRetries,
		MaxConcurrent: cfg.Synthesis.MaxConcurrent,
		SampleRate:    cfg.Audio.SynthesisSampleRate,
	})
	if err != nil {
		logger.Error("Failed to create synthesis client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize the audio delivery queue manager
	queueMgr := queue.NewManager(logger, queue.Config{
		QueueCapacity: cfg.Queue.Capacity,
		PacingDelay:   cfg.Queue.GetPacingDelay(),
		StopTimeout:   cfg.Queue.GetStopTimeout(),
		LatencyWindow: cfg.Queue.LatencyWindow,
		IdleTimeout:   cfg.Queue.GetIdleTimeout(),
	}, appMetrics)
	logger.Info("Queue manager initialized")

	// Initialize the turn coordinator
	coordinator, err := pipeline.NewCoordinator(logger, pipeline.Config{
		DefaultVoice:        cfg.Synthesis.DefaultVoice,
		DefaultSpeed:        cfg.Synthesis.DefaultSpeed,
		CaptureSampleRate:   cfg.Audio.CaptureSampleRate,
		SynthesisSampleRate: cfg.Audio.SynthesisSampleRate,
		Chunker:             cfg.Chunking,
	}, detector, generator, synthClient, queueMgr, appMetrics)
	if err != nil {
		logger.Error("Failed to create pipeline coordinator", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Pipeline coordinator initialized")

	// Initialize WebSocket server
	wsServer := server.NewWSServer(logger, cfg, coordinator, queueMgr, appMetrics)
	logger.Info("WebSocket server initialized")

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, queueMgr, wsServer, detector, generator, synthClient, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	// Start WebSocket server
	if err := wsServer.Start(); err != nil {
		logger.Error("Failed to start WebSocket server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start HTTP server (if enabled)
	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("ws_address", fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port)),
	)

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stop WebSocket server (close client connections)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := wsServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping WebSocket server", slog.String("error", err.Error()))
	}

	// Stop queue manager (drain conversations and stop workers)
	queueMgr.Stop()

	// Get final statistics
	vadStats := detector.GetStats()
	logger.Info("Final service statistics",
		slog.Uint64("buffers_processed", vadStats.TotalBuffers),
		slog.Uint64("speech_buffers", vadStats.SpeechBuffers),
		slog.Float64("speech_percentage", vadStats.SpeechPercentage),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
