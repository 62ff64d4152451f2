package generate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxloop/voxloop/internal/audio"
	"github.com/voxloop/voxloop/internal/pipeline"
)

// Client provides HTTP client functionality for the generation backend
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{} // Rate limiting semaphore

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64

	mu sync.RWMutex
}

// Config contains generation client configuration
type Config struct {
	Endpoint      string
	APIKey        string
	Model         string
	Timeout       time.Duration // dial and header timeout; the stream itself is bounded by ctx
	MaxRetries    int
	MaxConcurrent int
	SampleRate    int // capture rate of uploaded utterances
	Temperature   float64
	MaxTokens     int
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64  `json:"total_requests"`
	SuccessRequests uint64  `json:"success_requests"`
	FailedRequests  uint64  `json:"failed_requests"`
	SuccessRate     float64 `json:"success_rate"`
	TotalRetries    uint64  `json:"total_retries"`
	ActiveRequests  int     `json:"active_requests"`
}

// tokenEvent is one NDJSON line from the backend stream
type tokenEvent struct {
	Text    string `json:"text"`
	TokenID int    `json:"token_id"`
	Done    bool   `json:"done"`
	Error   string `json:"error,omitempty"`
}

// NewClient creates a new generation HTTP client
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 2
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}

	// No http.Client.Timeout here: it would cut the token stream mid-read.
	// The response header timeout bounds the initial wait and the caller's
	// ctx bounds the stream lifetime.
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: config.Timeout,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// GenerateTokens uploads an utterance and returns the streaming token
// response. The returned stream holds a connection slot until Close is
// called or the stream is exhausted.
func (c *Client) GenerateTokens(ctx context.Context, samples []float32) (pipeline.TokenStream, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("empty audio buffer")
	}

	// Acquire semaphore for rate limiting
	select {
	case c.semaphore <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	releaseOnce := sync.OnceFunc(func() { <-c.semaphore })
	c.incrementTotalRequests()

	pcm := audio.Float32ToPCM16(samples)
	wavData, err := audio.PCMToWAV(pcm, c.config.SampleRate, 1, 16)
	if err != nil {
		releaseOnce()
		c.incrementFailedRequests()
		return nil, fmt.Errorf("failed to frame utterance: %w", err)
	}

	var lastErr error

	// Retry loop with exponential backoff; only the initial request is
	// retried, never a partially consumed stream.
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()

			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			if backoffTime > 10*time.Second {
				backoffTime = 10 * time.Second
			}

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				releaseOnce()
				return nil, ctx.Err()
			}
		}

		body, err := c.doRequest(ctx, wavData)
		if err == nil {
			c.incrementSuccessRequests()
			return &tokenStream{
				body:    body,
				scanner: bufio.NewScanner(body),
				release: releaseOnce,
			}, nil
		}

		lastErr = err

		if !isRetryableError(err) {
			break
		}
	}

	releaseOnce()
	c.incrementFailedRequests()
	return nil, fmt.Errorf("generation request failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// doRequest performs a single HTTP request and returns the response body on
// success. The body is the live NDJSON stream; the caller owns closing it.
func (c *Client) doRequest(ctx context.Context, wavData []byte) (io.ReadCloser, error) {
	body, contentType, err := c.createMultipartRequest(wavData)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	httpReq.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	return resp.Body, nil
}

// createMultipartRequest creates a multipart/form-data request body
func (c *Client) createMultipartRequest(wavData []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"request_id":      uuid.NewString(),
		"sample_rate":     fmt.Sprintf("%d", c.config.SampleRate),
		"format":          "wav",
		"response_format": "ndjson",
	}
	if c.config.Model != "" {
		fields["model"] = c.config.Model
	}
	if c.config.Temperature > 0 {
		fields["temperature"] = fmt.Sprintf("%.2f", c.config.Temperature)
	}
	if c.config.MaxTokens > 0 {
		fields["max_tokens"] = fmt.Sprintf("%d", c.config.MaxTokens)
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// isRetryableError determines if an error is retryable
func isRetryableError(err error) bool {
	if err == context.DeadlineExceeded {
		return true
	}

	errStr := err.Error()

	// 5xx server errors and rate limiting are retryable
	if strings.Contains(errStr, "HTTP error 5") {
		return true
	}
	if strings.Contains(errStr, "HTTP error 429") {
		return true
	}

	// Network/connection errors are typically retryable
	if strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "refused") {
		return true
	}

	return false
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		ActiveRequests:  len(c.semaphore),
	}
}

// tokenStream adapts the NDJSON response body to the pull-based token
// iterator. Single consumer; Close is safe to call more than once.
type tokenStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	release func()
	closed  sync.Once
}

// Next returns the next token fragment or io.EOF at end of stream
func (s *tokenStream) Next(ctx context.Context) (pipeline.TokenFragment, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.TokenFragment{}, err
	}

	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var ev tokenEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return pipeline.TokenFragment{}, fmt.Errorf("malformed token event: %w", err)
		}

		if ev.Error != "" {
			return pipeline.TokenFragment{}, fmt.Errorf("generation backend error: %s", ev.Error)
		}
		if ev.Done {
			return pipeline.TokenFragment{}, io.EOF
		}

		return pipeline.TokenFragment{
			Text:      ev.Text,
			TokenID:   ev.TokenID,
			Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
		}, nil
	}

	if err := s.scanner.Err(); err != nil {
		return pipeline.TokenFragment{}, fmt.Errorf("token stream read failed: %w", err)
	}

	return pipeline.TokenFragment{}, io.EOF
}

// Close releases the connection and the client's concurrency slot
func (s *tokenStream) Close() error {
	var err error
	s.closed.Do(func() {
		err = s.body.Close()
		s.release()
	})
	return err
}
