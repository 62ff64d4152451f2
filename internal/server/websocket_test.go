package server

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/voxloop/voxloop/internal/config"
	"github.com/voxloop/voxloop/internal/metrics"
	"github.com/voxloop/voxloop/internal/pipeline"
	"github.com/voxloop/voxloop/internal/protocol"
	"github.com/voxloop/voxloop/internal/queue"
	"github.com/voxloop/voxloop/internal/vad"
)

type stubStream struct {
	fragments []pipeline.TokenFragment
	pos       int
}

func (s *stubStream) Next(ctx context.Context) (pipeline.TokenFragment, error) {
	if s.pos >= len(s.fragments) {
		return pipeline.TokenFragment{}, io.EOF
	}
	frag := s.fragments[s.pos]
	s.pos++
	return frag, nil
}

func (s *stubStream) Close() error { return nil }

type stubGenerator struct{}

func (stubGenerator) GenerateTokens(ctx context.Context, samples []float32) (pipeline.TokenStream, error) {
	return &stubStream{fragments: []pipeline.TokenFragment{
		{Text: "Hello ", TokenID: 0},
		{Text: "there ", TokenID: 1},
		{Text: "friend.", TokenID: 2},
	}}, nil
}

type stubSynthesizer struct{}

func (stubSynthesizer) Synthesize(ctx context.Context, text, voice string, speed float64) ([]byte, error) {
	return make([]byte, 960), nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:            8765,
			BindAddress:     "127.0.0.1",
			MaxMessageBytes: 1 << 20,
			WriteTimeout:    2,
			PingInterval:    1,
			MaxConnections:  4,
			LatencyTargetMs: 200,
		},
		Audio: config.AudioConfig{
			CaptureSampleRate:   16000,
			SynthesisSampleRate: 24000,
			Channels:            1,
			BitDepth:            16,
		},
	}
}

// newTestServer runs the connection handler on an httptest listener so tests
// can dial it with a real WebSocket client.
func newTestServer(t *testing.T) (*WSServer, *httptest.Server) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New(prometheus.NewRegistry())

	detector, err := vad.NewDetector(vad.DefaultConfig())
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}

	qcfg := queue.DefaultConfig()
	qcfg.PacingDelay = time.Millisecond
	qcfg.StopTimeout = 500 * time.Millisecond
	queues := queue.NewManager(logger, qcfg, m)
	t.Cleanup(queues.Stop)

	coordinator, err := pipeline.NewCoordinator(logger, pipeline.DefaultConfig(), detector, stubGenerator{}, stubSynthesizer{}, queues, m)
	if err != nil {
		t.Fatalf("NewCoordinator failed: %v", err)
	}

	s := NewWSServer(logger, testConfig(), coordinator, queues, m)
	ts := httptest.NewServer(http.HandlerFunc(s.handleConnection))
	t.Cleanup(func() {
		s.cancel()
		ts.Close()
	})

	return s, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// utteranceB64 encodes a sine buffer loud and long enough to pass the gate
func utteranceB64(sampleRate int, seconds float64) string {
	n := int(float64(sampleRate) * seconds)
	raw := make([]byte, n*4)
	for i := 0; i < n; i++ {
		v := 0.5 * float32(math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func TestConnectionGreeting(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var greeting protocol.ConnectionMessage
	if err := conn.ReadJSON(&greeting); err != nil {
		t.Fatalf("Failed to read greeting: %v", err)
	}
	if greeting.Type != protocol.TypeConnection {
		t.Errorf("Expected type %q, got %q", protocol.TypeConnection, greeting.Type)
	}
	if greeting.ServerConfig.CaptureSampleRate != 16000 {
		t.Errorf("Expected capture rate 16000, got %d", greeting.ServerConfig.CaptureSampleRate)
	}
	if greeting.ServerConfig.SynthesisSampleRate != 24000 {
		t.Errorf("Expected synthesis rate 24000, got %d", greeting.ServerConfig.SynthesisSampleRate)
	}
}

func TestKeepalivePing(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(appData string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return conn.WriteControl(websocket.PongMessage, nil, time.Now().Add(time.Second))
	})

	// Control frames are only processed while reading
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(3 * time.Second):
		t.Fatal("Expected a keepalive ping within the ping interval")
	}
}

func TestDeadPeerDisconnected(t *testing.T) {
	s, ts := newTestServer(t)
	dial(t, ts)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.ConnectedClients() == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if s.ConnectedClients() != 1 {
		t.Fatal("Expected client to be connected")
	}

	// Never read from the connection, so no pongs go back. The server's read
	// deadline expires after two missed ping intervals and the connection is
	// torn down without any client action.
	deadline = time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.ConnectedClients() == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("Expected dead peer to be disconnected")
}

func TestAudioTurnOverWebSocket(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)

	msg := protocol.AudioMessage{
		Type:           protocol.TypeAudio,
		AudioData:      utteranceB64(16000, 1.0),
		Mode:           protocol.ModeSpeechToSpeech,
		ConversationID: "conv1",
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("Failed to send audio message: %v", err)
	}

	counts := map[string]int{}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Read failed before completion: %v (seen: %v)", err, counts)
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			t.Fatalf("Malformed frame: %v", err)
		}
		counts[envelope.Type]++

		if envelope.Type == protocol.TypeComplete {
			break
		}
	}

	if counts[protocol.TypeProcessing] != 1 {
		t.Errorf("Expected 1 processing event, got %d", counts[protocol.TypeProcessing])
	}
	if counts[protocol.TypeTokenChunk] != 3 {
		t.Errorf("Expected 3 token events, got %d", counts[protocol.TypeTokenChunk])
	}
	if counts[protocol.TypeSemanticChunk] == 0 {
		t.Error("Expected semantic chunk events")
	}
}
