package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxloop/voxloop/internal/audio"
	"github.com/voxloop/voxloop/internal/config"
	"github.com/voxloop/voxloop/internal/metrics"
	"github.com/voxloop/voxloop/internal/pipeline"
	"github.com/voxloop/voxloop/internal/protocol"
	"github.com/voxloop/voxloop/internal/queue"
)

// WSServer accepts client WebSocket connections and dispatches their
// messages into the pipeline.
type WSServer struct {
	server      *http.Server
	upgrader    websocket.Upgrader
	logger      *slog.Logger
	config      *config.Config
	coordinator *pipeline.Coordinator
	queues      *queue.Manager
	metrics     *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	clients map[*client]struct{}
	wg      sync.WaitGroup
}

// client is one connected WebSocket peer. Its SendJSON serializes all
// outbound writes, so it doubles as the delivery transport for the
// conversations it owns.
type client struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration
	pingInterval time.Duration

	writeMu sync.Mutex

	mu            sync.Mutex
	conversations map[string]struct{}
}

// SendJSON writes one JSON frame with the configured write deadline
func (c *client) SendJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// sendPing writes a control ping under the write lock
func (c *client) sendPing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// trackConversation records a conversation as owned by this connection
func (c *client) trackConversation(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversations[conversationID] = struct{}{}
}

// releaseConversation removes a conversation from this connection
func (c *client) releaseConversation(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conversations, conversationID)
}

// ownedConversations returns a snapshot of this connection's conversations
func (c *client) ownedConversations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.conversations))
	for id := range c.conversations {
		ids = append(ids, id)
	}
	return ids
}

// NewWSServer creates the WebSocket server
func NewWSServer(logger *slog.Logger, cfg *config.Config, coordinator *pipeline.Coordinator, queues *queue.Manager, m *metrics.Metrics) *WSServer {
	ctx, cancel := context.WithCancel(context.Background())

	s := &WSServer{
		logger:      logger,
		config:      cfg,
		coordinator: coordinator,
		queues:      queues,
		metrics:     m,
		ctx:         ctx,
		cancel:      cancel,
		clients:     make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients connect from arbitrary origins (native apps, local pages)
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleConnection)

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port),
		Handler: mux,
	}

	return s
}

// Start starts accepting WebSocket connections
func (s *WSServer) Start() error {
	s.logger.Info("Starting WebSocket server",
		slog.String("address", s.server.Addr),
	)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("WebSocket server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop closes all client connections and shuts down the listener
func (s *WSServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping WebSocket server...")

	s.cancel()

	s.mu.RLock()
	for c := range s.clients {
		c.conn.Close()
	}
	s.mu.RUnlock()

	err := s.server.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for connection handlers")
	}

	return err
}

// ConnectedClients returns the current number of connected clients
func (s *WSServer) ConnectedClients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// handleConnection upgrades one HTTP request and runs its message loop
func (s *WSServer) handleConnection(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	connected := len(s.clients)
	s.mu.RUnlock()

	if connected >= s.config.Server.MaxConnections {
		s.logger.Warn("Connection rejected, at capacity",
			slog.Int("connected", connected),
		)
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		id:            uuid.NewString(),
		conn:          conn,
		writeTimeout:  s.config.Server.GetWriteTimeout(),
		pingInterval:  s.config.Server.GetPingInterval(),
		conversations: make(map[string]struct{}),
	}

	conn.SetReadLimit(s.config.Server.MaxMessageBytes)

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.metrics.ConnectionsActive.Inc()

	s.logger.Info("Client connected",
		slog.String("client_id", c.id),
		slog.String("remote_addr", conn.RemoteAddr().String()),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.serveClient(c)
	}()
}

// serveClient greets the client and runs its read loop until disconnect.
// A control ping goes out every ping interval and the read deadline is
// extended on each pong, so a dead peer fails the read within two intervals
// instead of holding its conversations forever.
func (s *WSServer) serveClient(c *client) {
	defer s.disconnectClient(c)

	if c.pingInterval > 0 {
		pongWait := 2 * c.pingInterval
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(pongWait))
		})

		stop := make(chan struct{})
		defer close(stop)
		go s.pingLoop(c, stop)
	}

	greeting := protocol.ConnectionMessage{
		Type:    protocol.TypeConnection,
		Status:  "connected",
		Message: "Speech-to-speech streaming ready",
		ServerConfig: protocol.ConnectionConfig{
			CaptureSampleRate:   s.config.Audio.CaptureSampleRate,
			SynthesisSampleRate: s.config.Audio.SynthesisSampleRate,
			LatencyTargetMs:     s.config.Server.LatencyTargetMs,
		},
	}
	if err := c.SendJSON(greeting); err != nil {
		s.logger.Warn("Failed to send greeting",
			slog.String("client_id", c.id),
			slog.String("error", err.Error()),
		)
		return
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("Unexpected connection close",
					slog.String("client_id", c.id),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		s.dispatch(c, data)
	}
}

// pingLoop sends keepalive pings until the connection's read loop exits
func (s *WSServer) pingLoop(c *client, stop <-chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := c.sendPing(); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

// dispatch routes one inbound frame by its type field
func (s *WSServer) dispatch(c *client, data []byte) {
	msgType, err := protocol.ParseType(data)
	if err != nil {
		s.sendError(c, "", err.Error(), "")
		return
	}

	s.metrics.MessagesReceived.WithLabelValues(msgType).Inc()

	switch msgType {
	case protocol.TypeAudio:
		s.handleAudio(c, data)
	case protocol.TypePing:
		s.sendJSON(c, protocol.PongMessage{
			Type:      protocol.TypePong,
			Timestamp: protocol.Now(),
		})
	case protocol.TypeStatus:
		s.handleStatus(c)
	case protocol.TypeStop:
		s.handleStop(c, data)
	default:
		s.sendError(c, "", fmt.Sprintf("unknown message type: %s", msgType), "")
	}
}

// handleAudio decodes an utterance and runs a turn for it. The turn runs in
// its own goroutine so the read loop stays responsive for barge-in.
func (s *WSServer) handleAudio(c *client, data []byte) {
	msg, err := protocol.ParseAudioMessage(data)
	if err != nil {
		s.sendError(c, "", err.Error(), "")
		return
	}

	if msg.Mode != "" && msg.Mode != protocol.ModeSpeechToSpeech {
		s.sendError(c, msg.ConversationID, fmt.Sprintf("unsupported mode: %s", msg.Mode), "")
		return
	}

	buf, err := audio.DecodeFloat32(msg.AudioData, s.config.Audio.CaptureSampleRate)
	if err != nil {
		s.sendError(c, msg.ConversationID, fmt.Sprintf("invalid audio data: %v", err), "")
		return
	}

	conversationID := msg.ConversationID
	if conversationID == "" {
		conversationID = "conv_" + uuid.NewString()
	}
	c.trackConversation(conversationID)

	req := &pipeline.TurnRequest{
		ConversationID: conversationID,
		Samples:        buf.Samples,
		SampleRate:     buf.SampleRate,
		Voice:          msg.Voice,
		Speed:          msg.Speed,
		Transport:      c,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		report, err := s.coordinator.ProcessTurn(s.ctx, req)
		if err != nil {
			s.logger.Error("Turn failed",
				slog.String("conversation_id", conversationID),
				slog.String("error", err.Error()),
			)
			return
		}

		if !report.Accepted {
			s.logger.Debug("Utterance rejected",
				slog.String("conversation_id", conversationID),
				slog.String("reason", report.RejectReason),
			)
		}
	}()
}

// handleStatus reports connection and conversation state
func (s *WSServer) handleStatus(c *client) {
	allStats := s.queues.GetAllStats()

	conversations := make(map[string]any, len(allStats))
	for id, st := range allStats {
		conversations[id] = st
	}

	s.sendJSON(c, protocol.StatusMessage{
		Type:                protocol.TypeStatus,
		ConnectedClients:    s.ConnectedClients(),
		ActiveConversations: s.queues.ActiveConversations(),
		Conversations:       conversations,
	})
}

// handleStop tears down one conversation on client request
func (s *WSServer) handleStop(c *client, data []byte) {
	var msg protocol.StopMessage
	if err := protocol.ParseInto(data, &msg); err != nil {
		s.sendError(c, "", err.Error(), "")
		return
	}

	if msg.ConversationID == "" {
		s.sendError(c, "", "conversation_id required", "")
		return
	}

	s.coordinator.EndConversation(msg.ConversationID)
	c.releaseConversation(msg.ConversationID)

	s.logger.Info("Conversation stopped by client",
		slog.String("client_id", c.id),
		slog.String("conversation_id", msg.ConversationID),
	)
}

// disconnectClient tears down all conversations owned by a connection
func (s *WSServer) disconnectClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	s.metrics.ConnectionsActive.Dec()

	for _, id := range c.ownedConversations() {
		s.coordinator.EndConversation(id)
	}

	c.conn.Close()

	s.logger.Info("Client disconnected",
		slog.String("client_id", c.id),
	)
}

func (s *WSServer) sendError(c *client, conversationID, message, stage string) {
	s.sendJSON(c, protocol.ErrorMessage{
		Type:           protocol.TypeError,
		ConversationID: conversationID,
		Message:        message,
		Stage:          stage,
	})
}

func (s *WSServer) sendJSON(c *client, v any) {
	if err := c.SendJSON(v); err != nil {
		s.logger.Warn("Failed to send message",
			slog.String("client_id", c.id),
			slog.String("error", err.Error()),
		)
		s.metrics.SendErrors.Inc()
	}
}
