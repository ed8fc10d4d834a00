// Package server hosts advancement sessions over WebSocket. Each connection
// drives at most one session at a time with JSON messages.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/thraizz/advancement-server-go/internal/config"
	"github.com/thraizz/advancement-server-go/internal/game/advancement"
	"github.com/thraizz/advancement-server-go/internal/game/character"
	"github.com/thraizz/advancement-server-go/internal/game/manager"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 64
)

// Inbound message types.
const (
	MessageStart   = "start"
	MessageAdvance = "advance"
	MessageRetreat = "retreat"
	MessageRestart = "restart"
	MessageCommit  = "commit"
	MessageClose   = "close"
)

// Outbound message types.
const (
	MessageStep     = "step"
	MessageComplete = "complete"
	MessageIdle     = "idle"
	MessageNotice   = "notice"
	MessageError    = "error"
	MessageClosed   = "closed"
)

// Message is the envelope for every frame in both directions.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// StartRequest picks a session factory and its arguments.
type StartRequest struct {
	Factory       string                   `json:"factory"`
	CharacterID   string                   `json:"character_id"`
	ItemID        string                   `json:"item_id,omitempty"`
	AdvancementID string                   `json:"advancement_id,omitempty"`
	Delta         int                      `json:"delta,omitempty"`
	Level         int                      `json:"level,omitempty"`
	Item          *character.Item          `json:"item,omitempty"`
	Advancements  []*character.Advancement `json:"advancements,omitempty"`
}

// SessionStatus describes where a session stands after a message was handled.
type SessionStatus struct {
	SessionID string              `json:"session_id"`
	State     string              `json:"state"`
	Cursor    int                 `json:"cursor"`
	StepCount int                 `json:"step_count"`
	Step      *manager.StepView   `json:"step,omitempty"`
	Prompt    *advancement.Prompt `json:"prompt,omitempty"`
	Steps     []manager.StepView  `json:"steps,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// ErrorPayload is sent with MessageError.
type ErrorPayload struct {
	Error string `json:"error"`
}

// WebSocketServer upgrades connections and routes their messages to sessions.
type WebSocketServer struct {
	manager  *manager.Manager
	logger   *zap.Logger
	path     string
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]bool
}

// NewWebSocketServer creates a server handling cfg.Path.
func NewWebSocketServer(cfg config.WebSocketConfig, mgr *manager.Manager, logger *zap.Logger) *WebSocketServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketServer{
		manager: mgr,
		logger:  logger,
		path:    cfg.Path,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]bool),
	}
}

// Handler returns a mux serving the WebSocket endpoint and a health check.
func (s *WebSocketServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.path, s)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":          "ok",
			"active_sessions": s.manager.ActiveSessions(),
		})
	})
	return mux
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		server: s,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		logger: s.logger.With(zap.String("remote_addr", r.RemoteAddr)),
	}
	s.register(c)
	c.logger.Debug("client connected")

	go c.writePump()
	c.readPump(r.Context())
}

// Connections returns the number of open connections.
func (s *WebSocketServer) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.clients)
}

// CloseAll disconnects every client.
func (s *WebSocketServer) CloseAll() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.Close()
	}
}

func (s *WebSocketServer) register(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients[c] = true
}

func (s *WebSocketServer) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.clients, c)
}

// StartWebSocketServer listens on cfg.Address until ctx is cancelled.
func StartWebSocketServer(ctx context.Context, cfg config.WebSocketConfig, mgr *manager.Manager, logger *zap.Logger) error {
	ws := NewWebSocketServer(cfg, mgr, logger)
	httpServer := &http.Server{
		Addr:              cfg.Address,
		Handler:           ws.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting WebSocket server",
			zap.String("address", cfg.Address),
			zap.String("path", cfg.Path),
		)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("websocket server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws.CloseAll()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("websocket shutdown: %w", err)
	}
	return nil
}

// client is one connection. Messages are handled in order on the read goroutine,
// so the session is never driven concurrently from one connection.
type client struct {
	server  *WebSocketServer
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	logger  *zap.Logger
	session *manager.Session
}

func (c *client) readPump(ctx context.Context) {
	defer func() {
		c.closeSession()
		c.server.unregister(c)
		close(c.done)
		_ = c.conn.Close()
		c.logger.Debug("client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError(fmt.Errorf("malformed message: %w", err))
			continue
		}
		c.handle(ctx, msg)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) handle(ctx context.Context, msg Message) {
	c.logger.Debug("message received", zap.String("type", msg.Type))

	switch msg.Type {
	case MessageStart:
		var req StartRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			c.sendError(fmt.Errorf("malformed start request: %w", err))
			return
		}
		c.start(ctx, req)

	case MessageAdvance:
		s, ok := c.current()
		if !ok {
			return
		}
		var data advancement.Data
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				c.sendError(fmt.Errorf("malformed advance data: %w", err))
				return
			}
		}
		c.report(s, s.Advance(ctx, data))

	case MessageRetreat:
		if s, ok := c.current(); ok {
			c.report(s, s.Retreat())
		}

	case MessageRestart:
		if s, ok := c.current(); ok {
			c.report(s, s.Restart())
		}

	case MessageCommit:
		if s, ok := c.current(); ok {
			c.report(s, s.Commit(ctx))
		}

	case MessageClose:
		if s, ok := c.current(); ok {
			c.report(s, s.Close())
		}

	default:
		c.sendError(fmt.Errorf("unknown message type %q", msg.Type))
	}
}

func (c *client) start(ctx context.Context, req StartRequest) {
	if c.session != nil {
		switch c.session.State() {
		case manager.StateCommitted, manager.StateClosed:
		default:
			c.sendError(fmt.Errorf("session %s is still open", c.session.ID()))
			return
		}
	}

	s, err := c.build(ctx, req)
	if err != nil {
		c.sendError(err)
		return
	}
	c.session = s
	c.logger.Info("session attached",
		zap.String("session_id", s.ID()),
		zap.String("kind", s.Kind()),
	)
	c.report(s, s.Start(ctx))
}

func (c *client) build(ctx context.Context, req StartRequest) (*manager.Session, error) {
	mgr := c.server.manager
	switch req.Factory {
	case "level_change":
		return mgr.ForLevelChange(ctx, req.CharacterID, req.ItemID, req.Delta)
	case "new_item":
		if req.Item == nil {
			return nil, errors.New("new_item needs an item")
		}
		return mgr.ForNewItem(ctx, req.CharacterID, req.Item)
	case "deleted_item":
		return mgr.ForDeletedItem(ctx, req.CharacterID, req.ItemID)
	case "deleted_advancement":
		return mgr.ForDeletedAdvancement(ctx, req.CharacterID, req.ItemID, req.AdvancementID)
	case "new_advancement":
		return mgr.ForNewAdvancement(ctx, req.CharacterID, req.ItemID, req.Advancements)
	case "modify_choices":
		return mgr.ForModifyChoices(ctx, req.CharacterID, req.ItemID, req.Level)
	default:
		return nil, fmt.Errorf("unknown factory %q", req.Factory)
	}
}

func (c *client) current() (*manager.Session, bool) {
	if c.session == nil {
		c.sendError(errors.New("no session started"))
		return nil, false
	}
	return c.session, true
}

// report sends the session's position after an operation. A rules violation is a
// notice: the session stays on the step and the user can correct the input.
func (c *client) report(s *manager.Session, opErr error) {
	status := SessionStatus{
		SessionID: s.ID(),
		State:     s.State().String(),
		Cursor:    s.Cursor(),
		StepCount: s.StepCount(),
	}
	if step, err := s.CurrentStep(); err == nil {
		status.Step = &step
		if prompt, err := s.CurrentPrompt(); err == nil {
			status.Prompt = &prompt
		}
	}

	msgType := MessageStep
	switch s.State() {
	case manager.StateComplete, manager.StateCommitted:
		msgType = MessageComplete
		status.Steps = s.Steps()
	case manager.StateIdle:
		msgType = MessageIdle
	case manager.StateClosed:
		msgType = MessageClosed
	}

	if opErr != nil {
		status.Error = opErr.Error()
		switch {
		case advancement.IsRulesViolation(opErr):
			msgType = MessageNotice
		case s.State() != manager.StateClosed:
			// Busy, incomplete and similar refusals leave the session as it was.
			msgType = MessageError
		}
		c.logger.Debug("session operation failed",
			zap.String("session_id", s.ID()),
			zap.Error(opErr),
		)
	}

	c.sendJSON(msgType, status)
}

func (c *client) closeSession() {
	if c.session == nil {
		return
	}
	if err := c.session.Close(); err != nil {
		c.logger.Warn("failed to close session on disconnect",
			zap.String("session_id", c.session.ID()),
			zap.Error(err),
		)
	}
}

func (c *client) sendError(err error) {
	c.logger.Debug("sending error", zap.Error(err))
	c.sendJSON(MessageError, ErrorPayload{Error: err.Error()})
}

func (c *client) sendJSON(msgType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("failed to encode payload", zap.String("type", msgType), zap.Error(err))
		return
	}
	frame, err := json.Marshal(Message{Type: msgType, Data: data})
	if err != nil {
		c.logger.Error("failed to encode message", zap.String("type", msgType), zap.Error(err))
		return
	}

	select {
	case c.send <- frame:
	case <-c.done:
	default:
		c.logger.Warn("send buffer full, dropping message", zap.String("type", msgType))
	}
}
