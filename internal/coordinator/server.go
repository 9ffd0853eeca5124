// ABOUTME: Coordinator-side websocket listener accepting embedded-client connections.
// ABOUTME: Replies to heartbeats, absorbs redelivered messages, and fans out to handlers.

package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/coven-relay/internal/dedupe"
	"github.com/2389/coven-relay/internal/wire"
)

const (
	// dedupeTTL bounds how long a message digest is remembered. Drain
	// redelivery happens within seconds of a reconnect, so a short
	// window is enough.
	dedupeTTL = time.Minute

	dedupeMaxSize = 4096

	writeTimeout = 10 * time.Second
)

// Handler processes one inbound message from a client.
type Handler func(clientID string, msg wire.Message)

// Server is the coordinator endpoint embedded clients connect to. It
// owns no reconnect logic: clients reconnect, the server just accepts.
type Server struct {
	addr     string
	logger   *slog.Logger
	upgrader websocket.Upgrader
	window   *dedupe.Window

	mu       sync.RWMutex
	handlers map[wire.Type][]Handler
	clients  map[string]*clientConn

	httpServer *http.Server
}

// clientConn tracks one accepted client connection.
type clientConn struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// New creates a coordinator server listening on addr.
func New(addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:     addr,
		logger:   logger.With("component", "coordinator"),
		window:   dedupe.New(dedupeTTL, dedupeMaxSize),
		handlers: make(map[wire.Type][]Handler),
		clients:  make(map[string]*clientConn),
	}
}

// Handle registers a handler for one message type. Multiple handlers
// per type are allowed; registration must finish before Run.
func (s *Server) Handle(t wire.Type, fn Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[t] = append(s.handlers[t], fn)
}

// Run serves the websocket endpoint and health check until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/relay", s.handleRelay)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{Addr: s.addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("coordinator listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	s.window.Close()
	return nil
}

// handleHealth reports liveness and the connected-client count.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	count := len(s.clients)
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": count,
	})
}

// handleRelay upgrades the connection and runs the read loop for one
// client.
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "error", err)
		return
	}

	client := &clientConn{
		id:   uuid.New().String(),
		conn: conn,
	}

	s.mu.Lock()
	s.clients[client.id] = client
	total := len(s.clients)
	s.mu.Unlock()

	s.logger.Info("client connected", "client_id", client.id, "total_clients", total)

	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.clients, client.id)
		total := len(s.clients)
		s.mu.Unlock()
		s.logger.Info("client disconnected", "client_id", client.id, "total_clients", total)
	}()

	s.readLoop(client)
}

// readLoop consumes frames from one client until the connection fails.
// Malformed frames and unknown types are skipped, never fatal.
func (s *Server) readLoop(client *clientConn) {
	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}

		msg, err := wire.Decode(data)
		if err != nil {
			s.logger.Warn("dropping malformed frame", "client_id", client.id, "error", err)
			continue
		}

		if msg.Type == wire.TypeHeartbeat {
			s.sendAck(client)
			continue
		}

		if !msg.Type.Known() {
			s.logger.Debug("ignoring unknown message type", "client_id", client.id, "type", msg.Type)
			continue
		}

		// The channel redelivers queued messages after a reconnect when
		// a send erred despite reaching the wire. Identical frames from
		// the same client inside the window are duplicates.
		if s.window.Seen(dedupe.Key(client.id, data)) {
			s.logger.Debug("dropping redelivered message", "client_id", client.id, "type", msg.Type)
			continue
		}

		s.dispatch(client.id, msg)
	}
}

// sendAck replies to a liveness probe.
func (s *Server) sendAck(client *clientConn) {
	ack, err := wire.Encode(wire.New(wire.TypeHeartbeatAck, nil))
	if err != nil {
		return
	}

	client.writeMu.Lock()
	defer client.writeMu.Unlock()
	_ = client.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := client.conn.WriteMessage(websocket.TextMessage, ack); err != nil {
		s.logger.Debug("heartbeat ack failed", "client_id", client.id, "error", err)
	}
}

// Send pushes a message to a specific connected client.
func (s *Server) Send(clientID string, msg wire.Message) error {
	s.mu.RLock()
	client, ok := s.clients[clientID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("client %s not connected", clientID)
	}

	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}

	client.writeMu.Lock()
	defer client.writeMu.Unlock()
	_ = client.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing to client %s: %w", clientID, err)
	}
	return nil
}

// dispatch fans a message out to the registered handlers for its type.
// A panicking handler is logged and isolated from the read loop.
func (s *Server) dispatch(clientID string, msg wire.Message) {
	s.mu.RLock()
	handlers := s.handlers[msg.Type]
	s.mu.RUnlock()

	for _, fn := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("handler panicked", "type", msg.Type, "panic", r)
				}
			}()
			fn(clientID, msg)
		}()
	}
}
