// ABOUTME: WebSocket-backed Port implementation and its dialing Factory.
// ABOUTME: Wraps a gorilla/websocket connection with a read pump and close fanout.

package port

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/coven-relay/internal/wire"
)

const (
	// inboundBufferSize is the buffer for messages read off the socket.
	// Matches the broadcaster subscriber buffer.
	inboundBufferSize = 64

	defaultWriteTimeout = 10 * time.Second
)

// WebSocketFactory dials coordinator websocket endpoints and wraps each
// connection in a Port. Implements Factory.
type WebSocketFactory struct {
	URL          string
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// NewWebSocketFactory creates a factory for the given coordinator URL.
// Pass nil logger for default.
func NewWebSocketFactory(url string, logger *slog.Logger) *WebSocketFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketFactory{
		URL:          url,
		WriteTimeout: defaultWriteTimeout,
		Logger:       logger.With("component", "port"),
	}
}

// Dial opens a new websocket connection and returns it as a Port. Each
// port gets a fresh identity tag so stale handles are distinguishable
// from their replacements.
func (f *WebSocketFactory) Dial(ctx context.Context) (Port, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", f.URL, err)
	}

	writeTimeout := f.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	p := &wsPort{
		name:         uuid.New().String(),
		conn:         conn,
		writeTimeout: writeTimeout,
		inbound:      make(chan wire.Message, inboundBufferSize),
		closed:       make(chan struct{}),
		logger:       f.Logger,
	}
	go p.readPump()
	return p, nil
}

// wsPort is a Port over a single websocket connection.
type wsPort struct {
	name         string
	conn         *websocket.Conn
	writeTimeout time.Duration
	inbound      chan wire.Message
	closed       chan struct{}
	closeOnce    sync.Once
	writeMu      sync.Mutex
	logger       *slog.Logger
}

func (p *wsPort) Name() string {
	return p.name
}

// Send encodes and writes one message. Serialization failures count as
// transport failures. After closure every Send reports ErrClosed.
func (p *wsPort) Send(msg wire.Message) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}

	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		p.markClosed()
		return fmt.Errorf("writing %s message: %w", msg.Type, err)
	}
	return nil
}

func (p *wsPort) Inbound() <-chan wire.Message {
	return p.inbound
}

func (p *wsPort) CloseNotify() <-chan struct{} {
	return p.closed
}

func (p *wsPort) Close() error {
	p.markClosed()
	return p.conn.Close()
}

// markClosed fires the close notification exactly once.
func (p *wsPort) markClosed() {
	p.closeOnce.Do(func() {
		close(p.closed)
	})
}

// readPump drains the socket until it fails, decoding each frame and
// forwarding it to the inbound channel. Malformed frames are logged and
// skipped; a read error ends the pump and signals closure.
func (p *wsPort) readPump() {
	defer close(p.inbound)
	defer p.markClosed()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			select {
			case <-p.closed:
			default:
				p.logger.Debug("port read ended", "port", p.name, "error", err)
			}
			return
		}

		msg, err := wire.Decode(data)
		if err != nil {
			p.logger.Warn("dropping malformed frame", "port", p.name, "error", err)
			continue
		}

		select {
		case p.inbound <- msg:
		default:
			// Receiver is not keeping up. Dropping is preferable to
			// stalling the socket read loop.
			p.logger.Warn("inbound buffer full, dropping message",
				"port", p.name,
				"type", msg.Type,
			)
		}
	}
}
