package transport

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/GoCodeAlone/uibridge/protocol"
)

// WSEndpoint adapts a WebSocket connection to the Endpoint interface. One
// protocol message travels per text frame as a JSON envelope. The peer's
// origin is whatever the caller observed at handshake time (typically the
// Origin header of the upgrade request); the channel identifier is unique per
// connection.
type WSEndpoint struct {
	conn       *websocket.Conn
	peerOrigin string
	channel    string

	writeMu sync.Mutex

	mu       sync.Mutex
	receiver ReceiveFunc
	closed   bool
	started  bool
}

// NewWSEndpoint wraps an established WebSocket connection. peerOrigin is the
// origin the remote side presented during the handshake and becomes the
// sender origin attached to every inbound message.
func NewWSEndpoint(conn *websocket.Conn, peerOrigin string) *WSEndpoint {
	return &WSEndpoint{
		conn:       conn,
		peerOrigin: peerOrigin,
		channel:    uuid.NewString(),
	}
}

// PeerIdentity returns the identity attached to messages read from this
// connection.
func (e *WSEndpoint) PeerIdentity() Identity {
	return Identity{Origin: e.peerOrigin, Channel: e.channel}
}

// Send writes one message as a JSON text frame.
func (e *WSEndpoint) Send(msg *protocol.Message) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := e.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("transport: websocket write: %w", err)
	}
	return nil
}

// SetReceiver installs the inbound handler and, on first call, starts the
// read pump goroutine. The pump exits when the connection errors or closes.
func (e *WSEndpoint) SetReceiver(fn ReceiveFunc) {
	e.mu.Lock()
	e.receiver = fn
	start := !e.started && fn != nil
	if start {
		e.started = true
	}
	e.mu.Unlock()

	if start {
		go e.readPump()
	}
}

func (e *WSEndpoint) readPump() {
	sender := e.PeerIdentity()
	for {
		_, data, err := e.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			// Malformed frames are dropped; the connection stays up.
			continue
		}
		e.mu.Lock()
		fn := e.receiver
		e.mu.Unlock()
		if fn != nil {
			fn(msg, sender)
		}
	}
}

// Close closes the underlying connection, terminating the read pump.
func (e *WSEndpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.receiver = nil
	e.mu.Unlock()
	if err := e.conn.Close(); err != nil {
		return fmt.Errorf("transport: websocket close: %w", err)
	}
	return nil
}
