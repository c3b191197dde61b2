package transport

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/uibridge/protocol"
)

// ErrClosed is returned by Send after an endpoint has been closed.
var ErrClosed = errors.New("transport: endpoint closed")

// MemoryEndpoint is one side of an in-process channel pair. Delivery is
// synchronous and ordered: Send invokes the peer's receiver on the calling
// goroutine, after cloning the message so neither side aliases the other's
// memory.
type MemoryEndpoint struct {
	origin  string
	channel string

	mu       sync.Mutex
	peer     *MemoryEndpoint
	receiver ReceiveFunc
	closed   bool
}

// Pair creates two linked in-memory endpoints. originA and originB are the
// origins each side claims when sending; each endpoint gets a unique channel
// identifier so sessions sharing an origin remain distinguishable.
func Pair(originA, originB string) (*MemoryEndpoint, *MemoryEndpoint) {
	a := &MemoryEndpoint{origin: originA, channel: uuid.NewString()}
	b := &MemoryEndpoint{origin: originB, channel: uuid.NewString()}
	a.peer = b
	b.peer = a
	return a, b
}

// Identity returns the origin and channel this endpoint presents to its peer.
func (e *MemoryEndpoint) Identity() Identity {
	return Identity{Origin: e.origin, Channel: e.channel}
}

// Send clones the message and hands it to the peer's receiver. Messages sent
// while the peer has no receiver installed are discarded, matching the
// protocol's best-effort delivery contract.
func (e *MemoryEndpoint) Send(msg *protocol.Message) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	peer := e.peer
	e.mu.Unlock()

	clone, err := msg.Clone()
	if err != nil {
		return err
	}

	peer.mu.Lock()
	fn := peer.receiver
	closed := peer.closed
	peer.mu.Unlock()
	if closed || fn == nil {
		return nil
	}
	fn(clone, e.Identity())
	return nil
}

// SetReceiver installs the inbound handler for this endpoint.
func (e *MemoryEndpoint) SetReceiver(fn ReceiveFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.receiver = fn
}

// Close marks the endpoint closed. The peer is unaffected beyond its sends
// being silently discarded.
func (e *MemoryEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.receiver = nil
	return nil
}
