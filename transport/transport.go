// Package transport abstracts the channel carrying protocol messages between
// an embedding host and an embedded UI. The engines depend only on the
// Endpoint interface, so the protocol state machines are testable without any
// platform messaging primitive. Two concrete endpoints ship with the package:
// a linked in-memory pair for same-process embedding and tests, and a
// WebSocket adapter for out-of-process UIs.
package transport

import "github.com/GoCodeAlone/uibridge/protocol"

// Identity describes the observed sender of an inbound message. Origin is
// the claimed origin of the peer; Channel distinguishes two concurrently open
// sessions that share an origin.
type Identity struct {
	Origin  string
	Channel string
}

// ReceiveFunc handles one inbound message together with its observed sender.
type ReceiveFunc func(msg *protocol.Message, sender Identity)

// Endpoint is one end of a bidirectional, ordered, best-effort message
// channel. Delivery is not guaranteed and no send is retried.
type Endpoint interface {
	// Send delivers one message to the peer.
	Send(msg *protocol.Message) error

	// SetReceiver installs the inbound handler. Passing nil detaches the
	// current handler; messages arriving with no handler installed are
	// discarded.
	SetReceiver(fn ReceiveFunc)

	// Close tears the channel down. Further sends fail.
	Close() error
}
