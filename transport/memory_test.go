package transport

import (
	"testing"

	"github.com/GoCodeAlone/uibridge/protocol"
)

func TestPair_Delivery(t *testing.T) {
	a, b := Pair("https://host.example", "https://ui.example")

	var got *protocol.Message
	var sender Identity
	b.SetReceiver(func(m *protocol.Message, s Identity) {
		got = m
		sender = s
	})

	if err := a.Send(&protocol.Message{Type: protocol.TypeReady}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got == nil || got.Type != protocol.TypeReady {
		t.Fatalf("expected ready message, got %+v", got)
	}
	if sender.Origin != "https://host.example" {
		t.Errorf("expected sender origin from a's side, got %q", sender.Origin)
	}
	if sender.Channel != a.Identity().Channel {
		t.Errorf("expected sender channel %q, got %q", a.Identity().Channel, sender.Channel)
	}
}

func TestPair_DistinctChannels(t *testing.T) {
	a, b := Pair("https://x", "https://x")
	if a.Identity().Channel == b.Identity().Channel {
		t.Error("paired endpoints must have distinct channel identifiers")
	}
	c, _ := Pair("https://x", "https://x")
	if a.Identity().Channel == c.Identity().Channel {
		t.Error("endpoints of separate pairs must have distinct channel identifiers")
	}
}

func TestPair_CloneBreaksAliasing(t *testing.T) {
	a, b := Pair("https://host", "https://ui")
	var got *protocol.Message
	b.SetReceiver(func(m *protocol.Message, _ Identity) { got = m })

	sent := &protocol.Message{Type: protocol.TypeUpdateContext, Context: protocol.Context{"k": "v"}}
	if err := a.Send(sent); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got.Context["k"] = "mutated"
	if sent.Context["k"] != "v" {
		t.Error("receiver mutation leaked into sender's message")
	}
}

func TestSend_NoReceiverIsDiscarded(t *testing.T) {
	a, _ := Pair("https://host", "https://ui")
	if err := a.Send(&protocol.Message{Type: protocol.TypeReady}); err != nil {
		t.Errorf("send with no receiver should be a silent discard, got %v", err)
	}
}

func TestSend_AfterCloseFails(t *testing.T) {
	a, _ := Pair("https://host", "https://ui")
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Send(&protocol.Message{Type: protocol.TypeReady}); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestSend_ToClosedPeerIsDiscarded(t *testing.T) {
	a, b := Pair("https://host", "https://ui")
	var delivered bool
	b.SetReceiver(func(*protocol.Message, Identity) { delivered = true })
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Send(&protocol.Message{Type: protocol.TypeReady}); err != nil {
		t.Errorf("send to closed peer should be discarded, got %v", err)
	}
	if delivered {
		t.Error("closed endpoint must not receive")
	}
}
