package protocol

import (
	"log/slog"
	"reflect"
	"sync"
)

// Local event names fired by the client engine, in addition to events named
// after raw message types.
const (
	EventInitialized        = "initialized"
	EventContextUpdated     = "contextUpdated"
	EventThemeUpdated       = "themeUpdated"
	EventAuthUpdated        = "authUpdated"
	EventAuthRevoked        = "authRevoked"
	EventPermissionResponse = "permissionResponse"
	EventPermissionRevoked  = "permissionRevoked"
)

// Handler is a local event subscriber. It receives the message that caused
// the event; for synthesized events this is the triggering inbound message.
type Handler func(msg *Message)

// Dispatcher is a per-engine table of named local events and their
// subscribers. Multiple handlers per event are permitted and invoked in
// subscription order. A handler that panics is recovered and logged; the
// remaining handlers still run.
type Dispatcher struct {
	mu       sync.Mutex
	handlers map[string][]Handler
	logger   *slog.Logger
}

// NewDispatcher creates an empty dispatcher. A nil logger falls back to
// slog.Default().
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// On subscribes a handler to a named event.
func (d *Dispatcher) On(event string, h Handler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[event] = append(d.handlers[event], h)
}

// Off removes the first subscription of h from the named event. Handlers are
// matched by function identity, so the caller must pass the same value it
// passed to On.
func (d *Dispatcher) Off(event string, h Handler) {
	if h == nil {
		return
	}
	target := reflect.ValueOf(h).Pointer()
	d.mu.Lock()
	defer d.mu.Unlock()
	hs := d.handlers[event]
	for i, existing := range hs {
		if reflect.ValueOf(existing).Pointer() == target {
			d.handlers[event] = append(hs[:i:i], hs[i+1:]...)
			return
		}
	}
}

// Clear drops every subscription.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = make(map[string][]Handler)
}

// Emit invokes every subscriber of the named event. Each handler runs inside
// its own failure boundary: a panic is recovered and logged and does not
// prevent the remaining handlers from running.
func (d *Dispatcher) Emit(event string, msg *Message) {
	d.mu.Lock()
	hs := make([]Handler, len(d.handlers[event]))
	copy(hs, d.handlers[event])
	d.mu.Unlock()

	for _, h := range hs {
		d.invoke(event, h, msg)
	}
}

func (d *Dispatcher) invoke(event string, h Handler, msg *Message) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panicked", "event", event, "panic", r)
		}
	}()
	h(msg)
}
