// Package client implements the protocol engine that runs inside an embedded
// UI. It consumes host messages, maintains the session state (pinned host
// origin, auth, context, theme, granted scopes), exposes local event
// subscriptions, and emits UI messages back to the embedding host.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/GoCodeAlone/uibridge/metrics"
	"github.com/GoCodeAlone/uibridge/protocol"
	"github.com/GoCodeAlone/uibridge/token"
	"github.com/GoCodeAlone/uibridge/transport"
)

// ErrNotInitialized is returned by outbound operations attempted before the
// host origin has been established by a successful init handshake.
var ErrNotInitialized = errors.New("client: not initialized")

// Region is a renderable area whose size changes can be observed. The
// returned stop function ends the observation; a region is observed by at
// most one watcher at a time.
type Region interface {
	OnSizeChange(fn func(width, height int)) (stop func())
}

// Config carries the optional collaborators of an Engine. The zero value is
// usable: version defaults to protocol.CurrentVersion, logging to
// slog.Default(), and validation to a stock Validator.
type Config struct {
	Version   string
	Logger    *slog.Logger
	Validator *token.Validator
	Metrics   *metrics.Collector
}

// Engine is the client-side protocol state machine. One Engine is created
// per embedded UI process and lives for the whole session.
type Engine struct {
	endpoint  transport.Endpoint
	version   string
	logger    *slog.Logger
	metrics   *metrics.Collector
	validator *token.Validator
	events    *protocol.Dispatcher

	mu            sync.Mutex
	hostOrigin    string
	originPinned  bool
	initialized   bool
	hostVersion   string
	user          *protocol.User
	auth          *protocol.Auth
	context       protocol.Context
	theme         protocol.ThemeSettings
	authenticated bool
	granted       *protocol.ScopeSet

	// authGen increments whenever the credential changes, so a validation
	// that completes after its credential was replaced or revoked discards
	// its result instead of resurrecting stale auth state.
	authGen int

	stopResize func()
	closed     bool
}

// New creates an Engine attached to the given endpoint and starts receiving.
func New(endpoint transport.Endpoint, cfg Config) *Engine {
	if cfg.Version == "" {
		cfg.Version = protocol.CurrentVersion
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Validator == nil {
		cfg.Validator = token.NewValidator(nil)
	}
	e := &Engine{
		endpoint:  endpoint,
		version:   cfg.Version,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		validator: cfg.Validator,
		events:    protocol.NewDispatcher(cfg.Logger),
		granted:   protocol.NewScopeSet(),
	}
	endpoint.SetReceiver(e.handleMessage)
	return e
}

// On subscribes a handler to a named local event. Event names are the
// protocol.Event* constants or any raw message type string.
func (e *Engine) On(event string, h protocol.Handler) { e.events.On(event, h) }

// Off removes a previously subscribed handler.
func (e *Engine) Off(event string, h protocol.Handler) { e.events.Off(event, h) }

// Close releases the engine's transport subscription, stops any auto-resize
// observation and drops local subscriptions. The engine is unusable after.
func (e *Engine) Close() {
	e.DisableAutoResize()
	e.endpoint.SetReceiver(nil)
	e.events.Clear()
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

// --- inbound handling ---

func (e *Engine) handleMessage(msg *protocol.Message, sender transport.Identity) {
	e.mu.Lock()
	// Origin pinning: once a host origin is recorded, every non-init message
	// from another origin is silently dropped. Init messages are exempt so a
	// host restart can re-handshake.
	if e.originPinned && msg.Type != protocol.TypeInit && sender.Origin != e.hostOrigin {
		e.mu.Unlock()
		e.logger.Debug("dropping message from unexpected origin",
			"type", msg.Type, "origin", sender.Origin)
		e.metrics.OriginDrop()
		return
	}
	e.mu.Unlock()

	e.metrics.Received(string(msg.Type))

	switch msg.Type {
	case protocol.TypeInit:
		e.handleInit(msg, sender)
	case protocol.TypeUpdateContext:
		e.handleUpdateContext(msg)
	case protocol.TypeTheme:
		e.handleTheme(msg)
	case protocol.TypeAuthUpdate:
		e.handleAuthUpdate(msg)
	case protocol.TypeAuthRevoke:
		e.handleAuthRevoke(msg)
	case protocol.TypePermissionGranted:
		e.handlePermissionGranted(msg)
	case protocol.TypePermissionRevoked:
		e.handlePermissionRevoked(msg)
	default:
		e.logger.Warn("ignoring unrecognized message type", "type", msg.Type)
	}

	// Generic escape hatch: every accepted inbound message also fires a
	// local event named after its raw type, carrying the whole message.
	e.events.Emit(string(msg.Type), msg)
}

func (e *Engine) handleInit(msg *protocol.Message, sender transport.Identity) {
	e.mu.Lock()
	e.hostOrigin = sender.Origin
	e.originPinned = true
	e.hostVersion = msg.ProtocolVersion

	if !protocol.Compatible(e.version, msg.ProtocolVersion) {
		e.mu.Unlock()
		e.logger.Error("incompatible protocol version",
			"host", msg.ProtocolVersion, "client", e.version)
		e.send(&protocol.Message{
			Type:    protocol.TypeError,
			Code:    protocol.ErrCodeProtocol,
			Message: fmt.Sprintf("incompatible protocol version %q, client speaks %q", msg.ProtocolVersion, e.version),
		})
		return
	}

	e.user = msg.User
	e.auth = msg.Auth
	if msg.Context != nil {
		e.context = msg.Context
	}
	if msg.ThemeSettings != nil {
		e.theme = msg.ThemeSettings
	}
	e.initialized = true
	e.authGen++
	gen := e.authGen
	auth := e.auth
	e.mu.Unlock()

	if auth != nil {
		go e.validateAuth(auth, gen)
	}
	e.events.Emit(protocol.EventInitialized, msg)
	e.send(&protocol.Message{Type: protocol.TypeReady})
}

func (e *Engine) handleUpdateContext(msg *protocol.Message) {
	e.mu.Lock()
	e.context = msg.Context
	e.mu.Unlock()
	e.events.Emit(protocol.EventContextUpdated, msg)
}

func (e *Engine) handleTheme(msg *protocol.Message) {
	e.mu.Lock()
	e.theme = msg.ThemeSettings
	e.mu.Unlock()
	e.events.Emit(protocol.EventThemeUpdated, msg)
}

func (e *Engine) handleAuthUpdate(msg *protocol.Message) {
	e.mu.Lock()
	e.auth = msg.Auth
	e.authGen++
	gen := e.authGen
	if msg.Auth == nil {
		e.authenticated = false
	}
	e.mu.Unlock()

	if msg.Auth != nil {
		go e.validateAuth(msg.Auth, gen)
	}
	e.events.Emit(protocol.EventAuthUpdated, msg)
}

func (e *Engine) handleAuthRevoke(msg *protocol.Message) {
	e.mu.Lock()
	e.auth = nil
	e.authenticated = false
	e.granted.Clear()
	e.authGen++
	e.mu.Unlock()
	e.events.Emit(protocol.EventAuthRevoked, msg)
}

func (e *Engine) handlePermissionGranted(msg *protocol.Message) {
	e.mu.Lock()
	if msg.IsGranted() {
		e.granted.Grant(msg.Scope)
	}
	var gen int
	if msg.Auth != nil {
		// A refreshed credential may accompany the grant.
		e.auth = msg.Auth
		e.authGen++
		gen = e.authGen
	}
	e.mu.Unlock()

	if msg.Auth != nil {
		go e.validateAuth(msg.Auth, gen)
	}
	// The response event fires with the scope and outcome regardless of
	// whether the grant succeeded.
	e.events.Emit(protocol.EventPermissionResponse, msg)
}

func (e *Engine) handlePermissionRevoked(msg *protocol.Message) {
	e.mu.Lock()
	e.granted.Revoke(msg.Scope)
	e.mu.Unlock()
	e.events.Emit(protocol.EventPermissionRevoked, msg)
}

// validateAuth runs the credential verification procedure asynchronously.
// Its completion order relative to later-arriving messages is not
// guaranteed; the generation check ensures a stale result never overwrites
// state belonging to a newer credential.
func (e *Engine) validateAuth(auth *protocol.Auth, gen int) {
	scopes, err := e.validator.Validate(context.Background(), auth.Token, auth.KeySetURL)

	e.mu.Lock()
	if gen != e.authGen {
		e.mu.Unlock()
		return
	}
	if err != nil {
		e.authenticated = false
		e.mu.Unlock()
		e.metrics.Validation("failed")
		e.logger.Warn("credential validation failed", "error", err)
		e.send(&protocol.Message{
			Type:    protocol.TypeError,
			Code:    protocol.ErrCodeAuth,
			Message: "credential validation failed",
		})
		return
	}
	e.authenticated = true
	e.granted.Replace(scopes)
	e.mu.Unlock()
	e.metrics.Validation("ok")
}

// --- outbound operations ---

// SendAction emits an action message carrying a named action and optional
// payload. Before initialization this is a logged no-op.
func (e *Engine) SendAction(name string, payload map[string]any) error {
	if !e.IsInitialized() {
		e.logger.Warn("dropping action before init", "action", name)
		return ErrNotInitialized
	}
	return e.sendErr(&protocol.Message{
		Type:       protocol.TypeAction,
		ActionName: name,
		Payload:    payload,
	})
}

// RequestPermission asks the host to grant a capability scope. The outcome
// arrives later as a permission_granted message and fires the
// permissionResponse local event.
func (e *Engine) RequestPermission(scope, reasoning string) error {
	if !e.IsInitialized() {
		e.logger.Warn("dropping permission request before init", "scope", scope)
		return ErrNotInitialized
	}
	return e.sendErr(&protocol.Message{
		Type:      protocol.TypeRequestPermission,
		Scope:     scope,
		Reasoning: reasoning,
	})
}

// Resize reports the embedded region's size to the host.
func (e *Engine) Resize(width, height int) error {
	if !e.IsInitialized() {
		e.logger.Warn("dropping resize before init")
		return ErrNotInitialized
	}
	return e.sendErr(&protocol.Message{
		Type:   protocol.TypeResize,
		Width:  protocol.Int(width),
		Height: protocol.Int(height),
	})
}

// EnableAutoResize observes size changes of the given region and emits a
// resize message on each change. Enabling on a new region first stops any
// previous observation.
func (e *Engine) EnableAutoResize(r Region) {
	e.DisableAutoResize()
	if r == nil {
		return
	}
	stop := r.OnSizeChange(func(w, h int) {
		_ = e.Resize(w, h)
	})
	e.mu.Lock()
	e.stopResize = stop
	e.mu.Unlock()
}

// DisableAutoResize stops the current size observation, if any.
func (e *Engine) DisableAutoResize() {
	e.mu.Lock()
	stop := e.stopResize
	e.stopResize = nil
	e.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// send is the fire-and-forget path for protocol-internal replies.
func (e *Engine) send(msg *protocol.Message) {
	if err := e.sendErr(msg); err != nil {
		e.logger.Warn("send failed", "type", msg.Type, "error", err)
	}
}

func (e *Engine) sendErr(msg *protocol.Message) error {
	if err := e.endpoint.Send(msg); err != nil {
		return err
	}
	e.metrics.Sent(string(msg.Type))
	return nil
}

// --- accessors ---

// IsInitialized reports whether the init handshake has completed.
func (e *Engine) IsInitialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// IsAuthenticated reports whether the current credential passed validation.
func (e *Engine) IsAuthenticated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.authenticated
}

// HasPermission reports whether the scope is currently granted.
func (e *Engine) HasPermission(scope string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.granted.Has(scope)
}

// GrantedScopes returns the currently granted scopes in sorted order.
func (e *Engine) GrantedScopes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.granted.List()
}

// User returns the identity delivered by the host, if any.
func (e *Engine) User() *protocol.User {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.user
}

// Context returns the most recent host-supplied context.
func (e *Engine) Context() protocol.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.context
}

// ThemeSettings returns the most recent theme settings.
func (e *Engine) ThemeSettings() protocol.ThemeSettings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.theme
}

// Auth returns the current credential, if any.
func (e *Engine) Auth() *protocol.Auth {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.auth
}

// ProtocolVersion returns the host's protocol version from the handshake,
// empty before the first init.
func (e *Engine) ProtocolVersion() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hostVersion
}
