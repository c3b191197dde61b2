package host

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/GoCodeAlone/uibridge/protocol"
	"github.com/GoCodeAlone/uibridge/token"
	"github.com/GoCodeAlone/uibridge/transport"
)

// ErrDestroyed is returned by session operations after Destroy.
var ErrDestroyed = errors.New("host: session destroyed")

// Resizable is a rendered container whose dimensions the host can adjust
// when the embedded UI reports a size change.
type Resizable interface {
	SetSize(width, height int)
}

// PermissionRequestHandler decides a runtime permission request. It is only
// consulted for scopes the UI declared in its optional scopes.
type PermissionRequestHandler func(scope, reasoning string) bool

// ActionHandler receives action messages emitted by the embedded UI.
type ActionHandler func(name string, payload map[string]any)

// ErrorHandler receives error messages emitted by the embedded UI.
type ErrorHandler func(code, message string)

// ResizeHandler receives resize notifications from the embedded UI.
type ResizeHandler func(width, height int)

// Session is the host-side protocol state for one embedded UI. It is created
// by Engine.NewSession and destroyed with Destroy when the UI is torn down.
type Session struct {
	id             string
	engine         *Engine
	reg            Registration
	url            string
	endpoint       transport.Endpoint
	expectedOrigin string
	peerChannel    string
	logger         *slog.Logger
	events         *protocol.Dispatcher

	mu           sync.Mutex
	ready        bool
	user         *protocol.User
	auth         *protocol.Auth
	context      protocol.Context
	theme        protocol.ThemeSettings
	granted      *protocol.ScopeSet
	onPermission PermissionRequestHandler
	onAction     ActionHandler
	onError      ErrorHandler
	onResize     ResizeHandler
	autoResize   bool
	region       Resizable
	destroyed    bool
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// URL returns the resolved URL the embedded UI loads from.
func (s *Session) URL() string { return s.url }

// Registration returns the UI registration this session was created from.
func (s *Session) Registration() Registration { return s.reg }

// IsReady reports whether the embedded UI has answered the handshake.
func (s *Session) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// GrantedScopes returns the host's view of the session's granted scopes.
func (s *Session) GrantedScopes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.granted.List()
}

// On subscribes a handler to a named local event (ready, action, error,
// resize, request_permission).
func (s *Session) On(event string, h protocol.Handler) { s.events.On(event, h) }

// Off removes a previously subscribed handler.
func (s *Session) Off(event string, h protocol.Handler) { s.events.Off(event, h) }

// SetPermissionRequestHandler installs the decision callback for runtime
// permission requests.
func (s *Session) SetPermissionRequestHandler(h PermissionRequestHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPermission = h
}

// SetActionHandler installs the callback for inbound action messages.
func (s *Session) SetActionHandler(h ActionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAction = h
}

// SetErrorHandler installs the callback for inbound error messages.
func (s *Session) SetErrorHandler(h ErrorHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = h
}

// SetResizeHandler installs the callback for inbound resize messages.
func (s *Session) SetResizeHandler(h ResizeHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onResize = h
}

// --- host-initiated operations ---

// Init seeds the session state and sends the init message. Any supplied
// credential's scopes are decoded (not verified — the host issued them) to
// pre-seed the granted set. Repeated calls simply resend current state.
func (s *Session) Init(user *protocol.User, auth *protocol.Auth, ctx protocol.Context, theme protocol.ThemeSettings) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	s.user = user
	s.auth = auth
	s.context = ctx
	s.theme = theme
	if auth != nil {
		scopes, err := token.DecodeScopes(auth.Token)
		if err != nil {
			s.logger.Warn("could not decode credential scopes", "error", err)
		} else {
			s.granted.Replace(scopes)
		}
	}
	version := s.engine.version
	s.mu.Unlock()

	return s.send(&protocol.Message{
		Type:            protocol.TypeInit,
		ProtocolVersion: version,
		User:            user,
		Auth:            auth,
		Context:         ctx,
		ThemeSettings:   theme,
	})
}

// UpdateContext replaces the session context and notifies the UI.
func (s *Session) UpdateContext(ctx protocol.Context) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	s.context = ctx
	s.mu.Unlock()
	return s.send(&protocol.Message{Type: protocol.TypeUpdateContext, Context: ctx})
}

// UpdateTheme replaces the session theme and notifies the UI.
func (s *Session) UpdateTheme(theme protocol.ThemeSettings) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	s.theme = theme
	s.mu.Unlock()
	return s.send(&protocol.Message{Type: protocol.TypeTheme, ThemeSettings: theme})
}

// UpdateAuth replaces the session credential and notifies the UI.
func (s *Session) UpdateAuth(auth *protocol.Auth) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	s.auth = auth
	s.mu.Unlock()
	return s.send(&protocol.Message{Type: protocol.TypeAuthUpdate, Auth: auth})
}

// RevokeAuth clears the session credential and granted scopes and notifies
// the UI.
func (s *Session) RevokeAuth() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	s.auth = nil
	s.granted.Clear()
	s.mu.Unlock()
	return s.send(&protocol.Message{Type: protocol.TypeAuthRevoke})
}

// SendPermissionGranted delivers a grant or denial for a scope. A refreshed
// credential may accompany a grant; the engine does not derive one itself.
func (s *Session) SendPermissionGranted(scope string, granted bool, auth *protocol.Auth) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	if granted {
		s.granted.Grant(scope)
	}
	s.mu.Unlock()
	return s.send(&protocol.Message{
		Type:    protocol.TypePermissionGranted,
		Scope:   scope,
		Granted: protocol.Bool(granted),
		Auth:    auth,
	})
}

// RevokePermission removes a scope from the session and notifies the UI.
func (s *Session) RevokePermission(scope string) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	s.granted.Revoke(scope)
	s.mu.Unlock()
	return s.send(&protocol.Message{Type: protocol.TypePermissionRevoked, Scope: scope})
}

// Destroy tears down the session: the transport subscription is released,
// handler and event registrations are cleared, and local state is dropped.
func (s *Session) Destroy() {
	s.endpoint.SetReceiver(nil)
	s.events.Clear()
	s.mu.Lock()
	s.destroyed = true
	s.onPermission = nil
	s.onAction = nil
	s.onError = nil
	s.onResize = nil
	s.granted.Clear()
	s.mu.Unlock()
	s.engine.removeSession(s.id)
}

// --- inbound handling ---

func (s *Session) handleMessage(msg *protocol.Message, sender transport.Identity) {
	// Dispatch is filtered by origin and, when configured, by the channel
	// endpoint created for this session, so one session's messages cannot be
	// misattributed to another concurrently open session.
	if sender.Origin != s.expectedOrigin ||
		(s.peerChannel != "" && sender.Channel != s.peerChannel) {
		s.logger.Debug("dropping message from unexpected sender",
			"type", msg.Type, "origin", sender.Origin)
		s.engine.metrics.OriginDrop()
		return
	}

	s.engine.metrics.Received(string(msg.Type))

	switch msg.Type {
	case protocol.TypeReady:
		s.mu.Lock()
		s.ready = true
		s.mu.Unlock()
	case protocol.TypeAction:
		s.mu.Lock()
		h := s.onAction
		s.mu.Unlock()
		if h != nil {
			s.safeCall(func() { h(msg.ActionName, msg.Payload) })
		}
	case protocol.TypeError:
		s.mu.Lock()
		h := s.onError
		s.mu.Unlock()
		if h != nil {
			s.safeCall(func() { h(msg.Code, msg.Message) })
		}
	case protocol.TypeResize:
		s.handleResize(msg)
	case protocol.TypeRequestPermission:
		s.negotiatePermission(msg)
	default:
		s.logger.Warn("ignoring unrecognized message type", "type", msg.Type)
	}

	// Local events are named after the raw message type.
	s.events.Emit(string(msg.Type), msg)
}

// handleResize applies the requested size to the rendered region (when the
// auto-resize option is on), invokes the installed resize handler, and lets
// the local event fire. The three effects are independent.
func (s *Session) handleResize(msg *protocol.Message) {
	width, height := 0, 0
	if msg.Width != nil {
		width = *msg.Width
	}
	if msg.Height != nil {
		height = *msg.Height
	}

	s.mu.Lock()
	region := s.region
	apply := s.autoResize && region != nil
	h := s.onResize
	s.mu.Unlock()

	if apply {
		s.safeCall(func() { region.SetSize(width, height) })
	}
	if h != nil {
		s.safeCall(func() { h(width, height) })
	}
}

// negotiatePermission runs the grant algorithm for a runtime scope request:
//
//  1. a scope outside the registration's optional scopes is denied without
//     consulting any handler — a UI cannot escalate beyond its declaration;
//  2. an already-granted scope is re-affirmed without re-prompting;
//  3. otherwise the installed handler (or the engine's confirm fallback)
//     decides;
//  4. the result is sent either way, and an approval is recorded.
func (s *Session) negotiatePermission(msg *protocol.Message) {
	scope, reasoning := msg.Scope, msg.Reasoning

	if !s.reg.Optional(scope) {
		s.logger.Info("denying undeclared scope request", "scope", scope)
		s.engine.metrics.Permission("escalation_denied")
		s.sendPermissionResult(scope, false)
		return
	}

	s.mu.Lock()
	if s.granted.Has(scope) {
		s.mu.Unlock()
		s.engine.metrics.Permission("reaffirmed")
		s.sendPermissionResult(scope, true)
		return
	}
	handler := s.onPermission
	s.mu.Unlock()

	approved := s.decide(handler, scope, reasoning)
	if approved {
		s.mu.Lock()
		s.granted.Grant(scope)
		s.mu.Unlock()
		s.engine.metrics.Permission("granted")
	} else {
		s.engine.metrics.Permission("denied")
	}
	s.sendPermissionResult(scope, approved)
}

// decide consults the installed handler, falling back to the engine-wide
// confirm function with a prompt naming the UI and the request's reasoning.
// A panicking handler counts as a denial.
func (s *Session) decide(handler PermissionRequestHandler, scope, reasoning string) (approved bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("permission handler panicked", "scope", scope, "panic", r)
			approved = false
		}
	}()

	if handler != nil {
		return handler(scope, reasoning)
	}

	var prompt string
	if reasoning != "" {
		prompt = fmt.Sprintf("%q requests permission %q: %s", s.reg.UIName, scope, reasoning)
	} else {
		prompt = fmt.Sprintf("Allow %q to use %q?", s.reg.UIName, scope)
	}
	if s.engine.confirm == nil {
		s.logger.Warn("no confirmation function configured, denying", "prompt", prompt)
		return false
	}
	return s.engine.confirm(prompt)
}

func (s *Session) sendPermissionResult(scope string, granted bool) {
	err := s.send(&protocol.Message{
		Type:    protocol.TypePermissionGranted,
		Scope:   scope,
		Granted: protocol.Bool(granted),
	})
	if err != nil {
		s.logger.Warn("failed to send permission result", "scope", scope, "error", err)
	}
}

func (s *Session) send(msg *protocol.Message) error {
	if err := s.endpoint.Send(msg); err != nil {
		return err
	}
	s.engine.metrics.Sent(string(msg.Type))
	return nil
}

// safeCall runs an application-supplied callback inside a failure boundary.
func (s *Session) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked", "panic", r)
		}
	}()
	fn()
}
