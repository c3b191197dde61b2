package host

import (
	"sync"
	"testing"
	"time"

	"github.com/GoCodeAlone/uibridge/protocol"
	"github.com/GoCodeAlone/uibridge/token"
	"github.com/GoCodeAlone/uibridge/transport"
)

// stubEndpoint records outbound messages and lets tests deliver inbound
// messages with an arbitrary sender identity.
type stubEndpoint struct {
	mu   sync.Mutex
	sent []*protocol.Message
	recv transport.ReceiveFunc
}

func (s *stubEndpoint) Send(m *protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, m)
	return nil
}

func (s *stubEndpoint) SetReceiver(fn transport.ReceiveFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recv = fn
}

func (s *stubEndpoint) Close() error { return nil }

func (s *stubEndpoint) deliver(m *protocol.Message, sender transport.Identity) {
	s.mu.Lock()
	fn := s.recv
	s.mu.Unlock()
	if fn != nil {
		fn(m, sender)
	}
}

func (s *stubEndpoint) lastSent() *protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return nil
	}
	return s.sent[len(s.sent)-1]
}

func (s *stubEndpoint) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

const uiOrigin = "https://ui.example.com"

func uiIdentity() transport.Identity {
	return transport.Identity{Origin: uiOrigin, Channel: "ui-chan"}
}

func testRegistration() Registration {
	return Registration{
		UIName:      "weather",
		URLTemplate: uiOrigin + "/weather",
		Permissions: Permissions{
			RequiredScopes: []string{"read:profile"},
			OptionalScopes: []string{"read:location", "write:prefs"},
		},
		Protocol: VersionRange{MinVersion: "1.0.0", TargetVersion: protocol.CurrentVersion},
	}
}

func newTestSession(t *testing.T, cfg Config, opts SessionOptions) (*Engine, *Session, *stubEndpoint) {
	t.Helper()
	engine := New(cfg)
	ep := &stubEndpoint{}
	s, err := engine.NewSession(testRegistration(), ep, opts)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return engine, s, ep
}

func TestNewSession_ResolvesURLAndOrigin(t *testing.T) {
	engine := New(Config{})
	ep := &stubEndpoint{}
	reg := testRegistration()
	reg.URLTemplate = uiOrigin + "/weather?city={city}"

	s, err := engine.NewSession(reg, ep, SessionOptions{URLParams: map[string]string{"city": "oslo"}})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if s.URL() != uiOrigin+"/weather?city=oslo" {
		t.Errorf("unexpected resolved URL %q", s.URL())
	}
	if engine.Sessions() != 1 {
		t.Errorf("expected 1 live session, got %d", engine.Sessions())
	}
}

func TestNewSession_UnresolvedParam(t *testing.T) {
	engine := New(Config{})
	reg := testRegistration()
	reg.URLTemplate = uiOrigin + "/weather?city={city}"
	if _, err := engine.NewSession(reg, &stubEndpoint{}, SessionOptions{}); err == nil {
		t.Error("expected error for unresolved URL parameter")
	}
}

func TestInit_SendsStateAndSeedsScopes(t *testing.T) {
	_, s, ep := newTestSession(t, Config{}, SessionOptions{})

	svc := token.NewService("host")
	tok, err := svc.Issue("ui-1", "chat", []string{"read:profile", "read:location"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	auth := &protocol.Auth{Token: tok, KeySetURL: "https://host.example.com/jwks"}

	err = s.Init(&protocol.User{ID: "u1"}, auth, protocol.Context{"topic": "weather"}, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	msg := ep.lastSent()
	if msg.Type != protocol.TypeInit || msg.ProtocolVersion != protocol.CurrentVersion {
		t.Errorf("unexpected init message: %+v", msg)
	}
	if msg.User == nil || msg.User.ID != "u1" {
		t.Errorf("init did not carry the user: %+v", msg.User)
	}

	// Granted set pre-seeded from the decoded (not verified) credential.
	got := s.GrantedScopes()
	if len(got) != 2 || got[0] != "read:location" || got[1] != "read:profile" {
		t.Errorf("expected seeded scopes, got %v", got)
	}
}

func TestReady_MarksSession(t *testing.T) {
	_, s, ep := newTestSession(t, Config{}, SessionOptions{})
	if s.IsReady() {
		t.Fatal("session must not start ready")
	}

	var readyEvent bool
	s.On(string(protocol.TypeReady), func(*protocol.Message) { readyEvent = true })

	ep.deliver(&protocol.Message{Type: protocol.TypeReady}, uiIdentity())
	if !s.IsReady() {
		t.Error("ready message did not mark the session")
	}
	if !readyEvent {
		t.Error("local ready event did not fire")
	}
}

func TestOriginFilter(t *testing.T) {
	_, s, ep := newTestSession(t, Config{}, SessionOptions{})

	ep.deliver(&protocol.Message{Type: protocol.TypeReady},
		transport.Identity{Origin: "https://attacker.example.com", Channel: "x"})
	if s.IsReady() {
		t.Error("message from wrong origin must be dropped")
	}
}

func TestChannelFilter(t *testing.T) {
	_, s, ep := newTestSession(t, Config{}, SessionOptions{PeerChannel: "expected-chan"})

	ep.deliver(&protocol.Message{Type: protocol.TypeReady},
		transport.Identity{Origin: uiOrigin, Channel: "other-chan"})
	if s.IsReady() {
		t.Error("message from wrong channel must be dropped")
	}

	ep.deliver(&protocol.Message{Type: protocol.TypeReady},
		transport.Identity{Origin: uiOrigin, Channel: "expected-chan"})
	if !s.IsReady() {
		t.Error("message from the session's channel must be dispatched")
	}
}

func TestActionAndErrorHandlers(t *testing.T) {
	_, s, ep := newTestSession(t, Config{}, SessionOptions{})

	var gotAction string
	s.SetActionHandler(func(name string, payload map[string]any) { gotAction = name })
	var gotCode string
	s.SetErrorHandler(func(code, message string) { gotCode = code })

	var actionEvents, errorEvents int
	s.On(string(protocol.TypeAction), func(*protocol.Message) { actionEvents++ })
	s.On(string(protocol.TypeError), func(*protocol.Message) { errorEvents++ })

	ep.deliver(&protocol.Message{Type: protocol.TypeAction, ActionName: "save"}, uiIdentity())
	ep.deliver(&protocol.Message{Type: protocol.TypeError, Code: protocol.ErrCodeRender, Message: "boom"}, uiIdentity())

	if gotAction != "save" {
		t.Errorf("action handler got %q", gotAction)
	}
	if gotCode != protocol.ErrCodeRender {
		t.Errorf("error handler got %q", gotCode)
	}
	if actionEvents != 1 || errorEvents != 1 {
		t.Errorf("local events fired action=%d error=%d", actionEvents, errorEvents)
	}
}

func TestActionHandlerPanicIsContained(t *testing.T) {
	_, s, ep := newTestSession(t, Config{}, SessionOptions{})
	s.SetActionHandler(func(string, map[string]any) { panic("boom") })

	var events int
	s.On(string(protocol.TypeAction), func(*protocol.Message) { events++ })

	ep.deliver(&protocol.Message{Type: protocol.TypeAction, ActionName: "save"}, uiIdentity())
	if events != 1 {
		t.Error("a panicking handler must not suppress the local event")
	}
}

type fakeResizable struct {
	width, height int
	calls         int
}

func (f *fakeResizable) SetSize(w, h int) {
	f.width, f.height = w, h
	f.calls++
}

func TestResize_IndependentEffects(t *testing.T) {
	region := &fakeResizable{}
	_, s, ep := newTestSession(t, Config{}, SessionOptions{AutoResize: true, Region: region})

	var handlerW, handlerH int
	s.SetResizeHandler(func(w, h int) { handlerW, handlerH = w, h })
	var events int
	s.On(string(protocol.TypeResize), func(*protocol.Message) { events++ })

	ep.deliver(&protocol.Message{
		Type:  protocol.TypeResize,
		Width: protocol.Int(800), Height: protocol.Int(600),
	}, uiIdentity())

	if region.width != 800 || region.height != 600 {
		t.Errorf("region not resized, got %dx%d", region.width, region.height)
	}
	if handlerW != 800 || handlerH != 600 {
		t.Errorf("resize handler got %dx%d", handlerW, handlerH)
	}
	if events != 1 {
		t.Error("local resize event did not fire")
	}
}

func TestResize_WithoutAutoResizeSkipsRegion(t *testing.T) {
	region := &fakeResizable{}
	_, s, ep := newTestSession(t, Config{}, SessionOptions{AutoResize: false, Region: region})

	var handlerCalled bool
	s.SetResizeHandler(func(int, int) { handlerCalled = true })

	ep.deliver(&protocol.Message{
		Type:  protocol.TypeResize,
		Width: protocol.Int(800), Height: protocol.Int(600),
	}, uiIdentity())

	if region.calls != 0 {
		t.Error("region must not be resized when the option is off")
	}
	if !handlerCalled {
		t.Error("resize handler must still run; the effects are independent")
	}
}

func TestPermission_EscalationAutoDenied(t *testing.T) {
	_, s, ep := newTestSession(t, Config{
		Confirm: func(string) bool { return true },
	}, SessionOptions{})

	var handlerInvoked bool
	s.SetPermissionRequestHandler(func(scope, reasoning string) bool {
		handlerInvoked = true
		return true
	})

	ep.deliver(&protocol.Message{
		Type:  protocol.TypeRequestPermission,
		Scope: "admin:everything",
	}, uiIdentity())

	if handlerInvoked {
		t.Error("undeclared scope must be denied without consulting any handler")
	}
	msg := ep.lastSent()
	if msg == nil || msg.Type != protocol.TypePermissionGranted || msg.IsGranted() {
		t.Errorf("expected granted:false reply, got %+v", msg)
	}
	if msg.Scope != "admin:everything" {
		t.Errorf("denial must name the scope, got %q", msg.Scope)
	}
}

func TestPermission_ReaffirmWithoutPrompt(t *testing.T) {
	_, s, ep := newTestSession(t, Config{}, SessionOptions{})

	var prompts int
	s.SetPermissionRequestHandler(func(scope, reasoning string) bool {
		prompts++
		return true
	})

	req := &protocol.Message{Type: protocol.TypeRequestPermission, Scope: "read:location"}
	ep.deliver(req, uiIdentity())
	ep.deliver(req, uiIdentity())

	if prompts != 1 {
		t.Errorf("already-granted scope must be re-affirmed without prompting, got %d prompts", prompts)
	}
	msg := ep.lastSent()
	if !msg.IsGranted() {
		t.Error("re-affirmation must be granted:true")
	}
	if got := s.GrantedScopes(); len(got) != 1 {
		t.Errorf("granting twice must not duplicate state: %v", got)
	}
}

func TestPermission_HandlerDecides(t *testing.T) {
	_, s, ep := newTestSession(t, Config{}, SessionOptions{})

	var gotReasoning string
	s.SetPermissionRequestHandler(func(scope, reasoning string) bool {
		gotReasoning = reasoning
		return scope == "read:location"
	})

	ep.deliver(&protocol.Message{
		Type:      protocol.TypeRequestPermission,
		Scope:     "read:location",
		Reasoning: "to show local weather",
	}, uiIdentity())
	if !ep.lastSent().IsGranted() {
		t.Error("expected approval")
	}
	if gotReasoning != "to show local weather" {
		t.Errorf("handler did not receive the reasoning, got %q", gotReasoning)
	}
	if got := s.GrantedScopes(); len(got) != 1 || got[0] != "read:location" {
		t.Errorf("approved scope not recorded: %v", got)
	}

	ep.deliver(&protocol.Message{
		Type:  protocol.TypeRequestPermission,
		Scope: "write:prefs",
	}, uiIdentity())
	if ep.lastSent().IsGranted() {
		t.Error("expected denial for write:prefs")
	}
	if len(s.GrantedScopes()) != 1 {
		t.Errorf("denied scope must not be recorded: %v", s.GrantedScopes())
	}
}

func TestPermission_ConfirmFallback(t *testing.T) {
	var prompt string
	_, s, ep := newTestSession(t, Config{
		Confirm: func(p string) bool {
			prompt = p
			return true
		},
	}, SessionOptions{})

	ep.deliver(&protocol.Message{
		Type:      protocol.TypeRequestPermission,
		Scope:     "read:location",
		Reasoning: "to show local weather",
	}, uiIdentity())

	if !ep.lastSent().IsGranted() {
		t.Error("expected approval from confirm fallback")
	}
	if prompt == "" {
		t.Error("confirm fallback was not consulted")
	}
	if got := s.GrantedScopes(); len(got) != 1 || got[0] != "read:location" {
		t.Errorf("confirmed scope not recorded: %v", got)
	}
}

func TestPermission_NoHandlerNoConfirmDenies(t *testing.T) {
	_, _, ep := newTestSession(t, Config{}, SessionOptions{})
	ep.deliver(&protocol.Message{
		Type:  protocol.TypeRequestPermission,
		Scope: "read:location",
	}, uiIdentity())
	if ep.lastSent().IsGranted() {
		t.Error("with no decision path configured the request must be denied")
	}
}

func TestPermission_HandlerPanicDenies(t *testing.T) {
	_, s, ep := newTestSession(t, Config{}, SessionOptions{})
	s.SetPermissionRequestHandler(func(string, string) bool { panic("boom") })

	ep.deliver(&protocol.Message{
		Type:  protocol.TypeRequestPermission,
		Scope: "read:location",
	}, uiIdentity())

	msg := ep.lastSent()
	if msg == nil || msg.IsGranted() {
		t.Error("a panicking decision handler must count as denial")
	}
}

func TestRevokeAuthClearsGrants(t *testing.T) {
	_, s, ep := newTestSession(t, Config{}, SessionOptions{})
	if err := s.SendPermissionGranted("read:location", true, nil); err != nil {
		t.Fatalf("SendPermissionGranted: %v", err)
	}
	if err := s.RevokeAuth(); err != nil {
		t.Fatalf("RevokeAuth: %v", err)
	}
	if got := s.GrantedScopes(); len(got) != 0 {
		t.Errorf("revoke must clear grants, got %v", got)
	}
	if ep.lastSent().Type != protocol.TypeAuthRevoke {
		t.Errorf("expected auth_revoke message, got %s", ep.lastSent().Type)
	}
}

func TestRevokePermission(t *testing.T) {
	_, s, ep := newTestSession(t, Config{}, SessionOptions{})
	_ = s.SendPermissionGranted("read:location", true, nil)
	if err := s.RevokePermission("read:location"); err != nil {
		t.Fatalf("RevokePermission: %v", err)
	}
	if len(s.GrantedScopes()) != 0 {
		t.Error("revoked scope still recorded")
	}
	msg := ep.lastSent()
	if msg.Type != protocol.TypePermissionRevoked || msg.Scope != "read:location" {
		t.Errorf("unexpected revoke message: %+v", msg)
	}
}

func TestDestroy(t *testing.T) {
	engine, s, ep := newTestSession(t, Config{}, SessionOptions{})

	s.Destroy()
	if engine.Sessions() != 0 {
		t.Error("destroyed session still tracked by the engine")
	}

	before := ep.sentCount()
	if err := s.Init(nil, nil, nil, nil); err != ErrDestroyed {
		t.Errorf("expected ErrDestroyed, got %v", err)
	}
	if err := s.UpdateContext(nil); err != ErrDestroyed {
		t.Errorf("expected ErrDestroyed, got %v", err)
	}
	if ep.sentCount() != before {
		t.Error("destroyed session must not send")
	}

	// Inbound messages are no longer dispatched.
	ep.deliver(&protocol.Message{Type: protocol.TypeReady}, uiIdentity())
	if s.IsReady() {
		t.Error("destroyed session must not receive")
	}
}

func TestUpdateContextAndTheme(t *testing.T) {
	_, s, ep := newTestSession(t, Config{}, SessionOptions{})

	if err := s.UpdateContext(protocol.Context{"topic": "news"}); err != nil {
		t.Fatalf("UpdateContext: %v", err)
	}
	if msg := ep.lastSent(); msg.Type != protocol.TypeUpdateContext || msg.Context["topic"] != "news" {
		t.Errorf("unexpected context message: %+v", msg)
	}

	if err := s.UpdateTheme(protocol.ThemeSettings{"mode": "dark"}); err != nil {
		t.Fatalf("UpdateTheme: %v", err)
	}
	if msg := ep.lastSent(); msg.Type != protocol.TypeTheme || msg.ThemeSettings["mode"] != "dark" {
		t.Errorf("unexpected theme message: %+v", msg)
	}

	auth := &protocol.Auth{Token: "t", KeySetURL: "https://host/jwks"}
	if err := s.UpdateAuth(auth); err != nil {
		t.Fatalf("UpdateAuth: %v", err)
	}
	if msg := ep.lastSent(); msg.Type != protocol.TypeAuthUpdate || msg.Auth == nil {
		t.Errorf("unexpected auth message: %+v", msg)
	}
}
