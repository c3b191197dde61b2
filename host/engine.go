// Package host implements the protocol engine that runs inside the embedding
// host. It owns one session per embedded UI, mediates permission requests
// against each UI's registration, and emits the host-to-client half of the
// message taxonomy.
package host

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/uibridge/metrics"
	"github.com/GoCodeAlone/uibridge/protocol"
	"github.com/GoCodeAlone/uibridge/transport"
)

// ConfirmFunc decides a permission request when no session-specific handler
// is installed. It receives a human-readable prompt naming the UI and the
// request's reasoning.
type ConfirmFunc func(prompt string) bool

// Config carries the engine-wide collaborators shared by every session.
type Config struct {
	// Version is the protocol version announced in init messages. Defaults
	// to protocol.CurrentVersion.
	Version string
	Logger  *slog.Logger
	Metrics *metrics.Collector
	// Confirm is the fallback decision function for permission requests with
	// no installed handler. When nil, such requests are denied with a logged
	// prompt; an interactive embedder supplies its own confirmation UI here.
	Confirm ConfirmFunc
}

// Engine owns zero or more embedded-UI sessions, each with independent state
// and its own transport endpoint.
type Engine struct {
	version string
	logger  *slog.Logger
	metrics *metrics.Collector
	confirm ConfirmFunc

	mu       sync.Mutex
	sessions map[string]*Session
}

// New creates a host engine.
func New(cfg Config) *Engine {
	if cfg.Version == "" {
		cfg.Version = protocol.CurrentVersion
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		version:  cfg.Version,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		confirm:  cfg.Confirm,
		sessions: make(map[string]*Session),
	}
}

// SessionOptions configures one embedded-UI session.
type SessionOptions struct {
	// URLParams fill the registration's URL template placeholders.
	URLParams map[string]string
	// AutoResize applies inbound resize requests to Region.
	AutoResize bool
	// Region is the rendered container resized when AutoResize is set.
	Region Resizable
	// PeerChannel, when non-empty, restricts inbound dispatch to messages
	// whose sender channel matches, so two sessions sharing an origin cannot
	// be confused. The in-memory transport's Identity().Channel supplies it.
	PeerChannel string
}

// NewSession creates a session for one embedded UI. The registration's URL
// template is resolved with opts.URLParams; the origin of the resolved URL
// becomes the only sender origin the session accepts.
func (e *Engine) NewSession(reg Registration, endpoint transport.Endpoint, opts SessionOptions) (*Session, error) {
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	resolvedURL, err := reg.ResolveURL(opts.URLParams)
	if err != nil {
		return nil, err
	}
	origin, err := originOf(resolvedURL)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:             uuid.NewString(),
		engine:         e,
		reg:            reg,
		url:            resolvedURL,
		endpoint:       endpoint,
		expectedOrigin: origin,
		peerChannel:    opts.PeerChannel,
		logger:         e.logger.With("ui", reg.UIName),
		events:         protocol.NewDispatcher(e.logger),
		granted:        protocol.NewScopeSet(),
		autoResize:     opts.AutoResize,
		region:         opts.Region,
	}
	endpoint.SetReceiver(s.handleMessage)

	e.mu.Lock()
	e.sessions[s.id] = s
	e.mu.Unlock()
	return s, nil
}

// Session returns the session with the given id.
func (e *Engine) Session(id string) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id]
	return s, ok
}

// Sessions returns the number of live sessions.
func (e *Engine) Sessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

func (e *Engine) removeSession(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, id)
}
