package protocol

import (
	"encoding/json"
	"fmt"
)

// Type identifies the kind of protocol message.
type Type string

// Host-to-client message types.
const (
	TypeInit              Type = "init"
	TypeUpdateContext     Type = "update_context"
	TypeTheme             Type = "theme"
	TypeAuthUpdate        Type = "auth_update"
	TypeAuthRevoke        Type = "auth_revoke"
	TypePermissionGranted Type = "permission_granted"
	TypePermissionRevoked Type = "permission_revoked"
)

// Client-to-host message types.
const (
	TypeReady             Type = "ready"
	TypeAction            Type = "action"
	TypeError             Type = "error"
	TypeResize            Type = "resize"
	TypeRequestPermission Type = "request_permission"
)

// HostToClient reports whether t belongs to the host-to-client family.
func (t Type) HostToClient() bool {
	switch t {
	case TypeInit, TypeUpdateContext, TypeTheme, TypeAuthUpdate,
		TypeAuthRevoke, TypePermissionGranted, TypePermissionRevoked:
		return true
	}
	return false
}

// ClientToHost reports whether t belongs to the client-to-host family.
func (t Type) ClientToHost() bool {
	switch t {
	case TypeReady, TypeAction, TypeError, TypeResize, TypeRequestPermission:
		return true
	}
	return false
}

// Error codes carried by "error" messages.
const (
	ErrCodeProtocol   = "protocol_error"
	ErrCodeAuth       = "auth_error"
	ErrCodeContext    = "context_error"
	ErrCodeRender     = "render_error"
	ErrCodePermission = "permission_error"
	ErrCodeUnknown    = "unknown_error"
)

// User carries an opaque identity. The protocol transports it but never
// validates any of its attributes.
type User struct {
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Auth is a signed credential plus the URL where the verification key set
// for that credential is published.
type Auth struct {
	Token     string `json:"token"`
	KeySetURL string `json:"key_set_url"`
}

// ThemeSettings holds open key/value styling hints (mode, colors, font,
// radius). No validation beyond shape.
type ThemeSettings map[string]any

// Context is the open host-supplied context object delivered to the UI.
type Context map[string]any

// Message is the wire envelope for every protocol exchange. Type is
// mandatory; the remaining fields are type-specific and omitted when unused.
type Message struct {
	Type Type `json:"type"`

	// init
	ProtocolVersion string        `json:"protocol_version,omitempty"`
	User            *User         `json:"user,omitempty"`
	Auth            *Auth         `json:"auth,omitempty"`
	Context         Context       `json:"context,omitempty"`
	ThemeSettings   ThemeSettings `json:"theme_settings,omitempty"`

	// permission_granted / permission_revoked / request_permission
	Scope     string `json:"scope,omitempty"`
	Granted   *bool  `json:"granted,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`

	// action
	ActionName string         `json:"action_name,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	// resize
	Width  *int `json:"width,omitempty"`
	Height *int `json:"height,omitempty"`
}

// IsGranted returns the value of the granted field, false when absent.
func (m *Message) IsGranted() bool {
	return m.Granted != nil && *m.Granted
}

// Encode serializes the message as a single JSON envelope.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s message: %w", m.Type, err)
	}
	return data, nil
}

// Decode parses a JSON envelope into a Message. A missing type field is a
// malformed message.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("protocol: decode message: %w", err)
	}
	if m.Type == "" {
		return nil, fmt.Errorf("protocol: message has no type field")
	}
	return &m, nil
}

// Clone returns a deep copy of the message via a JSON round trip, so a
// received message can be mutated without aliasing the sender's copy.
func (m *Message) Clone() (*Message, error) {
	data, err := m.Encode()
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Bool returns a pointer to v, for populating optional boolean fields.
func Bool(v bool) *bool { return &v }

// Int returns a pointer to v, for populating optional integer fields.
func Int(v int) *int { return &v }
