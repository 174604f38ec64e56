package ws

import (
	"encoding/json"

	"github.com/jacquesio/jacques/internal/notify"
	"github.com/jacquesio/jacques/internal/registry"
)

// MessageType tags every frame on the wire, both directions.
type MessageType string

// Outbound message types.
const (
	MsgInitialState      MessageType = "initial_state"
	MsgSessionUpdate     MessageType = "session_update"
	MsgSessionRemoved    MessageType = "session_removed"
	MsgFocusChanged      MessageType = "focus_changed"
	MsgNotificationFired MessageType = "notification_fired"
	MsgHandoffReady      MessageType = "handoff_ready"
	MsgPlanDetected      MessageType = "plan_detected"
	MsgAck               MessageType = "ack"
	MsgError             MessageType = "error"
)

// Inbound request types.
const (
	ReqSelectSession     MessageType = "select_session"
	ReqToggleAutocompact MessageType = "toggle_autocompact"
	ReqFocusTerminal     MessageType = "focus_terminal"
)

// Message is the frame envelope: a type tag and a type-specific payload.
type Message struct {
	Type MessageType `json:"type"`
	Data any         `json:"data,omitempty"`
}

// Request is an inbound Message before its payload is interpreted.
type Request struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// RequestData is the payload shape shared by all inbound requests. RequestID
// is optional; when present it is echoed in the ack or error.
type RequestData struct {
	SessionID string `json:"sessionId,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// InitialStatePayload is sent once per subscriber, on connect.
type InitialStatePayload struct {
	Sessions         []*registry.Session   `json:"sessions"`
	FocusedSessionID string                `json:"focusedSessionId,omitempty"`
	Notifications    []notify.Notification `json:"notifications"`
}

// SessionRemovedPayload identifies a session that left the registry.
type SessionRemovedPayload struct {
	SessionID string `json:"sessionId"`
}

// FocusChangedPayload carries the new focused id; empty means nothing is
// focused.
type FocusChangedPayload struct {
	SessionID string `json:"sessionId,omitempty"`
}

// ArtifactPayload carries a handoff or plan file that appeared on disk.
type ArtifactPayload struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
}

// AckPayload answers a successful request. Result is request-specific and may
// be nil.
type AckPayload struct {
	RequestID string      `json:"requestId,omitempty"`
	Action    MessageType `json:"action"`
	Result    any         `json:"result,omitempty"`
}

// ErrorPayload answers a failed request, sent only to its issuer.
type ErrorPayload struct {
	RequestID string      `json:"requestId,omitempty"`
	Action    MessageType `json:"action,omitempty"`
	Error     string      `json:"error"`
}

// AutocompactResult is the toggle_autocompact ack result.
type AutocompactResult struct {
	Enabled bool `json:"enabled"`
}
