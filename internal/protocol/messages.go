// Package protocol defines the WebSocket messages exchanged between an
// editing client and the draft gateway. All messages are JSON and follow one
// envelope format with a type discriminator.
package protocol

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/whisper/contentguard/internal/moderation"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeDraftEdit  = "draft_edit"
	TypeDraftCheck = "draft_check"
	TypeDraftClose = "draft_close"
	TypePing       = "ping"
)

// Server -> Client message types.
const (
	TypeSessionCreated = "session_created"
	TypeDraftState     = "draft_state"
	TypeRateLimited    = "rate_limited"
	TypeError          = "error"
	TypePong           = "pong"
)

// Error codes carried by ErrorMsg.
const (
	CodeInvalidMessage = "invalid_message"
	CodeInvalidDraft   = "invalid_draft"
	CodeTooManyFields  = "too_many_fields"
)

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string `json:"type"`
	Raw  []byte `json:"-"`
}

// UnmarshalJSON captures the raw bytes and extracts only the "type" field so
// the payload can be decoded later into the matching struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make([]byte, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// DraftEditMsg carries the current content of one field. The gateway checks
// it once the author pauses typing.
type DraftEditMsg struct {
	Type        string                 `json:"type"`
	Field       string                 `json:"field"`
	ContentType moderation.ContentType `json:"content_type"`
	Text        string                 `json:"text"`
}

// DraftCheckMsg asks for an immediate check, as on submit or retry.
type DraftCheckMsg struct {
	Type        string                 `json:"type"`
	Field       string                 `json:"field"`
	ContentType moderation.ContentType `json:"content_type"`
	Text        string                 `json:"text"`
}

// DraftCloseMsg releases a field; pending and in-flight checks are dropped.
type DraftCloseMsg struct {
	Type  string `json:"type"`
	Field string `json:"field"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SessionCreatedMsg is sent when a connection is established.
type SessionCreatedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// DraftStateMsg reports a field's moderation state. Text is the content the
// state applies to.
type DraftStateMsg struct {
	Type      string                `json:"type"`
	Field     string                `json:"field"`
	Text      string                `json:"text"`
	State     moderation.DraftState `json:"state"`
	Decision  moderation.Decision   `json:"decision,omitempty"`
	CanSubmit bool                  `json:"can_submit"`
	Verdict   *moderation.Verdict   `json:"verdict,omitempty"`
	Notice    string                `json:"notice,omitempty"`
	ErrorKind moderation.ErrorKind  `json:"error_kind,omitempty"`
	Retryable bool                  `json:"retryable,omitempty"`
}

// DraftStateFromUpdate converts a FieldUpdate into its wire form.
func DraftStateFromUpdate(u moderation.FieldUpdate) DraftStateMsg {
	m := DraftStateMsg{
		Field:     u.Field,
		Text:      u.Text,
		State:     u.State,
		Decision:  u.Decision,
		CanSubmit: u.CanSubmit,
		Verdict:   u.Verdict,
		Notice:    u.Notice,
	}
	if u.Err != nil {
		m.ErrorKind = moderation.KindOf(u.Err)
		m.Retryable = m.ErrorKind.Retryable()
	}
	return m
}

// RateLimitedMsg is sent when the client has been rate-limited.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// An error is returned for unknown or server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeDraftEdit:
		var m DraftEditMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeDraftCheck:
		var m DraftCheckMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeDraftClose:
		var m DraftCloseMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage marshals payload and injects msgType under "type".
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
