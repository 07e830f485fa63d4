// Package protocol defines the hermitd wire format: the JSON envelopes
// exchanged between llmsh and the daemon, the shell event kinds carried by
// SaveContext, and the out-of-band heartbeat tokens.
//
// Every message is a single JSON object discriminated by its "type" field.
// The one exception is the heartbeat: an empty payload answered with the
// literal [HeartbeatAck], which never goes through JSON at all.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// APIVersion is the protocol revision this daemon speaks. Clients send
// their own revision in Setup; it is logged but not enforced.
const APIVersion = "0.2"

// Heartbeat tokens. The request is the empty payload.
const (
	HeartbeatRequest = ""
	HeartbeatAck     = "Ack"
)

// MessageType is the value of an envelope's "type" discriminator.
type MessageType string

// Request types.
const (
	TypeSetup           MessageType = "Setup"
	TypeGenerateCommand MessageType = "GenerateCommand"
	TypeSaveContext     MessageType = "SaveContext"
	TypeExit            MessageType = "Exit"
)

// Response types.
const (
	TypeSetupSuccess    MessageType = "SetupSuccess"
	TypeCommandResponse MessageType = "CommandResponse"
	TypeSuccess         MessageType = "Success"
	TypeError           MessageType = "Error"
)

// ErrMalformed is returned by [Decode] when the payload is not a JSON
// object or carries no usable "type" discriminator.
var ErrMalformed = errors.New("malformed message")

// Envelope is a decoded request whose body has not yet been bound to a
// concrete request struct. The dispatcher inspects Type and SessionID
// first, then calls [Envelope.Bind] with the matching request type.
type Envelope struct {
	Type   MessageType
	raw    []byte
	fields map[string]json.RawMessage
}

// Decode parses a raw payload into an Envelope. Payloads that are not
// a JSON object, or whose "type" is missing, empty or not a string,
// return [ErrMalformed].
func Decode(raw []byte) (*Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, ErrMalformed
	}

	rawType, ok := fields["type"]
	if !ok {
		return nil, ErrMalformed
	}
	var typ string
	if err := json.Unmarshal(rawType, &typ); err != nil || typ == "" {
		return nil, ErrMalformed
	}

	return &Envelope{Type: MessageType(typ), raw: raw, fields: fields}, nil
}

// Has reports whether the envelope carries a non-null value for field.
func (e *Envelope) Has(field string) bool {
	v, ok := e.fields[field]
	return ok && string(v) != "null"
}

// SessionID returns the envelope's session id. ok is false when the field
// is absent, null, or not an integer; callers treat all three the same.
func (e *Envelope) SessionID() (id int, ok bool) {
	if !e.Has("session_id") {
		return 0, false
	}
	if err := json.Unmarshal(e.fields["session_id"], &id); err != nil {
		return 0, false
	}
	return id, true
}

// Bind decodes the full payload into v after checking that every name in
// required is present.
func (e *Envelope) Bind(v any, required ...string) error {
	for _, f := range required {
		if !e.Has(f) {
			return fmt.Errorf("%s: missing field %q", e.Type, f)
		}
	}
	if err := json.Unmarshal(e.raw, v); err != nil {
		return fmt.Errorf("%s: %w", e.Type, err)
	}
	return nil
}

// Setup opens a session for a user.
type Setup struct {
	Type       MessageType `json:"type"`
	User       string      `json:"user"`
	APIVersion string      `json:"api_version,omitempty"`
}

// GenerateCommand asks the session's generator for a shell command.
type GenerateCommand struct {
	Type      MessageType `json:"type"`
	SessionID int         `json:"session_id"`
	Prompt    string      `json:"prompt"`
}

// SaveContext records a piece of captured shell I/O. A nil ContextType
// marks a streaming partial chunk.
type SaveContext struct {
	Type        MessageType     `json:"type"`
	SessionID   int             `json:"session_id"`
	Context     string          `json:"context"`
	ContextType *ShellEventKind `json:"context_type,omitempty"`
}

// Kind returns the event kind, mapping an absent context_type to
// [KindPartial].
func (m *SaveContext) Kind() ShellEventKind {
	if m.ContextType == nil {
		return KindPartial
	}
	return *m.ContextType
}

// Exit closes a session.
type Exit struct {
	Type      MessageType `json:"type"`
	SessionID int         `json:"session_id"`
}

// SetupSuccess carries the id allocated for a new session.
type SetupSuccess struct {
	Type      MessageType `json:"type"`
	SessionID int         `json:"session_id"`
	MOTD      string      `json:"motd"`
}

// CommandResponse carries generated text. Command and FullResponse hold
// the same text; Commands holds the fenced code blocks found in it.
type CommandResponse struct {
	Type         MessageType `json:"type"`
	Command      string      `json:"command"`
	FullResponse string      `json:"full_response"`
	Commands     []string    `json:"commands"`
}

// Success is the generic acknowledgement.
type Success struct {
	Type MessageType `json:"type"`
}

// Error reports a failed request. Status is human-readable.
type Error struct {
	Type   MessageType `json:"type"`
	Status string      `json:"status"`
}

// NewSetupSuccess builds a SetupSuccess response.
func NewSetupSuccess(sessionID int, motd string) SetupSuccess {
	return SetupSuccess{Type: TypeSetupSuccess, SessionID: sessionID, MOTD: motd}
}

// NewCommandResponse builds a CommandResponse. A nil commands slice is
// encoded as an empty array.
func NewCommandResponse(text string, commands []string) CommandResponse {
	if commands == nil {
		commands = []string{}
	}
	return CommandResponse{
		Type:         TypeCommandResponse,
		Command:      text,
		FullResponse: text,
		Commands:     commands,
	}
}

// NewSuccess builds a Success response.
func NewSuccess() Success {
	return Success{Type: TypeSuccess}
}

// NewError builds an Error response.
func NewError(status string) Error {
	return Error{Type: TypeError, Status: status}
}

// fallbackError is sent if a response cannot be marshalled. It is a
// constant so that encoding can never fail twice.
const fallbackError = `{"type":"Error","status":"internal encoding failure"}`

// Encode marshals a response envelope. It never fails: an unencodable
// value yields a fixed Error envelope instead.
func Encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(fallbackError)
	}
	return b
}
